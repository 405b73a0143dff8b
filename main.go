package main

import (
	"fmt"
	"os"

	"github.com/egor/permitchat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "permitchat:", err)
		os.Exit(1)
	}
}
