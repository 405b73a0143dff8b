package chat

import (
	"fmt"
	"html"
	"strings"
)

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// SanitizeText escapes raw user text for storage and turns line breaks into
// <br>. The result renders as literal text.
func SanitizeText(raw string) string {
	text := strings.TrimSpace(newlines.Replace(raw))
	return strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
}

// AttachmentAnchor renders the only markup the server ever puts in a
// message body.
func AttachmentAnchor(url, name string) string {
	return fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener">📎 %s</a>`,
		html.EscapeString(url), html.EscapeString(name))
}
