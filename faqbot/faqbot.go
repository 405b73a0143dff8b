// Package faqbot answers common permit questions from a static decision tree
// before a staff member joins the chat.
package faqbot

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTree []byte

// MaxResults caps Search output.
const MaxResults = 5

// ErrNodeNotFound is returned for an unknown node id.
var ErrNodeNotFound = errors.New("faq node not found")

// Node is one question of the tree. Children are the follow-up questions
// offered after the answer.
type Node struct {
	ID       string   `yaml:"id" json:"id"`
	Question string   `yaml:"question" json:"question"`
	Answer   string   `yaml:"answer" json:"answer"`
	Keywords []string `yaml:"keywords,omitempty" json:"-"`
	Children []*Node  `yaml:"children,omitempty" json:"children,omitempty"`
}

// View is a node with its children flattened to id/question pairs.
type View struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Options  []Option `json:"options"`
}

// Option is a follow-up question link.
type Option struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

// Bot holds a parsed tree indexed by node id.
type Bot struct {
	root  *Node
	index map[string]*Node
	order []*Node
}

// Load reads the tree from path, or the built-in tree when path is empty.
func Load(path string) (*Bot, error) {
	data := defaultTree
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read faq tree: %w", err)
		}
		data = raw
	}
	return Parse(data)
}

// Parse builds a bot from YAML. Node ids must be unique and non-empty.
func Parse(data []byte) (*Bot, error) {
	var root Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse faq tree: %w", err)
	}
	b := &Bot{root: &root, index: make(map[string]*Node)}
	if err := b.walk(&root); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bot) walk(n *Node) error {
	if n.ID == "" {
		return fmt.Errorf("faq node %q has no id", n.Question)
	}
	if _, dup := b.index[n.ID]; dup {
		return fmt.Errorf("duplicate faq node id %q", n.ID)
	}
	b.index[n.ID] = n
	b.order = append(b.order, n)
	for _, c := range n.Children {
		if err := b.walk(c); err != nil {
			return err
		}
	}
	return nil
}

// Node returns the node with the given id; an empty id means the root.
func (b *Bot) Node(id string) (*View, error) {
	n := b.root
	if id != "" {
		var ok bool
		if n, ok = b.index[id]; !ok {
			return nil, ErrNodeNotFound
		}
	}
	return view(n), nil
}

func view(n *Node) *View {
	v := &View{ID: n.ID, Question: n.Question, Answer: n.Answer, Options: []Option{}}
	for _, c := range n.Children {
		v.Options = append(v.Options, Option{ID: c.ID, Question: c.Question})
	}
	return v
}

// Search ranks nodes by how many query words hit their keywords or question.
// Keyword hits count double. Ties keep tree order.
func (b *Bot) Search(q string) []Option {
	terms := strings.Fields(strings.ToLower(q))
	if len(terms) == 0 {
		return []Option{}
	}

	type hit struct {
		node  *Node
		score int
		pos   int
	}
	var hits []hit
	for pos, n := range b.order {
		if n == b.root {
			continue
		}
		if s := score(n, terms); s > 0 {
			hits = append(hits, hit{node: n, score: s, pos: pos})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].pos < hits[j].pos
	})

	out := make([]Option, 0, MaxResults)
	for _, h := range hits {
		if len(out) == MaxResults {
			break
		}
		out = append(out, Option{ID: h.node.ID, Question: h.node.Question})
	}
	return out
}

func score(n *Node, terms []string) int {
	question := strings.ToLower(n.Question)
	s := 0
	for _, t := range terms {
		for _, k := range n.Keywords {
			if strings.Contains(strings.ToLower(k), t) {
				s += 2
				break
			}
		}
		if strings.Contains(question, t) {
			s++
		}
	}
	return s
}
