package faqbot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefault(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)

	root, err := b.Node("")
	require.NoError(t, err)
	assert.Equal(t, "root", root.ID)
	assert.NotEmpty(t, root.Options)

	fees, err := b.Node("fees")
	require.NoError(t, err)
	require.Len(t, fees.Options, 1)
	assert.Equal(t, "fees-refund", fees.Options[0].ID)

	leaf, err := b.Node("hours")
	require.NoError(t, err)
	assert.NotNil(t, leaf.Options)
	assert.Empty(t, leaf.Options)
}

func TestNodeNotFound(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)
	_, err = b.Node("missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: start
question: Hi
answer: Ask away
children:
  - id: parking
    question: Where can I park?
    keywords: [parking, car]
    answer: Behind the building.
`), 0o600))

	b, err := Load(path)
	require.NoError(t, err)
	got := b.Search("car")
	require.Len(t, got, 1)
	assert.Equal(t, "parking", got[0].ID)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing id", "question: Hi\nanswer: x\n"},
		{"duplicate id", "id: a\nchildren:\n  - id: b\n  - id: b\n"},
		{"bad yaml", "id: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name  string
		query string
		first string
		empty bool
	}{
		{name: "keyword", query: "refund", first: "fees-refund"},
		{name: "case insensitive", query: "PDF upload", first: "apply-formats"},
		{name: "question words", query: "status", first: "status"},
		{name: "blank", query: "   ", empty: true},
		{name: "no match", query: "zebra", empty: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Search(tt.query)
			if tt.empty {
				assert.Empty(t, got)
				return
			}
			require.NotEmpty(t, got)
			assert.Equal(t, tt.first, got[0].ID)
			assert.LessOrEqual(t, len(got), MaxResults)
		})
	}
}
