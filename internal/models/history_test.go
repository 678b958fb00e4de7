package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHistory(t *testing.T) {
	tests := []struct {
		name     string
		input    []any
		expected []Message
	}{
		{
			name:  "role_content_maps",
			input: []any{map[string]any{"role": "user", "content": "hi"}, map[string]any{"role": "assistant", "content": "hello"}},
			expected: []Message{
				{Role: RoleUser, Content: "hi"},
				{Role: RoleAssistant, Content: "hello"},
			},
		},
		{
			name:     "plain_strings_become_user_turns",
			input:    []any{"what is warming?"},
			expected: []Message{{Role: RoleUser, Content: "what is warming?"}},
		},
		{
			name:  "alternate_key_names",
			input: []any{map[string]any{"speaker": "bot", "text": "the answer"}},
			expected: []Message{
				{Role: RoleAssistant, Content: "the answer"},
			},
		},
		{
			name:  "role_as_key",
			input: []any{map[string]any{"user": "a question"}, map[string]any{"assistant": "a reply"}},
			expected: []Message{
				{Role: RoleUser, Content: "a question"},
				{Role: RoleAssistant, Content: "a reply"},
			},
		},
		{
			name:  "nested_pair_list",
			input: []any{[]any{map[string]any{"role": "user", "content": "q"}, map[string]any{"role": "ai", "content": "a"}}},
			expected: []Message{
				{Role: RoleUser, Content: "q"},
				{Role: RoleAssistant, Content: "a"},
			},
		},
		{
			name:     "garbage_dropped",
			input:    []any{42, map[string]any{"unrelated": true}, ""},
			expected: []Message{},
		},
		{
			name:     "unknown_role_defaults_to_user",
			input:    []any{map[string]any{"role": "customer", "content": "hey"}},
			expected: []Message{{Role: RoleUser, Content: "hey"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseHistory(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDocumentToCitation(t *testing.T) {
	doc := Document{Title: "IPCC Overview", URL: "https://example.org/ipcc", Content: "long content", Snippet: "long content", Score: 0.9}
	c := doc.ToCitation()
	assert.Equal(t, doc.Title, c.Title)
	assert.Equal(t, doc.URL, c.URL)
	assert.Equal(t, doc.Content, c.Content)
	assert.Equal(t, doc.Snippet, c.Snippet)
}
