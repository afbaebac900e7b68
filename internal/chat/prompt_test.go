package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		persona     string
		topics      []string
		message     string
		contains    []string
		notContains []string
	}{
		{
			name:     "persona, topics, and message all present",
			persona:  "You are a helpful assistant.",
			topics:   []string{"technology", "coding"},
			message:  "what is a mutex?",
			contains: []string{"You are a helpful assistant.", "technology, coding", "what is a mutex?"},
		},
		{
			name:        "no topics omits the topic hint",
			persona:     "You are a helpful assistant.",
			topics:      nil,
			message:     "hello",
			contains:    []string{"You are a helpful assistant.", "hello"},
			notContains: []string{"allowed topics"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			prompt := BuildPrompt(tc.persona, tc.topics, tc.message)
			for _, want := range tc.contains {
				assert.Contains(t, prompt, want)
			}
			for _, unwanted := range tc.notContains {
				assert.NotContains(t, prompt, unwanted)
			}
		})
	}
}
