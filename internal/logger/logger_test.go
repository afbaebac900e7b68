package logger

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{
			name:   "short string unchanged",
			input:  "hello",
			maxLen: 50,
			want:   "hello",
		},
		{
			name:   "long ascii string truncated with ellipsis",
			input:  strings.Repeat("a", 60),
			maxLen: 10,
			want:   strings.Repeat("a", 7) + "...",
		},
		{
			name:   "tiny limit collapses to ellipsis",
			input:  "hello",
			maxLen: 3,
			want:   "...",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, truncateString(tc.input, tc.maxLen))
		})
	}
}

func TestTruncateStringKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	// Each rune below is multibyte; a byte-index cut would split one.
	input := strings.Repeat("дайте", 20)
	for maxLen := 4; maxLen < 20; maxLen++ {
		got := truncateString(input, maxLen)
		assert.True(t, utf8.ValidString(got), "maxLen=%d produced invalid UTF-8: %q", maxLen, got)
		assert.True(t, strings.HasSuffix(got, "..."), "maxLen=%d missing ellipsis", maxLen)
		assert.LessOrEqual(t, len(got), maxLen)
	}
}
