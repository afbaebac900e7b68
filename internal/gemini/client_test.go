package gemini

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}},
		},
	}
}

func TestExtractTextFromResponse(t *testing.T) {
	t.Parallel()

	c := &sdkClient{log: slog.Default()}
	ctx := context.Background()

	t.Run("returns candidate text", func(t *testing.T) {
		t.Parallel()

		text, err := c.extractTextFromResponse(ctx, textResponse("hello there"))
		require.NoError(t, err)
		assert.Equal(t, "hello there", text)
	})

	t.Run("blocked prompt maps to ErrBlocked", func(t *testing.T) {
		t.Parallel()

		resp := &genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{
				BlockReason: genai.BlockedReasonSafety,
			},
		}
		_, err := c.extractTextFromResponse(ctx, resp)
		require.ErrorIs(t, err, ErrBlocked)
	})

	t.Run("no candidates is an error", func(t *testing.T) {
		t.Parallel()

		_, err := c.extractTextFromResponse(ctx, &genai.GenerateContentResponse{})
		assert.Error(t, err)
	})

	t.Run("empty text is an error", func(t *testing.T) {
		t.Parallel()

		_, err := c.extractTextFromResponse(ctx, textResponse(""))
		assert.Error(t, err)
	})
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	t.Parallel()

	c := &sdkClient{log: slog.Default()}
	_, err := c.Generate(context.Background(), "")
	assert.Error(t, err)
}
