package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseText(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: `{"abc electrical":`},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: `"abcelectrical.com"}`},
	}}
	assert.Equal(t, `{"abc electrical":"abcelectrical.com"}`, resp.Text())
}

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 500_000}
	assert.InDelta(t, 0.80+2.00, u.EstimateCost("claude-haiku-4-5-20251001"), 1e-9)
	assert.Zero(t, u.EstimateCost("some-unknown-model"))
}
