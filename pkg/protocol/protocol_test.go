package protocol

import (
	"testing"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeConfig(t *testing.T) {
	var cfg struct {
		Message string   `json:"message"`
		Retries int      `json:"maxRetries"`
		Tags    []string `json:"tags"`
	}

	err := DecodeConfig(map[string]any{"message": "hi", "maxRetries": float64(2), "tags": []any{"a"}}, &cfg)
	require.NoError(t, err)
	assert.Equal(t, "hi", cfg.Message)
	assert.Equal(t, 2, cfg.Retries)
	assert.Equal(t, []string{"a"}, cfg.Tags)

	err = DecodeConfig(map[string]any{"maxRetries": "two"}, &cfg)
	require.Error(t, err)
}

func TestExecutionContext_Render(t *testing.T) {
	state := models.NewExecutionState()
	state.Variables.Set("name", "Ana")

	exec := &ExecutionContext{State: &state}
	assert.Equal(t, "Hi Ana", exec.Render("Hi {{name}}"))
}

func TestCompletion_Metadata(t *testing.T) {
	c := &Completion{Model: "m", Usage: Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}, Latency: 1500 * time.Millisecond}

	assert.Equal(t, &models.AIMetadata{Model: "m", PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7, LatencyMs: 1500}, c.Metadata())
}
