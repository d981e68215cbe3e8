package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/chatflow/pkg/models"
)

// CompletionTimeout is the ceiling applied to every completion call.
const CompletionTimeout = 30 * time.Second

var (
	ErrCompletionUnavailable = errors.New("completion client not configured")
	ErrKnowledgeUnavailable  = errors.New("knowledge search not configured")
)

// CompletionMessage is one chat turn sent to the completion provider.
type CompletionMessage struct {
	Role    models.MessageRole `json:"role"`
	Content string             `json:"content"`
}

// CompletionRequest carries the prompt and sampling options.
type CompletionRequest struct {
	Model       string
	Messages    []CompletionMessage
	Temperature float64
	MaxTokens   int
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the provider response.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
	Latency time.Duration
}

// Metadata converts the completion into message AI metadata.
func (c *Completion) Metadata() *models.AIMetadata {
	return &models.AIMetadata{
		Model:            c.Model,
		PromptTokens:     c.Usage.PromptTokens,
		CompletionTokens: c.Usage.CompletionTokens,
		TotalTokens:      c.Usage.TotalTokens,
		LatencyMs:        c.Latency.Milliseconds(),
	}
}

// CompletionClient generates assistant replies. Implementations are provider agnostic.
type CompletionClient interface {
	GenerateResponse(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// KnowledgeResult is one knowledge-base search hit.
type KnowledgeResult struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score"`
}

// KnowledgeSearcher searches a knowledge base.
type KnowledgeSearcher interface {
	Search(ctx context.Context, knowledgeBaseID, query string, limit int) ([]KnowledgeResult, error)
}
