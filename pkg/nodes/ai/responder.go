// Package ai provides the nodes backed by the completion provider:
// ai_response and intent_classifier.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

const defaultKnowledgeLimit = 3

var ErrEmptyCompletion = errors.New("completion returned no content")

// Options override the chatbot's completion settings for one call.
type Options struct {
	Model            string
	Temperature      *float64
	MaxTokens        int
	SystemPrompt     string
	UseKnowledgeBase bool
	KnowledgeBaseID  string
	KnowledgeLimit   int
}

// Responder builds completion requests from the conversation turn window
// and, when asked, knowledge-base search results.
type Responder struct {
	logger     *slog.Logger
	completion protocol.CompletionClient
	knowledge  protocol.KnowledgeSearcher
	now        func() time.Time
}

func NewResponder(logger *slog.Logger, completion protocol.CompletionClient, knowledge protocol.KnowledgeSearcher) *Responder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Responder{
		logger:     logger.With("module", "ai_responder"),
		completion: completion,
		knowledge:  knowledge,
		now:        time.Now,
	}
}

// Respond asks the completion provider for the next assistant turn.
func (r *Responder) Respond(ctx context.Context, chatbot *models.Chatbot, state *models.ExecutionState, query string, opts Options) (*protocol.Completion, error) {
	if r.completion == nil {
		return nil, protocol.ErrCompletionUnavailable
	}

	req := protocol.CompletionRequest{
		Model:       chatbot.Model,
		Temperature: chatbot.Temperature,
		MaxTokens:   chatbot.MaxTokens,
	}

	if opts.Model != "" {
		req.Model = opts.Model
	}

	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}

	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	system := chatbot.SystemPrompt
	if opts.SystemPrompt != "" {
		system = opts.SystemPrompt
	}

	if opts.UseKnowledgeBase {
		system = r.augment(ctx, system, chatbot, query, opts)
	}

	if system != "" {
		req.Messages = append(req.Messages, protocol.CompletionMessage{Role: models.MessageRoleSystem, Content: system})
	}

	for _, turn := range state.Messages {
		req.Messages = append(req.Messages, protocol.CompletionMessage{Role: turn.Role, Content: turn.Content})
	}

	return r.Complete(ctx, req)
}

// Complete calls the provider bounded by the completion timeout.
func (r *Responder) Complete(ctx context.Context, req protocol.CompletionRequest) (*protocol.Completion, error) {
	if r.completion == nil {
		return nil, protocol.ErrCompletionUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, protocol.CompletionTimeout)
	defer cancel()

	started := r.now()

	completion, err := r.completion.GenerateResponse(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	if completion.Latency == 0 {
		completion.Latency = r.now().Sub(started)
	}

	if completion.Model == "" {
		completion.Model = req.Model
	}

	return completion, nil
}

// augment appends knowledge-base hits to the system prompt. Search failures
// are logged and the prompt is used as is.
func (r *Responder) augment(ctx context.Context, system string, chatbot *models.Chatbot, query string, opts Options) string {
	kbID := opts.KnowledgeBaseID
	if kbID == "" {
		kbID = chatbot.KnowledgeBaseID
	}

	if kbID == "" || r.knowledge == nil || strings.TrimSpace(query) == "" {
		return system
	}

	limit := opts.KnowledgeLimit
	if limit <= 0 {
		limit = defaultKnowledgeLimit
	}

	ctx, cancel := context.WithTimeout(ctx, protocol.CompletionTimeout)
	defer cancel()

	results, err := r.knowledge.Search(ctx, kbID, query, limit)
	if err != nil {
		r.logger.WarnContext(ctx, "knowledge search failed, answering without it",
			"knowledge_base_id", kbID, "error", err)

		return system
	}

	if len(results) == 0 {
		return system
	}

	var b strings.Builder

	b.WriteString(system)

	if system != "" {
		b.WriteString("\n\n")
	}

	b.WriteString("Use the following information to answer when relevant:\n")

	for _, res := range results {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(res.Content))
		b.WriteString("\n")
	}

	return b.String()
}
