// Package completion implements the completion collaborator against any
// OpenAI-compatible chat completions endpoint.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/protocol"
)

const (
	DefaultModel      = "gpt-4o-mini"
	maxErrorBodyBytes = 2048
)

var (
	ErrUnauthorized  = errors.New("completion provider rejected the credentials")
	ErrRateLimited   = errors.New("completion provider rate limited the request")
	ErrUnavailable   = errors.New("completion provider unavailable")
	ErrEmptyResponse = errors.New("completion provider returned no content")
)

type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// NewClient creates a client for baseURL, e.g. https://api.openai.com/v1.
func NewClient(logger *slog.Logger, baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   DefaultModel,
		client:  &http.Client{Timeout: protocol.CompletionTimeout},
		logger:  logger.With("module", "completion_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage protocol.Usage `json:"usage"`
}

// GenerateResponse sends one chat completion request. The call is bounded by
// protocol.CompletionTimeout whatever the caller's deadline.
func (c *Client) GenerateResponse(ctx context.Context, req protocol.CompletionRequest) (*protocol.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, protocol.CompletionTimeout)
	defer cancel()

	payload := chatCompletionRequest{
		Model:       req.Model,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if payload.Model == "" {
		payload.Model = c.model
	}

	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, ErrUnavailable
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return nil, fmt.Errorf("completion error: %s - %s", resp.Status, string(errorBody))
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}

	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	latency := time.Since(started)

	c.logger.DebugContext(ctx, "Completion generated",
		"model", completion.Model,
		"total_tokens", completion.Usage.TotalTokens,
		"latency_ms", latency.Milliseconds())

	model := completion.Model
	if model == "" {
		model = payload.Model
	}

	return &protocol.Completion{
		Content: completion.Choices[0].Message.Content,
		Model:   model,
		Usage:   completion.Usage,
		Latency: latency,
	}, nil
}
