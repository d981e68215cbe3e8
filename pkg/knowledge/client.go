// Package knowledge implements the knowledge-search collaborator over HTTP.
package knowledge

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
	DefaultTimeout    = 10 * time.Second
	DefaultLimit      = 5
	maxErrorBodyBytes = 2048
)

// Client calls POST {baseURL}/knowledge-bases/{id}/search.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(logger *slog.Logger, baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  logger.With("module", "knowledge_client"),
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Results []protocol.KnowledgeResult `json:"results"`
}

func (c *Client) Search(ctx context.Context, knowledgeBaseID, query string, limit int) ([]protocol.KnowledgeResult, error) {
	if knowledgeBaseID == "" {
		return nil, errors.New("knowledge base id is required")
	}

	if limit <= 0 {
		limit = DefaultLimit
	}

	body, err := json.Marshal(searchRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/knowledge-bases/%s/search", c.baseURL, knowledgeBaseID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return nil, fmt.Errorf("knowledge search error: %s - %s", resp.Status, string(errorBody))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode knowledge search response: %w", err)
	}

	if len(result.Results) > limit {
		result.Results = result.Results[:limit]
	}

	c.logger.DebugContext(ctx, "Knowledge search", "knowledge_base_id", knowledgeBaseID, "results", len(result.Results))

	return result.Results, nil
}
