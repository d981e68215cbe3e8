// Package httprequest provides the api_call node: an outbound HTTP request
// with templated fields and success/error branches.
package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/template"
)

const (
	OutputPortSuccess = "success"
	OutputPortError   = "error"

	DefaultTimeout = 10 * time.Second
	MaxTimeout     = 60 * time.Second

	maxResponseBytes = 1 << 20
)

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
}

// HTTPRequestConfig defines the configuration for api_call nodes.
type HTTPRequestConfig struct {
	URL              string            `json:"url"`
	Method           string            `json:"method"`
	Headers          map[string]string `json:"headers"`
	Body             any               `json:"body,omitempty"`
	Timeout          float64           `json:"timeout"`
	ResponseVariable string            `json:"responseVariable,omitempty"`
	Retries          RetryConfig       `json:"retries"`
}

// RetryConfig defines retry behavior for HTTP requests. Delay is in milliseconds.
type RetryConfig struct {
	Attempts int `json:"attempts"`
	Delay    int `json:"delay"`
}

// HTTPRequestNode performs the request and follows success or error.
type HTTPRequestNode struct {
	id     string
	config HTTPRequestConfig
	client protocol.HTTPDoer
}

// NewHTTPRequestNode creates a new api_call node. A nil client uses http.DefaultClient.
func NewHTTPRequestNode(id string, config map[string]any, client protocol.HTTPDoer) (*HTTPRequestNode, error) {
	cfg := HTTPRequestConfig{Method: http.MethodGet, Retries: RetryConfig{Attempts: 1}}
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.URL == "" {
		return nil, errors.New("missing required field 'url'")
	}

	cfg.Method = strings.ToUpper(cfg.Method)
	if !validMethods[cfg.Method] {
		return nil, fmt.Errorf("invalid HTTP method: %s", cfg.Method)
	}

	if cfg.Retries.Attempts < 1 {
		cfg.Retries.Attempts = 1
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPRequestNode{id: id, config: cfg, client: client}, nil
}

func (n *HTTPRequestNode) ID() string            { return n.id }
func (n *HTTPRequestNode) Type() models.NodeType { return models.NodeTypeAPICall }

func (n *HTTPRequestNode) OutputPorts() []protocol.OutputPort {
	return []protocol.OutputPort{
		{Name: OutputPortSuccess, Description: "2xx/3xx response", Required: true},
		{Name: OutputPortError, Description: "Transport error, timeout or 4xx/5xx response", Required: true},
	}
}

// Timeout returns the effective request timeout: 10s by default, at most 60s.
func (n *HTTPRequestNode) Timeout() time.Duration {
	if n.config.Timeout <= 0 {
		return DefaultTimeout
	}

	return min(time.Duration(n.config.Timeout*float64(time.Second)), MaxTimeout)
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Execute never returns an error for request failures: they take the error port.
func (n *HTTPRequestNode) Execute(ctx context.Context, exec *protocol.ExecutionContext) (protocol.Outcome, error) {
	vars := exec.Variables()

	url := template.Interpolate(n.config.URL, vars)

	headers := make(map[string]string, len(n.config.Headers))
	for k, v := range n.config.Headers {
		headers[k] = template.Interpolate(v, vars)
	}

	body, err := n.renderBody(vars)
	if err != nil {
		return n.fail(exec, err), nil
	}

	var lastErr error

	for attempt := 1; attempt <= n.config.Retries.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return n.fail(exec, ctx.Err()), nil
			case <-time.After(time.Duration(n.config.Retries.Delay) * time.Millisecond):
			}
		}

		result, err := n.performRequest(ctx, url, body, headers)
		if err == nil {
			if n.config.ResponseVariable != "" {
				vars.Set(n.config.ResponseVariable, result)
			}

			return protocol.Outcome{Port: OutputPortSuccess}, nil
		}

		lastErr = err

		// Don't retry on client errors (4xx).
		httpErr := &HTTPError{}
		if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
			break
		}
	}

	return n.fail(exec, lastErr), nil
}

func (n *HTTPRequestNode) fail(exec *protocol.ExecutionContext, err error) protocol.Outcome {
	if n.config.ResponseVariable != "" {
		result := map[string]any{"error": err.Error(), "success": false}

		httpErr := &HTTPError{}
		if errors.As(err, &httpErr) {
			result["status"] = float64(httpErr.StatusCode)
		}

		exec.Variables().Set(n.config.ResponseVariable, result)
	}

	return protocol.Outcome{Port: OutputPortError}
}

func (n *HTTPRequestNode) renderBody(vars models.Variables) ([]byte, error) {
	switch body := n.config.Body.(type) {
	case nil:
		return nil, nil
	case string:
		if body == "" {
			return nil, nil
		}

		return []byte(template.Interpolate(body, vars)), nil
	default:
		raw, err := json.Marshal(template.RenderValue(body, vars))
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}

		return raw, nil
	}
}

// performRequest executes a single HTTP request bounded by the node timeout.
func (n *HTTPRequestNode) performRequest(ctx context.Context, url string, body []byte, headers map[string]string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, n.Timeout())
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, n.config.Method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	responseHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		responseHeaders[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"status":  float64(resp.StatusCode),
		"headers": responseHeaders,
		"body":    string(respBody),
		"success": true,
	}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		result["data"] = jsonBody
	}

	return result, nil
}
