package httprequest

import (
	"context"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

// HTTPRequestNodeFactory creates HTTPRequestNode instances.
type HTTPRequestNodeFactory struct {
	client protocol.HTTPDoer
}

// Create creates a new HTTPRequestNode instance.
func (f *HTTPRequestNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewHTTPRequestNode(id, config, f.client)
}

// ID returns the factory ID.
func (f *HTTPRequestNodeFactory) ID() models.NodeType {
	return models.NodeTypeAPICall
}

// Name returns the factory name.
func (f *HTTPRequestNodeFactory) Name() string {
	return "API Call"
}

// Description returns the factory description.
func (f *HTTPRequestNodeFactory) Description() string {
	return "Performs an HTTP request with templated URL, headers and body, stores the response and follows success or error."
}

// Schema returns the JSON schema for API Call node configuration.
func (f *HTTPRequestNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Request URL. Supports {{variable}} substitution.",
				"examples":    []string{"https://api.example.com/orders/{{order_id}}"},
			},
			"method": map[string]any{
				"type":    "string",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
				"default": "GET",
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"type":        []string{"string", "object", "array"},
				"description": "Request body; objects are sent as JSON with every string templated.",
			},
			"timeout": map[string]any{
				"type":        "number",
				"minimum":     0,
				"maximum":     MaxTimeout.Seconds(),
				"default":     DefaultTimeout.Seconds(),
				"description": "Timeout in seconds",
			},
			"responseVariable": map[string]any{"type": "string"},
			"retries": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"attempts": map[string]any{"type": "integer", "minimum": 1, "maximum": 5, "default": 1},
					"delay":    map[string]any{"type": "integer", "minimum": 0, "maximum": 10000, "default": 0},
				},
			},
		},
		"required": []string{"url"},
	}
}

// NewHTTPRequestNodeFactory creates a new factory instance. A nil client uses http.DefaultClient.
func NewHTTPRequestNodeFactory(client protocol.HTTPDoer) protocol.NodeFactory {
	return &HTTPRequestNodeFactory{client: client}
}
