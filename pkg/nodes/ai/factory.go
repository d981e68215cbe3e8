package ai

import (
	"context"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

// ResponseNodeFactory creates ResponseNode instances.
type ResponseNodeFactory struct {
	responder *Responder
}

func NewResponseNodeFactory(responder *Responder) protocol.NodeFactory {
	return &ResponseNodeFactory{responder: responder}
}

func (f *ResponseNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewResponseNode(id, config, f.responder)
}

func (f *ResponseNodeFactory) ID() models.NodeType { return models.NodeTypeAIResponse }
func (f *ResponseNodeFactory) Name() string        { return "AI Response" }

func (f *ResponseNodeFactory) Description() string {
	return "Answers with the completion provider, optionally grounded on knowledge-base results."
}

func (f *ResponseNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"model":            map[string]any{"type": "string"},
			"temperature":      map[string]any{"type": "number", "minimum": 0, "maximum": 2},
			"maxTokens":        map[string]any{"type": "integer", "minimum": 1},
			"systemPrompt":     map[string]any{"type": "string"},
			"useKnowledgeBase": map[string]any{"type": "boolean", "default": false},
			"knowledgeBaseId":  map[string]any{"type": "string"},
			"kbLimit":          map[string]any{"type": "integer", "minimum": 1, "maximum": 20, "default": defaultKnowledgeLimit},
			"responseVariable": map[string]any{"type": "string"},
		},
	}
}

// IntentClassifierNodeFactory creates IntentClassifierNode instances.
type IntentClassifierNodeFactory struct {
	responder *Responder
}

func NewIntentClassifierNodeFactory(responder *Responder) protocol.NodeFactory {
	return &IntentClassifierNodeFactory{responder: responder}
}

func (f *IntentClassifierNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewIntentClassifierNode(id, config, f.responder)
}

func (f *IntentClassifierNodeFactory) ID() models.NodeType { return models.NodeTypeIntentClassifier }
func (f *IntentClassifierNodeFactory) Name() string        { return "Intent Classifier" }

func (f *IntentClassifierNodeFactory) Description() string {
	return "Buckets the customer message into one of the configured intents and follows its branch."
}

func (f *IntentClassifierNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intents": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":          map[string]any{"type": "string", "minLength": 1},
						"name":        map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"examples":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required": []string{"id"},
				},
			},
			"variable": map[string]any{"type": "string"},
			"model":    map[string]any{"type": "string"},
		},
		"required": []string{"intents"},
	}
}
