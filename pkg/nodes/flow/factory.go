package flow

import (
	"context"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

// StartNodeFactory creates StartNode instances.
type StartNodeFactory struct{}

func NewStartNodeFactory() protocol.NodeFactory { return &StartNodeFactory{} }

func (f *StartNodeFactory) Create(_ context.Context, id string, _ map[string]any) (protocol.Node, error) {
	return NewStartNode(id), nil
}

func (f *StartNodeFactory) ID() models.NodeType { return models.NodeTypeStart }
func (f *StartNodeFactory) Name() string        { return "Start" }

func (f *StartNodeFactory) Description() string {
	return "Entry point of the workflow. Every graph has exactly one."
}

func (f *StartNodeFactory) Schema() map[string]any {
	return map[string]any{"type": "object"}
}

// SendMessageNodeFactory creates SendMessageNode instances.
type SendMessageNodeFactory struct{}

func NewSendMessageNodeFactory() protocol.NodeFactory { return &SendMessageNodeFactory{} }

func (f *SendMessageNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewSendMessageNode(id, config)
}

func (f *SendMessageNodeFactory) ID() models.NodeType { return models.NodeTypeSendMessage }
func (f *SendMessageNodeFactory) Name() string        { return "Send Message" }

func (f *SendMessageNodeFactory) Description() string {
	return "Sends a text message to the customer. Supports {{variable}} substitution."
}

func (f *SendMessageNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Message text",
				"examples":    []string{"Thanks {{name}}, we got your request."},
			},
		},
		"required": []string{"message"},
	}
}

// EndNodeFactory creates EndNode instances.
type EndNodeFactory struct{}

func NewEndNodeFactory() protocol.NodeFactory { return &EndNodeFactory{} }

func (f *EndNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewEndNode(id, config)
}

func (f *EndNodeFactory) ID() models.NodeType { return models.NodeTypeEnd }
func (f *EndNodeFactory) Name() string        { return "End" }

func (f *EndNodeFactory) Description() string {
	return "Stops the workflow, optionally sending a closing message and closing the conversation."
}

func (f *EndNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message":           map[string]any{"type": "string"},
			"closeConversation": map[string]any{"type": "boolean", "default": false},
		},
	}
}

// HumanHandoffNodeFactory creates HumanHandoffNode instances.
type HumanHandoffNodeFactory struct{}

func NewHumanHandoffNodeFactory() protocol.NodeFactory { return &HumanHandoffNodeFactory{} }

func (f *HumanHandoffNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewHumanHandoffNode(id, config)
}

func (f *HumanHandoffNodeFactory) ID() models.NodeType { return models.NodeTypeHumanHandoff }
func (f *HumanHandoffNodeFactory) Name() string        { return "Human Handoff" }

func (f *HumanHandoffNodeFactory) Description() string {
	return "Queues the conversation for a human agent and stops the workflow."
}

func (f *HumanHandoffNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message":  map[string]any{"type": "string"},
			"priority": map[string]any{"type": "integer"},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"strategy": map[string]any{
				"type": "string",
				"enum": []string{"round_robin", "load_based", "skill_based"},
			},
		},
	}
}
