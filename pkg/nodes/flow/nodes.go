// Package flow provides the linear control nodes: start, send_message, end
// and human_handoff.
package flow

import (
	"context"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

// StartNode is the graph entry point. It only follows its single edge.
type StartNode struct {
	id string
}

func NewStartNode(id string) *StartNode {
	return &StartNode{id: id}
}

func (n *StartNode) ID() string            { return n.id }
func (n *StartNode) Type() models.NodeType { return models.NodeTypeStart }

func (n *StartNode) Execute(_ context.Context, _ *protocol.ExecutionContext) (protocol.Outcome, error) {
	return protocol.Outcome{}, nil
}

// SendMessageConfig configures a send_message node.
type SendMessageConfig struct {
	Message string `json:"message"`
}

// SendMessageNode appends one templated assistant message.
type SendMessageNode struct {
	id     string
	config SendMessageConfig
}

func NewSendMessageNode(id string, config map[string]any) (*SendMessageNode, error) {
	var cfg SendMessageConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	return &SendMessageNode{id: id, config: cfg}, nil
}

func (n *SendMessageNode) ID() string            { return n.id }
func (n *SendMessageNode) Type() models.NodeType { return models.NodeTypeSendMessage }

func (n *SendMessageNode) Execute(_ context.Context, exec *protocol.ExecutionContext) (protocol.Outcome, error) {
	return protocol.Message(n.id, exec.Render(n.config.Message)), nil
}

// EndConfig configures an end node.
type EndConfig struct {
	Message           string `json:"message,omitempty"`
	CloseConversation bool   `json:"closeConversation,omitempty"`
}

// EndNode halts the walk, optionally closing the conversation.
type EndNode struct {
	id     string
	config EndConfig
}

func NewEndNode(id string, config map[string]any) (*EndNode, error) {
	var cfg EndConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	return &EndNode{id: id, config: cfg}, nil
}

func (n *EndNode) ID() string            { return n.id }
func (n *EndNode) Type() models.NodeType { return models.NodeTypeEnd }

func (n *EndNode) Execute(_ context.Context, exec *protocol.ExecutionContext) (protocol.Outcome, error) {
	outcome := protocol.Outcome{Halt: true}

	if n.config.Message != "" {
		outcome.Messages = []models.OutboundMessage{{Content: exec.Render(n.config.Message), NodeID: n.id}}
	}

	if n.config.CloseConversation {
		exec.Variables().Set(models.VariableConversationStatus, string(models.ConversationStatusClosed))
	}

	return outcome, nil
}

// HumanHandoffConfig configures a human_handoff node.
type HumanHandoffConfig struct {
	Message  string   `json:"message,omitempty"`
	Priority *int     `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
}

// HumanHandoffNode asks for the conversation to be queued for a human agent.
type HumanHandoffNode struct {
	id     string
	config HumanHandoffConfig
}

func NewHumanHandoffNode(id string, config map[string]any) (*HumanHandoffNode, error) {
	var cfg HumanHandoffConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	return &HumanHandoffNode{id: id, config: cfg}, nil
}

func (n *HumanHandoffNode) ID() string            { return n.id }
func (n *HumanHandoffNode) Type() models.NodeType { return models.NodeTypeHumanHandoff }

func (n *HumanHandoffNode) Execute(_ context.Context, exec *protocol.ExecutionContext) (protocol.Outcome, error) {
	vars := exec.Variables()
	vars.Set(models.VariableConversationStatus, string(models.ConversationStatusWaitingForHuman))

	if n.config.Priority != nil {
		vars.Set(models.VariableHandoffPriority, float64(*n.config.Priority))
	}

	if len(n.config.Tags) > 0 {
		tags := make([]any, 0, len(n.config.Tags))
		for _, tag := range n.config.Tags {
			tags = append(tags, exec.Render(tag))
		}

		vars.Set(models.VariableHandoffTags, tags)
	}

	if n.config.Strategy != "" {
		vars.Set(models.VariableHandoffStrategy, n.config.Strategy)
	}

	outcome := protocol.Outcome{Halt: true}

	if n.config.Message != "" {
		outcome.Messages = []models.OutboundMessage{{Content: exec.Render(n.config.Message), NodeID: n.id}}
	}

	return outcome, nil
}
