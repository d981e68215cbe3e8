package ai

import (
	"context"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/template"
)

// ResponseConfig configures an ai_response node. Unset fields use the chatbot settings.
type ResponseConfig struct {
	Model            string   `json:"model,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        int      `json:"maxTokens,omitempty"`
	SystemPrompt     string   `json:"systemPrompt,omitempty"`
	UseKnowledgeBase bool     `json:"useKnowledgeBase,omitempty"`
	KnowledgeBaseID  string   `json:"knowledgeBaseId,omitempty"`
	KBLimit          int      `json:"kbLimit,omitempty"`
	ResponseVariable string   `json:"responseVariable,omitempty"`
}

// ResponseNode appends a completion as an assistant message.
type ResponseNode struct {
	id        string
	config    ResponseConfig
	responder *Responder
}

func NewResponseNode(id string, config map[string]any, responder *Responder) (*ResponseNode, error) {
	var cfg ResponseConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	return &ResponseNode{id: id, config: cfg, responder: responder}, nil
}

func (n *ResponseNode) ID() string            { return n.id }
func (n *ResponseNode) Type() models.NodeType { return models.NodeTypeAIResponse }

func (n *ResponseNode) Execute(ctx context.Context, exec *protocol.ExecutionContext) (protocol.Outcome, error) {
	completion, err := n.responder.Respond(ctx, exec.Chatbot, exec.State, exec.Input, Options{
		Model:            n.config.Model,
		Temperature:      n.config.Temperature,
		MaxTokens:        n.config.MaxTokens,
		SystemPrompt:     template.Interpolate(n.config.SystemPrompt, exec.Variables()),
		UseKnowledgeBase: n.config.UseKnowledgeBase,
		KnowledgeBaseID:  n.config.KnowledgeBaseID,
		KnowledgeLimit:   n.config.KBLimit,
	})
	if err != nil {
		return protocol.Outcome{}, err
	}

	content := strings.TrimSpace(completion.Content)
	if content == "" {
		return protocol.Outcome{}, ErrEmptyCompletion
	}

	if n.config.ResponseVariable != "" {
		exec.Variables().Set(n.config.ResponseVariable, content)
	}

	return protocol.Outcome{
		Messages: []models.OutboundMessage{{Content: content, NodeID: n.id, AI: completion.Metadata()}},
	}, nil
}
