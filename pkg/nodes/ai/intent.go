package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

const (
	OutputPortDefault = "default"

	noIntent = "none"
)

// Intent is one bucket the classifier may choose.
type Intent struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// IntentConfig configures an intent_classifier node.
type IntentConfig struct {
	Intents  []Intent `json:"intents"`
	Variable string   `json:"variable,omitempty"`
	Model    string   `json:"model,omitempty"`
}

// IntentClassifierNode buckets the user message into one of the configured intents.
type IntentClassifierNode struct {
	id        string
	config    IntentConfig
	responder *Responder
}

func NewIntentClassifierNode(id string, config map[string]any, responder *Responder) (*IntentClassifierNode, error) {
	var cfg IntentConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Intents) == 0 {
		return nil, errors.New("intent_classifier requires at least one intent")
	}

	seen := map[string]bool{}
	for _, intent := range cfg.Intents {
		if intent.ID == "" || intent.ID == OutputPortDefault || intent.ID == noIntent {
			return nil, fmt.Errorf("invalid intent id '%s'", intent.ID)
		}

		if seen[intent.ID] {
			return nil, fmt.Errorf("duplicate intent id '%s'", intent.ID)
		}

		seen[intent.ID] = true
	}

	return &IntentClassifierNode{id: id, config: cfg, responder: responder}, nil
}

func (n *IntentClassifierNode) ID() string            { return n.id }
func (n *IntentClassifierNode) Type() models.NodeType { return models.NodeTypeIntentClassifier }

func (n *IntentClassifierNode) OutputPorts() []protocol.OutputPort {
	ports := make([]protocol.OutputPort, 0, len(n.config.Intents)+1)
	for _, intent := range n.config.Intents {
		ports = append(ports, protocol.OutputPort{Name: intent.ID, Description: intent.Description, Required: true})
	}

	return append(ports, protocol.OutputPort{Name: OutputPortDefault, Description: "No intent matched"})
}

func (n *IntentClassifierNode) Execute(ctx context.Context, exec *protocol.ExecutionContext) (protocol.Outcome, error) {
	input := exec.Input
	if input == "" {
		input = exec.Variables().String(models.VariableLastUserMessage)
	}

	if strings.TrimSpace(input) == "" {
		return protocol.Outcome{Port: OutputPortDefault}, nil
	}

	model := n.config.Model
	if model == "" && exec.Chatbot != nil {
		model = exec.Chatbot.Model
	}

	completion, err := n.responder.Complete(ctx, protocol.CompletionRequest{
		Model:       model,
		Temperature: 0,
		MaxTokens:   20,
		Messages: []protocol.CompletionMessage{
			{Role: models.MessageRoleSystem, Content: n.prompt()},
			{Role: models.MessageRoleUser, Content: input},
		},
	})
	if err != nil {
		return protocol.Outcome{}, err
	}

	intent, ok := n.Parse(completion.Content)
	if !ok {
		return protocol.Outcome{Port: OutputPortDefault}, nil
	}

	if n.config.Variable != "" {
		exec.Variables().Set(n.config.Variable, intent.ID)
	}

	return protocol.Outcome{Port: intent.ID}, nil
}

func (n *IntentClassifierNode) prompt() string {
	var b strings.Builder

	b.WriteString("Classify the user's message into exactly one of these intents.\n")
	b.WriteString("Reply with the intent id only, or \"none\" if nothing fits.\n\n")

	for _, intent := range n.config.Intents {
		fmt.Fprintf(&b, "- %s", intent.ID)

		if intent.Name != "" {
			fmt.Fprintf(&b, " (%s)", intent.Name)
		}

		if intent.Description != "" {
			fmt.Fprintf(&b, ": %s", intent.Description)
		}

		if len(intent.Examples) > 0 {
			fmt.Fprintf(&b, " e.g. %q", strings.Join(intent.Examples, "\", \""))
		}

		b.WriteString("\n")
	}

	return b.String()
}

// Parse maps the provider answer to an intent by id, then by name.
func (n *IntentClassifierNode) Parse(answer string) (Intent, bool) {
	answer = strings.ToLower(strings.Trim(strings.TrimSpace(answer), "\"'`.!"))
	if answer == "" || answer == noIntent {
		return Intent{}, false
	}

	for _, intent := range n.config.Intents {
		if answer == strings.ToLower(intent.ID) {
			return intent, true
		}
	}

	for _, intent := range n.config.Intents {
		if intent.Name != "" && answer == strings.ToLower(intent.Name) {
			return intent, true
		}
	}

	return Intent{}, false
}
