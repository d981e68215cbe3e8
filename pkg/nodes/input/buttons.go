package input

import (
	"context"
	"errors"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

const defaultButtonRetries = 2

// ButtonsConfig configures a buttons node.
type ButtonsConfig struct {
	Message      string                `json:"message"`
	Variable     string                `json:"variable,omitempty"`
	Options      []models.ButtonOption `json:"options"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
	MaxRetries   *int                  `json:"maxRetries,omitempty"`
}

// ButtonsNode offers a fixed set of choices and branches on the one picked.
type ButtonsNode struct {
	id     string
	config ButtonsConfig
}

func NewButtonsNode(id string, config map[string]any) (*ButtonsNode, error) {
	var cfg ButtonsConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Options) == 0 {
		return nil, errors.New("buttons node requires at least one option")
	}

	seen := make(map[string]bool, len(cfg.Options))
	for _, opt := range cfg.Options {
		if opt.ID == "" || opt.Label == "" {
			return nil, errors.New("every button option needs an id and a label")
		}

		if seen[opt.ID] {
			return nil, errors.New("duplicate button option id '" + opt.ID + "'")
		}

		seen[opt.ID] = true
	}

	return &ButtonsNode{id: id, config: cfg}, nil
}

func (n *ButtonsNode) ID() string            { return n.id }
func (n *ButtonsNode) Type() models.NodeType { return models.NodeTypeButtons }

func (n *ButtonsNode) OutputPorts() []protocol.OutputPort {
	ports := make([]protocol.OutputPort, 0, len(n.config.Options)+2)
	for _, opt := range n.config.Options {
		ports = append(ports, protocol.OutputPort{Name: opt.ID, Description: opt.Label, Required: true})
	}

	return append(ports,
		protocol.OutputPort{Name: OutputPortError, Description: "Followed when no option matched after every retry"},
		protocol.OutputPort{Name: OutputPortDefault, Description: "Fallback when no error branch exists"},
	)
}

func (n *ButtonsNode) maxRetries() int {
	if n.config.MaxRetries == nil {
		return defaultButtonRetries
	}

	return max(*n.config.MaxRetries, 0)
}

func (n *ButtonsNode) prompt(exec *protocol.ExecutionContext, text string) models.OutboundMessage {
	return models.OutboundMessage{
		Content: exec.Render(text),
		NodeID:  n.id,
		Extra:   map[string]any{"buttons": n.config.Options},
	}
}

func (n *ButtonsNode) Execute(_ context.Context, exec *protocol.ExecutionContext) (protocol.Outcome, error) {
	return protocol.Outcome{
		Messages: []models.OutboundMessage{n.prompt(exec, n.config.Message)},
		Pause: &models.AwaitingInput{
			Kind:   models.AwaitingButtons,
			NodeID: n.id,
			Buttons: &models.ButtonSpec{
				Variable:     n.config.Variable,
				Options:      n.config.Options,
				ErrorMessage: n.config.ErrorMessage,
				MaxRetries:   n.maxRetries(),
			},
		},
	}, nil
}

// Match finds the option whose id, label or value equals answer, ignoring case.
func Match(options []models.ButtonOption, answer string) (models.ButtonOption, bool) {
	answer = strings.TrimSpace(answer)

	for _, opt := range options {
		if strings.EqualFold(answer, opt.Label) ||
			(opt.Value != "" && strings.EqualFold(answer, opt.Value)) ||
			strings.EqualFold(answer, opt.ID) {
			return opt, true
		}
	}

	return models.ButtonOption{}, false
}

// Resume follows the handle of the chosen option.
func (n *ButtonsNode) Resume(_ context.Context, exec *protocol.ExecutionContext, awaiting *models.AwaitingInput, answer string) (protocol.Outcome, error) {
	pending := awaiting.Buttons
	if pending == nil {
		return protocol.Outcome{}, errors.New("buttons resumed without a buttons record")
	}

	if opt, ok := Match(pending.Options, answer); ok {
		if pending.Variable != "" {
			value := opt.Value
			if value == "" {
				value = opt.Label
			}

			exec.Variables().Set(pending.Variable, value)
		}

		return protocol.Outcome{Port: opt.ID}, nil
	}

	failures := awaiting.Attempts + 1
	if failures >= pending.MaxRetries {
		return protocol.Outcome{Port: OutputPortError}, nil
	}

	text := pending.ErrorMessage
	if text == "" {
		text = "Please choose one of the options below."
	}

	next := *awaiting
	next.Attempts = failures

	return protocol.Outcome{
		Messages: []models.OutboundMessage{n.prompt(exec, text)},
		Pause:    &next,
	}, nil
}
