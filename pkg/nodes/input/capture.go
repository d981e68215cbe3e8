// Package input provides the nodes that pause the workflow for the next user
// turn: capture_input and buttons.
package input

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/validation"
)

const (
	OutputPortError   = "error"
	OutputPortDefault = "default"

	defaultCaptureRetries = 3
)

// CaptureInputConfig configures a capture_input node.
type CaptureInputConfig struct {
	Message      string `json:"message"`
	Variable     string `json:"variable"`
	InputType    string `json:"inputType,omitempty"`
	Pattern      string `json:"pattern,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	MaxRetries   *int   `json:"maxRetries,omitempty"`
}

// CaptureInputNode prompts for a value, validates the answer and stores it.
type CaptureInputNode struct {
	id        string
	config    CaptureInputConfig
	validator *validation.Validator
}

func NewCaptureInputNode(id string, config map[string]any, validator *validation.Validator) (*CaptureInputNode, error) {
	var cfg CaptureInputConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Variable == "" {
		return nil, errors.New("missing required field 'variable'")
	}

	if !validation.SupportedType(cfg.InputType) {
		return nil, fmt.Errorf("unsupported input type '%s'", cfg.InputType)
	}

	if validator == nil {
		validator = validation.New()
	}

	return &CaptureInputNode{id: id, config: cfg, validator: validator}, nil
}

func (n *CaptureInputNode) ID() string            { return n.id }
func (n *CaptureInputNode) Type() models.NodeType { return models.NodeTypeCaptureInput }

func (n *CaptureInputNode) OutputPorts() []protocol.OutputPort {
	return []protocol.OutputPort{
		{Name: OutputPortError, Description: "Followed when every retry failed validation"},
	}
}

func (n *CaptureInputNode) maxRetries() int {
	if n.config.MaxRetries == nil {
		return defaultCaptureRetries
	}

	return max(*n.config.MaxRetries, 0)
}

// Execute sends the prompt and pauses.
func (n *CaptureInputNode) Execute(_ context.Context, exec *protocol.ExecutionContext) (protocol.Outcome, error) {
	outcome := protocol.Outcome{
		Pause: &models.AwaitingInput{
			Kind:   models.AwaitingCapture,
			NodeID: n.id,
			Capture: &models.CaptureSpec{
				Variable:     n.config.Variable,
				InputType:    n.config.InputType,
				Pattern:      n.config.Pattern,
				ErrorMessage: n.config.ErrorMessage,
				MaxRetries:   n.maxRetries(),
			},
		},
	}

	if n.config.Message != "" {
		outcome.Messages = []models.OutboundMessage{{Content: exec.Render(n.config.Message), NodeID: n.id}}
	}

	return outcome, nil
}

// Resume validates answer. A valid answer is stored and the unlabeled edge is
// followed. The maxRetries-th consecutive failure follows the error port;
// earlier failures re-prompt with the error message.
func (n *CaptureInputNode) Resume(_ context.Context, exec *protocol.ExecutionContext, awaiting *models.AwaitingInput, answer string) (protocol.Outcome, error) {
	prompt := awaiting.Capture
	if prompt == nil {
		return protocol.Outcome{}, errors.New("capture_input resumed without a capture record")
	}

	value, err := n.validator.Validate(prompt.InputType, prompt.Pattern, answer)
	if err == nil {
		exec.Variables().Set(prompt.Variable, value)

		return protocol.Outcome{}, nil
	}

	if !errors.Is(err, validation.ErrInvalidInput) {
		return protocol.Outcome{}, err
	}

	failures := awaiting.Attempts + 1
	if failures >= prompt.MaxRetries {
		return protocol.Outcome{Port: OutputPortError}, nil
	}

	next := *awaiting
	next.Attempts = failures

	return protocol.Outcome{
		Messages: []models.OutboundMessage{{Content: exec.Render(errorMessage(prompt)), NodeID: n.id}},
		Pause:    &next,
	}, nil
}

func errorMessage(prompt *models.CaptureSpec) string {
	if prompt.ErrorMessage != "" {
		return prompt.ErrorMessage
	}

	switch prompt.InputType {
	case validation.TypeEmail:
		return "Please enter a valid email address."
	case validation.TypePhone:
		return "Please enter a valid phone number."
	case validation.TypeNumber:
		return "Please enter a valid number."
	case validation.TypeURL:
		return "Please enter a valid URL."
	case validation.TypeDate:
		return "Please enter a valid date."
	default:
		return "Sorry, I didn't understand that. Please try again."
	}
}
