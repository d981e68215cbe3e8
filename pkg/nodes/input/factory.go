package input

import (
	"context"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/validation"
)

// CaptureInputNodeFactory creates CaptureInputNode instances.
type CaptureInputNodeFactory struct {
	validator *validation.Validator
}

func NewCaptureInputNodeFactory() protocol.NodeFactory {
	return &CaptureInputNodeFactory{validator: validation.New()}
}

func (f *CaptureInputNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewCaptureInputNode(id, config, f.validator)
}

func (f *CaptureInputNodeFactory) ID() models.NodeType { return models.NodeTypeCaptureInput }
func (f *CaptureInputNodeFactory) Name() string        { return "Capture Input" }

func (f *CaptureInputNodeFactory) Description() string {
	return "Asks the customer for a value, validates the answer and stores it in a variable."
}

func (f *CaptureInputNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message":  map[string]any{"type": "string"},
			"variable": map[string]any{"type": "string", "minLength": 1},
			"inputType": map[string]any{
				"type": "string",
				"enum": []string{
					validation.TypeText, validation.TypeRegex, validation.TypeEmail, validation.TypePhone,
					validation.TypeNumber, validation.TypeURL, validation.TypeDate,
				},
				"default": validation.TypeText,
			},
			"pattern":      map[string]any{"type": "string"},
			"errorMessage": map[string]any{"type": "string"},
			"maxRetries":   map[string]any{"type": "integer", "minimum": 0, "default": defaultCaptureRetries},
		},
		"required": []string{"variable"},
		"examples": []map[string]any{
			{"message": "What's your email?", "variable": "email", "inputType": "email", "maxRetries": 2},
		},
	}
}

// ButtonsNodeFactory creates ButtonsNode instances.
type ButtonsNodeFactory struct{}

func NewButtonsNodeFactory() protocol.NodeFactory { return &ButtonsNodeFactory{} }

func (f *ButtonsNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewButtonsNode(id, config)
}

func (f *ButtonsNodeFactory) ID() models.NodeType { return models.NodeTypeButtons }
func (f *ButtonsNodeFactory) Name() string        { return "Buttons" }

func (f *ButtonsNodeFactory) Description() string {
	return "Offers a set of choices and follows the branch of the one picked."
}

func (f *ButtonsNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message":  map[string]any{"type": "string", "minLength": 1},
			"variable": map[string]any{"type": "string"},
			"options": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":    map[string]any{"type": "string", "minLength": 1},
						"label": map[string]any{"type": "string", "minLength": 1},
						"value": map[string]any{"type": "string"},
					},
					"required": []string{"id", "label"},
				},
			},
			"errorMessage": map[string]any{"type": "string"},
			"maxRetries":   map[string]any{"type": "integer", "minimum": 0, "default": defaultButtonRetries},
		},
		"required": []string{"message", "options"},
	}
}
