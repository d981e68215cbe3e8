package conditional

import (
	"context"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

// ConditionalNodeFactory creates ConditionalNode instances.
type ConditionalNodeFactory struct{}

// Create creates a new ConditionalNode instance.
func (f *ConditionalNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewConditionalNode(id, config)
}

// ID returns the factory ID.
func (f *ConditionalNodeFactory) ID() models.NodeType {
	return models.NodeTypeCondition
}

// Name returns the factory name.
func (f *ConditionalNodeFactory) Name() string {
	return "Condition"
}

// Description returns the factory description.
func (f *ConditionalNodeFactory) Description() string {
	return "Tests a variable with one operator and routes to the true or false branch."
}

// Schema returns the JSON schema for Condition node configuration.
func (f *ConditionalNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"variable": map[string]any{
				"type":        "string",
				"description": "Variable to test. Dotted paths reach into objects.",
				"examples":    []string{"email", "order.status"},
			},
			"operator": map[string]any{
				"type": "string",
				"enum": Operators,
			},
			"value": map[string]any{
				"description": "Value compared against. Strings support {{variable}} substitution.",
			},
			"expression": map[string]any{
				"type":        "string",
				"description": "expr-lang expression, used with the expression operator",
				"examples":    []string{`age >= 18 && plan == "pro"`, `input contains "refund"`},
			},
			"caseSensitive": map[string]any{"type": "boolean", "default": false},
		},
		"required": []string{"operator"},
		"examples": []map[string]any{
			{"variable": "plan", "operator": "equals", "value": "pro"},
			{"operator": "expression", "expression": "score > 75"},
		},
	}
}

// NewConditionalNodeFactory creates a new factory instance.
func NewConditionalNodeFactory() protocol.NodeFactory {
	return &ConditionalNodeFactory{}
}
