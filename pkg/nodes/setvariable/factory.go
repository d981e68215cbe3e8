package setvariable

import (
	"context"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

// SetVariableNodeFactory creates SetVariableNode instances.
type SetVariableNodeFactory struct{}

func NewSetVariableNodeFactory() protocol.NodeFactory {
	return &SetVariableNodeFactory{}
}

func (f *SetVariableNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewSetVariableNode(id, config)
}

func (f *SetVariableNodeFactory) ID() models.NodeType { return models.NodeTypeSetVariable }
func (f *SetVariableNodeFactory) Name() string        { return "Set Variable" }

func (f *SetVariableNodeFactory) Description() string {
	return "Writes a literal, templated or computed value into a conversation variable."
}

func (f *SetVariableNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"variable": map[string]any{"type": "string", "minLength": 1, "pattern": "^[^_]"},
			"value":    map[string]any{"description": "Literal value, {{variable}} template or expr-lang source"},
			"valueType": map[string]any{
				"type": "string",
				"enum": []string{KindLiteral, KindTemplate, KindExpression},
			},
		},
		"required": []string{"variable", "value"},
		"examples": []map[string]any{
			{"variable": "greeting", "value": "Hello {{name}}", "valueType": "template"},
			{"variable": "is_adult", "value": "age >= 18", "valueType": "expression"},
		},
	}
}
