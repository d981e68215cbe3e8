package switchnode

import (
	"context"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

// SwitchNodeFactory creates SwitchNode instances.
type SwitchNodeFactory struct{}

func (f *SwitchNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewSwitchNode(id, config)
}

func (f *SwitchNodeFactory) ID() models.NodeType {
	return models.NodeTypeSwitch
}

func (f *SwitchNodeFactory) Name() string {
	return "Switch"
}

func (f *SwitchNodeFactory) Description() string {
	return "Routes to the branch whose case matches a variable, or to the default branch."
}

func (f *SwitchNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"variable": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Variable whose value selects the case",
			},
			"cases": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"value":       map[string]any{"type": "string"},
						"output_port": map[string]any{"type": "string", "minLength": 1},
					},
					"required": []string{"value", "output_port"},
				},
			},
			"caseSensitive": map[string]any{"type": "boolean", "default": false},
		},
		"required": []string{"variable", "cases"},
		"examples": []map[string]any{
			{
				"variable": "department",
				"cases": []map[string]any{
					{"value": "sales", "output_port": "sales"},
					{"value": "support", "output_port": "support"},
				},
			},
		},
	}
}

func NewSwitchNodeFactory() protocol.NodeFactory {
	return &SwitchNodeFactory{}
}
