package switchnode

import (
	"testing"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func config() map[string]any {
	return map[string]any{
		"variable": "department",
		"cases": []any{
			map[string]any{"value": "sales", "output_port": "to_sales"},
			map[string]any{"value": "billing", "output_port": "to_support"},
			map[string]any{"value": "support", "output_port": "to_support"},
		},
	}
}

func run(t *testing.T, node *SwitchNode, value any) string {
	t.Helper()

	state := models.NewExecutionState()
	if value != nil {
		state.Variables.Set("department", value)
	}

	outcome, err := node.Execute(t.Context(), &protocol.ExecutionContext{State: &state})
	require.NoError(t, err)

	return outcome.Port
}

func TestSwitchNode_Execute(t *testing.T) {
	node, err := NewSwitchNode("sw", config())
	require.NoError(t, err)

	assert.Equal(t, "to_sales", run(t, node, "Sales"))
	assert.Equal(t, "to_support", run(t, node, "billing"))
	assert.Equal(t, "to_support", run(t, node, " support "))
	assert.Equal(t, OutputPortDefault, run(t, node, "hr"))
	assert.Equal(t, OutputPortDefault, run(t, node, nil))
}

func TestSwitchNode_OutputPortsAreUnique(t *testing.T) {
	node, err := NewSwitchNode("sw", config())
	require.NoError(t, err)

	ports := node.OutputPorts()
	require.Len(t, ports, 3)
	assert.Equal(t, "to_sales", ports[0].Name)
	assert.Equal(t, "to_support", ports[1].Name)
	assert.Equal(t, OutputPortDefault, ports[2].Name)
	assert.False(t, ports[2].Required)
}

func TestSwitchNode_InvalidConfig(t *testing.T) {
	_, err := NewSwitchNode("sw", map[string]any{"cases": []any{}})
	require.Error(t, err)

	_, err = NewSwitchNode("sw", map[string]any{
		"variable": "x",
		"cases":    []any{map[string]any{"value": "a", "output_port": "default"}},
	})
	require.Error(t, err)
}
