// Package setvariable provides the set_variable node.
package setvariable

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/chatflow/pkg/expression"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/template"
)

// Value kinds.
const (
	KindLiteral    = "literal"
	KindTemplate   = "template"
	KindExpression = "expression"
)

// Config configures a set_variable node. When ValueType is empty, string
// values containing placeholders are treated as templates.
type Config struct {
	Variable  string `json:"variable"`
	Value     any    `json:"value"`
	ValueType string `json:"valueType,omitempty"`
}

// SetVariableNode writes one value into the conversation variables.
type SetVariableNode struct {
	id     string
	config Config
	engine *expression.Engine
}

func NewSetVariableNode(id string, config map[string]any) (*SetVariableNode, error) {
	var cfg Config
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Variable == "" {
		return nil, errors.New("missing required field 'variable'")
	}

	if strings.HasPrefix(cfg.Variable, "_") {
		return nil, fmt.Errorf("variable '%s' is reserved", cfg.Variable)
	}

	node := &SetVariableNode{id: id, config: cfg, engine: expression.Default}

	switch cfg.ValueType {
	case "", KindLiteral, KindTemplate:
	case KindExpression:
		src, ok := cfg.Value.(string)
		if !ok {
			return nil, errors.New("expression value must be a string")
		}

		if _, err := node.engine.Compile(src); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown value type '%s'", cfg.ValueType)
	}

	return node, nil
}

func (n *SetVariableNode) ID() string            { return n.id }
func (n *SetVariableNode) Type() models.NodeType { return models.NodeTypeSetVariable }

func (n *SetVariableNode) Execute(_ context.Context, exec *protocol.ExecutionContext) (protocol.Outcome, error) {
	value, err := n.resolve(exec)
	if err != nil {
		return protocol.Outcome{}, err
	}

	exec.Variables().Set(n.config.Variable, value)

	return protocol.Outcome{}, nil
}

func (n *SetVariableNode) resolve(exec *protocol.ExecutionContext) (any, error) {
	switch n.config.ValueType {
	case KindExpression:
		return n.engine.Evaluate(n.config.Value.(string), exec.Variables(), exec.Input)
	case KindLiteral:
		return n.config.Value, nil
	case KindTemplate:
		if s, ok := n.config.Value.(string); ok {
			return template.Render(s, exec.Variables()), nil
		}

		return template.RenderValue(n.config.Value, exec.Variables()), nil
	default:
		if s, ok := n.config.Value.(string); ok && template.NeedsTemplating(s) {
			return template.Render(s, exec.Variables()), nil
		}

		return n.config.Value, nil
	}
}
