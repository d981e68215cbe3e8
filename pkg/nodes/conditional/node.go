// Package conditional provides the condition node: one variable tested with
// one operator, routed to the true or false branch.
package conditional

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dukex/chatflow/pkg/expression"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/template"
)

const (
	OutputPortTrue  = "true"
	OutputPortFalse = "false"
)

// Operators supported by the condition node.
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpContains       = "contains"
	OpNotContains    = "not_contains"
	OpStartsWith     = "starts_with"
	OpEndsWith       = "ends_with"
	OpGreaterThan    = "greater_than"
	OpLessThan       = "less_than"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessOrEqual    = "less_or_equal"
	OpIsEmpty        = "is_empty"
	OpIsNotEmpty     = "is_not_empty"
	OpRegex          = "regex"
	OpExpression     = "expression"
)

// Operators lists every operator in declaration order.
var Operators = []string{
	OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith, OpEndsWith,
	OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual,
	OpIsEmpty, OpIsNotEmpty, OpRegex, OpExpression,
}

// Config configures a condition node. Value is templated before comparison.
type Config struct {
	Variable      string `json:"variable,omitempty"`
	Operator      string `json:"operator"`
	Value         any    `json:"value,omitempty"`
	Expression    string `json:"expression,omitempty"`
	CaseSensitive bool   `json:"caseSensitive,omitempty"`
}

// ConditionalNode routes execution to the true or false branch.
type ConditionalNode struct {
	id     string
	config Config
	re     *regexp.Regexp
	engine *expression.Engine
}

func NewConditionalNode(id string, config map[string]any) (*ConditionalNode, error) {
	var cfg Config
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	node := &ConditionalNode{id: id, config: cfg, engine: expression.Default}

	switch cfg.Operator {
	case OpExpression:
		if _, err := node.engine.Compile(cfg.Expression); err != nil {
			return nil, err
		}
	case OpRegex:
		pattern := models.Stringify(cfg.Value)
		if !cfg.CaseSensitive {
			pattern = "(?i)" + pattern
		}

		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex: %w", err)
		}

		node.re = re

		fallthrough
	default:
		if !isOperator(cfg.Operator) {
			return nil, fmt.Errorf("unknown operator '%s'", cfg.Operator)
		}

		if cfg.Variable == "" {
			return nil, errors.New("missing required field 'variable'")
		}
	}

	return node, nil
}

func isOperator(op string) bool {
	for _, known := range Operators {
		if known == op {
			return true
		}
	}

	return false
}

func (n *ConditionalNode) ID() string            { return n.id }
func (n *ConditionalNode) Type() models.NodeType { return models.NodeTypeCondition }

func (n *ConditionalNode) OutputPorts() []protocol.OutputPort {
	return []protocol.OutputPort{
		{Name: OutputPortTrue, Description: "Execution path when the condition holds", Required: true},
		{Name: OutputPortFalse, Description: "Execution path when the condition does not hold", Required: true},
	}
}

func (n *ConditionalNode) Execute(_ context.Context, exec *protocol.ExecutionContext) (protocol.Outcome, error) {
	ok, err := n.Evaluate(exec.Variables(), exec.Input)
	if err != nil {
		return protocol.Outcome{}, err
	}

	if ok {
		return protocol.Outcome{Port: OutputPortTrue}, nil
	}

	return protocol.Outcome{Port: OutputPortFalse}, nil
}

// Evaluate applies the configured operator to the variables.
func (n *ConditionalNode) Evaluate(vars models.Variables, input string) (bool, error) {
	if n.config.Operator == OpExpression {
		out, err := n.engine.Evaluate(n.config.Expression, vars, input)
		if err != nil {
			return false, err
		}

		return expression.Truthy(out), nil
	}

	raw, _ := template.Lookup(vars, n.config.Variable)
	actual := models.Stringify(raw)
	expected := n.expected(vars)

	if !n.config.CaseSensitive {
		actual = strings.ToLower(actual)
		expected = strings.ToLower(expected)
	}

	switch n.config.Operator {
	case OpEquals:
		return actual == expected, nil
	case OpNotEquals:
		return actual != expected, nil
	case OpContains:
		return strings.Contains(actual, expected), nil
	case OpNotContains:
		return !strings.Contains(actual, expected), nil
	case OpStartsWith:
		return strings.HasPrefix(actual, expected), nil
	case OpEndsWith:
		return strings.HasSuffix(actual, expected), nil
	case OpIsEmpty:
		return isEmpty(raw), nil
	case OpIsNotEmpty:
		return !isEmpty(raw), nil
	case OpRegex:
		return n.re.MatchString(models.Stringify(raw)), nil
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		return compareNumbers(n.config.Operator, actual, expected)
	default:
		return false, fmt.Errorf("unknown operator '%s'", n.config.Operator)
	}
}

func (n *ConditionalNode) expected(vars models.Variables) string {
	if s, ok := n.config.Value.(string); ok {
		return template.Interpolate(s, vars)
	}

	return models.Stringify(n.config.Value)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// compareNumbers fails the comparison, without error, when either side is not numeric.
func compareNumbers(op, actual, expected string) (bool, error) {
	a, errA := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	b, errB := strconv.ParseFloat(strings.TrimSpace(expected), 64)

	if errA != nil || errB != nil {
		return false, nil
	}

	switch op {
	case OpGreaterThan:
		return a > b, nil
	case OpLessThan:
		return a < b, nil
	case OpGreaterOrEqual:
		return a >= b, nil
	default:
		return a <= b, nil
	}
}
