// Package expression evaluates expr-lang expressions against conversation
// variables for the condition and set_variable nodes.
package expression

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// InputKey exposes the current user message to expressions.
const InputKey = "input"

var ErrEmptyExpression = errors.New("empty expression")

// Engine compiles and caches programs. Compiled programs are safe to share
// across goroutines.
type Engine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewEngine() *Engine {
	return &Engine{cache: make(map[string]*vm.Program)}
}

// Default is the process-wide engine used by node factories.
var Default = NewEngine()

// Compile checks the syntax of expression and caches the program.
func (e *Engine) Compile(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}

	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()

		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}

	e.cache[expression] = prg

	return prg, nil
}

// Evaluate runs expression with every variable as a top-level name and the
// current user message as `input`.
func (e *Engine) Evaluate(expression string, vars models.Variables, input string) (any, error) {
	prg, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}

	env := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		env[k] = v
	}

	env[InputKey] = input

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", expression, err)
	}

	return out, nil
}

// Truthy converts an expression result to a branch decision.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != "" && v != "false"
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}
