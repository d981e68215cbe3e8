package models

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
)

const (
	// MaxTurnWindow bounds the recent-turn history kept in the execution state.
	MaxTurnWindow = 20
	// MaxExecutionHistory bounds the visited-node trail kept for diagnostics.
	MaxExecutionHistory = 100
)

// Variables is the conversation-wide variable map shared by every node.
type Variables map[string]any

// Set writes a variable.
func (v Variables) Set(name string, value any) {
	v[name] = value
}

// Has reports whether the variable exists.
func (v Variables) Has(name string) bool {
	_, ok := v[name]

	return ok
}

// Get returns the raw variable value.
func (v Variables) Get(name string) (any, bool) {
	val, ok := v[name]

	return val, ok
}

// String returns the variable rendered as text; missing variables render empty.
func (v Variables) String(name string) string {
	val, ok := v[name]
	if !ok || val == nil {
		return ""
	}

	return Stringify(val)
}

// Stringify renders a variable value for templates and comparisons.
func Stringify(val any) string {
	switch t := val.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// AwaitingKind discriminates what the executor is waiting for.
type AwaitingKind string

const (
	AwaitingCapture AwaitingKind = "capture"
	AwaitingButtons AwaitingKind = "buttons"
)

// CaptureSpec describes a pending capture_input validation.
type CaptureSpec struct {
	Variable     string `json:"variable"`
	InputType    string `json:"input_type"`
	Pattern      string `json:"pattern,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	MaxRetries   int    `json:"max_retries"`
}

// ButtonOption is one choice offered by a buttons node.
type ButtonOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}

// ButtonSpec describes a pending buttons choice.
type ButtonSpec struct {
	Variable     string         `json:"variable,omitempty"`
	Options      []ButtonOption `json:"options"`
	ErrorMessage string         `json:"error_message,omitempty"`
	MaxRetries   int            `json:"max_retries"`
}

// AwaitingInput is the tagged pending-input record. Exactly one of Capture or
// Buttons is set, matching Kind.
type AwaitingInput struct {
	Kind     AwaitingKind `json:"kind"`
	NodeID   string       `json:"node_id"`
	Attempts int          `json:"attempts"`
	Capture  *CaptureSpec `json:"capture,omitempty"`
	Buttons  *ButtonSpec  `json:"buttons,omitempty"`
}

// TurnMessage is one entry of the bounded recent-turn window.
type TurnMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// ExecutionState is the resumable state of one conversation's walk through a
// workflow. It is persisted with the conversation as JSON.
type ExecutionState struct {
	Variables     Variables      `json:"variables"`
	AwaitingInput *AwaitingInput `json:"awaiting_input,omitempty"`
	History       []string       `json:"execution_history,omitempty"`
	Messages      []TurnMessage  `json:"messages,omitempty"`
}

// NewExecutionState returns an empty state.
func NewExecutionState() ExecutionState {
	return ExecutionState{Variables: Variables{}}
}

// Awaiting reports whether the next user message answers a pending prompt.
func (s *ExecutionState) Awaiting() bool {
	return s.AwaitingInput != nil
}

// Visit appends a node to the execution history, keeping it bounded.
func (s *ExecutionState) Visit(nodeID string) {
	s.History = append(s.History, nodeID)
	if over := len(s.History) - MaxExecutionHistory; over > 0 {
		s.History = slices.Clone(s.History[over:])
	}
}

// AppendTurn records a turn in the bounded recent-turn window.
func (s *ExecutionState) AppendTurn(role MessageRole, content string) {
	s.Messages = append(s.Messages, TurnMessage{Role: role, Content: content})
	if over := len(s.Messages) - MaxTurnWindow; over > 0 {
		s.Messages = slices.Clone(s.Messages[over:])
	}
}

// Clone returns a deep-enough copy: variables, history and the pending input
// record are copied; variable values themselves are shared.
func (s ExecutionState) Clone() ExecutionState {
	out := ExecutionState{
		Variables: Variables{},
		History:   slices.Clone(s.History),
		Messages:  slices.Clone(s.Messages),
	}

	maps.Copy(out.Variables, s.Variables)

	if s.AwaitingInput != nil {
		awaiting := *s.AwaitingInput
		if awaiting.Capture != nil {
			capture := *awaiting.Capture
			awaiting.Capture = &capture
		}

		if awaiting.Buttons != nil {
			buttons := *awaiting.Buttons
			buttons.Options = slices.Clone(buttons.Options)
			awaiting.Buttons = &buttons
		}

		out.AwaitingInput = &awaiting
	}

	return out
}
