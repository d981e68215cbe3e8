// Package protocol defines the interfaces and contracts for workflow nodes and
// the collaborators they call out to.
package protocol

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/template"
)

// NodeFactory creates node instances and provides metadata about the node type.
type NodeFactory interface {
	// Create creates a new node instance with the given configuration
	Create(ctx context.Context, id string, config map[string]any) (Node, error)

	// ID returns the node type this factory builds
	ID() models.NodeType

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for configuring this node
	Schema() map[string]any
}

// Node is one executable step of a workflow graph.
type Node interface {
	ID() string
	Type() models.NodeType
	Execute(ctx context.Context, exec *ExecutionContext) (Outcome, error)
}

// InputNode is a node that pauses for the next user turn and is resumed with
// the user's answer.
type InputNode interface {
	Node
	Resume(ctx context.Context, exec *ExecutionContext, awaiting *models.AwaitingInput, answer string) (Outcome, error)
}

// OutputPort is a named branch handle a node may follow.
type OutputPort struct {
	Name        string
	Description string
	Required    bool
}

// Brancher is implemented by nodes that select an outgoing edge by handle.
// Graph validation requires exactly one edge for every required port and at
// most one for optional ones.
type Brancher interface {
	OutputPorts() []OutputPort
}

// Outcome is what one node step produced.
type Outcome struct {
	Messages []models.OutboundMessage
	// Port selects the outgoing edge by handle; empty follows the single
	// unlabeled edge.
	Port string
	// Pause stops the walk until the next user turn.
	Pause *models.AwaitingInput
	// Halt stops the walk; the cursor is cleared.
	Halt bool
}

// Message builds an outcome carrying one assistant message.
func Message(nodeID, content string) Outcome {
	return Outcome{Messages: []models.OutboundMessage{{Content: content, NodeID: nodeID}}}
}

// ExecutionContext is what a node sees of the conversation it runs for.
type ExecutionContext struct {
	ConversationID string
	OrganizationID string
	Chatbot        *models.Chatbot
	State          *models.ExecutionState
	// Input is the user message of the current turn; empty on conversation start.
	Input string
}

// Variables returns the conversation variables.
func (e *ExecutionContext) Variables() models.Variables {
	return e.State.Variables
}

// Render applies {{variable}} substitution to text.
func (e *ExecutionContext) Render(text string) string {
	return template.Interpolate(text, e.State.Variables)
}

// Dependencies are the collaborators handed to node factories.
type Dependencies struct {
	Logger     *slog.Logger
	Completion CompletionClient
	Knowledge  KnowledgeSearcher
	HTTPClient HTTPDoer
}

// HTTPDoer is the subset of *http.Client used by api_call nodes.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
