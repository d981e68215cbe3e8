// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a test WorkflowNode with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:     uuid.New().String(),
		Type:   models.NodeTypeSendMessage,
		Name:   "Test Node",
		Config: map[string]any{"message": "test"},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Config = config
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Name = name
	}
}

// WithType sets the node type.
func WithType(nodeType models.NodeType) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = nodeType
	}
}

// WithID sets the node ID.
func WithID(id string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ID = id
	}
}

// WorkflowBuilder assembles a workflow graph node by node.
type WorkflowBuilder struct {
	workflow *models.Workflow
}

// NewWorkflow starts a workflow with a single start node named "start".
func NewWorkflow(id string) *WorkflowBuilder {
	return &WorkflowBuilder{workflow: &models.Workflow{
		ID:        id,
		ChatbotID: "bot-1",
		Name:      "Test Workflow",
		Version:   1,
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeStart, Name: "Start", Config: map[string]any{}},
		},
		Edges: []*models.Edge{},
	}}
}

// Node appends a node.
func (b *WorkflowBuilder) Node(id string, nodeType models.NodeType, config map[string]any) *WorkflowBuilder {
	b.workflow.Nodes = append(b.workflow.Nodes, CreateTestNode(WithID(id), WithType(nodeType), WithConfig(config), WithName(id)))

	return b
}

// Edge connects source to target through an unlabeled handle.
func (b *WorkflowBuilder) Edge(source, target string) *WorkflowBuilder {
	return b.Branch(source, "", target)
}

// Branch connects source to target through handle.
func (b *WorkflowBuilder) Branch(source, handle, target string) *WorkflowBuilder {
	b.workflow.Edges = append(b.workflow.Edges, &models.Edge{
		ID:           fmt.Sprintf("e%d", len(b.workflow.Edges)+1),
		Source:       source,
		SourceHandle: handle,
		Target:       target,
	})

	return b
}

// Build returns the workflow.
func (b *WorkflowBuilder) Build() *models.Workflow {
	return b.workflow
}

// CreateTestChatbot creates a workflow-mode chatbot bound to workflowID.
func CreateTestChatbot(organizationID, workflowID string) *models.Chatbot {
	return &models.Chatbot{
		ID:              uuid.New().String(),
		OrganizationID:  organizationID,
		Name:            "Support Bot",
		Mode:            models.ChatbotModeWorkflow,
		WorkflowID:      workflowID,
		Greeting:        "Hi! How can I help?",
		FallbackMessage: "Sorry, I did not get that.",
		Model:           "gpt-4o-mini",
		Temperature:     0.3,
		MaxTokens:       256,
	}
}

// CreateTestAgent creates an available agent with the given capacity and skills.
func CreateTestAgent(organizationID, agentID string, maxConversations int, skills ...string) *models.AgentAvailability {
	if skills == nil {
		skills = []string{}
	}

	return &models.AgentAvailability{
		OrganizationID:   organizationID,
		AgentID:          agentID,
		Status:           models.AgentStatusAvailable,
		MaxConversations: maxConversations,
		Skills:           skills,
	}
}

// CreateTestConversation creates a conversation in the given status.
func CreateTestConversation(organizationID string, status models.ConversationStatus) *models.Conversation {
	now := time.Now().UTC()

	return &models.Conversation{
		ID:             uuid.New().String(),
		OrganizationID: organizationID,
		ChatbotID:      "bot-1",
		SessionID:      uuid.New().String(),
		Status:         status,
		Tags:           []string{},
		Context:        models.NewExecutionState(),
		CreatedAt:      now,
		LastMessageAt:  now,
	}
}
