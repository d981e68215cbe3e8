// Package persistence provides the storage abstraction for chatbots, workflows,
// conversations, messages and agent availability.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/chatflow/pkg/models"
)

type Persistence interface {
	ChatbotRepository() ChatbotRepository
	WorkflowRepository() WorkflowRepository
	ConversationRepository() ConversationRepository
	MessageRepository() MessageRepository
	AgentRepository() AgentRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ChatbotRepository reads the chatbot settings owned by the settings collaborator.
type ChatbotRepository interface {
	GetByID(ctx context.Context, id string) (*models.Chatbot, error)
	Save(ctx context.Context, chatbot *models.Chatbot) error
}

// WorkflowRepository stores published workflow versions.
type WorkflowRepository interface {
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
}

// StateUpdate replaces the execution cursor and context of a conversation.
type StateUpdate struct {
	ConversationID string
	CurrentNodeID  *string
	Context        models.ExecutionState
	LastMessageAt  time.Time
}

// StatusChange moves a conversation from an expected status to a new one.
// When the conversation is not in From the change fails with
// ErrStatusConflict. Leaving handed_off frees the assigned agent's slot in
// the same unit of work.
type StatusChange struct {
	ConversationID string
	From           models.ConversationStatus
	To             models.ConversationStatus
	At             time.Time
}

// StatusChangeResult is the stored outcome of a StatusChange.
type StatusChangeResult struct {
	Conversation *models.Conversation
	// ReleasedAgent is the agent whose slot was freed, if any.
	ReleasedAgent *models.AgentAvailability
}

// RoutingUpdate changes queue attributes. Nil fields are left untouched.
type RoutingUpdate struct {
	ConversationID string
	Priority       *int
	Tags           []string
}

type ConversationRepository interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	GetBySession(ctx context.Context, sessionID string) (*models.Conversation, error)
	SaveState(ctx context.Context, update StateUpdate) error
	UpdateRouting(ctx context.Context, update RoutingUpdate) (*models.Conversation, error)
	ChangeStatus(ctx context.Context, change StatusChange) (*StatusChangeResult, error)
	// Waiting lists the queue of an organization by priority desc, created_at asc.
	Waiting(ctx context.Context, organizationID string) ([]*models.Conversation, error)
	// WaitingOrganizations lists organizations with a non-empty queue.
	WaitingOrganizations(ctx context.Context) ([]string, error)
}

// MessageRepository is append-only except for feedback.
type MessageRepository interface {
	// Append stores a message and assigns its Seq.
	Append(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, conversationID, messageID string) (*models.Message, error)
	// ListByConversation returns messages ordered by (created_at, seq).
	ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error)
	UpdateFeedback(ctx context.Context, conversationID, messageID string, rating *int, text *string) (*models.Message, error)
}

// Reservation books one slot of an agent for a waiting conversation.
type Reservation struct {
	ConversationID string
	AgentID        string
	At             time.Time
	// RequireAvailable rejects agents that are not in the available status.
	// Manual assignment only checks capacity.
	RequireAvailable bool
}

// ReservationResult is the stored outcome of a Reservation.
type ReservationResult struct {
	Conversation *models.Conversation
	Agent        *models.AgentAvailability
	// From is the conversation status before the reservation.
	From models.ConversationStatus
}

type AgentRepository interface {
	GetByID(ctx context.Context, organizationID, agentID string) (*models.AgentAvailability, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]*models.AgentAvailability, error)
	// Save upserts presence, capacity and skills. The current conversation
	// count and last assignment time are owned by reservations and releases.
	Save(ctx context.Context, agent *models.AgentAvailability) (*models.AgentAvailability, error)
	// Reserve atomically checks capacity, increments the agent's count and
	// hands the conversation off to the agent. It fails with ErrNoCapacity when
	// the slot was taken and with ErrStatusConflict when the conversation is no
	// longer waiting.
	Reserve(ctx context.Context, reservation Reservation) (*ReservationResult, error)
}
