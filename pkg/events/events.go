// Package events defines the live-chat event types fanned out to push subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every live-chat event between instances.
const Topic = "chatflow.livechat"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

// PartitionKeyMetadataKey holds the transport ordering key.
const PartitionKeyMetadataKey = "partition_key"

// PartitionKey keeps events of one conversation on one ordered stream.
// Events without a conversation are ordered per organization.
func PartitionKey(scope Scope) string {
	if scope.ConversationID != "" {
		return scope.ConversationID
	}

	return scope.OrganizationID
}

const (
	ConversationMessageEvent EventType = "conversation.message"
	ConversationStatusEvent  EventType = "conversation.status"
	ConversationWaitingEvent EventType = "conversation.waiting"
	AgentStatusEvent         EventType = "agent.status"
	AgentAssignedEvent       EventType = "agent.assigned"
)

// Scope addresses an event to an organization and, optionally, to one
// conversation and its widget session.
type Scope struct {
	OrganizationID string `json:"organization_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

// ConversationScope builds the scope of events about one conversation.
func ConversationScope(conv *models.Conversation) Scope {
	return Scope{
		OrganizationID: conv.OrganizationID,
		ConversationID: conv.ID,
		SessionID:      conv.SessionID,
	}
}

// Event is an immutable live-chat fact.
type Event interface {
	GetID() string
	GetType() EventType
	GetScope() Scope
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Scope     Scope     `json:"scope"`
}

func (b BaseEvent) GetID() string      { return b.ID }
func (b BaseEvent) GetType() EventType { return b.Type }
func (b BaseEvent) GetScope() Scope    { return b.Scope }

func NewBaseEvent(eventType EventType, scope Scope) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Scope:     scope,
	}
}

// ConversationMessage announces an appended message.
type ConversationMessage struct {
	BaseEvent

	Message *models.Message `json:"message"`
}

// ConversationStatusChanged announces an accepted status transition.
type ConversationStatusChanged struct {
	BaseEvent

	ConversationID  string                    `json:"conversation_id"`
	From            models.ConversationStatus `json:"from"`
	To              models.ConversationStatus `json:"to"`
	AssignedAgentID *string                   `json:"assigned_agent_id,omitempty"`
	Reason          string                    `json:"reason,omitempty"`
}

// ConversationWaiting asks the assignment engine to evaluate a queued conversation.
type ConversationWaiting struct {
	BaseEvent

	ConversationID string   `json:"conversation_id"`
	Priority       int      `json:"priority"`
	Tags           []string `json:"tags,omitempty"`
	Strategy       string   `json:"strategy,omitempty"`
}

// AgentStatusChanged announces an agent presence or capacity change.
type AgentStatusChanged struct {
	BaseEvent

	AgentID              string             `json:"agent_id"`
	Status               models.AgentStatus `json:"status"`
	CurrentConversations int                `json:"current_conversations"`
	MaxConversations     int                `json:"max_conversations"`
}

// AgentAssigned announces a successful reservation of an agent slot.
type AgentAssigned struct {
	BaseEvent

	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
	Strategy       string `json:"strategy,omitempty"`
}

func NewConversationMessage(conv *models.Conversation, msg *models.Message) *ConversationMessage {
	return &ConversationMessage{
		BaseEvent: NewBaseEvent(ConversationMessageEvent, ConversationScope(conv)),
		Message:   msg,
	}
}

func NewConversationStatusChanged(conv *models.Conversation, from models.ConversationStatus, reason string) *ConversationStatusChanged {
	return &ConversationStatusChanged{
		BaseEvent:       NewBaseEvent(ConversationStatusEvent, ConversationScope(conv)),
		ConversationID:  conv.ID,
		From:            from,
		To:              conv.Status,
		AssignedAgentID: conv.AssignedAgentID,
		Reason:          reason,
	}
}

func NewConversationWaiting(conv *models.Conversation, strategy string) *ConversationWaiting {
	return &ConversationWaiting{
		BaseEvent:      NewBaseEvent(ConversationWaitingEvent, ConversationScope(conv)),
		ConversationID: conv.ID,
		Priority:       conv.Priority,
		Tags:           conv.Tags,
		Strategy:       strategy,
	}
}

func NewAgentStatusChanged(agent *models.AgentAvailability) *AgentStatusChanged {
	return &AgentStatusChanged{
		BaseEvent:            NewBaseEvent(AgentStatusEvent, Scope{OrganizationID: agent.OrganizationID}),
		AgentID:              agent.AgentID,
		Status:               agent.Status,
		CurrentConversations: agent.CurrentConversations,
		MaxConversations:     agent.MaxConversations,
	}
}

func NewAgentAssigned(conv *models.Conversation, agentID, strategy string) *AgentAssigned {
	return &AgentAssigned{
		BaseEvent:      NewBaseEvent(AgentAssignedEvent, ConversationScope(conv)),
		ConversationID: conv.ID,
		AgentID:        agentID,
		Strategy:       strategy,
	}
}

// Envelope is the wire shape written to push subscribers, one per line.
type Envelope struct {
	Type    EventType `json:"type"`
	Payload Event     `json:"payload"`
}

// NewEnvelope wraps an event for the push channel.
func NewEnvelope(event Event) Envelope {
	return Envelope{Type: event.GetType(), Payload: event}
}

// Decode rebuilds a typed event from its JSON payload.
func Decode(eventType EventType, payload []byte) (Event, error) {
	var event Event

	switch eventType {
	case ConversationMessageEvent:
		event = &ConversationMessage{}
	case ConversationStatusEvent:
		event = &ConversationStatusChanged{}
	case ConversationWaitingEvent:
		event = &ConversationWaiting{}
	case AgentStatusEvent:
		event = &AgentStatusChanged{}
	case AgentAssignedEvent:
		event = &AgentAssigned{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}
