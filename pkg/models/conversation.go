// Package models defines the core domain models for conversation routing and workflow execution.
package models

import (
	"slices"
	"time"
)

// ConversationStatus represents who currently owns a conversation.
type ConversationStatus string

const (
	ConversationStatusActive          ConversationStatus = "active"            // Bot-owned, initial
	ConversationStatusWaitingForHuman ConversationStatus = "waiting_for_human" // Queued, unassigned
	ConversationStatusHandedOff       ConversationStatus = "handed_off"        // Assigned to an agent
	ConversationStatusClosed          ConversationStatus = "closed"            // Terminal
)

// Valid reports whether s is one of the known statuses.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationStatusActive, ConversationStatusWaitingForHuman,
		ConversationStatusHandedOff, ConversationStatusClosed:
		return true
	default:
		return false
	}
}

// Conversation is one customer session against one chatbot.
type Conversation struct {
	ID              string             `json:"id"`
	OrganizationID  string             `json:"organization_id"`
	ChatbotID       string             `json:"chatbot_id"`
	SessionID       string             `json:"session_id"`
	Status          ConversationStatus `json:"status"`
	Priority        int                `json:"priority"`
	Tags            []string           `json:"tags"`
	AssignedAgentID *string            `json:"assigned_agent_id,omitempty"`
	CurrentNodeID   *string            `json:"current_node_id,omitempty"`
	Context         ExecutionState     `json:"context"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	LastMessageAt   time.Time          `json:"last_message_at"`
	ClosedAt        *time.Time         `json:"closed_at,omitempty"`
}

// IsClosed reports whether the conversation reached its terminal state.
func (c *Conversation) IsClosed() bool {
	return c.Status == ConversationStatusClosed
}

// IsHumanOwned reports whether the bot must stay silent for this conversation.
func (c *Conversation) IsHumanOwned() bool {
	return c.Status == ConversationStatusWaitingForHuman || c.Status == ConversationStatusHandedOff
}

// HasTag reports whether tag is set on the conversation.
func (c *Conversation) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// Clone returns a deep copy safe to hand out of a store.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}

	out := *c
	out.Tags = slices.Clone(c.Tags)
	out.AssignedAgentID = clonePtr(c.AssignedAgentID)
	out.CurrentNodeID = clonePtr(c.CurrentNodeID)
	out.ClosedAt = clonePtr(c.ClosedAt)
	out.Context = c.Context.Clone()

	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}

	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}

	v := *p

	return &v
}
