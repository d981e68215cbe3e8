package models

import (
	"slices"
	"time"
)

// AgentStatus is the presence of a human agent.
type AgentStatus string

const (
	AgentStatusAvailable AgentStatus = "available"
	AgentStatusBusy      AgentStatus = "busy"
	AgentStatusAway      AgentStatus = "away"
	AgentStatusOffline   AgentStatus = "offline"
)

// Valid reports whether s is a known agent status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusAvailable, AgentStatusBusy, AgentStatusAway, AgentStatusOffline:
		return true
	default:
		return false
	}
}

// AgentAvailability is one row per human agent per organization.
// Invariant: 0 <= CurrentConversations <= MaxConversations.
type AgentAvailability struct {
	OrganizationID       string      `json:"organization_id"          yaml:"organization_id"`
	AgentID              string      `json:"agent_id"                 yaml:"agent_id"`
	Status               AgentStatus `json:"status"                   yaml:"status"`
	MaxConversations     int         `json:"max_conversations"        yaml:"max_conversations"`
	CurrentConversations int         `json:"current_conversations"    yaml:"current_conversations"`
	Skills               []string    `json:"skills"                   yaml:"skills"`
	LastAssignedAt       *time.Time  `json:"last_assigned_at,omitempty" yaml:"-"`
}

// HasCapacity reports whether the agent can take one more conversation.
func (a *AgentAvailability) HasCapacity() bool {
	return a.CurrentConversations < a.MaxConversations
}

// Eligible reports whether the agent may receive a new assignment.
func (a *AgentAvailability) Eligible() bool {
	return a.Status == AgentStatusAvailable && a.HasCapacity()
}

// RemainingCapacity is the number of free slots.
func (a *AgentAvailability) RemainingCapacity() int {
	return a.MaxConversations - a.CurrentConversations
}

// SharesSkill reports whether any of the agent skills appears in tags.
func (a *AgentAvailability) SharesSkill(tags []string) bool {
	for _, skill := range a.Skills {
		if slices.Contains(tags, skill) {
			return true
		}
	}

	return false
}

// Clone returns a copy of the availability row.
func (a *AgentAvailability) Clone() *AgentAvailability {
	out := *a
	out.Skills = slices.Clone(a.Skills)
	out.LastAssignedAt = clonePtr(a.LastAssignedAt)

	return &out
}
