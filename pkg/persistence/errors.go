// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrChatbotNotFound indicates a chatbot was not found by the given identifier.
	ErrChatbotNotFound = errors.New("chatbot not found")

	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrConversationNotFound indicates no conversation matches the identifier or session.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationAlreadyExists indicates a conversation id or session id is taken.
	ErrConversationAlreadyExists = errors.New("conversation already exists")

	// ErrMessageNotFound indicates a message was not found in the conversation.
	ErrMessageNotFound = errors.New("message not found")

	// ErrAgentNotFound indicates no availability row exists for the agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrNoCapacity indicates the agent cannot take another conversation.
	ErrNoCapacity = errors.New("agent has no free capacity")

	// ErrCapacityBelowLoad indicates a capacity lower than the agent's open conversations.
	ErrCapacityBelowLoad = errors.New("max conversations is below the agent's open conversations")

	// ErrStatusConflict indicates the conversation status changed concurrently.
	ErrStatusConflict = errors.New("conversation status changed concurrently")
)

// ConversationError wraps conversation-related errors with additional context.
type ConversationError struct {
	Op             string // Operation being performed (e.g., "GetByID", "ChangeStatus")
	ConversationID string // Conversation ID if applicable
	SessionID      string // Session ID if applicable
	Err            error  // Underlying error
}

func (e *ConversationError) Error() string {
	target := e.ConversationID
	if target == "" && e.SessionID != "" {
		target = fmt.Sprintf("session %s", e.SessionID)
	}

	return fmt.Sprintf("%s operation failed for conversation %s: %v", e.Op, target, e.Err)
}

func (e *ConversationError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for conversation errors.
func (e *ConversationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewConversationError creates a new conversation error with context.
func NewConversationError(op, conversationID string, err error) *ConversationError {
	return &ConversationError{
		Op:             op,
		ConversationID: conversationID,
		Err:            err,
	}
}

// NewSessionError creates a new conversation error for lookups by session.
func NewSessionError(op, sessionID string, err error) *ConversationError {
	return &ConversationError{
		Op:        op,
		SessionID: sessionID,
		Err:       err,
	}
}

// AgentError wraps agent availability errors with additional context.
type AgentError struct {
	Op             string // Operation being performed
	OrganizationID string // Organization ID
	AgentID        string // Agent ID
	Err            error  // Underlying error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("%s operation failed for agent %s in organization %s: %v", e.Op, e.AgentID, e.OrganizationID, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

func (e *AgentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewAgentError creates a new agent error with context.
func NewAgentError(op, organizationID, agentID string, err error) *AgentError {
	return &AgentError{
		Op:             op,
		OrganizationID: organizationID,
		AgentID:        agentID,
		Err:            err,
	}
}

// IsConversationNotFound checks if an error indicates a conversation was not found.
func IsConversationNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound)
}

// IsNotFound checks if an error is any of the not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrChatbotNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrConversationNotFound) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, ErrAgentNotFound)
}

// IsNoCapacity checks if an error indicates a lost reservation race.
func IsNoCapacity(err error) bool {
	return errors.Is(err, ErrNoCapacity)
}

// IsStatusConflict checks if an error indicates a concurrent status change.
func IsStatusConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}
