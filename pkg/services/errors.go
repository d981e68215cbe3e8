// Package services provides the chat and agent operations exposed to the
// widget and the agent dashboard.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/chatflow/pkg/assignment"
	"github.com/dukex/chatflow/pkg/conversation"
	"github.com/dukex/chatflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrEmptyMessage      = errors.New("message content cannot be empty")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrInvalidStatus     = errors.New("invalid agent status")
	ErrNotAssistantMsg   = errors.New("feedback is only accepted on assistant messages")
	ErrCapacityBelowLoad = persistence.ErrCapacityBelowLoad

	// Not Found Errors (404 Not Found).
	ErrSessionNotFound      = errors.New("session not found")
	ErrChatbotNotFound      = persistence.ErrChatbotNotFound
	ErrConversationNotFound = persistence.ErrConversationNotFound
	ErrMessageNotFound      = persistence.ErrMessageNotFound
	ErrAgentNotFound        = persistence.ErrAgentNotFound

	// Business Logic Conflicts (409 Conflict).
	ErrConversationClosed = conversation.ErrConversationClosed
	ErrInvalidTransition  = conversation.ErrInvalidTransition
	ErrNotWaiting         = assignment.ErrNotWaiting
	ErrAgentAtCapacity    = errors.New("agent has no free conversation slot")
	ErrNotHandedOff       = errors.New("conversation is not handed off to an agent")

	// Rate limiting (429 Too Many Requests).
	ErrMessageLimitExceeded = errors.New("message limit exceeded")

	// Misconfiguration of collaborator data (422 Unprocessable Entity).
	ErrChatbotMisconfigured = errors.New("chatbot is not configured to answer conversations")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrInvalidRating) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrNotAssistantMsg) ||
		errors.Is(err, ErrCapacityBelowLoad)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || persistence.IsNotFound(err)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConversationClosed) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNotWaiting) ||
		errors.Is(err, ErrAgentAtCapacity) ||
		errors.Is(err, ErrNotHandedOff)
}

// IsRateLimitError checks if an error should return HTTP 429.
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrMessageLimitExceeded)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
