package web

import "github.com/dukex/chatflow/pkg/models"

// StartChatRequest represents the request body for opening a widget conversation.
type StartChatRequest struct {
	ChatbotID string         `json:"chatbot_id"         validate:"required"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SubmitMessageRequest represents a customer message from the widget.
type SubmitMessageRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Content   string `json:"content"    validate:"required,max=4000"`
}

// FeedbackRequest represents customer feedback on an assistant message.
type FeedbackRequest struct {
	SessionID string  `json:"session_id"       validate:"required"`
	Rating    *int    `json:"rating,omitempty" validate:"omitempty,min=1,max=5"`
	Text      *string `json:"text,omitempty"   validate:"omitempty,max=2000"`
}

// QueueRequest represents a request to queue a conversation for a human agent.
type QueueRequest struct {
	Priority *int     `json:"priority,omitempty" validate:"omitempty,min=0"`
	Tags     []string `json:"tags,omitempty"`
	Strategy string   `json:"strategy,omitempty" validate:"omitempty,oneof=round_robin load_based skill_based"`
}

// AssignRequest names the agent to assign. Empty means the caller.
type AssignRequest struct {
	AgentID string `json:"agent_id,omitempty"`
}

// ReplyRequest represents an agent message.
type ReplyRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// UpdateConversationRequest represents a partial update of queue attributes.
type UpdateConversationRequest struct {
	Priority *int     `json:"priority,omitempty" validate:"omitempty,min=0"`
	Tags     []string `json:"tags,omitempty"`
}

// AgentStatusRequest represents an agent presence update.
type AgentStatusRequest struct {
	Status           models.AgentStatus `json:"status"                      validate:"required,oneof=available busy away offline"`
	MaxConversations *int               `json:"max_conversations,omitempty" validate:"omitempty,min=0,max=100"`
	Skills           []string           `json:"skills,omitempty"`
}

// MessagesResponse lists the messages of a conversation.
type MessagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []*models.Message `json:"messages"`
}
