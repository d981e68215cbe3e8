package models

import "time"

// MessageRole identifies who authored a message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// AIMetadata records how an assistant message was produced by the completion provider.
type AIMetadata struct {
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	LatencyMs        int64  `json:"latency_ms"`
}

// Message is one immutable turn in a conversation. Feedback fields are the
// only ones that may change after creation.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           MessageRole    `json:"role"`
	Content        string         `json:"content"`
	NodeID         *string        `json:"node_id,omitempty"`
	AI             *AIMetadata    `json:"ai,omitempty"`
	FeedbackRating *int           `json:"feedback_rating,omitempty"`
	FeedbackText   *string        `json:"feedback_text,omitempty"`
	IsFromAgent    bool           `json:"is_from_agent,omitempty"`
	AgentID        *string        `json:"agent_id,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"` // widget rendering hints such as button options
	CreatedAt      time.Time      `json:"created_at"`
	Seq            int64          `json:"seq"`
}

// Before reports whether m sorts before other: creation time, then insertion order.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}

	return m.Seq < other.Seq
}

// OutboundMessage is an assistant message produced by a node before it is persisted.
type OutboundMessage struct {
	Content string         `json:"content"`
	NodeID  string         `json:"node_id,omitempty"`
	AI      *AIMetadata    `json:"ai,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"` // e.g. button options for the widget
}
