package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/google/uuid"
)

// messageWriter appends messages and announces them to push subscribers.
type messageWriter struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	now         func() time.Time
}

// newMessageID returns a time-ordered id.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}

	return id.String()
}

func (w *messageWriter) append(ctx context.Context, conv *models.Conversation, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = newMessageID()
	}

	msg.ConversationID = conv.ID

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = w.now().UTC()
	}

	if err := w.persistence.MessageRepository().Append(ctx, msg); err != nil {
		return fmt.Errorf("failed to append message to conversation %s: %w", conv.ID, err)
	}

	if err := w.publisher.Publish(ctx, events.NewConversationMessage(conv, msg)); err != nil {
		w.logger.ErrorContext(ctx, "Failed to publish message event",
			"conversation_id", conv.ID,
			"message_id", msg.ID,
			"error", err)
	}

	return nil
}

// appendOutbound stores the messages a turn produced, in order.
func (w *messageWriter) appendOutbound(ctx context.Context, conv *models.Conversation, outbound []models.OutboundMessage) ([]*models.Message, error) {
	stored := make([]*models.Message, 0, len(outbound))

	for _, out := range outbound {
		msg := &models.Message{
			Role:    models.MessageRoleAssistant,
			Content: out.Content,
			AI:      out.AI,
			Extra:   out.Extra,
		}

		if out.NodeID != "" {
			nodeID := out.NodeID
			msg.NodeID = &nodeID
		}

		if err := w.append(ctx, conv, msg); err != nil {
			return stored, err
		}

		stored = append(stored, msg)
	}

	return stored, nil
}

func conversationLockKey(conversationID string) string {
	return "conversation:" + conversationID
}
