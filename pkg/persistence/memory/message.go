package memory

import (
	"context"
	"sort"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

type MessageRepository struct {
	store *store
}

func (r *MessageRepository) Append(_ context.Context, message *models.Message) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.conversations[message.ConversationID]; !ok {
		return persistence.NewConversationError("AppendMessage", message.ConversationID, persistence.ErrConversationNotFound)
	}

	r.store.seq++
	message.Seq = r.store.seq

	stored := *message
	r.store.messages[message.ConversationID] = append(r.store.messages[message.ConversationID], &stored)

	return nil
}

func (r *MessageRepository) GetByID(_ context.Context, conversationID, messageID string) (*models.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	msg := r.find(conversationID, messageID)
	if msg == nil {
		return nil, persistence.ErrMessageNotFound
	}

	out := *msg

	return &out, nil
}

func (r *MessageRepository) ListByConversation(_ context.Context, conversationID string) ([]*models.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored := r.store.messages[conversationID]
	out := make([]*models.Message, 0, len(stored))

	for _, msg := range stored {
		m := *msg
		out = append(out, &m)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })

	return out, nil
}

func (r *MessageRepository) UpdateFeedback(_ context.Context, conversationID, messageID string, rating *int, text *string) (*models.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	msg := r.find(conversationID, messageID)
	if msg == nil {
		return nil, persistence.ErrMessageNotFound
	}

	if rating != nil {
		v := *rating
		msg.FeedbackRating = &v
	}

	if text != nil {
		v := *text
		msg.FeedbackText = &v
	}

	out := *msg

	return &out, nil
}

func (r *MessageRepository) find(conversationID, messageID string) *models.Message {
	for _, msg := range r.store.messages[conversationID] {
		if msg.ID == messageID {
			return msg
		}
	}

	return nil
}
