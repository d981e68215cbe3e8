package memory

import (
	"context"
	"slices"
	"sort"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

type ConversationRepository struct {
	store *store
}

func (r *ConversationRepository) Create(_ context.Context, conversation *models.Conversation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.conversations[conversation.ID]; ok {
		return persistence.NewConversationError("Create", conversation.ID, persistence.ErrConversationAlreadyExists)
	}

	if _, ok := r.store.sessions[conversation.SessionID]; ok {
		return persistence.NewSessionError("Create", conversation.SessionID, persistence.ErrConversationAlreadyExists)
	}

	r.store.conversations[conversation.ID] = conversation.Clone()
	r.store.sessions[conversation.SessionID] = conversation.ID

	return nil
}

func (r *ConversationRepository) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	conv, ok := r.store.conversations[id]
	if !ok {
		return nil, persistence.NewConversationError("GetByID", id, persistence.ErrConversationNotFound)
	}

	return conv.Clone(), nil
}

func (r *ConversationRepository) GetBySession(_ context.Context, sessionID string) (*models.Conversation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id, ok := r.store.sessions[sessionID]
	if !ok {
		return nil, persistence.NewSessionError("GetBySession", sessionID, persistence.ErrConversationNotFound)
	}

	return r.store.conversations[id].Clone(), nil
}

func (r *ConversationRepository) SaveState(_ context.Context, update persistence.StateUpdate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	conv, ok := r.store.conversations[update.ConversationID]
	if !ok {
		return persistence.NewConversationError("SaveState", update.ConversationID, persistence.ErrConversationNotFound)
	}

	conv.CurrentNodeID = update.CurrentNodeID
	conv.Context = update.Context.Clone()

	if !update.LastMessageAt.IsZero() {
		conv.LastMessageAt = update.LastMessageAt
	}

	return nil
}

func (r *ConversationRepository) UpdateRouting(_ context.Context, update persistence.RoutingUpdate) (*models.Conversation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	conv, ok := r.store.conversations[update.ConversationID]
	if !ok {
		return nil, persistence.NewConversationError("UpdateRouting", update.ConversationID, persistence.ErrConversationNotFound)
	}

	if update.Priority != nil {
		conv.Priority = *update.Priority
	}

	if update.Tags != nil {
		conv.Tags = slices.Clone(update.Tags)
	}

	return conv.Clone(), nil
}

func (r *ConversationRepository) ChangeStatus(_ context.Context, change persistence.StatusChange) (*persistence.StatusChangeResult, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	conv, ok := r.store.conversations[change.ConversationID]
	if !ok {
		return nil, persistence.NewConversationError("ChangeStatus", change.ConversationID, persistence.ErrConversationNotFound)
	}

	if conv.Status != change.From {
		return nil, persistence.NewConversationError("ChangeStatus", change.ConversationID, persistence.ErrStatusConflict)
	}

	result := &persistence.StatusChangeResult{}

	if conv.Status == models.ConversationStatusHandedOff && change.To != models.ConversationStatusHandedOff && conv.AssignedAgentID != nil {
		if agent, ok := r.store.agents[agentKey{conv.OrganizationID, *conv.AssignedAgentID}]; ok {
			if agent.CurrentConversations > 0 {
				agent.CurrentConversations--
			}

			result.ReleasedAgent = agent.Clone()
		}
	}

	conv.Status = change.To

	if change.To != models.ConversationStatusHandedOff {
		conv.AssignedAgentID = nil
	}

	if change.To == models.ConversationStatusClosed {
		closedAt := change.At
		conv.ClosedAt = &closedAt
	}

	result.Conversation = conv.Clone()

	return result, nil
}

func (r *ConversationRepository) Waiting(_ context.Context, organizationID string) ([]*models.Conversation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var queue []*models.Conversation

	for _, conv := range r.store.conversations {
		if conv.OrganizationID == organizationID && conv.Status == models.ConversationStatusWaitingForHuman {
			queue = append(queue, conv.Clone())
		}
	}

	sort.Slice(queue, func(i, j int) bool {
		if queue[i].Priority != queue[j].Priority {
			return queue[i].Priority > queue[j].Priority
		}

		if !queue[i].CreatedAt.Equal(queue[j].CreatedAt) {
			return queue[i].CreatedAt.Before(queue[j].CreatedAt)
		}

		return queue[i].ID < queue[j].ID
	})

	return queue, nil
}

func (r *ConversationRepository) WaitingOrganizations(_ context.Context) ([]string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	seen := make(map[string]bool)

	for _, conv := range r.store.conversations {
		if conv.Status == models.ConversationStatusWaitingForHuman {
			seen[conv.OrganizationID] = true
		}
	}

	orgs := make([]string, 0, len(seen))
	for org := range seen {
		orgs = append(orgs, org)
	}

	slices.Sort(orgs)

	return orgs, nil
}
