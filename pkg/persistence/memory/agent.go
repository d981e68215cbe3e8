package memory

import (
	"context"
	"slices"
	"sort"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

type AgentRepository struct {
	store *store
}

func (r *AgentRepository) GetByID(_ context.Context, organizationID, agentID string) (*models.AgentAvailability, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	agent, ok := r.store.agents[agentKey{organizationID, agentID}]
	if !ok {
		return nil, persistence.NewAgentError("GetByID", organizationID, agentID, persistence.ErrAgentNotFound)
	}

	return agent.Clone(), nil
}

func (r *AgentRepository) ListByOrganization(_ context.Context, organizationID string) ([]*models.AgentAvailability, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var agents []*models.AgentAvailability

	for key, agent := range r.store.agents {
		if key.organizationID == organizationID {
			agents = append(agents, agent.Clone())
		}
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })

	return agents, nil
}

func (r *AgentRepository) Save(_ context.Context, agent *models.AgentAvailability) (*models.AgentAvailability, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := agentKey{agent.OrganizationID, agent.AgentID}

	stored, ok := r.store.agents[key]

	current := agent.CurrentConversations
	if ok {
		current = stored.CurrentConversations
	}

	if agent.MaxConversations < current {
		return nil, persistence.NewAgentError("Save", agent.OrganizationID, agent.AgentID, persistence.ErrCapacityBelowLoad)
	}

	if !ok {
		stored = agent.Clone()
		r.store.agents[key] = stored

		return stored.Clone(), nil
	}

	stored.Status = agent.Status
	stored.MaxConversations = agent.MaxConversations
	stored.Skills = slices.Clone(agent.Skills)

	return stored.Clone(), nil
}

func (r *AgentRepository) Reserve(_ context.Context, reservation persistence.Reservation) (*persistence.ReservationResult, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	conv, ok := r.store.conversations[reservation.ConversationID]
	if !ok {
		return nil, persistence.NewConversationError("Reserve", reservation.ConversationID, persistence.ErrConversationNotFound)
	}

	if conv.Status != models.ConversationStatusWaitingForHuman {
		return nil, persistence.NewConversationError("Reserve", conv.ID, persistence.ErrStatusConflict)
	}

	agent, ok := r.store.agents[agentKey{conv.OrganizationID, reservation.AgentID}]
	if !ok {
		return nil, persistence.NewAgentError("Reserve", conv.OrganizationID, reservation.AgentID, persistence.ErrAgentNotFound)
	}

	if !agent.HasCapacity() || (reservation.RequireAvailable && agent.Status != models.AgentStatusAvailable) {
		return nil, persistence.NewAgentError("Reserve", conv.OrganizationID, reservation.AgentID, persistence.ErrNoCapacity)
	}

	at := reservation.At
	agent.CurrentConversations++
	agent.LastAssignedAt = &at

	from := conv.Status
	agentID := agent.AgentID
	conv.Status = models.ConversationStatusHandedOff
	conv.AssignedAgentID = &agentID

	return &persistence.ReservationResult{
		Conversation: conv.Clone(),
		Agent:        agent.Clone(),
		From:         from,
	}, nil
}
