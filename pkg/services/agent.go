package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/assignment"
	"github.com/dukex/chatflow/pkg/conversation"
	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/locker"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

// DefaultMaxConversations is the capacity of an agent that never set one.
const DefaultMaxConversations = 5

// Actor is the authenticated agent performing an action.
type Actor struct {
	OrganizationID string
	UserID         string
}

func (a Actor) name() string {
	return "agent:" + a.UserID
}

// AgentDependencies are the collaborators of the agent-facing service.
type AgentDependencies struct {
	Persistence persistence.Persistence
	States      *conversation.StateMachine
	Engine      *assignment.Engine
	Publisher   eventbus.EventPublisher
	// Locker defaults to an in-process locker. Share it with Chat.
	Locker locker.Locker
}

// Agent runs the agent dashboard actions on conversations and presence.
type Agent struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	states      *conversation.StateMachine
	engine      *assignment.Engine
	publisher   eventbus.EventPublisher
	locker      locker.Locker
	writer      *messageWriter
	now         func() time.Time
}

func NewAgent(logger *slog.Logger, deps AgentDependencies) *Agent {
	logger = logger.With("module", "agent_service")

	if deps.Locker == nil {
		deps.Locker = locker.NewMemoryLocker()
	}

	return &Agent{
		logger:      logger,
		persistence: deps.Persistence,
		states:      deps.States,
		engine:      deps.Engine,
		publisher:   deps.Publisher,
		locker:      deps.Locker,
		writer: &messageWriter{
			logger:      logger,
			persistence: deps.Persistence,
			publisher:   deps.Publisher,
			now:         time.Now,
		},
		now: time.Now,
	}
}

// QueueRequest puts a conversation in the human queue.
type QueueRequest struct {
	Priority *int
	Tags     []string
	// Strategy overrides the default assignment strategy.
	Strategy string
}

// Queue moves a conversation to waiting_for_human, optionally changing its
// routing first. A handed-off conversation is re-queued and its agent freed.
func (a *Agent) Queue(ctx context.Context, actor Actor, conversationID string, req QueueRequest) (*models.Conversation, error) {
	if req.Strategy != "" {
		if _, err := assignment.ParseStrategy(req.Strategy); err != nil {
			return nil, NewValidationError("Queue", "invalid_strategy", err.Error(), ErrInvalidRequest)
		}
	}

	var result *models.Conversation

	err := a.withConversation(ctx, actor, conversationID, func(conv *models.Conversation) error {
		if req.Priority != nil || req.Tags != nil {
			if _, err := a.updateRouting(ctx, conv, req.Priority, req.Tags); err != nil {
				return err
			}
		}

		transition, err := a.states.Transition(ctx, conv.ID, models.ConversationStatusWaitingForHuman, conversation.TransitionOptions{
			Actor:    actor.name(),
			Reason:   "queued",
			Strategy: req.Strategy,
		})
		if err != nil {
			return err
		}

		result = transition.Conversation

		return nil
	})

	return result, err
}

// Assign hands a conversation to an agent, the actor when agentID is empty.
// A bot-owned conversation is queued for manual assignment first; a
// conversation already handed off must be released before.
func (a *Agent) Assign(ctx context.Context, actor Actor, conversationID, agentID string) (*models.Conversation, error) {
	if agentID == "" {
		agentID = actor.UserID
	}

	var result *models.Conversation

	err := a.withConversation(ctx, actor, conversationID, func(conv *models.Conversation) error {
		switch conv.Status {
		case models.ConversationStatusClosed:
			return fmt.Errorf("assign %s: %w", conv.ID, ErrConversationClosed)
		case models.ConversationStatusHandedOff:
			return fmt.Errorf("assign %s: already handed off: %w", conv.ID, ErrInvalidTransition)
		}

		agent, err := a.persistence.AgentRepository().GetByID(ctx, actor.OrganizationID, agentID)
		if err != nil {
			return fmt.Errorf("failed to load agent %s: %w", agentID, err)
		}

		if !agent.HasCapacity() {
			return fmt.Errorf("assign %s to %s: %w", conv.ID, agentID, ErrAgentAtCapacity)
		}

		if conv.Status == models.ConversationStatusActive {
			_, err := a.states.Transition(ctx, conv.ID, models.ConversationStatusWaitingForHuman, conversation.TransitionOptions{
				Actor:    actor.name(),
				Reason:   "manual assignment",
				Strategy: assignment.ManualStrategy,
			})
			if err != nil {
				return err
			}
		}

		assigned, err := a.engine.AssignTo(ctx, conv.ID, agentID)
		if persistence.IsNoCapacity(err) {
			return fmt.Errorf("assign %s to %s: %w", conv.ID, agentID, ErrAgentAtCapacity)
		}

		if err != nil {
			return err
		}

		result = assigned.Conversation

		return nil
	})

	return result, err
}

// Release puts a handed-off conversation back in the queue and frees its agent.
func (a *Agent) Release(ctx context.Context, actor Actor, conversationID string) (*models.Conversation, error) {
	var result *models.Conversation

	err := a.withConversation(ctx, actor, conversationID, func(conv *models.Conversation) error {
		if conv.Status != models.ConversationStatusHandedOff {
			return fmt.Errorf("release %s: %w", conv.ID, ErrNotHandedOff)
		}

		transition, err := a.states.Transition(ctx, conv.ID, models.ConversationStatusWaitingForHuman, conversation.TransitionOptions{
			Actor:  actor.name(),
			Reason: "released",
		})
		if err != nil {
			return err
		}

		result = transition.Conversation

		return nil
	})

	return result, err
}

// ReturnToBot gives the conversation back to the workflow.
func (a *Agent) ReturnToBot(ctx context.Context, actor Actor, conversationID string) (*models.Conversation, error) {
	return a.transition(ctx, actor, conversationID, models.ConversationStatusActive, "returned to bot")
}

// Resolve closes the conversation for good.
func (a *Agent) Resolve(ctx context.Context, actor Actor, conversationID string) (*models.Conversation, error) {
	return a.transition(ctx, actor, conversationID, models.ConversationStatusClosed, "resolved")
}

func (a *Agent) transition(ctx context.Context, actor Actor, conversationID string, to models.ConversationStatus, reason string) (*models.Conversation, error) {
	var result *models.Conversation

	err := a.withConversation(ctx, actor, conversationID, func(conv *models.Conversation) error {
		transition, err := a.states.Transition(ctx, conv.ID, to, conversation.TransitionOptions{
			Actor:  actor.name(),
			Reason: reason,
		})
		if err != nil {
			return err
		}

		result = transition.Conversation

		return nil
	})

	return result, err
}

// Reply sends an agent message into a handed-off conversation.
func (a *Agent) Reply(ctx context.Context, actor Actor, conversationID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, NewValidationError("Reply", "empty_message", "", ErrEmptyMessage)
	}

	var msg *models.Message

	err := a.withConversation(ctx, actor, conversationID, func(conv *models.Conversation) error {
		if conv.Status != models.ConversationStatusHandedOff {
			return fmt.Errorf("reply to %s: %w", conv.ID, ErrNotHandedOff)
		}

		agentID := actor.UserID
		msg = &models.Message{
			Role:        models.MessageRoleAssistant,
			Content:     content,
			IsFromAgent: true,
			AgentID:     &agentID,
		}

		if err := a.writer.append(ctx, conv, msg); err != nil {
			return err
		}

		state := conv.Context.Clone()
		state.AppendTurn(models.MessageRoleAssistant, content)

		return a.persistence.ConversationRepository().SaveState(ctx, persistence.StateUpdate{
			ConversationID: conv.ID,
			CurrentNodeID:  conv.CurrentNodeID,
			Context:        state,
			LastMessageAt:  msg.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// UpdateConversationRequest changes queue attributes. Nil fields are kept.
type UpdateConversationRequest struct {
	Priority *int
	Tags     []string
}

// UpdateConversation changes the priority or tags of an open conversation.
func (a *Agent) UpdateConversation(ctx context.Context, actor Actor, conversationID string, req UpdateConversationRequest) (*models.Conversation, error) {
	if req.Priority == nil && req.Tags == nil {
		return nil, NewValidationError("UpdateConversation", "empty_update", "priority or tags is required", ErrInvalidRequest)
	}

	var result *models.Conversation

	err := a.withConversation(ctx, actor, conversationID, func(conv *models.Conversation) error {
		if conv.IsClosed() {
			return fmt.Errorf("update %s: %w", conv.ID, ErrConversationClosed)
		}

		updated, err := a.updateRouting(ctx, conv, req.Priority, req.Tags)
		result = updated

		return err
	})

	return result, err
}

func (a *Agent) updateRouting(ctx context.Context, conv *models.Conversation, priority *int, tags []string) (*models.Conversation, error) {
	updated, err := a.persistence.ConversationRepository().UpdateRouting(ctx, persistence.RoutingUpdate{
		ConversationID: conv.ID,
		Priority:       priority,
		Tags:           tags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update routing of %s: %w", conv.ID, err)
	}

	return updated, nil
}

// SetStatusRequest updates the actor's presence. Nil fields are kept.
type SetStatusRequest struct {
	Status           models.AgentStatus
	MaxConversations *int
	Skills           []string
}

// SetStatus records the actor's presence, capacity and skills and announces it.
// An agent seen for the first time starts with DefaultMaxConversations.
func (a *Agent) SetStatus(ctx context.Context, actor Actor, req SetStatusRequest) (*models.AgentAvailability, error) {
	if !req.Status.Valid() {
		return nil, NewValidationError("SetStatus", "invalid_status", fmt.Sprintf("unknown status %q", req.Status), ErrInvalidStatus)
	}

	if req.MaxConversations != nil && *req.MaxConversations < 0 {
		return nil, NewValidationError("SetStatus", "invalid_capacity", "max_conversations must not be negative", ErrInvalidRequest)
	}

	repo := a.persistence.AgentRepository()

	agent, err := repo.GetByID(ctx, actor.OrganizationID, actor.UserID)

	switch {
	case errors.Is(err, persistence.ErrAgentNotFound):
		agent = &models.AgentAvailability{
			OrganizationID:   actor.OrganizationID,
			AgentID:          actor.UserID,
			MaxConversations: DefaultMaxConversations,
			Skills:           []string{},
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load agent %s: %w", actor.UserID, err)
	}

	agent.Status = req.Status

	if req.MaxConversations != nil {
		if *req.MaxConversations < agent.CurrentConversations {
			return nil, NewValidationError("SetStatus", "capacity_below_load",
				fmt.Sprintf("max_conversations %d is below the %d conversations already assigned", *req.MaxConversations, agent.CurrentConversations),
				ErrCapacityBelowLoad)
		}

		agent.MaxConversations = *req.MaxConversations
	}

	if req.Skills != nil {
		agent.Skills = req.Skills
	}

	saved, err := repo.Save(ctx, agent)

	switch {
	case errors.Is(err, persistence.ErrCapacityBelowLoad):
		return nil, NewValidationError("SetStatus", "capacity_below_load",
			"max_conversations is below the conversations already assigned", err)
	case err != nil:
		return nil, fmt.Errorf("failed to save agent %s: %w", actor.UserID, err)
	}

	a.logger.InfoContext(ctx, "Agent status changed",
		"organization_id", saved.OrganizationID,
		"agent_id", saved.AgentID,
		"status", saved.Status,
		"max_conversations", saved.MaxConversations)

	if err := a.publisher.Publish(ctx, events.NewAgentStatusChanged(saved)); err != nil {
		a.logger.ErrorContext(ctx, "Failed to publish agent status", "agent_id", saved.AgentID, "error", err)
	}

	return saved, nil
}

// Conversation returns a conversation of the actor's organization.
func (a *Agent) Conversation(ctx context.Context, actor Actor, conversationID string) (*models.Conversation, error) {
	return a.load(ctx, actor, conversationID)
}

// Messages lists the messages of a conversation in display order.
func (a *Agent) Messages(ctx context.Context, actor Actor, conversationID string) ([]*models.Message, error) {
	conv, err := a.load(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}

	messages, err := a.persistence.MessageRepository().ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", conv.ID, err)
	}

	return messages, nil
}

// load returns the conversation when it belongs to the actor's organization.
// Conversations of other organizations are reported as missing.
func (a *Agent) load(ctx context.Context, actor Actor, conversationID string) (*models.Conversation, error) {
	conv, err := a.persistence.ConversationRepository().GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if conv.OrganizationID != actor.OrganizationID {
		return nil, persistence.NewConversationError("GetByID", conversationID, persistence.ErrConversationNotFound)
	}

	return conv, nil
}

// withConversation runs fn under the conversation lock with a fresh copy.
func (a *Agent) withConversation(ctx context.Context, actor Actor, conversationID string, fn func(*models.Conversation) error) error {
	if _, err := a.load(ctx, actor, conversationID); err != nil {
		return err
	}

	unlock, err := a.locker.Lock(ctx, conversationLockKey(conversationID))
	if err != nil {
		return fmt.Errorf("failed to lock conversation %s: %w", conversationID, err)
	}
	defer unlock()

	conv, err := a.load(ctx, actor, conversationID)
	if err != nil {
		return err
	}

	return fn(conv)
}
