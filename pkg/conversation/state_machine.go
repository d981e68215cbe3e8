// Package conversation records who owns a conversation: the bot, the queue, a
// human agent, or nobody once it is closed.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

var (
	ErrConversationClosed = errors.New("conversation is closed")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// changeAttempts bounds the re-reads when another writer moved the status
// between our read and our write.
const changeAttempts = 3

// TransitionError describes a rejected transition.
type TransitionError struct {
	ConversationID string
	From           models.ConversationStatus
	To             models.ConversationStatus
	Err            error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("conversation %s: %s -> %s: %v", e.ConversationID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

var transitions = map[models.ConversationStatus][]models.ConversationStatus{
	models.ConversationStatusActive: {
		models.ConversationStatusWaitingForHuman,
		models.ConversationStatusClosed,
	},
	models.ConversationStatusWaitingForHuman: {
		models.ConversationStatusHandedOff,
		models.ConversationStatusActive,
		models.ConversationStatusClosed,
	},
	models.ConversationStatusHandedOff: {
		models.ConversationStatusWaitingForHuman,
		models.ConversationStatusActive,
		models.ConversationStatusClosed,
	},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to models.ConversationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// TransitionOptions annotate a transition.
type TransitionOptions struct {
	// Actor is who asked for the change: "workflow", "agent:<id>", "system".
	Actor  string
	Reason string
	// Strategy is the assignment strategy carried by conversation.waiting.
	Strategy string
}

// Transition is the result of an accepted status change.
type Transition struct {
	Conversation  *models.Conversation
	From          models.ConversationStatus
	ReleasedAgent *models.AgentAvailability
	// Changed is false when the conversation already had the requested status.
	Changed bool
}

// StateMachine validates and records conversation status changes and emits
// the matching events. It never picks an agent.
type StateMachine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	now         func() time.Time
}

func NewStateMachine(logger *slog.Logger, persistence persistence.Persistence, publisher eventbus.EventPublisher) *StateMachine {
	return &StateMachine{
		logger:      logger.With("module", "conversation_state"),
		persistence: persistence,
		publisher:   publisher,
		now:         time.Now,
	}
}

// Transition moves a conversation to status to. Closed conversations reject
// every transition with ErrConversationClosed. handed_off is only reachable
// through an agent reservation, see MarkHandedOff.
func (m *StateMachine) Transition(ctx context.Context, conversationID string, to models.ConversationStatus, opts TransitionOptions) (*Transition, error) {
	repo := m.persistence.ConversationRepository()

	for attempt := 1; ; attempt++ {
		conv, err := repo.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}

		from := conv.Status

		if conv.IsClosed() {
			return nil, &TransitionError{ConversationID: conversationID, From: from, To: to, Err: ErrConversationClosed}
		}

		if from == to {
			return &Transition{Conversation: conv, From: from}, nil
		}

		if to == models.ConversationStatusHandedOff || !CanTransition(from, to) {
			return nil, &TransitionError{ConversationID: conversationID, From: from, To: to, Err: ErrInvalidTransition}
		}

		result, err := repo.ChangeStatus(ctx, persistence.StatusChange{
			ConversationID: conversationID,
			From:           from,
			To:             to,
			At:             m.now().UTC(),
		})
		if persistence.IsStatusConflict(err) && attempt < changeAttempts {
			m.logger.DebugContext(ctx, "Status moved concurrently, retrying", "conversation_id", conversationID, "attempt", attempt)

			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to change status of conversation %s: %w", conversationID, err)
		}

		m.logger.InfoContext(ctx, "Conversation status changed",
			"conversation_id", conversationID,
			"from", from,
			"to", to,
			"actor", opts.Actor,
			"reason", opts.Reason)

		m.publishTransition(ctx, result, from, opts)

		return &Transition{
			Conversation:  result.Conversation,
			From:          from,
			ReleasedAgent: result.ReleasedAgent,
			Changed:       true,
		}, nil
	}
}

func (m *StateMachine) publishTransition(ctx context.Context, result *persistence.StatusChangeResult, from models.ConversationStatus, opts TransitionOptions) {
	conv := result.Conversation

	m.publish(ctx, events.NewConversationStatusChanged(conv, from, opts.Reason))

	if conv.Status == models.ConversationStatusWaitingForHuman {
		m.publish(ctx, events.NewConversationWaiting(conv, opts.Strategy))
	}

	if result.ReleasedAgent != nil {
		m.publish(ctx, events.NewAgentStatusChanged(result.ReleasedAgent))
	}
}

// MarkHandedOff emits the events of a reservation the assignment engine
// committed: agent.assigned, conversation.status, then agent.status.
func (m *StateMachine) MarkHandedOff(ctx context.Context, reservation *persistence.ReservationResult, strategy string) {
	conv := reservation.Conversation

	m.logger.InfoContext(ctx, "Conversation handed off",
		"conversation_id", conv.ID,
		"agent_id", reservation.Agent.AgentID,
		"strategy", strategy)

	m.publish(ctx, events.NewAgentAssigned(conv, reservation.Agent.AgentID, strategy))
	m.publish(ctx, events.NewConversationStatusChanged(conv, reservation.From, "assigned"))
	m.publish(ctx, events.NewAgentStatusChanged(reservation.Agent))
}

// publish never fails the caller: the change is already stored and clients
// re-fetch state on reconnect.
func (m *StateMachine) publish(ctx context.Context, event events.Event) {
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"event_id", event.GetID(),
			"error", err)
	}
}
