package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/chatflow/pkg/conversation"
	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/otelhelper"
	"github.com/dukex/chatflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNoneAvailable means no agent qualified. The conversation stays queued.
	ErrNoneAvailable = errors.New("no agent available")
	// ErrNotWaiting means the conversation left the queue before it was assigned.
	ErrNotWaiting = errors.New("conversation is not waiting for an agent")
)

// reserveAttempts bounds re-selection after losing a slot to a concurrent reservation.
const reserveAttempts = 3

// Assignment is a committed reservation.
type Assignment struct {
	Conversation *models.Conversation
	Agent        *models.AgentAvailability
	Strategy     string
}

type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	states      *conversation.StateMachine
	strategy    Strategy
	tracer      trace.Tracer
	now         func() time.Time
}

// NewEngine creates an engine that uses strategy when a handoff does not name one.
func NewEngine(logger *slog.Logger, persistence persistence.Persistence, states *conversation.StateMachine, strategy Strategy, tracer trace.Tracer) *Engine {
	if strategy == nil {
		strategy = RoundRobin{}
	}

	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Engine{
		logger:      logger.With("module", "assignment_engine"),
		persistence: persistence,
		states:      states,
		strategy:    strategy,
		tracer:      tracer,
		now:         time.Now,
	}
}

func (e *Engine) resolveStrategy(ctx context.Context, name string) Strategy {
	if name == "" {
		return e.strategy
	}

	strategy, err := ParseStrategy(name)
	if err != nil {
		e.logger.WarnContext(ctx, "Unknown strategy, using default", "strategy", name, "default", e.strategy.Name())

		return e.strategy
	}

	return strategy
}

// Assign picks an agent for a waiting conversation with the named strategy
// and reserves one of its slots. When a concurrent reservation takes the slot
// first the pool is reloaded and the selection repeated.
func (e *Engine) Assign(ctx context.Context, conversationID, strategyName string) (*Assignment, error) {
	strategy := e.resolveStrategy(ctx, strategyName)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "assignment.assign",
		attribute.String(otelhelper.ConversationIDKey, conversationID),
		attribute.String(otelhelper.StrategyKey, strategy.Name()),
	)
	defer span.End()

	for attempt := 1; attempt <= reserveAttempts; attempt++ {
		conv, err := e.persistence.ConversationRepository().GetByID(ctx, conversationID)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}

		if conv.Status != models.ConversationStatusWaitingForHuman {
			return nil, ErrNotWaiting
		}

		pool, err := e.persistence.AgentRepository().ListByOrganization(ctx, conv.OrganizationID)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, fmt.Errorf("failed to load agents of organization %s: %w", conv.OrganizationID, err)
		}

		agent, ok := strategy.Select(conv, pool, e.now())
		if !ok {
			e.logger.DebugContext(ctx, "No agent available", "conversation_id", conversationID, "pool_size", len(pool))

			return nil, ErrNoneAvailable
		}

		assignment, err := e.reserve(ctx, conv.ID, agent.AgentID, strategy.Name(), true)

		switch {
		case err == nil:
			span.SetAttributes(attribute.String(otelhelper.AgentIDKey, assignment.Agent.AgentID))

			return assignment, nil
		case persistence.IsNoCapacity(err):
			e.logger.InfoContext(ctx, "Lost agent slot to a concurrent assignment, retrying",
				"conversation_id", conversationID,
				"agent_id", agent.AgentID,
				"attempt", attempt)
		default:
			return nil, err
		}
	}

	return nil, ErrNoneAvailable
}

// AssignTo hands a waiting conversation to a specific agent. Only capacity is
// checked; the agent's presence status is not.
func (e *Engine) AssignTo(ctx context.Context, conversationID, agentID string) (*Assignment, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "assignment.assign_to",
		attribute.String(otelhelper.ConversationIDKey, conversationID),
		attribute.String(otelhelper.AgentIDKey, agentID),
	)
	defer span.End()

	assignment, err := e.reserve(ctx, conversationID, agentID, ManualStrategy, false)
	if err != nil && !errors.Is(err, ErrNotWaiting) {
		otelhelper.SetError(span, err)
	}

	return assignment, err
}

func (e *Engine) reserve(ctx context.Context, conversationID, agentID, strategy string, requireAvailable bool) (*Assignment, error) {
	result, err := e.persistence.AgentRepository().Reserve(ctx, persistence.Reservation{
		ConversationID:   conversationID,
		AgentID:          agentID,
		At:               e.now().UTC(),
		RequireAvailable: requireAvailable,
	})
	if persistence.IsStatusConflict(err) {
		return nil, ErrNotWaiting
	}

	if err != nil {
		return nil, err
	}

	e.states.MarkHandedOff(ctx, result, strategy)

	return &Assignment{Conversation: result.Conversation, Agent: result.Agent, Strategy: strategy}, nil
}

// SweepOrganization walks the queue of an organization, highest priority and
// oldest first, until it is empty or no agent is left. It returns the number
// of conversations assigned.
func (e *Engine) SweepOrganization(ctx context.Context, organizationID string) (int, error) {
	queue, err := e.persistence.ConversationRepository().Waiting(ctx, organizationID)
	if err != nil {
		return 0, fmt.Errorf("failed to load queue of organization %s: %w", organizationID, err)
	}

	assigned := 0

	for _, conv := range queue {
		_, err := e.Assign(ctx, conv.ID, "")

		switch {
		case err == nil:
			assigned++
		case errors.Is(err, ErrNotWaiting):
		case errors.Is(err, ErrNoneAvailable):
			return assigned, nil
		default:
			return assigned, err
		}
	}

	return assigned, nil
}

// Sweep re-evaluates the queue of every organization with waiting conversations.
func (e *Engine) Sweep(ctx context.Context) error {
	organizations, err := e.persistence.ConversationRepository().WaitingOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list waiting organizations: %w", err)
	}

	var errs []error

	for _, organizationID := range organizations {
		assigned, err := e.SweepOrganization(ctx, organizationID)
		if err != nil {
			errs = append(errs, err)
		}

		if assigned > 0 {
			e.logger.InfoContext(ctx, "Queue sweep assigned conversations", "organization_id", organizationID, "assigned", assigned)
		}
	}

	return errors.Join(errs...)
}

// Register subscribes the engine to queue and presence events.
func (e *Engine) Register(bus eventbus.EventBus) {
	bus.Handle(events.ConversationWaitingEvent, e.HandleWaiting)
	bus.Handle(events.AgentStatusEvent, e.HandleAgentStatus)
}

// HandleWaiting assigns a conversation that just entered the queue, unless
// it was queued for a manual assignment.
func (e *Engine) HandleWaiting(ctx context.Context, event events.Event) error {
	waiting, ok := event.(*events.ConversationWaiting)
	if !ok {
		return fmt.Errorf("unexpected event %T for %s", event, event.GetType())
	}

	if waiting.Strategy == ManualStrategy {
		return nil
	}

	_, err := e.Assign(ctx, waiting.ConversationID, waiting.Strategy)
	if errors.Is(err, ErrNoneAvailable) || errors.Is(err, ErrNotWaiting) {
		return nil
	}

	return err
}

// HandleAgentStatus sweeps the queue when an agent can take conversations.
func (e *Engine) HandleAgentStatus(ctx context.Context, event events.Event) error {
	status, ok := event.(*events.AgentStatusChanged)
	if !ok {
		return fmt.Errorf("unexpected event %T for %s", event, event.GetType())
	}

	if status.Status != models.AgentStatusAvailable || status.CurrentConversations >= status.MaxConversations {
		return nil
	}

	_, err := e.SweepOrganization(ctx, status.GetScope().OrganizationID)

	return err
}
