package assignment

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/chatflow/pkg/conversation"
	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/persistence/memory"
	"github.com/dukex/chatflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	created  int
	store    persistence.Persistence
	recorder *testutil.EventRecorder
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewPersistence()
	recorder := testutil.NewEventRecorder()
	states := conversation.NewStateMachine(testLogger(), store, recorder)

	return &fixture{
		store:    store,
		recorder: recorder,
		engine:   NewEngine(testLogger(), store, states, RoundRobin{}, nil),
	}
}

func (f *fixture) addAgent(t *testing.T, a *models.AgentAvailability) {
	t.Helper()

	_, err := f.store.AgentRepository().Save(context.Background(), a)
	require.NoError(t, err)
}

func (f *fixture) addConversation(t *testing.T, status models.ConversationStatus, priority int) *models.Conversation {
	t.Helper()

	conv := testutil.CreateTestConversation("org-1", status)
	conv.Priority = priority
	conv.CreatedAt = time.Date(2026, 1, 1, 9, f.created, 0, 0, time.UTC)
	f.created++

	require.NoError(t, f.store.ConversationRepository().Create(context.Background(), conv))

	return conv
}

func (f *fixture) conversation(t *testing.T, id string) *models.Conversation {
	t.Helper()

	conv, err := f.store.ConversationRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return conv
}

func (f *fixture) agent(t *testing.T, id string) *models.AgentAvailability {
	t.Helper()

	a, err := f.store.AgentRepository().GetByID(context.Background(), "org-1", id)
	require.NoError(t, err)

	return a
}

func TestEngine_AssignReservesSlot(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, testutil.CreateTestAgent("org-1", "agent-1", 2))
	conv := f.addConversation(t, models.ConversationStatusWaitingForHuman, 0)

	assignment, err := f.engine.Assign(context.Background(), conv.ID, "")
	require.NoError(t, err)

	assert.Equal(t, "agent-1", assignment.Agent.AgentID)
	assert.Equal(t, RoundRobinStrategy, assignment.Strategy)

	stored := f.conversation(t, conv.ID)
	assert.Equal(t, models.ConversationStatusHandedOff, stored.Status)
	require.NotNil(t, stored.AssignedAgentID)
	assert.Equal(t, "agent-1", *stored.AssignedAgentID)

	a := f.agent(t, "agent-1")
	assert.Equal(t, 1, a.CurrentConversations)
	assert.NotNil(t, a.LastAssignedAt)

	assert.Equal(t, []events.EventType{
		events.AgentAssignedEvent,
		events.ConversationStatusEvent,
		events.AgentStatusEvent,
	}, f.recorder.Types())
}

func TestEngine_NoneAvailableKeepsConversationQueued(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, testutil.CreateTestAgent("org-1", "agent-1", 0))
	conv := f.addConversation(t, models.ConversationStatusWaitingForHuman, 0)

	_, err := f.engine.Assign(context.Background(), conv.ID, LoadBasedStrategy)

	require.ErrorIs(t, err, ErrNoneAvailable)
	assert.Equal(t, models.ConversationStatusWaitingForHuman, f.conversation(t, conv.ID).Status)
	assert.Empty(t, f.recorder.Events())
}

func TestEngine_AssignRequiresWaiting(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, testutil.CreateTestAgent("org-1", "agent-1", 2))
	conv := f.addConversation(t, models.ConversationStatusActive, 0)

	_, err := f.engine.Assign(context.Background(), conv.ID, "")
	require.ErrorIs(t, err, ErrNotWaiting)

	_, err = f.engine.AssignTo(context.Background(), conv.ID, "agent-1")
	require.ErrorIs(t, err, ErrNotWaiting)

	assert.Equal(t, 0, f.agent(t, "agent-1").CurrentConversations)
}

func TestEngine_AssignToIgnoresPresenceButNotCapacity(t *testing.T) {
	f := newFixture(t)

	busy := testutil.CreateTestAgent("org-1", "agent-1", 1)
	busy.Status = models.AgentStatusBusy
	f.addAgent(t, busy)

	first := f.addConversation(t, models.ConversationStatusWaitingForHuman, 0)
	second := f.addConversation(t, models.ConversationStatusWaitingForHuman, 0)

	assignment, err := f.engine.AssignTo(context.Background(), first.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, ManualStrategy, assignment.Strategy)

	_, err = f.engine.AssignTo(context.Background(), second.ID, "agent-1")
	assert.True(t, persistence.IsNoCapacity(err))
	assert.Equal(t, models.ConversationStatusWaitingForHuman, f.conversation(t, second.ID).Status)
}

func TestEngine_ConcurrentHandoffsForLastSlot(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, testutil.CreateTestAgent("org-1", "agent-1", 1))

	first := f.addConversation(t, models.ConversationStatusWaitingForHuman, 0)
	second := f.addConversation(t, models.ConversationStatusWaitingForHuman, 0)

	var wg sync.WaitGroup

	errs := make([]error, 2)

	for i, id := range []string{first.ID, second.ID} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = f.engine.Assign(context.Background(), id, "")
		}()
	}

	wg.Wait()

	statuses := map[models.ConversationStatus]int{}
	for _, id := range []string{first.ID, second.ID} {
		statuses[f.conversation(t, id).Status]++
	}

	assert.Equal(t, 1, statuses[models.ConversationStatusHandedOff])
	assert.Equal(t, 1, statuses[models.ConversationStatusWaitingForHuman])
	assert.Equal(t, 1, f.agent(t, "agent-1").CurrentConversations)

	failures := 0

	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrNoneAvailable)

			failures++
		}
	}

	assert.Equal(t, 1, failures)
}

func TestEngine_SweepFollowsPriorityThenAge(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, testutil.CreateTestAgent("org-1", "agent-1", 2))

	low := f.addConversation(t, models.ConversationStatusWaitingForHuman, 0)
	high := f.addConversation(t, models.ConversationStatusWaitingForHuman, 5)
	older := f.addConversation(t, models.ConversationStatusWaitingForHuman, 1)
	newer := f.addConversation(t, models.ConversationStatusWaitingForHuman, 1)

	assigned, err := f.engine.SweepOrganization(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 2, assigned)

	assert.Equal(t, models.ConversationStatusHandedOff, f.conversation(t, high.ID).Status)
	assert.Equal(t, models.ConversationStatusHandedOff, f.conversation(t, older.ID).Status)
	assert.Equal(t, models.ConversationStatusWaitingForHuman, f.conversation(t, newer.ID).Status)
	assert.Equal(t, models.ConversationStatusWaitingForHuman, f.conversation(t, low.ID).Status)

	require.NoError(t, f.engine.Sweep(context.Background()))
	assert.Equal(t, 2, f.agent(t, "agent-1").CurrentConversations)
}

func TestEngine_HandoffIsAssignedThroughTheHub(t *testing.T) {
	store := memory.NewPersistence()
	hub := eventbus.NewHub(testLogger())
	t.Cleanup(func() { _ = hub.Close() })

	states := conversation.NewStateMachine(testLogger(), store, hub)
	engine := NewEngine(testLogger(), store, states, RoundRobin{}, nil)
	engine.Register(hub)

	ctx := context.Background()

	_, err := store.AgentRepository().Save(ctx, testutil.CreateTestAgent("org-1", "agent-1", 3))
	require.NoError(t, err)

	conv := testutil.CreateTestConversation("org-1", models.ConversationStatusActive)
	require.NoError(t, store.ConversationRepository().Create(ctx, conv))

	sub, err := hub.Subscribe(ctx, events.Scope{OrganizationID: "org-1"})
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	_, err = states.Transition(ctx, conv.ID, models.ConversationStatusWaitingForHuman,
		conversation.TransitionOptions{Actor: "workflow", Reason: "handoff", Strategy: RoundRobinStrategy})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := store.ConversationRepository().GetByID(ctx, conv.ID)

		return err == nil && stored.Status == models.ConversationStatusHandedOff
	}, 2*time.Second, 10*time.Millisecond)

	agent, err := store.AgentRepository().GetByID(ctx, "org-1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, agent.CurrentConversations)

	var seen []events.EventType

	require.Eventually(t, func() bool {
		for {
			select {
			case event := <-sub.Events():
				seen = append(seen, event.GetType())
			default:
				return len(seen) >= 5
			}
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []events.EventType{
		events.ConversationStatusEvent,
		events.ConversationWaitingEvent,
		events.AgentAssignedEvent,
		events.ConversationStatusEvent,
		events.AgentStatusEvent,
	}, seen)
}

func TestEngine_AgentBecomingAvailableSweepsQueue(t *testing.T) {
	f := newFixture(t)

	away := testutil.CreateTestAgent("org-1", "agent-1", 1)
	away.Status = models.AgentStatusAway
	f.addAgent(t, away)

	conv := f.addConversation(t, models.ConversationStatusWaitingForHuman, 0)

	require.NoError(t, f.engine.HandleWaiting(context.Background(), events.NewConversationWaiting(conv, "")))
	assert.Equal(t, models.ConversationStatusWaitingForHuman, f.conversation(t, conv.ID).Status)

	away.Status = models.AgentStatusAvailable
	saved, err := f.store.AgentRepository().Save(context.Background(), away)
	require.NoError(t, err)

	require.NoError(t, f.engine.HandleAgentStatus(context.Background(), events.NewAgentStatusChanged(saved)))
	assert.Equal(t, models.ConversationStatusHandedOff, f.conversation(t, conv.ID).Status)
}

func TestSweeper_RejectsInvalidSchedule(t *testing.T) {
	f := newFixture(t)

	_, err := NewSweeper(testLogger(), f.engine, "not a schedule")
	require.Error(t, err)

	sweeper, err := NewSweeper(testLogger(), f.engine, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSweepSchedule, sweeper.schedule)
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, testutil.CreateTestAgent("org-1", "agent-1", 1))
	conv := f.addConversation(t, models.ConversationStatusWaitingForHuman, 0)

	sweeper, err := NewSweeper(testLogger(), f.engine, "@every 1s")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- sweeper.Run(ctx) }()

	require.Eventually(t, func() bool {
		stored, err := f.store.ConversationRepository().GetByID(context.Background(), conv.ID)

		return err == nil && stored.Status == models.ConversationStatusHandedOff
	}, 5*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestEngine_ManualQueueIsLeftForExplicitAssignment(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, testutil.CreateTestAgent("org-1", "agent-1", 1))
	conv := f.addConversation(t, models.ConversationStatusWaitingForHuman, 0)

	require.NoError(t, f.engine.HandleWaiting(context.Background(), events.NewConversationWaiting(conv, ManualStrategy)))

	assert.Equal(t, models.ConversationStatusWaitingForHuman, f.conversation(t, conv.ID).Status)
}
