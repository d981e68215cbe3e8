// Package persistencetest holds behavior tests every persistence backend
// must pass.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty backend for one test.
type Factory func(t *testing.T) persistence.Persistence

// Run executes the whole suite against the backend built by newPersistence.
func Run(t *testing.T, newPersistence Factory) {
	t.Helper()

	t.Run("chatbots and workflows", func(t *testing.T) { testCatalog(t, newPersistence(t)) })
	t.Run("conversation lifecycle", func(t *testing.T) { testConversationLifecycle(t, newPersistence(t)) })
	t.Run("status change releases slot once", func(t *testing.T) { testReleaseOnce(t, newPersistence(t)) })
	t.Run("waiting queue order", func(t *testing.T) { testWaitingOrder(t, newPersistence(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, newPersistence(t)) })
	t.Run("agent save keeps counters", func(t *testing.T) { testAgentSave(t, newPersistence(t)) })
	t.Run("concurrent reservations", func(t *testing.T) { testConcurrentReserve(t, newPersistence(t)) })
}

func testCatalog(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()

	_, err := p.ChatbotRepository().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrChatbotNotFound)

	bot := &models.Chatbot{
		ID:             "bot-1",
		OrganizationID: "org-1",
		Name:           "Support",
		Mode:           models.ChatbotModeWorkflow,
		WorkflowID:     "wf-1",
		Greeting:       "Hi!",
		Temperature:    0.2,
		MaxTokens:      256,
		Appearance:     map[string]string{"color": "#fff"},
	}
	require.NoError(t, p.ChatbotRepository().Save(ctx, bot))

	got, err := p.ChatbotRepository().GetByID(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, bot, got)

	wf := &models.Workflow{
		ID:        "wf-1",
		ChatbotID: "bot-1",
		Version:   3,
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeStart, Config: map[string]any{}},
			{ID: "hello", Type: models.NodeTypeSendMessage, Config: map[string]any{"message": "hello"}},
		},
		Edges: []*models.Edge{{ID: "e1", Source: "start", Target: "hello"}},
	}
	require.NoError(t, p.WorkflowRepository().Save(ctx, wf))

	gotWf, err := p.WorkflowRepository().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 3, gotWf.Version)
	require.Len(t, gotWf.Nodes, 2)
	assert.Equal(t, "hello", gotWf.Nodes[1].Config["message"])
	require.Len(t, gotWf.Edges, 1)
	assert.Equal(t, "hello", gotWf.Edges[0].Target)

	_, err = p.WorkflowRepository().GetByID(ctx, "nope")
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func testConversationLifecycle(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ConversationRepository()

	conv := testutil.CreateTestConversation("org-1", models.ConversationStatusActive)
	require.NoError(t, repo.Create(ctx, conv))

	err := repo.Create(ctx, conv)
	assert.ErrorIs(t, err, persistence.ErrConversationAlreadyExists)

	bySession, err := repo.GetBySession(ctx, conv.SessionID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, bySession.ID)

	_, err = repo.GetBySession(ctx, "unknown")
	assert.True(t, persistence.IsConversationNotFound(err))

	cursor := "ask-email"
	state := models.NewExecutionState()
	state.Variables.Set("name", "Ada")
	state.AwaitingInput = &models.AwaitingInput{
		Kind:    models.AwaitingCapture,
		NodeID:  cursor,
		Capture: &models.CaptureSpec{Variable: "email", InputType: "email", MaxRetries: 3},
	}

	require.NoError(t, repo.SaveState(ctx, persistence.StateUpdate{
		ConversationID: conv.ID,
		CurrentNodeID:  &cursor,
		Context:        state,
		LastMessageAt:  time.Now().UTC(),
	}))

	got, err := repo.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentNodeID)
	assert.Equal(t, cursor, *got.CurrentNodeID)
	assert.Equal(t, "Ada", got.Context.Variables.String("name"))
	require.NotNil(t, got.Context.AwaitingInput)
	assert.Equal(t, "email", got.Context.AwaitingInput.Capture.Variable)

	priority := 7
	routed, err := repo.UpdateRouting(ctx, persistence.RoutingUpdate{ConversationID: conv.ID, Priority: &priority, Tags: []string{"billing"}})
	require.NoError(t, err)
	assert.Equal(t, 7, routed.Priority)
	assert.Equal(t, []string{"billing"}, routed.Tags)

	_, err = repo.ChangeStatus(ctx, persistence.StatusChange{
		ConversationID: conv.ID,
		From:           models.ConversationStatusWaitingForHuman,
		To:             models.ConversationStatusActive,
	})
	assert.True(t, persistence.IsStatusConflict(err))

	closedAt := time.Now().UTC().Truncate(time.Microsecond)
	res, err := repo.ChangeStatus(ctx, persistence.StatusChange{
		ConversationID: conv.ID,
		From:           models.ConversationStatusActive,
		To:             models.ConversationStatusClosed,
		At:             closedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusClosed, res.Conversation.Status)
	require.NotNil(t, res.Conversation.ClosedAt)
	assert.True(t, closedAt.Equal(*res.Conversation.ClosedAt))
	assert.Nil(t, res.ReleasedAgent)
}

func testReleaseOnce(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()

	_, err := p.AgentRepository().Save(ctx, &models.AgentAvailability{
		OrganizationID:   "org-1",
		AgentID:          "agent-1",
		Status:           models.AgentStatusAvailable,
		MaxConversations: 1,
		Skills:           []string{},
	})
	require.NoError(t, err)

	conv := testutil.CreateTestConversation("org-1", models.ConversationStatusWaitingForHuman)
	require.NoError(t, p.ConversationRepository().Create(ctx, conv))

	reserved, err := p.AgentRepository().Reserve(ctx, persistence.Reservation{
		ConversationID:   conv.ID,
		AgentID:          "agent-1",
		At:               time.Now().UTC(),
		RequireAvailable: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusWaitingForHuman, reserved.From)
	assert.Equal(t, models.ConversationStatusHandedOff, reserved.Conversation.Status)
	require.NotNil(t, reserved.Conversation.AssignedAgentID)
	assert.Equal(t, "agent-1", *reserved.Conversation.AssignedAgentID)
	assert.Equal(t, 1, reserved.Agent.CurrentConversations)
	assert.NotNil(t, reserved.Agent.LastAssignedAt)

	res, err := p.ConversationRepository().ChangeStatus(ctx, persistence.StatusChange{
		ConversationID: conv.ID,
		From:           models.ConversationStatusHandedOff,
		To:             models.ConversationStatusActive,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Conversation.AssignedAgentID)
	require.NotNil(t, res.ReleasedAgent)
	assert.Equal(t, 0, res.ReleasedAgent.CurrentConversations)

	// A replayed release is rejected and the count cannot go negative.
	_, err = p.ConversationRepository().ChangeStatus(ctx, persistence.StatusChange{
		ConversationID: conv.ID,
		From:           models.ConversationStatusHandedOff,
		To:             models.ConversationStatusActive,
	})
	assert.True(t, persistence.IsStatusConflict(err))

	agent, err := p.AgentRepository().GetByID(ctx, "org-1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 0, agent.CurrentConversations)
}

func testWaitingOrder(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ConversationRepository()
	base := time.Now().UTC().Truncate(time.Microsecond)

	low := testutil.CreateTestConversation("org-1", models.ConversationStatusWaitingForHuman)
	low.CreatedAt = base

	highLate := testutil.CreateTestConversation("org-1", models.ConversationStatusWaitingForHuman)
	highLate.Priority = 5
	highLate.CreatedAt = base.Add(2 * time.Second)

	highEarly := testutil.CreateTestConversation("org-1", models.ConversationStatusWaitingForHuman)
	highEarly.Priority = 5
	highEarly.CreatedAt = base.Add(time.Second)

	active := testutil.CreateTestConversation("org-1", models.ConversationStatusActive)
	otherOrg := testutil.CreateTestConversation("org-2", models.ConversationStatusWaitingForHuman)

	for _, conv := range []*models.Conversation{low, highLate, highEarly, active, otherOrg} {
		require.NoError(t, repo.Create(ctx, conv))
	}

	queue, err := repo.Waiting(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, highEarly.ID, queue[0].ID)
	assert.Equal(t, highLate.ID, queue[1].ID)
	assert.Equal(t, low.ID, queue[2].ID)

	orgs, err := repo.WaitingOrganizations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"org-1", "org-2"}, orgs)
}

func testMessages(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()

	conv := testutil.CreateTestConversation("org-1", models.ConversationStatusActive)
	require.NoError(t, p.ConversationRepository().Create(ctx, conv))

	at := time.Now().UTC().Truncate(time.Microsecond)
	first := &models.Message{ID: uuid.NewString(), ConversationID: conv.ID, Role: models.MessageRoleUser, Content: "hi", CreatedAt: at}
	second := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.MessageRoleAssistant,
		Content:        "hello",
		CreatedAt:      at,
		AI:             &models.AIMetadata{Model: "gpt", TotalTokens: 12, LatencyMs: 40},
	}

	require.NoError(t, p.MessageRepository().Append(ctx, first))
	require.NoError(t, p.MessageRepository().Append(ctx, second))
	assert.Less(t, first.Seq, second.Seq)

	list, err := p.MessageRepository().ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "hi", list[0].Content)
	assert.Equal(t, "hello", list[1].Content)
	require.NotNil(t, list[1].AI)
	assert.Equal(t, 12, list[1].AI.TotalTokens)

	rating := 5
	text := "great"
	updated, err := p.MessageRepository().UpdateFeedback(ctx, conv.ID, second.ID, &rating, &text)
	require.NoError(t, err)
	require.NotNil(t, updated.FeedbackRating)
	assert.Equal(t, 5, *updated.FeedbackRating)
	assert.Equal(t, "hello", updated.Content)

	_, err = p.MessageRepository().UpdateFeedback(ctx, conv.ID, "missing", &rating, nil)
	assert.ErrorIs(t, err, persistence.ErrMessageNotFound)
}

func testAgentSave(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.AgentRepository()

	_, err := repo.GetByID(ctx, "org-1", "agent-1")
	assert.ErrorIs(t, err, persistence.ErrAgentNotFound)

	_, err = repo.Save(ctx, &models.AgentAvailability{
		OrganizationID: "org-1", AgentID: "agent-1", Status: models.AgentStatusAvailable, MaxConversations: 3, Skills: []string{"billing"},
	})
	require.NoError(t, err)

	conv := testutil.CreateTestConversation("org-1", models.ConversationStatusWaitingForHuman)
	require.NoError(t, p.ConversationRepository().Create(ctx, conv))

	_, err = repo.Reserve(ctx, persistence.Reservation{ConversationID: conv.ID, AgentID: "agent-1", At: time.Now().UTC()})
	require.NoError(t, err)

	saved, err := repo.Save(ctx, &models.AgentAvailability{
		OrganizationID: "org-1", AgentID: "agent-1", Status: models.AgentStatusAway, MaxConversations: 4, Skills: []string{"sales"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusAway, saved.Status)
	assert.Equal(t, 4, saved.MaxConversations)
	assert.Equal(t, []string{"sales"}, saved.Skills)
	assert.Equal(t, 1, saved.CurrentConversations)
	assert.NotNil(t, saved.LastAssignedAt)

	agents, err := repo.ListByOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, agents, 1)

	// Away agents only take manual assignments.
	other := testutil.CreateTestConversation("org-1", models.ConversationStatusWaitingForHuman)
	require.NoError(t, p.ConversationRepository().Create(ctx, other))

	_, err = repo.Reserve(ctx, persistence.Reservation{ConversationID: other.ID, AgentID: "agent-1", At: time.Now().UTC(), RequireAvailable: true})
	assert.True(t, persistence.IsNoCapacity(err))

	_, err = repo.Reserve(ctx, persistence.Reservation{ConversationID: other.ID, AgentID: "agent-1", At: time.Now().UTC()})
	require.NoError(t, err)

	_, err = repo.Save(ctx, &models.AgentAvailability{
		OrganizationID: "org-1", AgentID: "agent-1", Status: models.AgentStatusAway, MaxConversations: 1,
	})
	require.ErrorIs(t, err, persistence.ErrCapacityBelowLoad)

	stored, err := repo.GetByID(ctx, "org-1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 4, stored.MaxConversations)
	assert.Equal(t, 2, stored.CurrentConversations)

	saved, err = repo.Save(ctx, &models.AgentAvailability{
		OrganizationID: "org-1", AgentID: "agent-1", Status: models.AgentStatusAway, MaxConversations: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, saved.MaxConversations)
}

func testConcurrentReserve(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()

	_, err := p.AgentRepository().Save(ctx, &models.AgentAvailability{
		OrganizationID: "org-1", AgentID: "agent-1", Status: models.AgentStatusAvailable, MaxConversations: 1,
	})
	require.NoError(t, err)

	const contenders = 8

	convs := make([]*models.Conversation, contenders)
	for i := range convs {
		convs[i] = testutil.CreateTestConversation("org-1", models.ConversationStatusWaitingForHuman)
		require.NoError(t, p.ConversationRepository().Create(ctx, convs[i]))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		noCap     int
	)

	for _, conv := range convs {
		wg.Add(1)

		go func(id string) {
			defer wg.Done()

			_, err := p.AgentRepository().Reserve(ctx, persistence.Reservation{
				ConversationID: id, AgentID: "agent-1", At: time.Now().UTC(), RequireAvailable: true,
			})

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				successes++
			case persistence.IsNoCapacity(err):
				noCap++
			}
		}(conv.ID)
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, contenders-1, noCap)

	agent, err := p.AgentRepository().GetByID(ctx, "org-1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, agent.CurrentConversations)
}
