package services

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/chatflow/pkg/assignment"
	"github.com/dukex/chatflow/pkg/billing"
	"github.com/dukex/chatflow/pkg/conversation"
	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/locker"
	"github.com/dukex/chatflow/pkg/mocks"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/nodes/ai"
	"github.com/dukex/chatflow/pkg/persistence/memory"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/registry"
	"github.com/dukex/chatflow/pkg/testutil"
	"github.com/dukex/chatflow/pkg/workflow"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testActor = Actor{OrganizationID: "org-1", UserID: "agent-1"}

type harnessOptions struct {
	// Bus replaces the synchronous event recorder and gets the engine registered.
	Bus   eventbus.EventBus
	Meter billing.Meter
}

type harness struct {
	store      *memory.Persistence
	recorder   *testutil.EventRecorder
	completion *mocks.MockCompletionClient
	engine     *assignment.Engine
	chat       *Chat
	agent      *Agent
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, harnessOptions{})
}

func newHarnessWith(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	logger := testLogger()
	store := memory.NewPersistence()
	recorder := testutil.NewEventRecorder()
	completion := &mocks.MockCompletionClient{}

	var publisher eventbus.EventPublisher = recorder
	if opts.Bus != nil {
		publisher = opts.Bus
	}

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(protocol.Dependencies{Logger: logger, Completion: completion})

	states := conversation.NewStateMachine(logger, store, publisher)
	engine := assignment.NewEngine(logger, store, states, assignment.RoundRobin{}, nil)
	locks := locker.NewMemoryLocker()

	if opts.Bus != nil {
		engine.Register(opts.Bus)
	}

	return &harness{
		store:      store,
		recorder:   recorder,
		completion: completion,
		engine:     engine,
		chat: NewChat(logger, ChatDependencies{
			Persistence: store,
			Workflows:   workflow.NewRepository(store, reg),
			Executor:    workflow.NewExecutor(logger, nil),
			Responder:   ai.NewResponder(logger, completion, nil),
			States:      states,
			Publisher:   publisher,
			Locker:      locks,
			Meter:       opts.Meter,
		}),
		agent: NewAgent(logger, AgentDependencies{
			Persistence: store,
			States:      states,
			Engine:      engine,
			Publisher:   publisher,
			Locker:      locks,
		}),
	}
}

func (h *harness) workflowBot(t *testing.T, wf *models.Workflow) *models.Chatbot {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, h.store.WorkflowRepository().Save(ctx, wf))

	bot := testutil.CreateTestChatbot("org-1", wf.ID)
	require.NoError(t, h.store.ChatbotRepository().Save(ctx, bot))

	return bot
}

func (h *harness) aiBot(t *testing.T) *models.Chatbot {
	t.Helper()

	bot := testutil.CreateTestChatbot("org-1", "")
	bot.Mode = models.ChatbotModeAI
	bot.SystemPrompt = "Be brief."
	require.NoError(t, h.store.ChatbotRepository().Save(context.Background(), bot))

	return bot
}

func (h *harness) addAgent(t *testing.T, agentID string, maxConversations int) {
	t.Helper()

	_, err := h.store.AgentRepository().Save(context.Background(), testutil.CreateTestAgent("org-1", agentID, maxConversations))
	require.NoError(t, err)
}

func (h *harness) conversation(t *testing.T, id string) *models.Conversation {
	t.Helper()

	conv, err := h.store.ConversationRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return conv
}

func (h *harness) agentRow(t *testing.T, agentID string) *models.AgentAvailability {
	t.Helper()

	agent, err := h.store.AgentRepository().GetByID(context.Background(), "org-1", agentID)
	require.NoError(t, err)

	return agent
}

func (h *harness) history(t *testing.T, conversationID string) []*models.Message {
	t.Helper()

	messages, err := h.store.MessageRepository().ListByConversation(context.Background(), conversationID)
	require.NoError(t, err)

	return messages
}

func contents(messages []*models.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Content)
	}

	return out
}

// handoffWorkflow asks for a name and hands the conversation to a person.
func handoffWorkflow() *models.Workflow {
	return testutil.NewWorkflow("wf-handoff").
		Node("ask", models.NodeTypeCaptureInput, map[string]any{
			"message":   "What is your name?",
			"variable":  "name",
			"inputType": "text",
		}).
		Node("handoff", models.NodeTypeHumanHandoff, map[string]any{
			"message":  "Thanks {{name}}, connecting you to a person.",
			"priority": 2,
			"tags":     []string{"billing"},
		}).
		Edge("start", "ask").
		Edge("ask", "handoff").
		Build()
}

// startHandedOff runs the handoff workflow and assigns the conversation to agent-1.
func (h *harness) startHandedOff(t *testing.T) *StartResponse {
	t.Helper()

	ctx := context.Background()
	bot := h.workflowBot(t, handoffWorkflow())
	h.addAgent(t, "agent-1", 2)

	started, err := h.chat.Start(ctx, StartRequest{ChatbotID: bot.ID})
	require.NoError(t, err)

	_, err = h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "Ada"})
	require.NoError(t, err)

	_, err = h.engine.Assign(ctx, started.ConversationID, "")
	require.NoError(t, err)

	return started
}
