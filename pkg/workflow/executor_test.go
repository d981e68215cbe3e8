package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/chatflow/pkg/mocks"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type conversationRun struct {
	t        *testing.T
	executor *Executor
	graph    *Graph
	chatbot  *models.Chatbot
	state    models.ExecutionState
	cursor   *string
}

func newRun(t *testing.T, wf *models.Workflow, deps protocol.Dependencies) *conversationRun {
	t.Helper()

	graph, err := NewGraph(context.Background(), wf, createTestRegistry(deps))
	require.NoError(t, err)

	return &conversationRun{
		t:        t,
		executor: NewExecutor(testLogger(), nil),
		graph:    graph,
		chatbot:  testutil.CreateTestChatbot("org-1", wf.ID),
		state:    models.NewExecutionState(),
	}
}

// send runs one turn and keeps the resulting state for the next one.
func (r *conversationRun) send(input string) *Result {
	r.t.Helper()

	result, err := r.executor.Process(context.Background(), r.graph, Turn{
		ConversationID: "conv-1",
		OrganizationID: "org-1",
		Chatbot:        r.chatbot,
		State:          r.state,
		CurrentNodeID:  r.cursor,
		Input:          input,
	})
	require.NoError(r.t, err)

	r.state = result.State
	r.cursor = result.CurrentNodeID

	return result
}

func contents(messages []models.OutboundMessage) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Content)
	}

	return out
}

func TestExecutor_AIResponseThenEnd(t *testing.T) {
	completion := &mocks.MockCompletionClient{}
	completion.On("GenerateResponse", mock.Anything, mock.Anything).
		Return(&protocol.Completion{Content: "Hello from the model", Model: "gpt-4o-mini", Usage: protocol.Usage{TotalTokens: 9}}, nil).
		Once()

	wf := testutil.NewWorkflow("wf-a").
		Node("answer", models.NodeTypeAIResponse, map[string]any{}).
		Node("done", models.NodeTypeEnd, map[string]any{}).
		Edge("start", "answer").
		Edge("answer", "done").
		Build()

	run := newRun(t, wf, protocol.Dependencies{Completion: completion})
	result := run.send("hi")

	require.Len(t, result.Messages, 1)
	assert.Equal(t, "Hello from the model", result.Messages[0].Content)
	assert.Equal(t, "answer", result.Messages[0].NodeID)
	require.NotNil(t, result.Messages[0].AI)
	assert.Equal(t, 9, result.Messages[0].AI.TotalTokens)
	assert.Nil(t, result.StatusDirective)
	assert.Nil(t, result.CurrentNodeID)
	assert.False(t, result.Failed)

	completion.AssertExpectations(t)
}

func TestExecutor_EndCanCloseConversation(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("bye", models.NodeTypeEnd, map[string]any{"message": "Bye {{name}}", "closeConversation": true}).
		Edge("start", "bye").
		Build()

	run := newRun(t, wf, protocol.Dependencies{})
	run.state.Variables.Set("name", "Ada")

	result := run.send("thanks")

	assert.Equal(t, []string{"Bye Ada"}, contents(result.Messages))
	require.NotNil(t, result.StatusDirective)
	assert.Equal(t, models.ConversationStatusClosed, *result.StatusDirective)
	assert.False(t, result.State.Variables.Has(models.VariableConversationStatus))
}

func TestExecutor_CaptureEmailRetriesThenAdvances(t *testing.T) {
	wf := testutil.NewWorkflow("wf-b").
		Node("ask", models.NodeTypeCaptureInput, map[string]any{
			"message":      "What is your email?",
			"variable":     "email",
			"inputType":    "email",
			"errorMessage": "That does not look like an email.",
		}).
		Node("thanks", models.NodeTypeSendMessage, map[string]any{"message": "We will write to {{email}}"}).
		Edge("start", "ask").
		Edge("ask", "thanks").
		Build()

	run := newRun(t, wf, protocol.Dependencies{})

	first := run.send("")
	assert.Equal(t, []string{"What is your email?"}, contents(first.Messages))
	require.NotNil(t, first.CurrentNodeID)
	assert.Equal(t, "ask", *first.CurrentNodeID)
	require.NotNil(t, first.State.AwaitingInput)
	assert.Equal(t, models.AwaitingCapture, first.State.AwaitingInput.Kind)

	rejected := run.send("not-an-email")
	assert.Equal(t, []string{"That does not look like an email."}, contents(rejected.Messages))
	require.NotNil(t, rejected.State.AwaitingInput)
	assert.Equal(t, 1, rejected.State.AwaitingInput.Attempts)
	assert.False(t, rejected.State.Variables.Has("email"))

	accepted := run.send("a@b.com")
	assert.Equal(t, []string{"We will write to a@b.com"}, contents(accepted.Messages))
	assert.Nil(t, accepted.State.AwaitingInput)
	assert.Nil(t, accepted.CurrentNodeID)
	assert.Equal(t, "a@b.com", accepted.State.Variables.String("email"))
}

func TestExecutor_CaptureFollowsErrorBranchAfterMaxRetries(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("ask", models.NodeTypeCaptureInput, map[string]any{
			"message":      "Your age?",
			"variable":     "age",
			"inputType":    "number",
			"errorMessage": "Numbers only.",
			"maxRetries":   2,
		}).
		Node("ok", models.NodeTypeSendMessage, map[string]any{"message": "Thanks"}).
		Node("give-up", models.NodeTypeSendMessage, map[string]any{"message": "Let's move on."}).
		Edge("start", "ask").
		Edge("ask", "ok").
		Branch("ask", "error", "give-up").
		Build()

	run := newRun(t, wf, protocol.Dependencies{})
	run.send("")

	firstFailure := run.send("old")
	assert.Equal(t, []string{"Numbers only."}, contents(firstFailure.Messages))
	require.NotNil(t, firstFailure.State.AwaitingInput)

	secondFailure := run.send("very old")
	assert.Equal(t, []string{"Let's move on."}, contents(secondFailure.Messages))
	assert.Nil(t, secondFailure.State.AwaitingInput)
	assert.False(t, secondFailure.Failed)
}

func TestExecutor_ButtonsFollowChosenOption(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("menu", models.NodeTypeButtons, map[string]any{
			"message":  "How can we help?",
			"variable": "topic",
			"options": []any{
				map[string]any{"id": "billing", "label": "Billing"},
				map[string]any{"id": "tech", "label": "Technical", "value": "technical"},
			},
		}).
		Node("billing", models.NodeTypeSendMessage, map[string]any{"message": "Billing it is"}).
		Node("tech", models.NodeTypeSendMessage, map[string]any{"message": "Topic: {{topic}}"}).
		Edge("start", "menu").
		Branch("menu", "billing", "billing").
		Branch("menu", "tech", "tech").
		Build()

	run := newRun(t, wf, protocol.Dependencies{})

	prompt := run.send("")
	require.Len(t, prompt.Messages, 1)
	assert.NotNil(t, prompt.Messages[0].Extra["buttons"])

	chosen := run.send("TECHNICAL")
	assert.Equal(t, []string{"Topic: technical"}, contents(chosen.Messages))
}

func TestExecutor_HumanHandoffRequestsWaiting(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("handoff", models.NodeTypeHumanHandoff, map[string]any{
			"message":  "Connecting you with a human",
			"priority": 3,
			"tags":     []any{"billing", "{{plan}}"},
			"strategy": "skill_based",
		}).
		Edge("start", "handoff").
		Build()

	run := newRun(t, wf, protocol.Dependencies{})
	run.state.Variables.Set("plan", "enterprise")

	result := run.send("agent please")

	assert.Equal(t, []string{"Connecting you with a human"}, contents(result.Messages))
	require.NotNil(t, result.StatusDirective)
	assert.Equal(t, models.ConversationStatusWaitingForHuman, *result.StatusDirective)
	require.NotNil(t, result.Handoff)
	require.NotNil(t, result.Handoff.Priority)
	assert.Equal(t, 3, *result.Handoff.Priority)
	assert.Equal(t, []string{"billing", "enterprise"}, result.Handoff.Tags)
	assert.Equal(t, "skill_based", result.Handoff.Strategy)
	assert.False(t, result.State.Variables.Has(models.VariableHandoffTags))
	assert.Nil(t, result.CurrentNodeID)
}

func TestExecutor_ConditionWithoutMatchingEdgeUsesFallback(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("route", models.NodeTypeSwitch, map[string]any{
			"variable": "last_message",
			"cases":    []any{map[string]any{"value": "yes", "output_port": "yes"}},
		}).
		Node("yes", models.NodeTypeSendMessage, map[string]any{"message": "Great"}).
		Edge("start", "route").
		Branch("route", "yes", "yes").
		Build()

	run := newRun(t, wf, protocol.Dependencies{})

	result := run.send("no")

	assert.Equal(t, []string{run.chatbot.FallbackMessage}, contents(result.Messages))
	assert.True(t, result.Failed)
	assert.Nil(t, result.CurrentNodeID)
}

func TestExecutor_NodeFailureKeepsConversationUsable(t *testing.T) {
	completion := &mocks.MockCompletionClient{}
	completion.On("GenerateResponse", mock.Anything, mock.Anything).
		Return(nil, errors.New("upstream timeout")).Once()
	completion.On("GenerateResponse", mock.Anything, mock.Anything).
		Return(&protocol.Completion{Content: "Recovered"}, nil).Once()

	wf := testutil.NewWorkflow("wf").
		Node("intro", models.NodeTypeSendMessage, map[string]any{"message": "One moment"}).
		Node("answer", models.NodeTypeAIResponse, map[string]any{}).
		Edge("start", "intro").
		Edge("intro", "answer").
		Build()

	run := newRun(t, wf, protocol.Dependencies{Completion: completion})

	failed := run.send("question")
	assert.Equal(t, []string{"One moment", run.chatbot.FallbackMessage}, contents(failed.Messages))
	assert.True(t, failed.Failed)
	require.NotNil(t, failed.CurrentNodeID)
	assert.Equal(t, "answer", *failed.CurrentNodeID)
	assert.Nil(t, failed.StatusDirective)

	retried := run.send("question again")
	assert.Equal(t, []string{"Recovered"}, contents(retried.Messages))
	assert.False(t, retried.Failed)

	completion.AssertExpectations(t)
}

func TestExecutor_StepLimitStopsLoops(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("count", models.NodeTypeSetVariable, map[string]any{"variable": "n", "value": "n + 1", "valueType": "expression"}).
		Edge("start", "count").
		Edge("count", "count").
		Build()

	run := newRun(t, wf, protocol.Dependencies{})
	run.state.Variables.Set("n", float64(0))

	result := run.send("go")

	assert.Equal(t, MaxSteps, result.Steps)
	assert.True(t, result.Failed)
	assert.Equal(t, []string{run.chatbot.FallbackMessage}, contents(result.Messages))
	assert.Nil(t, result.CurrentNodeID)
	assert.Len(t, result.State.History, MaxSteps)
}

func TestExecutor_MissingCursorRestartsAtStart(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("hello", models.NodeTypeSendMessage, map[string]any{"message": "Welcome back"}).
		Edge("start", "hello").
		Build()

	run := newRun(t, wf, protocol.Dependencies{})
	gone := "deleted-node"
	run.cursor = &gone
	run.state.AwaitingInput = &models.AwaitingInput{Kind: models.AwaitingCapture, NodeID: gone, Capture: &models.CaptureSpec{Variable: "x"}}

	result := run.send("hello?")

	assert.Equal(t, []string{"Welcome back"}, contents(result.Messages))
	assert.Nil(t, result.State.AwaitingInput)
}

func TestExecutor_ReplayIsDeterministic(t *testing.T) {
	newWorkflow := func() *models.Workflow {
		return testutil.NewWorkflow("wf").
			Node("ask", models.NodeTypeCaptureInput, map[string]any{"message": "Name?", "variable": "name"}).
			Node("check", models.NodeTypeCondition, map[string]any{"variable": "name", "operator": "starts_with", "value": "a"}).
			Node("a", models.NodeTypeSendMessage, map[string]any{"message": "A-name {{name}}"}).
			Node("other", models.NodeTypeSendMessage, map[string]any{"message": "Other {{name}}"}).
			Edge("start", "ask").
			Edge("ask", "check").
			Branch("check", "true", "a").
			Branch("check", "false", "other").
			Build()
	}

	script := []string{"", "Ada"}

	replay := func() ([]string, *string) {
		run := newRun(t, newWorkflow(), protocol.Dependencies{})

		var out []string
		for _, input := range script {
			out = append(out, contents(run.send(input).Messages)...)
		}

		return out, run.cursor
	}

	firstMessages, firstCursor := replay()
	secondMessages, secondCursor := replay()

	assert.Equal(t, []string{"Name?", "A-name Ada"}, firstMessages)
	assert.Equal(t, firstMessages, secondMessages)
	assert.Equal(t, firstCursor, secondCursor)
}

func TestExecutor_RecordsTurnWindow(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("echo", models.NodeTypeSendMessage, map[string]any{"message": "You said {{last_message}}"}).
		Edge("start", "echo").
		Build()

	run := newRun(t, wf, protocol.Dependencies{})
	result := run.send("ping")

	require.Len(t, result.State.Messages, 2)
	assert.Equal(t, models.TurnMessage{Role: models.MessageRoleUser, Content: "ping"}, result.State.Messages[0])
	assert.Equal(t, models.TurnMessage{Role: models.MessageRoleAssistant, Content: "You said ping"}, result.State.Messages[1])
}
