package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dukex/chatflow/pkg/billing"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestChat_StartRunsWorkflowUntilInput(t *testing.T) {
	h := newHarness(t)
	bot := h.workflowBot(t, handoffWorkflow())

	started, err := h.chat.Start(context.Background(), StartRequest{
		ChatbotID: bot.ID,
		Metadata:  map[string]any{"page": "/pricing"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, started.SessionID)
	assert.Equal(t, models.ConversationStatusActive, started.Status)
	assert.Equal(t, []string{"Hi! How can I help?", "What is your name?"}, contents(started.Messages))
	assert.Equal(t, bot.Display(), started.Chatbot)

	conv := h.conversation(t, started.ConversationID)
	require.NotNil(t, conv.CurrentNodeID)
	assert.Equal(t, "ask", *conv.CurrentNodeID)
	assert.True(t, conv.Context.Awaiting())
	assert.Equal(t, "/pricing", conv.Metadata["page"])

	assert.Equal(t, []events.EventType{events.ConversationMessageEvent, events.ConversationMessageEvent}, h.recorder.Types())
}

func TestChat_StartRejectsUnknownOrMisconfiguredChatbot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.chat.Start(ctx, StartRequest{ChatbotID: "missing"})
	require.ErrorIs(t, err, ErrChatbotNotFound)
	assert.True(t, IsNotFoundError(err))

	_, err = h.chat.Start(ctx, StartRequest{})
	require.ErrorIs(t, err, ErrInvalidRequest)

	bot := testutil.CreateTestChatbot("org-1", "")
	require.NoError(t, h.store.ChatbotRepository().Save(ctx, bot))

	_, err = h.chat.Start(ctx, StartRequest{ChatbotID: bot.ID})
	require.ErrorIs(t, err, ErrChatbotMisconfigured)
}

func TestChat_HandoffQueuesConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bot := h.workflowBot(t, handoffWorkflow())

	started, err := h.chat.Start(ctx, StartRequest{ChatbotID: bot.ID})
	require.NoError(t, err)

	h.recorder.Reset()

	resp, err := h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "Ada"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Thanks Ada, connecting you to a person."}, contents(resp.Messages))
	assert.Equal(t, models.ConversationStatusWaitingForHuman, resp.Status)

	assert.Equal(t, []events.EventType{
		events.ConversationMessageEvent,
		events.ConversationMessageEvent,
		events.ConversationStatusEvent,
		events.ConversationWaitingEvent,
	}, h.recorder.Types())

	conv := h.conversation(t, started.ConversationID)
	assert.Equal(t, 2, conv.Priority)
	assert.Equal(t, []string{"billing"}, conv.Tags)
	assert.Equal(t, "Ada", conv.Context.Variables.String("name"))
	assert.False(t, conv.Context.Variables.Has(models.VariableConversationStatus))
}

func TestChat_BotStaysSilentWhileHumanOwned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bot := h.workflowBot(t, handoffWorkflow())

	started, err := h.chat.Start(ctx, StartRequest{ChatbotID: bot.ID})
	require.NoError(t, err)

	_, err = h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "Ada"})
	require.NoError(t, err)

	h.recorder.Reset()

	resp, err := h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "Anyone there?"})
	require.NoError(t, err)

	assert.Empty(t, resp.Messages)
	assert.Equal(t, models.ConversationStatusWaitingForHuman, resp.Status)
	assert.Equal(t, []events.EventType{events.ConversationMessageEvent}, h.recorder.Types())

	history := h.history(t, started.ConversationID)
	last := history[len(history)-1]
	assert.Equal(t, models.MessageRoleUser, last.Role)
	assert.Equal(t, "Anyone there?", last.Content)

	conv := h.conversation(t, started.ConversationID)
	turns := conv.Context.Messages
	assert.Equal(t, "Anyone there?", turns[len(turns)-1].Content)
}

func TestChat_ClosedConversationRejectsMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	wf := testutil.NewWorkflow("wf-bye").
		Node("bye", models.NodeTypeEnd, map[string]any{"message": "Goodbye", "closeConversation": true}).
		Edge("start", "bye").
		Build()
	bot := h.workflowBot(t, wf)

	started, err := h.chat.Start(ctx, StartRequest{ChatbotID: bot.ID})
	require.NoError(t, err)

	assert.Equal(t, models.ConversationStatusClosed, started.Status)
	assert.Equal(t, []string{"Hi! How can I help?", "Goodbye"}, contents(started.Messages))

	closed := h.conversation(t, started.ConversationID)
	assert.NotNil(t, closed.ClosedAt)

	_, err = h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "wait"})
	require.ErrorIs(t, err, ErrConversationClosed)
	assert.True(t, IsConflictError(err))
	assert.Len(t, h.history(t, started.ConversationID), 2)
}

func TestChat_SubmitValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: "s", Content: "   "})
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.True(t, IsValidationError(err))

	_, err = h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: "unknown", Content: "hi"})
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.True(t, IsNotFoundError(err))
}

func TestChat_ButtonsPromptCarriesOptions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	wf := testutil.NewWorkflow("wf-buttons").
		Node("pick", models.NodeTypeButtons, map[string]any{
			"message":  "What do you need?",
			"variable": "topic",
			"options": []map[string]any{
				{"id": "sales", "label": "Sales"},
				{"id": "support", "label": "Support"},
			},
		}).
		Node("s", models.NodeTypeSendMessage, map[string]any{"message": "Sales it is"}).
		Node("p", models.NodeTypeSendMessage, map[string]any{"message": "Support it is"}).
		Edge("start", "pick").
		Branch("pick", "sales", "s").
		Branch("pick", "support", "p").
		Build()
	bot := h.workflowBot(t, wf)

	started, err := h.chat.Start(ctx, StartRequest{ChatbotID: bot.ID})
	require.NoError(t, err)

	prompt := started.Messages[len(started.Messages)-1]
	assert.Equal(t, "What do you need?", prompt.Content)
	assert.Contains(t, prompt.Extra, "buttons")
	require.NotNil(t, prompt.NodeID)
	assert.Equal(t, "pick", *prompt.NodeID)

	resp, err := h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "support"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Support it is"}, contents(resp.Messages))
}

func TestChat_AIModeAnswersWithCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bot := h.aiBot(t)

	h.completion.On("GenerateResponse", mock.Anything, mock.MatchedBy(func(req protocol.CompletionRequest) bool {
		first, last := req.Messages[0], req.Messages[len(req.Messages)-1]

		return first.Role == models.MessageRoleSystem && first.Content == "Be brief." &&
			last.Role == models.MessageRoleUser && last.Content == "hi"
	})).Return(&protocol.Completion{
		Content: "Hello!",
		Model:   "gpt-4o-mini",
		Usage:   protocol.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
	}, nil).Once()

	started, err := h.chat.Start(ctx, StartRequest{ChatbotID: bot.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi! How can I help?"}, contents(started.Messages))

	resp, err := h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "hi"})
	require.NoError(t, err)

	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "Hello!", resp.Messages[0].Content)
	require.NotNil(t, resp.Messages[0].AI)
	assert.Equal(t, 7, resp.Messages[0].AI.TotalTokens)
	assert.Equal(t, "gpt-4o-mini", resp.Messages[0].AI.Model)

	h.completion.AssertExpectations(t)
}

func TestChat_AIModeFallsBackWhenCompletionFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bot := h.aiBot(t)

	h.completion.On("GenerateResponse", mock.Anything, mock.Anything).Return(nil, errors.New("provider down")).Once()

	started, err := h.chat.Start(ctx, StartRequest{ChatbotID: bot.ID})
	require.NoError(t, err)

	resp, err := h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "hi"})
	require.NoError(t, err)

	assert.Equal(t, []string{bot.Fallback()}, contents(resp.Messages))
	assert.Equal(t, models.ConversationStatusActive, resp.Status)
}

func TestChat_TurnsOfOneConversationDoNotInterleave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bot := h.aiBot(t)
	bot.Greeting = ""
	require.NoError(t, h.store.ChatbotRepository().Save(ctx, bot))

	h.completion.On("GenerateResponse", mock.Anything, mock.Anything).
		Return(&protocol.Completion{Content: "ok"}, nil)

	started, err := h.chat.Start(ctx, StartRequest{ChatbotID: bot.ID})
	require.NoError(t, err)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "ping"})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	history := h.history(t, started.ConversationID)
	require.Len(t, history, 16)

	for i, msg := range history {
		want := models.MessageRoleUser
		if i%2 == 1 {
			want = models.MessageRoleAssistant
		}

		assert.Equal(t, want, msg.Role, "message %d", i)
	}
}

func TestChat_MessageLimit(t *testing.T) {
	meter := billing.NewMemoryMeter(1)
	h := newHarnessWith(t, harnessOptions{Meter: meter})
	ctx := context.Background()
	bot := h.workflowBot(t, handoffWorkflow())

	started, err := h.chat.Start(ctx, StartRequest{ChatbotID: bot.ID})
	require.NoError(t, err)

	_, err = h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "Ada"})
	require.NoError(t, err)

	// The bot handed off: messages for the human are neither limited nor counted.
	reply, err := h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "still there?"})
	require.NoError(t, err)
	assert.Empty(t, reply.Messages)

	allowance, err := meter.CheckMessageLimit(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, allowance.Allowed)
	assert.Equal(t, 0, allowance.Remaining)

	_, err = h.agent.ReturnToBot(ctx, testActor, started.ConversationID)
	require.NoError(t, err)

	_, err = h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "again"})
	require.ErrorIs(t, err, ErrMessageLimitExceeded)
	assert.True(t, IsRateLimitError(err))
}

func TestChat_SubmitFeedback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bot := h.workflowBot(t, handoffWorkflow())

	started, err := h.chat.Start(ctx, StartRequest{ChatbotID: bot.ID})
	require.NoError(t, err)

	greeting := started.Messages[0]
	rating, text := 5, "quick answer"

	updated, err := h.chat.SubmitFeedback(ctx, SubmitFeedbackRequest{
		SessionID: started.SessionID,
		MessageID: greeting.ID,
		Rating:    &rating,
		Text:      &text,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.FeedbackRating)
	assert.Equal(t, 5, *updated.FeedbackRating)
	assert.Equal(t, "quick answer", *updated.FeedbackText)
	assert.Equal(t, greeting.Content, updated.Content)

	_, err = h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "Ada"})
	require.NoError(t, err)

	history := h.history(t, started.ConversationID)
	userMessage := history[2]
	require.Equal(t, models.MessageRoleUser, userMessage.Role)

	tests := []struct {
		name    string
		req     SubmitFeedbackRequest
		wantErr error
	}{
		{"rating out of range", SubmitFeedbackRequest{MessageID: greeting.ID, Rating: ptr(6)}, ErrInvalidRating},
		{"nothing to record", SubmitFeedbackRequest{MessageID: greeting.ID}, ErrInvalidRequest},
		{"user message", SubmitFeedbackRequest{MessageID: userMessage.ID, Rating: ptr(3)}, ErrNotAssistantMsg},
		{"unknown message", SubmitFeedbackRequest{MessageID: "nope", Rating: ptr(3)}, ErrMessageNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.SessionID = started.SessionID

			_, err := h.chat.SubmitFeedback(ctx, tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestChat_History(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bot := h.workflowBot(t, handoffWorkflow())

	started, err := h.chat.Start(ctx, StartRequest{ChatbotID: bot.ID})
	require.NoError(t, err)

	_, err = h.chat.SubmitMessage(ctx, SubmitMessageRequest{SessionID: started.SessionID, Content: "Ada"})
	require.NoError(t, err)

	history, err := h.chat.History(ctx, started.SessionID)
	require.NoError(t, err)

	assert.Equal(t, started.ConversationID, history.ConversationID)
	assert.Equal(t, models.ConversationStatusWaitingForHuman, history.Status)
	assert.Equal(t, []string{
		"Hi! How can I help?",
		"What is your name?",
		"Ada",
		"Thanks Ada, connecting you to a person.",
	}, contents(history.Messages))
}

func ptr[T any](v T) *T {
	return &v
}
