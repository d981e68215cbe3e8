package ai

import (
	"errors"
	"strings"
	"testing"

	"github.com/dukex/chatflow/pkg/mocks"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newExec(input string) *protocol.ExecutionContext {
	state := models.NewExecutionState()
	if input != "" {
		state.AppendTurn(models.MessageRoleUser, input)
	}

	return &protocol.ExecutionContext{
		ConversationID: "conv-1",
		Chatbot: &models.Chatbot{
			ID: "bot-1", Model: "gpt-test", Temperature: 0.7, MaxTokens: 200,
			SystemPrompt: "You are helpful.", KnowledgeBaseID: "kb-1",
		},
		State: &state,
		Input: input,
	}
}

func TestResponseNode_AppendsCompletion(t *testing.T) {
	completion := &mocks.MockCompletionClient{}
	completion.On("GenerateResponse", mock.Anything, mock.MatchedBy(func(req protocol.CompletionRequest) bool {
		return req.Model == "gpt-test" &&
			req.MaxTokens == 200 &&
			len(req.Messages) == 2 &&
			req.Messages[0].Role == models.MessageRoleSystem &&
			req.Messages[1].Content == "hi"
	})).Return(&protocol.Completion{
		Content: " Hello there! ",
		Usage:   protocol.Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13},
	}, nil)

	node, err := NewResponseNode("ai", map[string]any{"responseVariable": "answer"}, NewResponder(nil, completion, nil))
	require.NoError(t, err)

	exec := newExec("hi")
	outcome, err := node.Execute(t.Context(), exec)
	require.NoError(t, err)

	require.Len(t, outcome.Messages, 1)
	msg := outcome.Messages[0]
	assert.Equal(t, "Hello there!", msg.Content)
	assert.Equal(t, "ai", msg.NodeID)
	require.NotNil(t, msg.AI)
	assert.Equal(t, "gpt-test", msg.AI.Model)
	assert.Equal(t, 13, msg.AI.TotalTokens)
	assert.Equal(t, "Hello there!", exec.Variables().String("answer"))
	completion.AssertExpectations(t)
}

func TestResponseNode_KnowledgeAugmentation(t *testing.T) {
	knowledge := &mocks.MockKnowledgeSearcher{}
	knowledge.On("Search", mock.Anything, "kb-1", "refund policy?", 2).
		Return([]protocol.KnowledgeResult{{ID: "d1", Content: "Refunds within 30 days."}}, nil)

	completion := &mocks.MockCompletionClient{}
	completion.On("GenerateResponse", mock.Anything, mock.MatchedBy(func(req protocol.CompletionRequest) bool {
		return req.Messages[0].Role == models.MessageRoleSystem &&
			strings.Contains(req.Messages[0].Content, "Refunds within 30 days.")
	})).Return(&protocol.Completion{Content: "30 days."}, nil)

	node, err := NewResponseNode("ai", map[string]any{"useKnowledgeBase": true, "kbLimit": float64(2)},
		NewResponder(nil, completion, knowledge))
	require.NoError(t, err)

	_, err = node.Execute(t.Context(), newExec("refund policy?"))
	require.NoError(t, err)

	knowledge.AssertExpectations(t)
	completion.AssertExpectations(t)
}

func TestResponseNode_KnowledgeFailureIsNotFatal(t *testing.T) {
	knowledge := &mocks.MockKnowledgeSearcher{}
	knowledge.On("Search", mock.Anything, "kb-1", "q", defaultKnowledgeLimit).Return(nil, errors.New("down"))

	completion := &mocks.MockCompletionClient{}
	completion.On("GenerateResponse", mock.Anything, mock.Anything).Return(&protocol.Completion{Content: "ok"}, nil)

	node, err := NewResponseNode("ai", map[string]any{"useKnowledgeBase": true}, NewResponder(nil, completion, knowledge))
	require.NoError(t, err)

	outcome, err := node.Execute(t.Context(), newExec("q"))
	require.NoError(t, err)
	assert.Equal(t, "ok", outcome.Messages[0].Content)
}

func TestResponseNode_Failures(t *testing.T) {
	completion := &mocks.MockCompletionClient{}
	completion.On("GenerateResponse", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()
	completion.On("GenerateResponse", mock.Anything, mock.Anything).Return(&protocol.Completion{Content: "  "}, nil).Once()

	node, err := NewResponseNode("ai", map[string]any{}, NewResponder(nil, completion, nil))
	require.NoError(t, err)

	_, err = node.Execute(t.Context(), newExec("hi"))
	require.Error(t, err)

	_, err = node.Execute(t.Context(), newExec("hi"))
	require.ErrorIs(t, err, ErrEmptyCompletion)

	noClient, err := NewResponseNode("ai", map[string]any{}, NewResponder(nil, nil, nil))
	require.NoError(t, err)

	_, err = noClient.Execute(t.Context(), newExec("hi"))
	require.ErrorIs(t, err, protocol.ErrCompletionUnavailable)
}

func intentConfig() map[string]any {
	return map[string]any{
		"variable": "intent",
		"intents": []any{
			map[string]any{"id": "billing", "name": "Billing question"},
			map[string]any{"id": "cancel", "description": "Wants to cancel"},
		},
	}
}

func TestIntentClassifierNode_Routes(t *testing.T) {
	testCases := []struct {
		answer string
		port   string
	}{
		{"billing", "billing"},
		{" Cancel. ", "cancel"},
		{"\"billing question\"", "billing"},
		{"none", OutputPortDefault},
		{"something else", OutputPortDefault},
	}

	for _, tc := range testCases {
		t.Run(tc.answer, func(t *testing.T) {
			completion := &mocks.MockCompletionClient{}
			completion.On("GenerateResponse", mock.Anything, mock.Anything).Return(&protocol.Completion{Content: tc.answer}, nil)

			node, err := NewIntentClassifierNode("intent", intentConfig(), NewResponder(nil, completion, nil))
			require.NoError(t, err)

			exec := newExec("I was charged twice")
			outcome, err := node.Execute(t.Context(), exec)
			require.NoError(t, err)
			assert.Equal(t, tc.port, outcome.Port)

			if tc.port != OutputPortDefault {
				assert.Equal(t, tc.port, exec.Variables().String("intent"))
			}
		})
	}
}

func TestIntentClassifierNode_OutputPorts(t *testing.T) {
	node, err := NewIntentClassifierNode("intent", intentConfig(), nil)
	require.NoError(t, err)

	ports := node.OutputPorts()
	require.Len(t, ports, 3)
	assert.True(t, ports[0].Required)
	assert.True(t, ports[1].Required)
	assert.Equal(t, OutputPortDefault, ports[2].Name)
	assert.False(t, ports[2].Required)
}

func TestIntentClassifierNode_InvalidConfig(t *testing.T) {
	_, err := NewIntentClassifierNode("intent", map[string]any{"intents": []any{}}, nil)
	require.Error(t, err)

	_, err = NewIntentClassifierNode("intent", map[string]any{"intents": []any{
		map[string]any{"id": "default"},
	}}, nil)
	require.Error(t, err)
}
