package mocks

import (
	"context"

	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockCompletionClient is a mock implementation of protocol.CompletionClient.
type MockCompletionClient struct {
	mock.Mock
}

func (m *MockCompletionClient) GenerateResponse(ctx context.Context, req protocol.CompletionRequest) (*protocol.Completion, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.Completion), args.Error(1)
}

// MockKnowledgeSearcher is a mock implementation of protocol.KnowledgeSearcher.
type MockKnowledgeSearcher struct {
	mock.Mock
}

func (m *MockKnowledgeSearcher) Search(ctx context.Context, knowledgeBaseID, query string, limit int) ([]protocol.KnowledgeResult, error) {
	args := m.Called(ctx, knowledgeBaseID, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]protocol.KnowledgeResult), args.Error(1)
}
