package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		convErr := persistence.NewConversationError("GetByID", "conv-123", persistence.ErrConversationNotFound)
		agentErr := persistence.NewAgentError("Reserve", "org-1", "agent-1", persistence.ErrNoCapacity)

		assert.True(t, persistence.IsConversationNotFound(convErr))
		assert.True(t, persistence.IsNotFound(convErr))
		assert.True(t, persistence.IsNoCapacity(agentErr))
		assert.False(t, persistence.IsNotFound(agentErr))

		assert.True(t, errors.Is(convErr, persistence.ErrConversationNotFound))
		assert.True(t, errors.Is(agentErr, persistence.ErrNoCapacity))
	})

	t.Run("conversation error contains context", func(t *testing.T) {
		err := persistence.NewConversationError("ChangeStatus", "conv-123", persistence.ErrStatusConflict)

		assert.Contains(t, err.Error(), "ChangeStatus")
		assert.Contains(t, err.Error(), "conv-123")
		assert.Contains(t, err.Error(), "status changed concurrently")
		assert.True(t, persistence.IsStatusConflict(err))
	})

	t.Run("session error names the session", func(t *testing.T) {
		err := persistence.NewSessionError("GetBySession", "sess-9", persistence.ErrConversationNotFound)

		assert.Contains(t, err.Error(), "session sess-9")
	})

	t.Run("agent error contains context", func(t *testing.T) {
		err := persistence.NewAgentError("Save", "org-1", "agent-7", errors.New("boom"))

		assert.Contains(t, err.Error(), "agent-7")
		assert.Contains(t, err.Error(), "org-1")
		assert.Contains(t, err.Error(), "boom")
	})
}
