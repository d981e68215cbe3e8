package sqlbase

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationManager_Pending(t *testing.T) {
	t.Parallel()

	m := NewMigrationManager(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, map[int]string{
		3: "SELECT 3",
		1: "SELECT 1",
		2: "SELECT 2",
	})

	assert.Equal(t, []int{1, 2, 3}, m.pending(0))
	assert.Equal(t, []int{3}, m.pending(2))
	assert.Empty(t, m.pending(3))
}
