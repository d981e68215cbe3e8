package memory_test

import (
	"testing"

	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/persistence/memory"
	"github.com/dukex/chatflow/pkg/persistence/persistencetest"
)

func TestPersistence(t *testing.T) {
	persistencetest.Run(t, func(_ *testing.T) persistence.Persistence {
		return memory.NewPersistence()
	})
}
