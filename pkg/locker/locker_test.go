package locker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exercise checks that holders of the same key never overlap while other
// keys proceed independently.
var (
	_ Locker = (*MemoryLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)

func exercise(t *testing.T, l Locker) {
	t.Helper()

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock, err := l.Lock(context.Background(), "conv-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			if inside.Add(1) > 1 {
				overlap.Store(true)
			}

			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
		}()
	}

	other, err := l.Lock(context.Background(), "conv-2")
	require.NoError(t, err)
	other()

	wg.Wait()

	assert.False(t, overlap.Load())
}

func TestMemoryLocker_Serializes(t *testing.T) {
	l := NewMemoryLocker()

	exercise(t, l)

	assert.Empty(t, l.locks)
}

func TestMemoryLocker_ContextCancelled(t *testing.T) {
	l := NewMemoryLocker()

	unlock, err := l.Lock(context.Background(), "conv-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "conv-1")
	require.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock()

	again, err := l.Lock(context.Background(), "conv-1")
	require.NoError(t, err)
	again()

	assert.Empty(t, l.locks)
}
