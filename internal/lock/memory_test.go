package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_MutualExclusion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.TryAcquire(ctx, "overdue_check")
	require.NoError(t, err)
	require.True(t, first.Acquired())
	assert.Equal(t, "overdue_check", first.Lock.Name())

	second, err := m.TryAcquire(ctx, "overdue_check")
	require.NoError(t, err)
	assert.Equal(t, Unavailable, second.Outcome)
	assert.False(t, second.Acquired())
	assert.Nil(t, second.Lock)

	other, err := m.TryAcquire(ctx, "archive_completed_tasks")
	require.NoError(t, err)
	assert.True(t, other.Acquired(), "locks are per name")

	require.NoError(t, first.Lock.Release(ctx))
	require.NoError(t, first.Lock.Release(ctx), "release is idempotent")

	third, err := m.TryAcquire(ctx, "overdue_check")
	require.NoError(t, err)
	assert.True(t, third.Acquired())

	require.NoError(t, first.Lock.Release(ctx))
	assert.True(t, m.Held("overdue_check"), "a stale handle cannot release a newer holder")
}

func TestMemory_ConcurrentAcquire(t *testing.T) {
	m := NewMemory()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.TryAcquire(context.Background(), "tick")
			if err == nil && res.Acquired() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().TryAcquire(ctx, "tick")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOnce(t *testing.T) {
	calls := 0
	boom := errors.New("unlock failed")
	o := NewOnce(func(context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, o.Do(context.Background()), boom)
	assert.ErrorIs(t, o.Do(context.Background()), boom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "acquired", Acquired.String())
	assert.Equal(t, "unavailable", Unavailable.String())
}
