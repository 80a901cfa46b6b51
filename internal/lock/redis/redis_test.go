package redis

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/task-notifier/internal/testutil"
	sharedredis "github.com/cuongbtq/task-notifier/shared/redis"
)

func newCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()

	client, err := sharedredis.Connect(context.Background(), &sharedredis.Config{
		Addr: testutil.RedisAddr(t),
	}, testutil.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return New(client, opts, testutil.DiscardLogger())
}

func TestCoordinator_Lease(t *testing.T) {
	ns := rand.Int32()
	a := newCoordinator(t, Options{Namespace: ns, LeaseTTL: time.Second})
	b := newCoordinator(t, Options{Namespace: ns, LeaseTTL: time.Second})
	ctx := context.Background()

	held, err := a.TryAcquire(ctx, "overdue_check")
	require.NoError(t, err)
	require.True(t, held.Acquired())

	res, err := b.TryAcquire(ctx, "overdue_check")
	require.NoError(t, err)
	assert.False(t, res.Acquired())

	require.NoError(t, held.Lock.Release(ctx))
	require.NoError(t, held.Lock.Release(ctx))

	res, err = b.TryAcquire(ctx, "overdue_check")
	require.NoError(t, err)
	require.True(t, res.Acquired())
	require.NoError(t, res.Lock.Release(ctx))
}

func TestCoordinator_RenewalOutlivesTTL(t *testing.T) {
	ns := rand.Int32()
	a := newCoordinator(t, Options{Namespace: ns, LeaseTTL: 300 * time.Millisecond, RenewInterval: 50 * time.Millisecond})
	b := newCoordinator(t, Options{Namespace: ns, LeaseTTL: 300 * time.Millisecond})
	ctx := context.Background()

	held, err := a.TryAcquire(ctx, "archive_completed_tasks")
	require.NoError(t, err)
	require.True(t, held.Acquired())
	defer held.Lock.Release(ctx)

	time.Sleep(time.Second)

	res, err := b.TryAcquire(ctx, "archive_completed_tasks")
	require.NoError(t, err)
	assert.False(t, res.Acquired(), "renewal keeps the lease alive")
}

func TestCoordinator_ReleaseDoesNotDeleteForeignLease(t *testing.T) {
	ns := rand.Int32()
	a := newCoordinator(t, Options{Namespace: ns, LeaseTTL: time.Second})
	ctx := context.Background()

	held, err := a.TryAcquire(ctx, "delivery_prune")
	require.NoError(t, err)
	require.True(t, held.Acquired())

	// Simulate expiry and a new holder.
	key := a.key("delivery_prune")
	require.NoError(t, a.client.Set(ctx, key, "someone-else", time.Minute).Err())
	require.NoError(t, held.Lock.Release(ctx))

	owner, err := a.client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", owner)
	require.NoError(t, a.client.Del(ctx, key).Err())
}
