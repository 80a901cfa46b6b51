// Package redis implements lock.Coordinator as a Redis lease. The holder
// keeps the lease alive with a background renewal; a holder that dies loses
// the lock once the TTL runs out.
//
// A lease is weaker than a session lock: if renewal stalls for longer than
// the TTL, a second holder may acquire the lock while the first is still
// running.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/task-notifier/internal/lock"
)

const releaseTimeout = 5 * time.Second

var (
	renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Options configures the lease.
type Options struct {
	Namespace     int32
	LeaseTTL      time.Duration
	RenewInterval time.Duration
}

// Coordinator hands out lease locks stored under lock:{namespace}:{name}.
type Coordinator struct {
	client goredis.UniversalClient
	opts   Options
	logger *slog.Logger
}

// New creates a new Coordinator
func New(client goredis.UniversalClient, opts Options, logger *slog.Logger) *Coordinator {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Second
	}
	if opts.RenewInterval <= 0 || opts.RenewInterval >= opts.LeaseTTL {
		opts.RenewInterval = opts.LeaseTTL / 3
	}
	return &Coordinator{client: client, opts: opts, logger: logger}
}

func (c *Coordinator) key(name string) string {
	return fmt.Sprintf("lock:%d:%s", c.opts.Namespace, name)
}

// TryAcquire implements lock.Coordinator.
func (c *Coordinator) TryAcquire(ctx context.Context, name string) (lock.Result, error) {
	key := c.key(name)
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, c.opts.LeaseTTL).Result()
	if err != nil {
		return lock.Result{}, fmt.Errorf("failed to acquire lease %q: %w", name, err)
	}
	if !ok {
		return lock.Result{Outcome: lock.Unavailable}, nil
	}

	renewCtx, stopRenew := context.WithCancel(context.WithoutCancel(ctx))
	l := &leaseLock{name: name}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.renew(renewCtx, key, token)
	}()

	l.once = lock.NewOnce(func(ctx context.Context) error {
		stopRenew()
		wg.Wait()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()

		deleted, err := releaseScript.Run(ctx, c.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release lease %q: %w", name, err)
		}
		if deleted == 0 {
			c.logger.Warn("Lease expired before release", slog.String("lock", name))
		}
		return nil
	})

	return lock.Result{Outcome: lock.Acquired, Lock: l}, nil
}

// renew extends the lease until ctx is canceled or the lease is lost.
func (c *Coordinator) renew(ctx context.Context, key, token string) {
	ticker := time.NewTicker(c.opts.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := renewScript.Run(ctx, c.client, []string{key}, token, c.opts.LeaseTTL.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("Failed to renew lease", slog.String("key", key), slog.Any("error", err))
				continue
			}
			if extended == 0 {
				c.logger.Error("Lease lost", slog.String("key", key))
				return
			}
		}
	}
}

type leaseLock struct {
	name string
	once *lock.Once
}

func (l *leaseLock) Name() string { return l.name }

func (l *leaseLock) Release(ctx context.Context) error {
	return l.once.Do(ctx)
}
