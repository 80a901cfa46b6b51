// Package postgres implements lock.Coordinator with PostgreSQL session
// advisory locks. Each held lock pins one pooled connection; the lock dies
// with the session, so a crashed holder never leaves it behind.
package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/task-notifier/internal/lock"
)

const releaseTimeout = 5 * time.Second

// Coordinator hands out advisory locks keyed by (namespace, hashtext(name)).
type Coordinator struct {
	db        *sqlx.DB
	namespace int32
	logger    *slog.Logger
}

// New creates a new Coordinator
func New(db *sqlx.DB, namespace int32, logger *slog.Logger) *Coordinator {
	return &Coordinator{db: db, namespace: namespace, logger: logger}
}

// TryAcquire implements lock.Coordinator. It never waits for the lock.
func (c *Coordinator) TryAcquire(ctx context.Context, name string) (lock.Result, error) {
	conn, err := c.db.Connx(ctx)
	if err != nil {
		return lock.Result{}, fmt.Errorf("failed to get lock connection: %w", err)
	}

	var acquired bool
	err = conn.QueryRowxContext(ctx,
		`SELECT pg_try_advisory_lock($1, hashtext($2))`, c.namespace, name,
	).Scan(&acquired)
	if err != nil {
		discard(conn)
		return lock.Result{}, fmt.Errorf("failed to try advisory lock %q: %w", name, err)
	}

	if !acquired {
		conn.Close()
		return lock.Result{Outcome: lock.Unavailable}, nil
	}

	l := &advisoryLock{name: name}
	l.once = lock.NewOnce(func(ctx context.Context) error {
		return c.unlock(ctx, conn, name)
	})
	return lock.Result{Outcome: lock.Acquired, Lock: l}, nil
}

// unlock releases the advisory lock and returns the connection to the pool.
// If the unlock cannot be confirmed the connection is discarded instead,
// which ends the session and with it the lock.
func (c *Coordinator) unlock(ctx context.Context, conn *sqlx.Conn, name string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	var released bool
	err := conn.QueryRowxContext(ctx,
		`SELECT pg_advisory_unlock($1, hashtext($2))`, c.namespace, name,
	).Scan(&released)

	if err != nil || !released {
		c.logger.Warn("Advisory unlock not confirmed, discarding session",
			slog.String("lock", name),
			slog.Bool("released", released),
			slog.Any("error", err),
		)
		discard(conn)
		return nil
	}

	return conn.Close()
}

func discard(conn *sqlx.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}

type advisoryLock struct {
	name string
	once *lock.Once
}

func (l *advisoryLock) Name() string { return l.name }

func (l *advisoryLock) Release(ctx context.Context) error {
	return l.once.Do(ctx)
}
