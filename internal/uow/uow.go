// Package uow provides the unit of work boundary: one transaction per
// request or scheduled tick, with hooks that run only after commit.
package uow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/task-notifier/shared/logger"
)

// Func is the body of a unit of work.
type Func func(ctx context.Context, tx *Tx) error

// TxRunner runs a Func inside a unit of work.
type TxRunner interface {
	Do(ctx context.Context, fn Func) error
}

// Tx is the transactional handle scoped to one unit of work. It satisfies
// sqlx.ExtContext so stores can run queries on it directly.
type Tx struct {
	*sqlx.Tx

	mu    sync.Mutex
	hooks []func(context.Context)
}

// NewTx wraps a started transaction. Runners call FireAfterCommit once the
// transaction has committed.
func NewTx(tx *sqlx.Tx) *Tx {
	return &Tx{Tx: tx}
}

// AfterCommit registers fn to run after a successful commit. Hooks are
// dropped on rollback.
func (t *Tx) AfterCommit(fn func(ctx context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// FireAfterCommit runs the registered hooks in registration order. A
// panicking hook is logged and does not stop the remaining hooks.
func (t *Tx) FireAfterCommit(ctx context.Context) {
	t.mu.Lock()
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()

	for _, hook := range hooks {
		runHook(ctx, hook)
	}
}

// Discard drops the registered hooks.
func (t *Tx) Discard() {
	t.mu.Lock()
	t.hooks = nil
	t.mu.Unlock()
}

func runHook(ctx context.Context, hook func(context.Context)) {
	defer func() {
		if p := recover(); p != nil {
			logger.FromContext(ctx).Error("after-commit hook panicked", slog.Any("panic", p))
		}
	}()
	hook(ctx)
}

type txKey struct{}

// FromContext returns the unit of work carried by ctx, if any.
func FromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok
}

// WithTx returns a context carrying tx, so nested units of work join it.
func WithTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Runner opens units of work on a sqlx pool.
type Runner struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewRunner creates a new Runner
func NewRunner(db *sqlx.DB, logger *slog.Logger) *Runner {
	return &Runner{db: db, logger: logger}
}

// Do begins a transaction, runs fn and commits if fn returns nil. On error
// or panic the transaction is rolled back and no hooks run; a panic is
// re-raised after rollback. If ctx already carries a unit of work, fn joins
// it and commit is left to the outermost Do.
func (r *Runner) Do(ctx context.Context, fn Func) (err error) {
	if outer, ok := FromContext(ctx); ok {
		return fn(ctx, outer)
	}

	sqlTx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := NewTx(sqlTx)
	txCtx := WithTx(ctx, tx)

	defer func() {
		if p := recover(); p != nil {
			tx.Discard()
			if rbErr := sqlTx.Rollback(); rbErr != nil {
				r.logger.Error("failed to roll back transaction after panic",
					slog.Any("error", rbErr),
					slog.Any("panic", p),
				)
			} else {
				r.logger.Error("rolled back transaction after panic", slog.Any("panic", p))
			}
			panic(p)
		}
	}()

	if err = fn(txCtx, tx); err != nil {
		tx.Discard()
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			r.logger.Error("failed to roll back transaction",
				slog.Any("rollback_error", rbErr),
				slog.Any("original_error", err),
			)
			return fmt.Errorf("error rolling back transaction: %v (original error: %w)", rbErr, err)
		}
		r.logger.Debug("rolled back transaction due to error", slog.Any("error", err))
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		tx.Discard()
		r.logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	tx.FireAfterCommit(ctx)
	return nil
}
