// Package uowtest provides an in-memory unit of work runner for tests of
// code that only needs the commit boundary, not a database.
package uowtest

import (
	"context"
	"sync"

	"github.com/cuongbtq/task-notifier/internal/uow"
)

// Runner mimics uow.Runner without a database: hooks fire only when fn
// succeeds, and a nested Do joins the outer unit of work.
type Runner struct {
	// CommitErr, when set, makes every outermost Do fail at commit.
	CommitErr error

	mu        sync.Mutex
	commits   int
	rollbacks int
}

// Do implements uow.TxRunner.
func (r *Runner) Do(ctx context.Context, fn uow.Func) (err error) {
	if outer, ok := uow.FromContext(ctx); ok {
		return fn(ctx, outer)
	}

	tx := uow.NewTx(nil)
	txCtx := uow.WithTx(ctx, tx)

	defer func() {
		if p := recover(); p != nil {
			tx.Discard()
			r.count(&r.rollbacks)
			panic(p)
		}
	}()

	if err = fn(txCtx, tx); err != nil {
		tx.Discard()
		r.count(&r.rollbacks)
		return err
	}

	if r.CommitErr != nil {
		tx.Discard()
		r.count(&r.rollbacks)
		return r.CommitErr
	}

	r.count(&r.commits)
	tx.FireAfterCommit(ctx)
	return nil
}

func (r *Runner) count(n *int) {
	r.mu.Lock()
	*n++
	r.mu.Unlock()
}

// Commits returns the number of committed units of work.
func (r *Runner) Commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commits
}

// Rollbacks returns the number of rolled back units of work.
func (r *Runner) Rollbacks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rollbacks
}
