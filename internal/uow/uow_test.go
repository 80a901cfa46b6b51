package uow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/task-notifier/internal/testutil"
	"github.com/cuongbtq/task-notifier/internal/uow"
)

func TestTx_AfterCommitOrder(t *testing.T) {
	tx := uow.NewTx(nil)

	var calls []int
	tx.AfterCommit(func(context.Context) { calls = append(calls, 1) })
	tx.AfterCommit(func(context.Context) { panic("hook failure") })
	tx.AfterCommit(func(context.Context) { calls = append(calls, 3) })

	tx.FireAfterCommit(context.Background())
	assert.Equal(t, []int{1, 3}, calls)

	tx.FireAfterCommit(context.Background())
	assert.Equal(t, []int{1, 3}, calls, "hooks fire once")
}

func TestTx_Discard(t *testing.T) {
	tx := uow.NewTx(nil)

	fired := false
	tx.AfterCommit(func(context.Context) { fired = true })
	tx.Discard()
	tx.FireAfterCommit(context.Background())

	assert.False(t, fired)
}

func TestFromContext(t *testing.T) {
	_, ok := uow.FromContext(context.Background())
	assert.False(t, ok)

	tx := uow.NewTx(nil)
	got, ok := uow.FromContext(uow.WithTx(context.Background(), tx))
	require.True(t, ok)
	assert.Same(t, tx, got)
}

func TestRunner_CommitAndRollback(t *testing.T) {
	db := testutil.OpenDB(t)
	runner := uow.NewRunner(db, testutil.DiscardLogger())
	ctx := context.Background()

	insert := func(ctx context.Context, tx *uow.Tx, email string) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO users (email) VALUES ($1)`, email)
		return err
	}
	count := func() int {
		var n int
		require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM users`))
		return n
	}

	t.Run("commit fires hooks", func(t *testing.T) {
		fired := false
		err := runner.Do(ctx, func(ctx context.Context, tx *uow.Tx) error {
			tx.AfterCommit(func(context.Context) { fired = true })
			return insert(ctx, tx, "commit@example.com")
		})
		require.NoError(t, err)
		assert.True(t, fired)
		assert.Equal(t, 1, count())
	})

	t.Run("error rolls back and drops hooks", func(t *testing.T) {
		fired := false
		boom := errors.New("boom")
		err := runner.Do(ctx, func(ctx context.Context, tx *uow.Tx) error {
			tx.AfterCommit(func(context.Context) { fired = true })
			require.NoError(t, insert(ctx, tx, "rollback@example.com"))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, fired)
		assert.Equal(t, 1, count())
	})

	t.Run("panic rolls back and re-panics", func(t *testing.T) {
		assert.PanicsWithValue(t, "job exploded", func() {
			_ = runner.Do(ctx, func(ctx context.Context, tx *uow.Tx) error {
				require.NoError(t, insert(ctx, tx, "panic@example.com"))
				panic("job exploded")
			})
		})
		assert.Equal(t, 1, count())
	})

	t.Run("nested do joins outer transaction", func(t *testing.T) {
		var hooks []string
		err := runner.Do(ctx, func(ctx context.Context, outer *uow.Tx) error {
			outer.AfterCommit(func(context.Context) { hooks = append(hooks, "outer") })
			return runner.Do(ctx, func(ctx context.Context, inner *uow.Tx) error {
				assert.Same(t, outer, inner)
				inner.AfterCommit(func(context.Context) { hooks = append(hooks, "inner") })
				assert.Empty(t, hooks, "nothing fires before the outer commit")
				return insert(ctx, inner, "nested@example.com")
			})
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"outer", "inner"}, hooks)
		assert.Equal(t, 2, count())
	})
}
