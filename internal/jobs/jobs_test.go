package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/task-notifier/internal/delivery"
	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
	tasks "github.com/cuongbtq/task-notifier/internal/tasks/domain"
	"github.com/cuongbtq/task-notifier/internal/testutil"
	"github.com/cuongbtq/task-notifier/internal/uow"
	"github.com/cuongbtq/task-notifier/internal/uow/uowtest"
)

var fixedClock = Clock{
	Now:      func() time.Time { return time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC) },
	Location: time.UTC,
}

func assignee(email string) tasks.Assignee {
	return tasks.Assignee{
		Email: sql.NullString{String: email, Valid: email != ""},
		Name:  sql.NullString{String: "Alice", Valid: true},
	}
}

type fakeTaskStore struct {
	states   tasks.States
	overdue  []tasks.TaskNotice
	stages   []tasks.StageNotice
	dueSoon  []tasks.TaskNotice
	archived []int64
	err      error

	today        time.Time
	dueFrom      time.Time
	dueTo        time.Time
	archiveAfter time.Time
}

func (f *fakeTaskStore) States(context.Context, sqlx.QueryerContext) (tasks.States, error) {
	return f.states, nil
}

func (f *fakeTaskStore) MarkOverdueTasks(_ context.Context, _ sqlx.ExtContext, _, _ int, today time.Time) ([]tasks.TaskNotice, error) {
	f.today = today
	return f.overdue, f.err
}

func (f *fakeTaskStore) MarkOverdueStages(context.Context, sqlx.ExtContext, int, int, time.Time) ([]tasks.StageNotice, error) {
	return f.stages, nil
}

func (f *fakeTaskStore) DueBetween(_ context.Context, _ sqlx.QueryerContext, _ int, from, to time.Time) ([]tasks.TaskNotice, error) {
	f.dueFrom, f.dueTo = from, to
	return f.dueSoon, nil
}

func (f *fakeTaskStore) ArchiveCompleted(_ context.Context, _ sqlx.ExtContext, _ int, cutoff time.Time) ([]int64, error) {
	f.archiveAfter = cutoff
	return f.archived, f.err
}

// recordingNotifier validates like the delivery service and records which
// payloads were dispatched after commit.
type recordingNotifier struct {
	mu         sync.Mutex
	appended   []domain.Payload
	dispatched []domain.Payload
	err        error
}

func (n *recordingNotifier) Notify(_ context.Context, tx *uow.Tx, p domain.Payload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if n.err != nil {
		return "", n.err
	}

	n.mu.Lock()
	n.appended = append(n.appended, p)
	id := fmt.Sprint(len(n.appended))
	n.mu.Unlock()

	tx.AfterCommit(func(context.Context) {
		n.mu.Lock()
		n.dispatched = append(n.dispatched, p)
		n.mu.Unlock()
	})
	return id, nil
}

func defaultStates() tasks.States {
	return tasks.States{tasks.StateTodo: 1, tasks.StateInProgress: 2, tasks.StateCompleted: 3, tasks.StateOverdue: 4}
}

func TestOverdueCheck_NotifiesAfterCommit(t *testing.T) {
	store := &fakeTaskStore{
		states: defaultStates(),
		overdue: []tasks.TaskNotice{
			{TaskID: 1, Name: "late", Assignee: assignee("alice@example.com")},
			{TaskID: 2, Name: "unassigned"},
		},
		stages: []tasks.StageNotice{
			{StageID: 9, StageName: "Draft", TaskID: 1, TaskName: "late", Assignee: assignee("alice@example.com")},
		},
		dueSoon: []tasks.TaskNotice{
			{TaskID: 3, Name: "tomorrow", Assignee: assignee("bob@example.com")},
		},
	}
	notifier := &recordingNotifier{}
	job := NewOverdueCheck(store, notifier, fixedClock, testutil.DiscardLogger())
	runner := &uowtest.Runner{}

	err := runner.Do(context.Background(), func(ctx context.Context, tx *uow.Tx) error {
		require.NoError(t, job.Run(ctx, tx))
		assert.Empty(t, notifier.dispatched, "nothing dispatched before commit")
		return nil
	})
	require.NoError(t, err)

	require.Len(t, notifier.dispatched, 3)
	assert.Equal(t, "Task Overdue: late", notifier.dispatched[0].Subject)
	assert.Equal(t, "Stage Overdue in Task 1", notifier.dispatched[1].Subject)
	assert.Equal(t, "Reminder: Task Due Soon - tomorrow", notifier.dispatched[2].Subject)
	assert.Equal(t, "bob@example.com", notifier.dispatched[2].Recipient)

	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), store.today)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), store.dueFrom)
	assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), store.dueTo)
}

func TestOverdueCheck_SkipsInvalidRecipient(t *testing.T) {
	store := &fakeTaskStore{
		states: defaultStates(),
		overdue: []tasks.TaskNotice{
			{TaskID: 1, Name: "bad", Assignee: assignee("not-an-email")},
			{TaskID: 2, Name: "good", Assignee: assignee("alice@example.com")},
		},
	}
	notifier := &recordingNotifier{}
	job := NewOverdueCheck(store, notifier, fixedClock, testutil.DiscardLogger())

	require.NoError(t, (&uowtest.Runner{}).Do(context.Background(), job.Run))
	require.Len(t, notifier.dispatched, 1)
	assert.Equal(t, "task:2", notifier.dispatched[0].CorrelationID)
}

func TestOverdueCheck_FailureDispatchesNothing(t *testing.T) {
	store := &fakeTaskStore{
		states:  defaultStates(),
		overdue: []tasks.TaskNotice{{TaskID: 1, Name: "late", Assignee: assignee("alice@example.com")}},
	}
	notifier := &recordingNotifier{err: domain.NewStorageError("append delivery job", errors.New("connection reset"))}
	job := NewOverdueCheck(store, notifier, fixedClock, testutil.DiscardLogger())
	runner := &uowtest.Runner{}

	err := runner.Do(context.Background(), job.Run)
	var se *domain.StorageError
	assert.ErrorAs(t, err, &se)
	assert.Empty(t, notifier.dispatched)
	assert.Equal(t, 1, runner.Rollbacks())
}

func TestOverdueCheck_MissingStates(t *testing.T) {
	store := &fakeTaskStore{states: tasks.States{tasks.StateTodo: 1}}
	notifier := &recordingNotifier{}
	job := NewOverdueCheck(store, notifier, fixedClock, testutil.DiscardLogger())

	require.NoError(t, (&uowtest.Runner{}).Do(context.Background(), job.Run))
	assert.True(t, store.today.IsZero(), "no task was touched")
}

func TestClock_TodayInLocation(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	c := Clock{
		Now:      func() time.Time { return time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC) },
		Location: loc,
	}
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, loc), c.Today())
}

func TestArchiveCompletedTasks(t *testing.T) {
	store := &fakeTaskStore{states: defaultStates(), archived: []int64{4, 5}}
	job := NewArchiveCompletedTasks(store, 30, fixedClock, testutil.DiscardLogger())
	runner := &uowtest.Runner{}

	require.NoError(t, runner.Do(context.Background(), job.Run))
	assert.Equal(t, time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC), store.archiveAfter)
	assert.Equal(t, 1, runner.Commits())

	store.err = domain.NewStorageError("archive tasks", errors.New("deadlock detected"))
	assert.Error(t, runner.Do(context.Background(), job.Run))
	assert.Equal(t, 1, runner.Rollbacks())
}

type fakeDeliveryStore struct {
	stale       []domain.DeliveryJob
	staleBefore time.Time
	pruned      int64
	pruneBefore time.Time
}

func (f *fakeDeliveryStore) ResetStale(_ context.Context, _ sqlx.ExtContext, staleBefore time.Time, _ int) ([]domain.DeliveryJob, error) {
	f.staleBefore = staleBefore
	return f.stale, nil
}

func (f *fakeDeliveryStore) PruneTerminal(_ context.Context, _ sqlx.ExtContext, before time.Time) (int64, error) {
	f.pruneBefore = before
	return f.pruned, nil
}

func TestDeliveryRedrive(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeDeliveryStore{stale: []domain.DeliveryJob{
		{ID: "a", Recipient: "a@example.com", AttemptCount: 1},
		{ID: "b", Recipient: "b@example.com"},
	}}
	q := delivery.NewQueue()
	job := NewDeliveryRedrive(store, q, 15*time.Minute, testutil.DiscardLogger())
	job.now = func() time.Time { return now }

	t.Run("rolled back", func(t *testing.T) {
		err := (&uowtest.Runner{}).Do(context.Background(), func(ctx context.Context, tx *uow.Tx) error {
			require.NoError(t, job.Run(ctx, tx))
			return errors.New("abort")
		})
		assert.Error(t, err)
		assert.Zero(t, q.Len())
	})

	t.Run("committed", func(t *testing.T) {
		require.NoError(t, (&uowtest.Runner{}).Do(context.Background(), job.Run))
		assert.Equal(t, now.Add(-15*time.Minute), store.staleBefore)
		require.Equal(t, 2, q.Len())

		e, ok := q.Dequeue(context.Background())
		require.True(t, ok)
		assert.Equal(t, "a", e.JobID)
		assert.Equal(t, 1, e.Attempt)
		assert.Equal(t, "a@example.com", e.Payload.Recipient)
	})
}

func TestDeliveryPrune(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeDeliveryStore{pruned: 12}
	job := NewDeliveryPrune(store, 30*24*time.Hour, testutil.DiscardLogger())
	job.now = func() time.Time { return now }

	require.NoError(t, (&uowtest.Runner{}).Do(context.Background(), job.Run))
	assert.Equal(t, now.AddDate(0, 0, -30), store.pruneBefore)
}
