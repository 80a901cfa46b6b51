package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
	"github.com/cuongbtq/task-notifier/internal/testutil"
	"github.com/cuongbtq/task-notifier/internal/transport"
)

const waitFor = 2 * time.Second

func pendingJob(id string) domain.DeliveryJob {
	return domain.DeliveryJob{
		ID:            id,
		CorrelationID: "task:" + id,
		Recipient:     id + "@example.com",
		Subject:       "Task Overdue",
		Body:          "Hello",
		Status:        domain.StatusPending,
	}
}

func newTestWorker(t *testing.T, q *Queue, store WorkerStore, sender transport.Sender, maxRetries int) *Worker {
	t.Helper()

	b, err := NewBackoff(BackoffConstant, time.Millisecond, time.Millisecond)
	require.NoError(t, err)

	return NewWorker(q, store, sender, WorkerConfig{
		Logger:      testutil.DiscardLogger(),
		MaxRetries:  maxRetries,
		SendTimeout: time.Second,
		Backoff:     b,
	})
}

// runWorker starts w and returns a function that stops it and waits.
func runWorker(t *testing.T, w *Worker) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("worker did not stop")
		}
	}
}

func statusIs(store *memStore, id string, status domain.Status) func() bool {
	return func() bool { return store.get(id).Status == status }
}

func TestWorker_SendsPendingJob(t *testing.T) {
	store := newMemStore()
	store.put(pendingJob("j1"))
	sender := newScriptedSender(nil)
	q := NewQueue()

	stop := runWorker(t, newTestWorker(t, q, store, sender, 3))
	defer stop()

	q.Enqueue(Entry{JobID: "j1"})

	require.Eventually(t, statusIs(store, "j1", domain.StatusSent), waitFor, time.Millisecond)
	job := store.get("j1")
	assert.Equal(t, 1, job.AttemptCount)
	assert.True(t, job.SentAt.Valid)
	assert.Equal(t, 1, sender.callsFor("j1"))
}

func TestWorker_FailsAfterMaxRetries(t *testing.T) {
	store := newMemStore()
	store.put(pendingJob("j1"))
	sender := newScriptedSender(func(transport.Message, int) error {
		return errors.New("smtp: 421 service not available")
	})
	q := NewQueue()

	stop := runWorker(t, newTestWorker(t, q, store, sender, 3))
	defer stop()

	q.Enqueue(Entry{JobID: "j1"})

	require.Eventually(t, statusIs(store, "j1", domain.StatusFailed), waitFor, time.Millisecond)
	job := store.get("j1")
	assert.Equal(t, 3, job.AttemptCount)
	assert.Equal(t, 3, sender.callsFor("j1"))
	assert.Contains(t, job.LastError.String, "421 service not available")
}

func TestWorker_RetriesThenSucceeds(t *testing.T) {
	store := newMemStore()
	store.put(pendingJob("j1"))
	sender := newScriptedSender(func(_ transport.Message, call int) error {
		if call < 3 {
			return domain.NewTransportError(errors.New("timeout"))
		}
		return nil
	})
	q := NewQueue()

	stop := runWorker(t, newTestWorker(t, q, store, sender, 5))
	defer stop()

	q.Enqueue(Entry{JobID: "j1"})

	require.Eventually(t, statusIs(store, "j1", domain.StatusSent), waitFor, time.Millisecond)
	job := store.get("j1")
	assert.Equal(t, 3, job.AttemptCount)
	assert.Equal(t, "transport error: timeout", job.LastError.String)
}

func TestWorker_PermanentErrorFailsImmediately(t *testing.T) {
	store := newMemStore()
	store.put(pendingJob("j1"))
	sender := newScriptedSender(func(transport.Message, int) error {
		return domain.NewPermanentTransportError(errors.New("mailbox does not exist"))
	})
	q := NewQueue()

	stop := runWorker(t, newTestWorker(t, q, store, sender, 5))
	defer stop()

	q.Enqueue(Entry{JobID: "j1"})

	require.Eventually(t, statusIs(store, "j1", domain.StatusFailed), waitFor, time.Millisecond)
	assert.Equal(t, 1, store.get("j1").AttemptCount)
}

func TestWorker_SkipsClaimedJobs(t *testing.T) {
	store := newMemStore()
	done := pendingJob("done")
	done.Status = domain.StatusSent
	store.put(done)
	store.put(pendingJob("next"))
	sender := newScriptedSender(nil)
	q := NewQueue()

	stop := runWorker(t, newTestWorker(t, q, store, sender, 3))
	defer stop()

	q.Enqueue(Entry{JobID: "done"})
	q.Enqueue(Entry{JobID: "missing"})
	q.Enqueue(Entry{JobID: "next"})
	q.Enqueue(Entry{JobID: "next"})

	require.Eventually(t, statusIs(store, "next", domain.StatusSent), waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return q.Len() == 0 }, waitFor, time.Millisecond)

	assert.Zero(t, sender.callsFor("done"))
	assert.Zero(t, sender.callsFor("missing"))
	assert.Equal(t, 1, sender.callsFor("next"), "duplicate entries are discarded by the claim")
}

func TestWorker_PanicDoesNotBlockQueue(t *testing.T) {
	store := newMemStore()
	store.put(pendingJob("bad"))
	store.put(pendingJob("good"))
	sender := newScriptedSender(func(msg transport.Message, _ int) error {
		if msg.ID == "bad" {
			panic("template exploded")
		}
		return nil
	})
	q := NewQueue()

	stop := runWorker(t, newTestWorker(t, q, store, sender, 1))
	defer stop()

	q.Enqueue(Entry{JobID: "bad"})
	q.Enqueue(Entry{JobID: "good"})

	require.Eventually(t, statusIs(store, "good", domain.StatusSent), waitFor, time.Millisecond)
	require.Eventually(t, statusIs(store, "bad", domain.StatusFailed), waitFor, time.Millisecond)
	assert.Contains(t, store.get("bad").LastError.String, "sender panicked: template exploded")
}

func TestWorker_RetriesClaimAfterStorageError(t *testing.T) {
	store := newMemStore()
	store.put(pendingJob("j1"))
	store.claimErrs = 2
	sender := newScriptedSender(nil)
	q := NewQueue()

	stop := runWorker(t, newTestWorker(t, q, store, sender, 3))
	defer stop()

	q.Enqueue(Entry{JobID: "j1"})

	require.Eventually(t, statusIs(store, "j1", domain.StatusSent), waitFor, time.Millisecond)
	assert.Equal(t, 1, store.get("j1").AttemptCount)
}

func TestWorker_ShutdownDropsRetryTimers(t *testing.T) {
	store := newMemStore()
	store.put(pendingJob("j1"))
	sender := newScriptedSender(func(transport.Message, int) error { return errors.New("down") })
	q := NewQueue()

	b, err := NewBackoff(BackoffConstant, time.Hour, time.Hour)
	require.NoError(t, err)
	w := NewWorker(q, store, sender, WorkerConfig{
		Logger:      testutil.DiscardLogger(),
		MaxRetries:  3,
		SendTimeout: time.Second,
		Backoff:     b,
	})

	stop := runWorker(t, w)
	q.Enqueue(Entry{JobID: "j1"})

	require.Eventually(t, func() bool { return w.PendingRetries() == 1 }, waitFor, time.Millisecond)
	stop()

	assert.Zero(t, w.PendingRetries())
	job := store.get("j1")
	assert.Equal(t, domain.StatusPending, job.Status, "left for recovery")
	assert.Equal(t, 1, job.AttemptCount)
}

func TestWorker_InFlightSendFinishesOnShutdown(t *testing.T) {
	store := newMemStore()
	store.put(pendingJob("slow"))

	started := make(chan struct{})
	release := make(chan struct{})
	sender := newScriptedSender(func(transport.Message, int) error {
		close(started)
		<-release
		return nil
	})
	q := NewQueue()

	w := newTestWorker(t, q, store, sender, 3)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	q.Enqueue(Entry{JobID: "slow"})
	<-started
	cancel()

	select {
	case <-done:
		t.Fatal("worker returned before the in-flight send finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, domain.StatusSent, store.get("slow").Status)
}
