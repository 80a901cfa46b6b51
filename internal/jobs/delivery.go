package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/task-notifier/internal/delivery"
	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
	"github.com/cuongbtq/task-notifier/internal/uow"
)

const redriveBatch = 500

// RedriveStore resets stale delivery jobs.
type RedriveStore interface {
	ResetStale(ctx context.Context, tx sqlx.ExtContext, staleBefore time.Time, limit int) ([]domain.DeliveryJob, error)
}

// DeliveryRedrive re-drives delivery jobs that no process has touched for
// staleAfter, covering processes that crashed and never came back. The jobs
// are enqueued in this process after the reset commits.
type DeliveryRedrive struct {
	store      RedriveStore
	queue      *delivery.Queue
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewDeliveryRedrive creates a new DeliveryRedrive job
func NewDeliveryRedrive(store RedriveStore, queue *delivery.Queue, staleAfter time.Duration, logger *slog.Logger) *DeliveryRedrive {
	return &DeliveryRedrive{store: store, queue: queue, staleAfter: staleAfter, now: time.Now, logger: logger}
}

func (j *DeliveryRedrive) Name() string { return NameDeliveryRedrive }

func (j *DeliveryRedrive) Run(ctx context.Context, tx *uow.Tx) error {
	stale, err := j.store.ResetStale(ctx, tx, j.now().Add(-j.staleAfter), redriveBatch)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	tx.AfterCommit(func(context.Context) {
		for i := range stale {
			job := &stale[i]
			j.queue.Enqueue(delivery.Entry{JobID: job.ID, Payload: job.Payload(), Attempt: job.AttemptCount})
		}
	})

	j.logger.Info("Stale delivery jobs reset", slog.Int("count", len(stale)))
	return nil
}

// PruneStore deletes terminal delivery jobs.
type PruneStore interface {
	PruneTerminal(ctx context.Context, tx sqlx.ExtContext, before time.Time) (int64, error)
}

// DeliveryPrune deletes SENT and FAILED jobs older than the retention.
type DeliveryPrune struct {
	store     PruneStore
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewDeliveryPrune creates a new DeliveryPrune job
func NewDeliveryPrune(store PruneStore, retention time.Duration, logger *slog.Logger) *DeliveryPrune {
	return &DeliveryPrune{store: store, retention: retention, now: time.Now, logger: logger}
}

func (j *DeliveryPrune) Name() string { return NameDeliveryPrune }

func (j *DeliveryPrune) Run(ctx context.Context, tx *uow.Tx) error {
	before := j.now().Add(-j.retention)
	n, err := j.store.PruneTerminal(ctx, tx, before)
	if err != nil {
		return err
	}

	j.logger.Info("Pruned delivery log", slog.Int64("deleted", n), slog.Time("before", before))
	return nil
}
