package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
)

// RecoveryStore is the part of the delivery log the sweeper reads.
type RecoveryStore interface {
	ListRecoverable(ctx context.Context) ([]domain.DeliveryJob, error)
	ResetInFlight(ctx context.Context, id string, olderThan time.Duration) (bool, error)
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Enqueued int
	Reset    int
	Skipped  int
}

// Sweeper re-drives jobs left PENDING or IN_FLIGHT by a previous process.
type Sweeper struct {
	store  RecoveryStore
	queue  *Queue
	grace  time.Duration
	logger *slog.Logger
}

// NewSweeper creates a sweeper. IN_FLIGHT rows younger than grace are left
// alone; zero resets every IN_FLIGHT row.
func NewSweeper(store RecoveryStore, queue *Queue, grace time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, queue: queue, grace: grace, logger: logger}
}

// Sweep enqueues every recoverable job at most once. IN_FLIGHT rows are
// first reset to PENDING with a conditional update; a row that fails the
// update belongs to someone else and is skipped. Running Sweep again only
// enqueues duplicates that the worker's claim step discards.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	jobs, err := s.store.ListRecoverable(ctx)
	if err != nil {
		return res, err
	}

	seen := make(map[string]struct{}, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		if _, dup := seen[job.ID]; dup {
			continue
		}
		seen[job.ID] = struct{}{}

		if job.Status == domain.StatusInFlight {
			ok, err := s.store.ResetInFlight(ctx, job.ID, s.grace)
			if err != nil {
				return res, err
			}
			if !ok {
				res.Skipped++
				continue
			}
			res.Reset++
		}

		s.queue.Enqueue(Entry{JobID: job.ID, Payload: job.Payload(), Attempt: job.AttemptCount})
		res.Enqueued++
	}

	s.logger.Info("Delivery recovery sweep finished",
		slog.Int("recoverable", len(jobs)),
		slog.Int("enqueued", res.Enqueued),
		slog.Int("reset_in_flight", res.Reset),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}
