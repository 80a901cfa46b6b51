// Package delivery implements the durable notification pipeline: jobs are
// appended to the delivery log inside the caller's unit of work, enqueued
// after commit and sent by a single worker per process.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
	"github.com/cuongbtq/task-notifier/internal/uow"
)

// LogStore is the part of the delivery log the service uses.
type LogStore interface {
	Append(ctx context.Context, tx sqlx.ExtContext, job *domain.DeliveryJob) error
	GetByID(ctx context.Context, id string) (*domain.DeliveryJob, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.DeliveryJob, bool, error)
}

// Service is the entry point for producing notifications and reading their
// delivery state.
type Service struct {
	store  LogStore
	queue  *Queue
	runner uow.TxRunner
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates a new Service
func NewService(store LogStore, queue *Queue, runner uow.TxRunner, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		queue:  queue,
		runner: runner,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Notify appends a PENDING job in tx and enqueues it once tx commits. If tx
// rolls back the job never existed and nothing is enqueued.
func (s *Service) Notify(ctx context.Context, tx *uow.Tx, p domain.Payload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	job := &domain.DeliveryJob{
		ID:            s.newID(),
		CorrelationID: p.CorrelationID,
		Recipient:     p.Recipient,
		Subject:       p.Subject,
		Body:          p.Body,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Append(ctx, tx, job); err != nil {
		return "", err
	}

	tx.AfterCommit(func(context.Context) {
		if !s.queue.Enqueue(Entry{JobID: job.ID, Payload: p}) {
			s.logger.Warn("Dispatch queue closed, job left for recovery", slog.String("job_id", job.ID))
		}
	})

	s.logger.Debug("Notification appended",
		slog.String("job_id", job.ID),
		slog.String("correlation_id", job.CorrelationID),
	)
	return job.ID, nil
}

// EnqueueNotification appends p in its own unit of work and returns after
// commit and enqueue. Called with a context that already carries a unit of
// work, it joins that one instead.
func (s *Service) EnqueueNotification(ctx context.Context, p domain.Payload) (string, error) {
	var id string
	err := s.runner.Do(ctx, func(ctx context.Context, tx *uow.Tx) error {
		var err error
		id, err = s.Notify(ctx, tx, p)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetDeliveryJob returns the job with the given id.
func (s *Service) GetDeliveryJob(ctx context.Context, id string) (*domain.DeliveryJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrJobNotFound
	}
	return s.store.GetByID(ctx, id)
}

// GetDeliveryStatus returns the current status of a job.
func (s *Service) GetDeliveryStatus(ctx context.Context, id string) (domain.Status, error) {
	job, err := s.GetDeliveryJob(ctx, id)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// ListDeliveryJobs returns one page of the delivery log, newest first.
func (s *Service) ListDeliveryJobs(ctx context.Context, filter domain.ListFilter) ([]domain.DeliveryJob, bool, error) {
	return s.store.List(ctx, filter)
}
