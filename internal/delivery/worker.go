package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/task-notifier/internal/config"
	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
	"github.com/cuongbtq/task-notifier/internal/transport"
)

// statusUpdateTimeout bounds the bookkeeping writes that follow a send. The
// recovery grace period is derived from it.
const statusUpdateTimeout = config.StatusUpdateTimeout

// WorkerStore is the part of the delivery log the worker writes to.
type WorkerStore interface {
	MarkInFlight(ctx context.Context, id string) (*domain.DeliveryJob, error)
	MarkTerminal(ctx context.Context, id string, status domain.Status, errMsg string) error
	MarkRetry(ctx context.Context, id string, errMsg string) error
}

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	Logger *slog.Logger
	// MaxRetries is the total number of send attempts per job.
	MaxRetries  int
	SendTimeout time.Duration
	Backoff     Backoff
}

// Worker is the single consumer of the dispatch queue. It claims each job,
// sends it and records the outcome.
type Worker struct {
	queue  *Queue
	store  WorkerStore
	sender transport.Sender
	logger *slog.Logger

	maxRetries  int
	sendTimeout time.Duration
	backoff     Backoff

	mu       sync.Mutex
	timers   map[*time.Timer]struct{}
	stopping bool
}

// NewWorker creates a new worker instance
func NewWorker(queue *Queue, store WorkerStore, sender transport.Sender, cfg WorkerConfig) *Worker {
	return &Worker{
		queue:       queue,
		store:       store,
		sender:      sender,
		logger:      cfg.Logger,
		maxRetries:  max(cfg.MaxRetries, 1),
		sendTimeout: cfg.SendTimeout,
		backoff:     cfg.Backoff,
		timers:      make(map[*time.Timer]struct{}),
	}
}

// Run consumes the queue until ctx is canceled. A send in progress when ctx
// is canceled runs to completion, bounded by the send timeout. Pending retry
// timers are dropped on return; their rows stay PENDING for recovery.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Delivery worker started",
		slog.Int("max_retries", w.maxRetries),
		slog.Duration("send_timeout", w.sendTimeout),
	)
	defer w.stopTimers()

	for {
		entry, ok := w.queue.Dequeue(ctx)
		if !ok {
			w.logger.Info("Delivery worker stopped", slog.Int("queued", w.queue.Len()))
			return nil
		}

		w.process(context.WithoutCancel(ctx), entry)
	}
}

// process handles one entry. ctx is not canceled by shutdown.
func (w *Worker) process(ctx context.Context, entry Entry) {
	job, err := w.store.MarkInFlight(ctx, entry.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			w.logger.Debug("Delivery job already claimed or finished, skipping",
				slog.String("job_id", entry.JobID),
			)
			return
		}

		// The row is still PENDING; try again later.
		w.logger.Error("Failed to claim delivery job",
			slog.String("job_id", entry.JobID),
			slog.Any("error", err),
		)
		w.scheduleRetry(entry, w.backoff.Delay(entry.Attempt+1))
		return
	}

	log := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("correlation_id", job.CorrelationID),
		slog.Int("attempt", job.AttemptCount),
	)

	sendErr := w.send(ctx, job)
	if sendErr == nil {
		w.finish(ctx, log, job.ID, domain.StatusSent, "")
		log.Info("Notification sent")
		return
	}

	if !domain.IsPermanent(sendErr) && job.AttemptCount < w.maxRetries {
		delay := w.backoff.Delay(job.AttemptCount)

		updateCtx, cancel := context.WithTimeout(ctx, statusUpdateTimeout)
		defer cancel()

		if err := w.store.MarkRetry(updateCtx, job.ID, sendErr.Error()); err != nil {
			log.Error("Failed to record retry, leaving job for recovery", slog.Any("error", err))
			return
		}

		log.Warn("Notification send failed, will retry",
			slog.Any("error", sendErr),
			slog.Duration("retry_after", delay),
		)
		w.scheduleRetry(Entry{JobID: job.ID, Payload: job.Payload(), Attempt: job.AttemptCount}, delay)
		return
	}

	w.finish(ctx, log, job.ID, domain.StatusFailed, sendErr.Error())
	log.Error("Notification failed permanently",
		slog.Any("error", sendErr),
		slog.Int("max_retries", w.maxRetries),
	)
}

// send runs the transport with the send timeout and turns panics and
// untyped errors into TransportErrors.
func (w *Worker) send(ctx context.Context, job *domain.DeliveryJob) (err error) {
	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = domain.NewTransportError(fmt.Errorf("sender panicked: %v", p))
		}
	}()

	err = w.sender.Send(sendCtx, transport.Message{
		ID:            job.ID,
		To:            job.Recipient,
		Subject:       job.Subject,
		Body:          job.Body,
		CorrelationID: job.CorrelationID,
	})
	if err == nil {
		return nil
	}

	var te *domain.TransportError
	if !errors.As(err, &te) {
		err = domain.NewTransportError(err)
	}
	return err
}

func (w *Worker) finish(ctx context.Context, log *slog.Logger, id string, status domain.Status, errMsg string) {
	updateCtx, cancel := context.WithTimeout(ctx, statusUpdateTimeout)
	defer cancel()

	if err := w.store.MarkTerminal(updateCtx, id, status, errMsg); err != nil {
		// The row stays IN_FLIGHT and is picked up by recovery.
		log.Error("Failed to record delivery outcome",
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
	}
}

func (w *Worker) scheduleRetry(entry Entry, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopping {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		w.mu.Lock()
		_, live := w.timers[t]
		delete(w.timers, t)
		w.mu.Unlock()

		if live {
			w.queue.Enqueue(entry)
		}
	})
	w.timers[t] = struct{}{}
}

func (w *Worker) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopping = true
	for t := range w.timers {
		t.Stop()
		delete(w.timers, t)
	}
}

// PendingRetries returns the number of armed retry timers.
func (w *Worker) PendingRetries() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}
