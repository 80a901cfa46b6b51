package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
	"github.com/cuongbtq/task-notifier/shared/postgresql"
)

const jobColumns = `id, correlation_id, recipient, subject, body, status, attempt_count,
	last_error, sent_at, created_at, updated_at`

// Storage is the delivery log backed by the delivery_jobs table.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// Append inserts job as PENDING using the caller's transaction. ID and
// timestamps must already be set.
func (s *Storage) Append(ctx context.Context, tx sqlx.ExtContext, job *domain.DeliveryJob) error {
	query := `
		INSERT INTO delivery_jobs (id, correlation_id, recipient, subject, body, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
	`

	_, err := tx.ExecContext(ctx, query,
		job.ID, job.CorrelationID, job.Recipient, job.Subject, job.Body,
		domain.StatusPending, job.CreatedAt,
	)
	if err != nil {
		return domain.NewStorageError("append delivery job", err)
	}

	job.Status = domain.StatusPending
	job.AttemptCount = 0
	job.UpdatedAt = job.CreatedAt
	return nil
}

// MarkInFlight claims the job with a single conditional update and counts
// the attempt. It returns domain.ErrAlreadyClaimed when the row is not
// PENDING, which includes rows another worker claimed first.
func (s *Storage) MarkInFlight(ctx context.Context, id string) (*domain.DeliveryJob, error) {
	query := `
		UPDATE delivery_jobs
		SET status = $1,
		    attempt_count = attempt_count + 1,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
		RETURNING ` + jobColumns

	var job domain.DeliveryJob
	err := s.db.GetContext(ctx, &job, query, domain.StatusInFlight, id, domain.StatusPending)
	if err != nil {
		if postgresql.IsNotFound(err) {
			return nil, domain.ErrAlreadyClaimed
		}
		return nil, domain.NewStorageError("mark in flight", err)
	}

	s.logger.Debug("Delivery job claimed",
		slog.String("job_id", id),
		slog.Int("attempt", job.AttemptCount),
	)
	return &job, nil
}

// MarkTerminal moves an IN_FLIGHT job to SENT or FAILED.
func (s *Storage) MarkTerminal(ctx context.Context, id string, status domain.Status, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("mark terminal: %q is not a terminal status", status)
	}

	query := `
		UPDATE delivery_jobs
		SET status = $1::text,
		    last_error = CASE WHEN $2::text = '' THEN last_error ELSE $2::text END,
		    sent_at = CASE WHEN $1::text = $3::text THEN NOW() ELSE sent_at END,
		    updated_at = NOW()
		WHERE id = $4
		  AND status = $5
	`

	return s.transition(ctx, "mark terminal", query, status, errMsg, domain.StatusSent, id, domain.StatusInFlight)
}

// MarkRetry returns an IN_FLIGHT job to PENDING after a failed attempt.
func (s *Storage) MarkRetry(ctx context.Context, id string, errMsg string) error {
	query := `
		UPDATE delivery_jobs
		SET status = $1,
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $3
		  AND status = $4
	`

	return s.transition(ctx, "mark retry", query, domain.StatusPending, errMsg, id, domain.StatusInFlight)
}

// ResetInFlight returns an IN_FLIGHT job to PENDING if it has not been
// touched for at least olderThan. It reports whether the row was reset.
func (s *Storage) ResetInFlight(ctx context.Context, id string, olderThan time.Duration) (bool, error) {
	query := `
		UPDATE delivery_jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
		  AND updated_at <= NOW() - ($4::double precision * INTERVAL '1 millisecond')
	`

	err := s.transition(ctx, "reset in flight", query,
		domain.StatusPending, id, domain.StatusInFlight, olderThan.Milliseconds())
	if errors.Is(err, domain.ErrAlreadyClaimed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Storage) transition(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.NewStorageError(op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewStorageError(op, err)
	}
	if n == 0 {
		return domain.ErrAlreadyClaimed
	}
	return nil
}

// ListRecoverable returns every PENDING or IN_FLIGHT job, oldest first.
func (s *Storage) ListRecoverable(ctx context.Context) ([]domain.DeliveryJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM delivery_jobs
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC, id ASC
	`

	var jobs []domain.DeliveryJob
	if err := s.db.SelectContext(ctx, &jobs, query, domain.StatusPending, domain.StatusInFlight); err != nil {
		return nil, domain.NewStorageError("list recoverable", err)
	}
	return jobs, nil
}

// ResetStale moves recoverable jobs untouched since staleBefore back to
// PENDING inside tx and returns them, oldest first. Rows locked by a
// concurrent claim are skipped.
func (s *Storage) ResetStale(ctx context.Context, tx sqlx.ExtContext, staleBefore time.Time, limit int) ([]domain.DeliveryJob, error) {
	query := `
		UPDATE delivery_jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE id IN (
			SELECT id FROM delivery_jobs
			WHERE status IN ($1, $2)
			  AND updated_at < $3
			ORDER BY created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var jobs []domain.DeliveryJob
	if err := sqlx.SelectContext(ctx, tx, &jobs, query,
		domain.StatusPending, domain.StatusInFlight, staleBefore, limit); err != nil {
		return nil, domain.NewStorageError("reset stale", err)
	}

	sortByCreated(jobs)
	return jobs, nil
}

// PruneTerminal deletes SENT and FAILED jobs last updated before the cutoff.
func (s *Storage) PruneTerminal(ctx context.Context, tx sqlx.ExtContext, before time.Time) (int64, error) {
	query := `
		DELETE FROM delivery_jobs
		WHERE status IN ($1, $2)
		  AND updated_at < $3
	`

	res, err := tx.ExecContext(ctx, query, domain.StatusSent, domain.StatusFailed, before)
	if err != nil {
		return 0, domain.NewStorageError("prune terminal", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.NewStorageError("prune terminal", err)
	}
	return n, nil
}

// GetByID retrieves a delivery job by its ID
func (s *Storage) GetByID(ctx context.Context, id string) (*domain.DeliveryJob, error) {
	query := `SELECT ` + jobColumns + ` FROM delivery_jobs WHERE id = $1`

	var job domain.DeliveryJob
	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if postgresql.IsNotFound(err) {
			return nil, domain.ErrJobNotFound
		}
		return nil, domain.NewStorageError("get delivery job", err)
	}
	return &job, nil
}

// List returns one page of jobs, newest first, and whether more pages exist.
func (s *Storage) List(ctx context.Context, filter domain.ListFilter) ([]domain.DeliveryJob, bool, error) {
	var (
		conditions []string
		args       []any
	)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		conditions = append(conditions, "status = "+arg(filter.Status))
	}
	if filter.CorrelationID != "" {
		conditions = append(conditions, "correlation_id = "+arg(filter.CorrelationID))
	}
	if filter.Cursor != nil {
		conditions = append(conditions, fmt.Sprintf("(created_at, id) < (%s, %s)",
			arg(filter.Cursor.CreatedAt), arg(filter.Cursor.ID)))
	}

	query := `SELECT ` + jobColumns + ` FROM delivery_jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(filter.PageSize+1)

	var jobs []domain.DeliveryJob
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, false, domain.NewStorageError("list delivery jobs", err)
	}

	hasMore := len(jobs) > filter.PageSize
	if hasMore {
		jobs = jobs[:filter.PageSize]
	}
	return jobs, hasMore, nil
}

func sortByCreated(jobs []domain.DeliveryJob) {
	slices.SortFunc(jobs, func(a, b domain.DeliveryJob) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
