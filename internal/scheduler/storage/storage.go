// Package storage keeps the scheduler's activation ledger in the
// scheduled_job_runs table.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/task-notifier/internal/uow"
)

// Storage records the last activation each scheduled job ran for.
type Storage struct {
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(logger *slog.Logger) *Storage {
	return &Storage{logger: logger}
}

// Begin records activation for name inside tx. The upsert only moves
// last_activation forward, so it reports false when the same or a later
// activation is already recorded. Rolling tx back forgets the activation.
func (s *Storage) Begin(ctx context.Context, tx *uow.Tx, name string, activation time.Time) (bool, error) {
	query := `
		INSERT INTO scheduled_job_runs (name, last_activation, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET last_activation = EXCLUDED.last_activation,
		    updated_at = NOW()
		WHERE scheduled_job_runs.last_activation < EXCLUDED.last_activation
	`

	// timestamptz keeps microseconds.
	res, err := tx.ExecContext(ctx, query, name, activation.UTC().Truncate(time.Microsecond))
	if err != nil {
		return false, fmt.Errorf("record activation of %s: %w", name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record activation of %s: %w", name, err)
	}
	if n == 0 {
		s.logger.Debug("Activation already recorded",
			slog.String("job", name),
			slog.Time("activation", activation),
		)
		return false, nil
	}
	return true, nil
}
