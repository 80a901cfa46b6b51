package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	tasks "github.com/cuongbtq/task-notifier/internal/tasks/domain"
	"github.com/cuongbtq/task-notifier/internal/uow"
)

// ArchiveStore is the task storage the archive job needs.
type ArchiveStore interface {
	States(ctx context.Context, q sqlx.QueryerContext) (tasks.States, error)
	ArchiveCompleted(ctx context.Context, tx sqlx.ExtContext, completedID int, cutoff time.Time) ([]int64, error)
}

// ArchiveCompletedTasks moves tasks completed more than retentionDays ago
// into the archive tables.
type ArchiveCompletedTasks struct {
	store         ArchiveStore
	retentionDays int
	clock         Clock
	logger        *slog.Logger
}

// NewArchiveCompletedTasks creates a new ArchiveCompletedTasks job
func NewArchiveCompletedTasks(store ArchiveStore, retentionDays int, clock Clock, logger *slog.Logger) *ArchiveCompletedTasks {
	return &ArchiveCompletedTasks{store: store, retentionDays: retentionDays, clock: clock, logger: logger}
}

func (j *ArchiveCompletedTasks) Name() string { return NameArchiveTasks }

func (j *ArchiveCompletedTasks) Run(ctx context.Context, tx *uow.Tx) error {
	states, err := j.store.States(ctx, tx)
	if err != nil {
		return err
	}
	ids, err := states.Require(tasks.StateCompleted)
	if err != nil {
		j.logger.Warn("Completed state missing, skipping archiving", slog.Any("error", err))
		return nil
	}

	cutoff := j.clock.Today().AddDate(0, 0, -j.retentionDays)
	archived, err := j.store.ArchiveCompleted(ctx, tx, ids[0], cutoff)
	if err != nil {
		return err
	}

	j.logger.Info("Archived completed tasks",
		slog.Int("count", len(archived)),
		slog.Time("completed_before", cutoff),
	)
	return nil
}
