package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
	tasks "github.com/cuongbtq/task-notifier/internal/tasks/domain"
	"github.com/cuongbtq/task-notifier/internal/uow"
)

// reminderDays is how far ahead a due date triggers a reminder.
const reminderDays = 2

// OverdueStore is the task storage the overdue check needs.
type OverdueStore interface {
	States(ctx context.Context, q sqlx.QueryerContext) (tasks.States, error)
	MarkOverdueTasks(ctx context.Context, tx sqlx.ExtContext, completedID, overdueID int, today time.Time) ([]tasks.TaskNotice, error)
	MarkOverdueStages(ctx context.Context, tx sqlx.ExtContext, completedID, overdueID int, today time.Time) ([]tasks.StageNotice, error)
	DueBetween(ctx context.Context, q sqlx.QueryerContext, completedID int, from, to time.Time) ([]tasks.TaskNotice, error)
}

// OverdueCheck marks late tasks and stages overdue, notifies their
// assignees and reminds assignees of tasks due in the next two days.
type OverdueCheck struct {
	store    OverdueStore
	notifier Notifier
	clock    Clock
	logger   *slog.Logger
}

// NewOverdueCheck creates a new OverdueCheck job
func NewOverdueCheck(store OverdueStore, notifier Notifier, clock Clock, logger *slog.Logger) *OverdueCheck {
	return &OverdueCheck{store: store, notifier: notifier, clock: clock, logger: logger}
}

func (j *OverdueCheck) Name() string { return NameOverdueCheck }

func (j *OverdueCheck) Run(ctx context.Context, tx *uow.Tx) error {
	states, err := j.store.States(ctx, tx)
	if err != nil {
		return err
	}
	ids, err := states.Require(tasks.StateCompleted, tasks.StateOverdue)
	if err != nil {
		j.logger.Warn("Required task states missing, skipping overdue check", slog.Any("error", err))
		return nil
	}
	completedID, overdueID := ids[0], ids[1]
	today := j.clock.Today()

	overdue, err := j.store.MarkOverdueTasks(ctx, tx, completedID, overdueID, today)
	if err != nil {
		return err
	}
	stages, err := j.store.MarkOverdueStages(ctx, tx, completedID, overdueID, today)
	if err != nil {
		return err
	}
	dueSoon, err := j.store.DueBetween(ctx, tx, completedID, today.AddDate(0, 0, 1), today.AddDate(0, 0, reminderDays))
	if err != nil {
		return err
	}

	var sent int
	notify := func(to tasks.Assignee, p domain.Payload) error {
		if !to.Email.Valid || to.Email.String == "" {
			return nil
		}
		if _, err := j.notifier.Notify(ctx, tx, p); err != nil {
			if errors.Is(err, domain.ErrInvalidPayload) {
				j.logger.Warn("Skipping notification with invalid payload",
					slog.String("correlation_id", p.CorrelationID),
					slog.Any("error", err),
				)
				return nil
			}
			return fmt.Errorf("failed to append notification for %s: %w", p.CorrelationID, err)
		}
		sent++
		return nil
	}

	for _, t := range overdue {
		if err := notify(t.Assignee, tasks.OverdueTask(t)); err != nil {
			return err
		}
	}
	for _, s := range stages {
		if err := notify(s.Assignee, tasks.OverdueStage(s)); err != nil {
			return err
		}
	}
	for _, t := range dueSoon {
		if err := notify(t.Assignee, tasks.DueSoon(t)); err != nil {
			return err
		}
	}

	j.logger.Info("Overdue check finished",
		slog.Time("today", today),
		slog.Int("overdue_tasks", len(overdue)),
		slog.Int("overdue_stages", len(stages)),
		slog.Int("due_soon", len(dueSoon)),
		slog.Int("notifications", sent),
	)
	return nil
}
