// Package tasks exposes the task operations the API offers on top of the
// notification pipeline.
package tasks

import (
	"context"
	"log/slog"

	"github.com/jmoiron/sqlx"

	delivery "github.com/cuongbtq/task-notifier/internal/delivery/domain"
	"github.com/cuongbtq/task-notifier/internal/tasks/domain"
	"github.com/cuongbtq/task-notifier/internal/uow"
)

// NoticeStore reads a task with its assignee.
type NoticeStore interface {
	GetNotice(ctx context.Context, q sqlx.QueryerContext, taskID int) (*domain.TaskNotice, error)
}

// Notifier appends a notification in a unit of work.
type Notifier interface {
	Notify(ctx context.Context, tx *uow.Tx, p delivery.Payload) (string, error)
}

// Service implements task-level notification requests.
type Service struct {
	store    NoticeStore
	notifier Notifier
	runner   uow.TxRunner
	logger   *slog.Logger
}

// NewService creates a new Service
func NewService(store NoticeStore, notifier Notifier, runner uow.TxRunner, logger *slog.Logger) *Service {
	return &Service{store: store, notifier: notifier, runner: runner, logger: logger}
}

// NotifyAssignee sends the task's assignee a manual notification. It
// returns the delivery job id and the recipient once the unit of work has
// committed.
func (s *Service) NotifyAssignee(ctx context.Context, taskID int) (string, string, error) {
	var jobID, recipient string

	err := s.runner.Do(ctx, func(ctx context.Context, tx *uow.Tx) error {
		notice, err := s.store.GetNotice(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !notice.Email.Valid || notice.Email.String == "" {
			return domain.ErrNoAssignee
		}

		recipient = notice.Email.String
		jobID, err = s.notifier.Notify(ctx, tx, domain.Manual(*notice))
		return err
	})
	if err != nil {
		return "", "", err
	}

	s.logger.Info("Manual task notification queued",
		slog.Int("task_id", taskID),
		slog.String("job_id", jobID),
	)
	return jobID, recipient, nil
}
