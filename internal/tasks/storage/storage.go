package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
	tasks "github.com/cuongbtq/task-notifier/internal/tasks/domain"
	"github.com/cuongbtq/task-notifier/shared/postgresql"
)

// Storage runs the task queries of the scheduled jobs. Every method takes
// the unit of work's transaction so that task writes and delivery log
// appends commit together.
type Storage struct {
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(logger *slog.Logger) *Storage {
	return &Storage{logger: logger}
}

// States loads the state name to id map.
func (s *Storage) States(ctx context.Context, q sqlx.QueryerContext) (tasks.States, error) {
	var rows []struct {
		ID   int    `db:"state_id"`
		Name string `db:"state_name"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows, `SELECT state_id, state_name FROM states`); err != nil {
		return nil, domain.NewStorageError("load task states", err)
	}

	states := make(tasks.States, len(rows))
	for _, r := range rows {
		states[r.Name] = r.ID
	}
	return states, nil
}

// MarkOverdueTasks moves every open task due before today to the overdue
// state and returns them with their assignees.
func (s *Storage) MarkOverdueTasks(ctx context.Context, tx sqlx.ExtContext, completedID, overdueID int, today time.Time) ([]tasks.TaskNotice, error) {
	query := `
		WITH overdue AS (
			UPDATE tasks
			SET status_state_id = $2,
			    updated_at = NOW()
			WHERE is_deleted = FALSE
			  AND status_state_id <> $1
			  AND due_date < $3
			RETURNING task_id, name, due_date, priority, assigned_user_id
		)
		SELECT o.task_id, o.name, o.due_date, o.priority,
		       'overdue' AS state_name,
		       u.email AS assignee_email, u.full_name AS assignee_name
		FROM overdue o
		LEFT JOIN users u ON u.user_id = o.assigned_user_id
		ORDER BY o.task_id
	`

	var out []tasks.TaskNotice
	if err := sqlx.SelectContext(ctx, tx, &out, query, completedID, overdueID, today); err != nil {
		return nil, domain.NewStorageError("mark overdue tasks", err)
	}
	return out, nil
}

// MarkOverdueStages moves started, unfinished stages of tasks due before
// today to the overdue state.
func (s *Storage) MarkOverdueStages(ctx context.Context, tx sqlx.ExtContext, completedID, overdueID int, today time.Time) ([]tasks.StageNotice, error) {
	query := `
		WITH overdue AS (
			UPDATE task_stages st
			SET status_state_id = $2
			FROM tasks t
			WHERE t.task_id = st.task_id
			  AND t.is_deleted = FALSE
			  AND t.due_date < $3
			  AND st.status_state_id <> $1
			  AND st.completed_at IS NULL
			  AND st.started_at IS NOT NULL
			RETURNING st.stage_id, st.name AS stage_name, st.task_id,
			          t.name AS task_name, t.assigned_user_id
		)
		SELECT o.stage_id, o.stage_name, o.task_id, o.task_name,
		       u.email AS assignee_email, u.full_name AS assignee_name
		FROM overdue o
		LEFT JOIN users u ON u.user_id = o.assigned_user_id
		ORDER BY o.task_id, o.stage_id
	`

	var out []tasks.StageNotice
	if err := sqlx.SelectContext(ctx, tx, &out, query, completedID, overdueID, today); err != nil {
		return nil, domain.NewStorageError("mark overdue stages", err)
	}
	return out, nil
}

// DueBetween returns open tasks due in [from, to].
func (s *Storage) DueBetween(ctx context.Context, q sqlx.QueryerContext, completedID int, from, to time.Time) ([]tasks.TaskNotice, error) {
	query := `
		SELECT t.task_id, t.name, t.due_date, t.priority, st.state_name,
		       u.email AS assignee_email, u.full_name AS assignee_name
		FROM tasks t
		LEFT JOIN states st ON st.state_id = t.status_state_id
		LEFT JOIN users u ON u.user_id = t.assigned_user_id
		WHERE t.is_deleted = FALSE
		  AND t.status_state_id <> $1
		  AND t.due_date BETWEEN $2 AND $3
		ORDER BY t.due_date, t.task_id
	`

	var out []tasks.TaskNotice
	if err := sqlx.SelectContext(ctx, q, &out, query, completedID, from, to); err != nil {
		return nil, domain.NewStorageError("list tasks due soon", err)
	}
	return out, nil
}

// GetNotice returns one task with its state and assignee.
func (s *Storage) GetNotice(ctx context.Context, q sqlx.QueryerContext, taskID int) (*tasks.TaskNotice, error) {
	query := `
		SELECT t.task_id, t.name, t.due_date, t.priority, st.state_name,
		       u.email AS assignee_email, u.full_name AS assignee_name
		FROM tasks t
		LEFT JOIN states st ON st.state_id = t.status_state_id
		LEFT JOIN users u ON u.user_id = t.assigned_user_id
		WHERE t.task_id = $1
		  AND t.is_deleted = FALSE
	`

	var notice tasks.TaskNotice
	if err := sqlx.GetContext(ctx, q, &notice, query, taskID); err != nil {
		if postgresql.IsNotFound(err) {
			return nil, tasks.ErrTaskNotFound
		}
		return nil, domain.NewStorageError("get task", err)
	}
	return &notice, nil
}

// ArchiveCompleted copies completed tasks finished on or before cutoff, and
// their stages, into the archive tables and deletes the originals. It
// returns the archived task ids.
func (s *Storage) ArchiveCompleted(ctx context.Context, tx sqlx.ExtContext, completedID int, cutoff time.Time) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, tx, &ids, `
		SELECT task_id
		FROM tasks
		WHERE status_state_id = $1
		  AND completed_date <= $2
		ORDER BY task_id
		FOR UPDATE
	`, completedID, cutoff)
	if err != nil {
		return nil, domain.NewStorageError("select tasks to archive", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	steps := []struct {
		op    string
		query string
	}{
		{"archive tasks", `
			INSERT INTO archived_tasks (task_id, name, description, status_state_id, due_date,
			                            completed_date, priority, assigned_user_id, created_by_id, created_at)
			SELECT task_id, name, description, status_state_id, due_date,
			       completed_date, priority, assigned_user_id, created_by_id, created_at
			FROM tasks
			WHERE task_id = ANY($1)
			ON CONFLICT (task_id) DO NOTHING
		`},
		{"archive task stages", `
			INSERT INTO archived_task_stages (stage_id, task_id, name, status_state_id, started_at, completed_at)
			SELECT stage_id, task_id, name, status_state_id, started_at, completed_at
			FROM task_stages
			WHERE task_id = ANY($1)
			ON CONFLICT (stage_id) DO NOTHING
		`},
		{"delete archived tasks", `DELETE FROM tasks WHERE task_id = ANY($1)`},
	}

	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, pq.Array(ids)); err != nil {
			return nil, domain.NewStorageError(step.op, err)
		}
	}

	s.logger.Debug("Tasks archived", slog.Int("count", len(ids)))
	return ids, nil
}
