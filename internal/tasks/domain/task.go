// Package domain holds the task records the background jobs read and the
// notifications built from them.
package domain

import (
	"database/sql"
	"errors"
)

// Task states seeded by the migrations.
const (
	StateTodo       = "todo"
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
	StateOverdue    = "overdue"
)

var (
	// ErrTaskNotFound is returned when a task does not exist or is deleted
	ErrTaskNotFound = errors.New("task not found")

	// ErrNoAssignee is returned when a task has no assigned user to notify
	ErrNoAssignee = errors.New("task has no assigned user")

	// ErrStateMissing is returned when a required row in states is absent
	ErrStateMissing = errors.New("required task state missing")
)

// States maps state names to ids.
type States map[string]int

// Require returns the ids for names, or ErrStateMissing.
func (s States) Require(names ...string) ([]int, error) {
	ids := make([]int, 0, len(names))
	for _, name := range names {
		id, ok := s[name]
		if !ok {
			return nil, errors.Join(ErrStateMissing, errors.New(name))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Assignee is the user a task is assigned to. Both fields are null for an
// unassigned task.
type Assignee struct {
	Email sql.NullString `db:"assignee_email"`
	Name  sql.NullString `db:"assignee_name"`
}

// DisplayName returns the assignee's name or a neutral fallback.
func (a Assignee) DisplayName() string {
	if a.Name.Valid && a.Name.String != "" {
		return a.Name.String
	}
	return "User"
}

// TaskNotice is a task row joined with its assignee and state name.
type TaskNotice struct {
	TaskID    int            `db:"task_id"`
	Name      string         `db:"name"`
	DueDate   sql.NullTime   `db:"due_date"`
	Priority  string         `db:"priority"`
	StateName sql.NullString `db:"state_name"`
	Assignee
}

// StageNotice is an overdue stage joined with its task and assignee.
type StageNotice struct {
	StageID   int    `db:"stage_id"`
	StageName string `db:"stage_name"`
	TaskID    int    `db:"task_id"`
	TaskName  string `db:"task_name"`
	Assignee
}
