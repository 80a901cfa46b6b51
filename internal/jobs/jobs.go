// Package jobs holds the scheduled job bodies. Each runs inside the unit of
// work the scheduler opens for it; notifications are appended to the
// delivery log in that unit of work and dispatched after it commits.
package jobs

import (
	"context"
	"time"

	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
	"github.com/cuongbtq/task-notifier/internal/uow"
)

// Job names, also used as lock names.
const (
	NameOverdueCheck    = "overdue_check"
	NameArchiveTasks    = "archive_completed_tasks"
	NameDeliveryRedrive = "delivery_redrive"
	NameDeliveryPrune   = "delivery_prune"
)

// Job is a scheduled job body.
type Job interface {
	Name() string
	Run(ctx context.Context, tx *uow.Tx) error
}

// Notifier appends a notification to the delivery log in tx.
type Notifier interface {
	Notify(ctx context.Context, tx *uow.Tx, p domain.Payload) (string, error)
}

// Clock returns the current day in a fixed location.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

// Today returns midnight of the current day in the clock's location.
func (c Clock) Today() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}

	y, m, d := now().In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
