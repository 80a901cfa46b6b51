package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields the next activation after a given time.
type Schedule = cron.Schedule

type everySchedule struct {
	interval time.Duration
}

// Every fires on wall-clock multiples of interval, so processes started at
// different times share activation times. Unlike cron.Every it keeps
// sub-second precision.
func Every(interval time.Duration) Schedule {
	return everySchedule{interval: interval}
}

func (s everySchedule) Next(t time.Time) time.Time {
	return t.Truncate(s.interval).Add(s.interval)
}

type zonedSchedule struct {
	schedule cron.Schedule
	loc      *time.Location
}

func (s zonedSchedule) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// Cron parses a standard five-field expression (or a descriptor such as
// "@daily") evaluated in loc. A nil loc means UTC.
func Cron(expr string, loc *time.Location) (Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return zonedSchedule{schedule: sched, loc: loc}, nil
}
