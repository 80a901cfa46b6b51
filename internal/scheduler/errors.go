package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateJob  = errors.New("scheduled job already registered")
	ErrInvalidJob    = errors.New("invalid scheduled job")
	ErrRunnerStarted = errors.New("scheduler already started")
)

// JobLogicError reports a failed scheduled job body. It is logged and the
// job runs again on its next activation.
type JobLogicError struct {
	Job   string
	Err   error
	Panic any
}

func (e *JobLogicError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("scheduled job %s panicked: %v", e.Job, e.Panic)
	}
	return fmt.Sprintf("scheduled job %s failed: %v", e.Job, e.Err)
}

func (e *JobLogicError) Unwrap() error {
	return e.Err
}
