// Package lock coordinates scheduled jobs across worker processes. Failing
// to acquire a lock is an ordinary outcome, not an error.
package lock

import (
	"context"
	"sync"
)

// Outcome is the result of an acquisition attempt.
type Outcome int

const (
	// Unavailable means another holder owns the lock.
	Unavailable Outcome = iota
	// Acquired means the caller owns the lock until it calls Release.
	Acquired
)

func (o Outcome) String() string {
	if o == Acquired {
		return "acquired"
	}
	return "unavailable"
}

// Lock is a held lock. Release is idempotent.
type Lock interface {
	Name() string
	Release(ctx context.Context) error
}

// Result is returned by TryAcquire. Lock is nil unless Outcome is Acquired.
type Result struct {
	Outcome Outcome
	Lock    Lock
}

// Acquired reports whether the caller holds the lock.
func (r Result) Acquired() bool {
	return r.Outcome == Acquired && r.Lock != nil
}

// Coordinator hands out named, non-blocking, mutually exclusive locks.
type Coordinator interface {
	TryAcquire(ctx context.Context, name string) (Result, error)
}

// Once wraps a release function so that only the first call runs it.
type Once struct {
	once sync.Once
	err  error
	fn   func(ctx context.Context) error
}

// NewOnce creates a Once around fn.
func NewOnce(fn func(ctx context.Context) error) *Once {
	return &Once{fn: fn}
}

// Do runs fn the first time and returns its error on every call.
func (o *Once) Do(ctx context.Context) error {
	o.once.Do(func() { o.err = o.fn(ctx) })
	return o.err
}
