// Package scheduler runs periodic jobs across a pool of worker processes.
// Every process ticks its own clock; a job body runs only in the process
// that wins the job's distributed lock for that activation, inside its own
// unit of work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/task-notifier/internal/lock"
	"github.com/cuongbtq/task-notifier/internal/uow"
)

var ErrShutdownTimeout = errors.New("scheduler shutdown timed out, locks force-released")

// State is the per-job state machine position.
type State int32

const (
	StateIdle State = iota
	StateAcquiring
	StateRunning
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StateAcquiring:
		return "ACQUIRING"
	case StateRunning:
		return "RUNNING"
	case StateSkipped:
		return "SKIPPED"
	default:
		return "IDLE"
	}
}

// Result is the outcome of one activation.
type Result int

const (
	ResultNone Result = iota
	ResultCompleted
	ResultSkipped
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultCompleted:
		return "completed"
	case ResultSkipped:
		return "skipped"
	case ResultFailed:
		return "failed"
	default:
		return "none"
	}
}

// Handler is a scheduled job body. It runs inside a unit of work; returning
// an error rolls it back.
type Handler func(ctx context.Context, tx *uow.Tx) error

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	Name       string
	State      State
	Next       time.Time
	LastStart  time.Time
	LastResult Result
	LastError  error
}

// Ledger records the last activation each job ran for. Processes tick
// independently, so the lock alone cannot stop a late process from repeating
// an activation another process already finished.
type Ledger interface {
	// Begin records activation for name in tx. It reports false when the
	// same or a later activation is already recorded.
	Begin(ctx context.Context, tx *uow.Tx, name string, activation time.Time) (bool, error)
}

// Config holds scheduler configuration
type Config struct {
	Logger          *slog.Logger
	Locks           lock.Coordinator
	UoW             uow.TxRunner
	// Ledger is optional; without it every acquired activation runs.
	Ledger          Ledger
	TickInterval    time.Duration
	ShutdownTimeout time.Duration
}

// errActivationDone aborts a unit of work whose activation already ran.
var errActivationDone = errors.New("activation already completed")

type job struct {
	name     string
	schedule Schedule
	handler  Handler

	// guarded by Runner.mu
	state      State
	next       time.Time
	held       lock.Lock
	lastStart  time.Time
	lastResult Result
	lastErr    error
}

// Runner owns the registered jobs and their tick loop.
type Runner struct {
	logger          *slog.Logger
	locks           lock.Coordinator
	uow             uow.TxRunner
	ledger          Ledger
	tickInterval    time.Duration
	shutdownTimeout time.Duration
	now             func() time.Time

	mu      sync.Mutex
	jobs    []*job
	byName  map[string]*job
	started bool

	wg sync.WaitGroup
}

// New creates a new scheduler Runner
func New(cfg Config) *Runner {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = time.Second
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}

	return &Runner{
		logger:          cfg.Logger,
		locks:           cfg.Locks,
		uow:             cfg.UoW,
		ledger:          cfg.Ledger,
		tickInterval:    tick,
		shutdownTimeout: shutdown,
		now:             time.Now,
		byName:          make(map[string]*job),
	}
}

// Register adds a job. Jobs must be registered before Run.
func (r *Runner) Register(name string, schedule Schedule, handler Handler) error {
	if name == "" || schedule == nil || handler == nil {
		return fmt.Errorf("%w: name, schedule and handler are required", ErrInvalidJob)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrRunnerStarted
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	j := &job{name: name, schedule: schedule, handler: handler}
	r.jobs = append(r.jobs, j)
	r.byName[name] = j

	r.logger.Info("Scheduled job registered", slog.String("job", name))
	return nil
}

// Status returns a snapshot of the named job.
func (r *Runner) Status(name string) (JobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.byName[name]
	if !ok {
		return JobStatus{}, false
	}
	return j.status(), true
}

// Jobs returns a snapshot of every job in registration order.
func (r *Runner) Jobs() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]JobStatus, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.status())
	}
	return out
}

func (j *job) status() JobStatus {
	return JobStatus{
		Name:       j.name,
		State:      j.state,
		Next:       j.next,
		LastStart:  j.lastStart,
		LastResult: j.lastResult,
		LastError:  j.lastErr,
	}
}

// Run ticks until ctx is canceled, then waits for running jobs. Jobs still
// running after the shutdown timeout have their context canceled and their
// locks released.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrRunnerStarted
	}
	r.started = true
	start := r.now()
	for _, j := range r.jobs {
		j.next = j.schedule.Next(start)
	}
	r.mu.Unlock()

	// Job bodies outlive ctx so that shutdown can wait for them.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	r.logger.Info("Scheduler started",
		slog.Int("jobs", len(r.jobs)),
		slog.Duration("tick_interval", r.tickInterval),
	)

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.shutdown(cancelJobs)
		case <-ticker.C:
			r.dispatchDue(jobCtx, r.now())
		}
	}
}

// dispatchDue starts every job whose activation time has passed. A job that
// is still busy from an earlier activation misses this one.
func (r *Runner) dispatchDue(ctx context.Context, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range r.jobs {
		if now.Before(j.next) {
			continue
		}
		activation := j.next
		j.next = j.schedule.Next(now)

		if j.state != StateIdle {
			r.logger.Warn("Scheduled job still busy, activation missed",
				slog.String("job", j.name),
				slog.String("state", j.state.String()),
			)
			continue
		}
		j.state = StateAcquiring

		r.wg.Add(1)
		go func(j *job) {
			defer r.wg.Done()
			r.execute(ctx, j, activation)
		}(j)
	}
}

// trigger runs an activation at the current time synchronously.
func (r *Runner) trigger(ctx context.Context, name string) (Result, error) {
	return r.triggerAt(ctx, name, r.now())
}

func (r *Runner) triggerAt(ctx context.Context, name string, activation time.Time) (Result, error) {
	r.mu.Lock()
	j, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return ResultNone, fmt.Errorf("%w: unknown job %s", ErrInvalidJob, name)
	}
	if j.state != StateIdle {
		r.mu.Unlock()
		return ResultSkipped, nil
	}
	j.state = StateAcquiring
	r.mu.Unlock()

	return r.execute(ctx, j, activation)
}

// execute drives one activation from ACQUIRING back to IDLE.
func (r *Runner) execute(ctx context.Context, j *job, activation time.Time) (Result, error) {
	start := r.now()
	log := r.logger.With(slog.String("job", j.name))

	res, err := r.locks.TryAcquire(ctx, j.name)
	if err != nil {
		log.Error("Failed to acquire job lock", slog.Any("error", err))
		r.finish(j, start, ResultFailed, err)
		return ResultFailed, err
	}

	if !res.Acquired() {
		r.setState(j, StateSkipped)
		log.Debug("Job lock held elsewhere, skipping activation")
		r.finish(j, start, ResultSkipped, nil)
		return ResultSkipped, nil
	}

	r.mu.Lock()
	j.state = StateRunning
	j.held = res.Lock
	r.mu.Unlock()

	log.Info("Scheduled job started")
	err = r.runLocked(ctx, j, res.Lock, activation)
	if errors.Is(err, errActivationDone) {
		log.Info("Activation already completed by another process, skipping",
			slog.Time("activation", activation),
		)
		r.finish(j, start, ResultSkipped, nil)
		return ResultSkipped, nil
	}
	if err != nil {
		log.Error("Scheduled job failed",
			slog.Any("error", err),
			slog.Duration("duration", r.now().Sub(start)),
		)
		r.finish(j, start, ResultFailed, err)
		return ResultFailed, err
	}

	log.Info("Scheduled job completed", slog.Duration("duration", r.now().Sub(start)))
	r.finish(j, start, ResultCompleted, nil)
	return ResultCompleted, nil
}

// runLocked runs the job body in its own unit of work and releases l on
// every path, before the job returns to IDLE.
func (r *Runner) runLocked(ctx context.Context, j *job, l lock.Lock, activation time.Time) error {
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error("Failed to release job lock",
				slog.String("job", j.name),
				slog.Any("error", err),
			)
		}
	}()

	err := r.uow.Do(ctx, func(ctx context.Context, tx *uow.Tx) error {
		if r.ledger != nil {
			fresh, err := r.ledger.Begin(ctx, tx, j.name, activation)
			if err != nil {
				return fmt.Errorf("record activation: %w", err)
			}
			if !fresh {
				return errActivationDone
			}
		}
		return r.invoke(ctx, j, tx)
	})
	if errors.Is(err, errActivationDone) {
		return err
	}
	if err != nil {
		var jobErr *JobLogicError
		if !errors.As(err, &jobErr) {
			err = &JobLogicError{Job: j.name, Err: err}
		}
		return err
	}
	return nil
}

// invoke runs the handler and turns errors and panics into JobLogicError.
func (r *Runner) invoke(ctx context.Context, j *job, tx *uow.Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &JobLogicError{Job: j.name, Panic: p}
		}
	}()

	if err := j.handler(ctx, tx); err != nil {
		return &JobLogicError{Job: j.name, Err: err}
	}
	return nil
}

func (r *Runner) setState(j *job, s State) {
	r.mu.Lock()
	j.state = s
	r.mu.Unlock()
}

func (r *Runner) finish(j *job, start time.Time, result Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j.state = StateIdle
	j.held = nil
	j.lastStart = start
	j.lastResult = result
	j.lastErr = err
}

func (r *Runner) shutdown(cancelJobs context.CancelFunc) error {
	r.logger.Info("Stopping scheduler...")

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(r.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		r.logger.Info("Scheduler stopped")
		return nil
	case <-timer.C:
	}

	cancelJobs()
	r.forceRelease()
	r.logger.Error("Scheduler shutdown timed out", slog.Duration("timeout", r.shutdownTimeout))
	return ErrShutdownTimeout
}

// forceRelease releases every lock still held by a running job. The job's
// own deferred release becomes a no-op.
func (r *Runner) forceRelease() {
	r.mu.Lock()
	var held []lock.Lock
	for _, j := range r.jobs {
		if j.held != nil {
			held = append(held, j.held)
		}
	}
	r.mu.Unlock()

	for _, l := range held {
		if err := l.Release(context.Background()); err != nil {
			r.logger.Error("Failed to force-release job lock",
				slog.String("job", l.Name()),
				slog.Any("error", err),
			)
			continue
		}
		r.logger.Warn("Force-released job lock", slog.String("job", l.Name()))
	}
}
