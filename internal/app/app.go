// Package app wires the delivery pipeline, the scheduler and the optional
// HTTP surface into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/task-notifier/internal/api/handler"
	"github.com/cuongbtq/task-notifier/internal/api/router"
	"github.com/cuongbtq/task-notifier/internal/config"
	"github.com/cuongbtq/task-notifier/internal/delivery"
	deliverystorage "github.com/cuongbtq/task-notifier/internal/delivery/storage"
	"github.com/cuongbtq/task-notifier/internal/jobs"
	"github.com/cuongbtq/task-notifier/internal/lock"
	lockpostgres "github.com/cuongbtq/task-notifier/internal/lock/postgres"
	lockredis "github.com/cuongbtq/task-notifier/internal/lock/redis"
	"github.com/cuongbtq/task-notifier/internal/scheduler"
	schedstorage "github.com/cuongbtq/task-notifier/internal/scheduler/storage"
	"github.com/cuongbtq/task-notifier/internal/tasks"
	taskstorage "github.com/cuongbtq/task-notifier/internal/tasks/storage"
	"github.com/cuongbtq/task-notifier/internal/transport"
	"github.com/cuongbtq/task-notifier/internal/uow"
	"github.com/cuongbtq/task-notifier/migrations"
	"github.com/cuongbtq/task-notifier/shared/postgresql"
	sharedredis "github.com/cuongbtq/task-notifier/shared/redis"
)

// ErrWorkerShutdownTimeout is returned by Run when the delivery worker does
// not stop within the delivery shutdown timeout.
var ErrWorkerShutdownTimeout = errors.New("delivery worker did not stop in time")

// Options selects the surfaces a process exposes.
type Options struct {
	ServiceName string
	// HTTP serves the REST API on cfg.Server.Port.
	HTTP bool
	// Sender overrides the transport selected by cfg.Transport.
	Sender transport.Sender
}

// App is the context object shared by every component of a process. It is
// built once at startup and torn down by Close.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *postgresql.Client
	queue   *delivery.Queue
	worker  *delivery.Worker
	sweeper *delivery.Sweeper
	sched   *scheduler.Runner
	server  *http.Server

	Delivery *delivery.Service
	Tasks    *tasks.Service

	closers []io.Closer
}

// New connects to PostgreSQL and builds the application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	db, err := postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectRetries:  cfg.Database.ConnectRetries,
		RetryInterval:   cfg.Database.RetryInterval,
	}, logger)
	if err != nil {
		return nil, err
	}

	a, err := NewWithDB(ctx, cfg, db, logger, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.closers = append(a.closers, db)
	return a, nil
}

// NewWithDB builds the application on an existing database client. The
// caller keeps ownership of db.
func NewWithDB(ctx context.Context, cfg *config.Config, db *postgresql.Client, logger *slog.Logger, opts Options) (*App, error) {
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	a := &App{cfg: cfg, logger: logger, db: db}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	sender := opts.Sender
	if sender == nil {
		s, closer, err := transport.New(cfg.Transport, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize transport: %w", err)
		}
		sender = s
		a.closers = append(a.closers, closer)
	}

	backoff, err := delivery.NewBackoff(cfg.Delivery.Backoff.Strategy, cfg.Delivery.Backoff.Initial, cfg.Delivery.Backoff.Max)
	if err != nil {
		return nil, err
	}

	sqlDB := db.GetDB()
	runner := uow.NewRunner(sqlDB, logger)
	store := deliverystorage.NewStorage(sqlDB, logger)

	a.queue = delivery.NewQueue()
	a.Delivery = delivery.NewService(store, a.queue, runner, logger)
	a.worker = delivery.NewWorker(a.queue, store, sender, delivery.WorkerConfig{
		Logger:      logger.With(slog.String("component", "delivery_worker")),
		MaxRetries:  cfg.Delivery.MaxRetries,
		SendTimeout: cfg.Delivery.SendTimeout,
		Backoff:     backoff,
	})
	a.sweeper = delivery.NewSweeper(store, a.queue, cfg.Recovery.InFlightGrace, logger)

	taskStore := taskstorage.NewStorage(logger)
	a.Tasks = tasks.NewService(taskStore, a.Delivery, runner, logger)

	if cfg.Scheduler.Enabled {
		locks, err := a.newLocks(ctx)
		if err != nil {
			return nil, err
		}
		a.sched = scheduler.New(scheduler.Config{
			Logger:          logger.With(slog.String("component", "scheduler")),
			Locks:           locks,
			UoW:             runner,
			Ledger:          schedstorage.NewStorage(logger),
			TickInterval:    cfg.Scheduler.TickInterval,
			ShutdownTimeout: cfg.Scheduler.ShutdownTimeout,
		})
		if err := a.registerJobs(store, taskStore); err != nil {
			return nil, err
		}
	}

	if opts.HTTP {
		a.server = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      a.newRouter(opts.ServiceName),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}
	}

	ok = true
	return a, nil
}

func (a *App) newLocks(ctx context.Context) (lock.Coordinator, error) {
	cfg := a.cfg.Lock
	switch cfg.Backend {
	case config.LockBackendMemory:
		a.logger.Warn("Using in-process locks; scheduled jobs are not coordinated across processes")
		return lock.NewMemory(), nil

	case config.LockBackendRedis:
		client, err := sharedredis.Connect(ctx, &sharedredis.Config{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			RetryAttempts: a.cfg.Database.ConnectRetries,
			RetryInterval: a.cfg.Database.RetryInterval,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.closers = append(a.closers, client)
		return lockredis.New(client, lockredis.Options{
			Namespace:     cfg.Namespace,
			LeaseTTL:      cfg.Redis.LeaseTTL,
			RenewInterval: cfg.Redis.RenewInterval,
		}, a.logger), nil
	}

	return lockpostgres.New(a.db.GetDB(), cfg.Namespace, a.logger), nil
}

func (a *App) registerJobs(store *deliverystorage.Storage, taskStore *taskstorage.Storage) error {
	cfg := a.cfg
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("invalid scheduler timezone: %w", err)
	}
	clock := jobs.Clock{Now: time.Now, Location: loc}

	register := func(j jobs.Job, schedule scheduler.Schedule) error {
		return a.sched.Register(j.Name(), schedule, j.Run)
	}
	registerCron := func(j jobs.Job, expr string) error {
		schedule, err := scheduler.Cron(expr, loc)
		if err != nil {
			return fmt.Errorf("job %s: %w", j.Name(), err)
		}
		return register(j, schedule)
	}

	if cfg.Scheduler.OverdueCheck.Enabled {
		j := jobs.NewOverdueCheck(taskStore, a.Delivery, clock, a.logger)
		if err := registerCron(j, cfg.Scheduler.OverdueCheck.Cron); err != nil {
			return err
		}
	}
	if cfg.Scheduler.ArchiveTasks.Enabled {
		j := jobs.NewArchiveCompletedTasks(taskStore, cfg.Scheduler.ArchiveTasks.RetentionDays, clock, a.logger)
		if err := registerCron(j, cfg.Scheduler.ArchiveTasks.Cron); err != nil {
			return err
		}
	}
	if cfg.Recovery.RedriveInterval > 0 {
		j := jobs.NewDeliveryRedrive(store, a.queue, cfg.Recovery.StaleAfter, a.logger)
		if err := register(j, scheduler.Every(cfg.Recovery.RedriveInterval)); err != nil {
			return err
		}
	}
	if cfg.Delivery.Retention > 0 && cfg.Delivery.PruneCron != "" {
		j := jobs.NewDeliveryPrune(store, cfg.Delivery.Retention, a.logger)
		if err := registerCron(j, cfg.Delivery.PruneCron); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) newRouter(serviceName string) http.Handler {
	if a.cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps := &handler.Dependencies{
		Logger:        a.logger,
		ServiceName:   serviceName,
		Notifications: a.Delivery,
		Tasks:         a.Tasks,
		DB:            a.db,
	}
	if a.sched != nil {
		deps.Scheduler = a.sched
	}
	return router.SetupRouter(deps)
}

// Scheduler returns the job runner, or nil when scheduling is disabled.
func (a *App) Scheduler() *scheduler.Runner {
	return a.sched
}

// Run recovers unfinished deliveries, then runs the worker, the scheduler and
// the HTTP server until ctx is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.sweeper.Sweep(ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.runWorker(gctx) })

	if a.sched != nil {
		g.Go(func() error { return a.sched.Run(gctx) })
	}

	if a.server != nil {
		g.Go(func() error {
			a.logger.Info("Starting HTTP server",
				slog.String("address", a.server.Addr),
				slog.Duration("read_timeout", a.server.ReadTimeout),
				slog.Duration("write_timeout", a.server.WriteTimeout),
			)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
			defer cancel()

			a.logger.Info("Shutting down HTTP server")
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server forced to shutdown: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// runWorker runs the delivery worker and closes the queue once it stops.
// Entries enqueued after that are left PENDING for the next startup sweep.
func (a *App) runWorker(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- a.worker.Run(ctx) }()

	select {
	case err := <-done:
		a.queue.Close()
		return err
	case <-ctx.Done():
	}

	timer := time.NewTimer(a.cfg.Delivery.ShutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		a.queue.Close()
		return err
	case <-timer.C:
		a.queue.Close()
		a.logger.Error("Delivery worker did not stop in time",
			slog.Duration("timeout", a.cfg.Delivery.ShutdownTimeout),
		)
		return ErrWorkerShutdownTimeout
	}
}

// Close releases transport, lock backend and database connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
