package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/dotlist-notify/internal/config"
	"github.com/phrazzld/dotlist-notify/internal/events"
	"github.com/phrazzld/dotlist-notify/internal/notify"
	"github.com/phrazzld/dotlist-notify/internal/platform/amqpevents"
	"github.com/phrazzld/dotlist-notify/internal/platform/fcm"
	"github.com/phrazzld/dotlist-notify/internal/platform/memory"
	"github.com/phrazzld/dotlist-notify/internal/platform/postgres"
	"github.com/phrazzld/dotlist-notify/internal/platform/redisstore"
	"github.com/phrazzld/dotlist-notify/internal/platform/smtpmail"
	"github.com/phrazzld/dotlist-notify/internal/store"
	"github.com/phrazzld/dotlist-notify/internal/task"
	"golang.org/x/sync/errgroup"
)

// deadlineScanJob names the scheduled scan in logs
const deadlineScanJob = "deadline_scan"

// eventSource delivers task-created events until its context ends
type eventSource interface {
	Run(ctx context.Context) error
}

// application holds the shared dependencies of the notifier and owns their
// shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores
	taskStore  store.TaskStore
	userStore  store.UserStore
	dedupStore store.DedupStore

	// Notification engine
	dedup      *notify.DedupTracker
	dispatcher *notify.Dispatcher
	scanner    *notify.Scanner
	scheduler  *task.Scheduler

	// Event system
	eventEmitter *events.InMemoryEventEmitter
	eventSource  eventSource

	// closers run in reverse order during cleanup
	closers []func() error
}

// newApplication wires every component from cfg. The database connection must
// already be established.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	app.taskStore = postgres.NewPostgresTaskStore(db, logger)
	app.userStore = postgres.NewPostgresUserStore(db, logger)

	dedupStore, closer, err := newDedupStore(ctx, cfg, db, logger)
	if err != nil {
		return nil, err
	}
	app.dedupStore = dedupStore
	app.addCloser(closer)
	app.dedup = notify.NewDedupTrackerWithLease(dedupStore, cfg.Scan.ClaimLease)

	push, err := newPushSender(ctx, cfg.Push, logger)
	if err != nil {
		app.closeResources()
		return nil, err
	}

	app.dispatcher = notify.NewDispatcher(push, app.dedup, notify.DispatcherConfig{
		Lookahead:   cfg.Scan.Lookahead,
		MaxInFlight: int64(cfg.Scan.MaxInFlight),
	}, logger)

	app.scanner = notify.NewScanner(app.taskStore, app.userStore, app.dispatcher, app.dedup, notify.ScannerConfig{
		Lookahead:   cfg.Scan.Lookahead,
		WorkerCount: cfg.Scan.WorkerCount,
		Retention:   cfg.Scan.Retention,
	}, logger)

	app.scheduler = task.NewScheduler(deadlineScanJob, app.scanner.RunCycle, task.SchedulerConfig{
		Interval:   cfg.Scan.Interval,
		Timeout:    cfg.Scan.Timeout,
		RunOnStart: true,
	}, logger)

	app.eventEmitter = events.NewInMemoryEventEmitter(logger)
	if cfg.Email.Enabled {
		mailer := smtpmail.New(smtpmail.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
		}, logger)
		app.eventEmitter.RegisterHandler(
			notify.NewCreationNotifier(app.taskStore, app.userStore, mailer, app.dedup, cfg.Email.From, logger),
		)
		logger.Info("creation emails enabled", slog.String("smtp_host", cfg.Email.Host))
	}

	app.eventSource, err = newEventSource(cfg, app.eventEmitter, logger)
	if err != nil {
		app.closeResources()
		return nil, err
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// newDedupStore builds the configured dedup backend. The returned closer may be nil.
func newDedupStore(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	logger *slog.Logger,
) (store.DedupStore, func() error, error) {
	switch cfg.Dedup.Backend {
	case "postgres":
		return postgres.NewPostgresDedupStore(db, logger), nil, nil
	case "redis":
		s, err := redisstore.New(ctx, redisstore.Config{
			Addr:      cfg.Dedup.RedisAddr,
			Password:  cfg.Dedup.RedisPassword,
			DB:        cfg.Dedup.RedisDB,
			Retention: cfg.Scan.Retention,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize redis dedup store: %w", err)
		}
		return s, s.Close, nil
	case "memory":
		logger.Warn("using in-memory dedup store; sent records are lost on restart")
		return memory.NewDedupStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown dedup backend: %q", cfg.Dedup.Backend)
	}
}

// newPushSender returns the FCM client, or a log-only sender when push is disabled.
func newPushSender(ctx context.Context, cfg config.PushConfig, logger *slog.Logger) (notify.PushSender, error) {
	if !cfg.Enabled {
		logger.Warn("push delivery disabled; deadline notifications are only logged")
		return newLogSender(logger), nil
	}

	client, err := fcm.New(ctx, fcm.Config{
		CredentialsFile: cfg.CredentialsFile,
		ProjectID:       cfg.ProjectID,
		DryRun:          cfg.DryRun,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize push sender: %w", err)
	}
	logger.Info("FCM push sender initialized", slog.Bool("dry_run", cfg.DryRun))
	return client, nil
}

// newEventSource builds the configured task-created event source. It returns
// nil for "none" and when no handler would receive the events.
func newEventSource(cfg *config.Config, emitter *events.InMemoryEventEmitter, logger *slog.Logger) (eventSource, error) {
	switch cfg.Events.Source {
	case "postgres", "amqp":
		if emitter.HandlerCount() == 0 {
			logger.Info("no task-created handlers registered, event source not started",
				slog.String("event_source", cfg.Events.Source))
			return nil, nil
		}
	}

	switch cfg.Events.Source {
	case "postgres":
		return postgres.NewListener(cfg.Database.URL, cfg.Events.Channel, emitter, logger), nil
	case "amqp":
		return amqpevents.NewConsumer(amqpevents.Config{
			URL:   cfg.Events.AMQPURL,
			Queue: cfg.Events.Queue,
		}, emitter, logger), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown event source: %q", cfg.Events.Source)
	}
}

// Run starts the scheduler and the event source and blocks until ctx is
// cancelled or the event source fails.
func (app *application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := app.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		app.scheduler.Stop()
		return nil
	})

	if app.eventSource != nil {
		g.Go(func() error {
			if err := app.eventSource.Run(gctx); err != nil {
				return fmt.Errorf("event source failed: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// RunOnce performs a single scan-and-prune cycle through the scheduler, so
// the configured timeout and run logging apply.
func (app *application) RunOnce(ctx context.Context) error {
	return app.scheduler.RunNow(ctx)
}

func (app *application) addCloser(fn func() error) {
	if fn != nil {
		app.closers = append(app.closers, fn)
	}
}

// closeResources runs the registered closers, newest first
func (app *application) closeResources() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Error("Error closing resource", slog.String("error", err.Error()))
		}
	}
	app.closers = nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.scheduler != nil {
		app.scheduler.Stop()
	}

	app.closeResources()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", slog.String("error", err.Error()))
		}
	}

	app.logger.Info("Application shutdown completed")
}
