// Package main implements the entry point for the DotList notification
// service, which pushes deadline reminders for incomplete todos and emails
// users when a todo is created.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/phrazzld/dotlist-notify/internal/config"
	"github.com/phrazzld/dotlist-notify/internal/platform/logger"
)

func main() {
	migrateCmd := flag.String("migrate", "", "run a database migration command (up, down, reset, status, version) and exit")
	once := flag.Bool("once", false, "run a single deadline scan and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l, *migrateCmd, *once); err != nil {
		l.Error("notifier exited with error", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}

// run dispatches to the requested mode: a migration command, a single scan,
// or the long-running service.
func run(ctx context.Context, cfg *config.Config, l *slog.Logger, migrateCmd string, once bool) error {
	db, err := setupAppDatabase(ctx, cfg, l)
	if err != nil {
		return err
	}

	if migrateCmd != "" {
		defer func() { _ = db.Close() }()
		return runMigrations(ctx, db, migrateCmd, l)
	}

	app, err := newApplication(ctx, cfg, l, db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	if once {
		return app.RunOnce(ctx)
	}

	l.Info("notifier starting",
		slog.Duration("scan_interval", cfg.Scan.Interval),
		slog.Duration("lookahead", cfg.Scan.Lookahead),
		slog.String("dedup_backend", cfg.Dedup.Backend),
		slog.String("event_source", cfg.Events.Source))

	return app.Run(ctx)
}
