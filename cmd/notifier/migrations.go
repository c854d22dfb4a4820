package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/dotlist-notify/internal/platform/postgres"
)

// slogGooseLogger adapts the goose logger interface to slog
type slogGooseLogger struct {
	logger *slog.Logger
}

// Printf forwards goose progress messages at info level
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf logs at error level. It does not exit; the error reaches main
// through the migration call's return value.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// runMigrations executes a goose command against db.
func runMigrations(ctx context.Context, db *sql.DB, command string, logger *slog.Logger) error {
	l := logger.With(slog.String("component", "migrations"), slog.String("command", command))
	l.Info("running database migrations")

	if err := postgres.Migrate(ctx, db, command, &slogGooseLogger{logger: l}); err != nil {
		return err
	}

	l.Info("database migrations completed")
	return nil
}
