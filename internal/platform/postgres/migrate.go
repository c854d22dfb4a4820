package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Migrations holds the schema migrations applied by goose.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationTableName is the table goose uses to track applied versions.
const MigrationTableName = "schema_migrations"

// migrationsDir is the directory inside Migrations that holds the files
const migrationsDir = "migrations"

// Migrate runs a goose command ("up", "down", "status", "version", "reset")
// against db using the embedded migrations. A nil logger keeps goose's default.
func Migrate(ctx context.Context, db *sql.DB, command string, logger goose.Logger) error {
	goose.SetBaseFS(Migrations)
	defer goose.SetBaseFS(nil)

	if logger != nil {
		goose.SetLogger(logger)
	}
	goose.SetTableName(MigrationTableName)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, db, migrationsDir)
	case "down":
		err = goose.DownContext(ctx, db, migrationsDir)
	case "reset":
		err = goose.ResetContext(ctx, db, migrationsDir)
	case "status":
		err = goose.StatusContext(ctx, db, migrationsDir)
	case "version":
		err = goose.VersionContext(ctx, db, migrationsDir)
	default:
		return fmt.Errorf("unknown migration command: %q", command)
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	return nil
}
