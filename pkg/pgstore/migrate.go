package pgstore

import (
	"context"
	"embed"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/transitkit/pkg/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the embedded schema for cfg's version table.
func Migrations(cfg Config) pg.Migrations {
	return pg.Migrations{
		FS:    migrations,
		Dir:   "migrations",
		Table: cfg.MigrationsTable,
	}
}

// Migrate creates or upgrades the history and pending tables named by cfg.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg Config, log *slog.Logger) error {
	if err := prepare(cfg); err != nil {
		return err
	}
	return pg.Migrate(ctx, pool, Migrations(cfg), loggerOrDefault(log))
}

// Rollback reverts the latest schema migration.
func Rollback(ctx context.Context, pool *pgxpool.Pool, cfg Config, log *slog.Logger) error {
	if err := prepare(cfg); err != nil {
		return err
	}
	return pg.Rollback(ctx, pool, Migrations(cfg), loggerOrDefault(log))
}

// SchemaVersion reports the latest applied migration.
func SchemaVersion(ctx context.Context, pool *pgxpool.Pool, cfg Config, log *slog.Logger) (int64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	return pg.MigrationVersion(ctx, pool, Migrations(cfg), loggerOrDefault(log))
}

// prepare exports the table names for goose's ENVSUB substitution.
func prepare(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for key, value := range map[string]string{
		"STATEMACHINE_TRANSITIONS_TABLE":         cfg.TransitionsTable,
		"STATEMACHINE_PENDING_TRANSITIONS_TABLE": cfg.PendingTransitionsTable,
	} {
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

func loggerOrDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}
