package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrations points goose at a set of SQL migrations.
type Migrations struct {
	FS    fs.FS  // usually an embed.FS
	Dir   string // directory inside FS
	Table string // version table; empty uses goose_db_version
}

const defaultVersionTable = "goose_db_version"

// goose keeps its settings in package globals.
var gooseMu sync.Mutex

// Migrate applies all pending up migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, m Migrations, log logger) error {
	return withGoose(ctx, pool, m, log, func(db *sql.DB, dir string) error {
		return goose.UpContext(ctx, db, dir)
	})
}

// Rollback reverts the most recently applied migration.
func Rollback(ctx context.Context, pool *pgxpool.Pool, m Migrations, log logger) error {
	return withGoose(ctx, pool, m, log, func(db *sql.DB, dir string) error {
		return goose.DownContext(ctx, db, dir)
	})
}

// MigrationVersion returns the current schema version recorded in the version table.
func MigrationVersion(ctx context.Context, pool *pgxpool.Pool, m Migrations, log logger) (int64, error) {
	var version int64
	err := withGoose(ctx, pool, m, log, func(db *sql.DB, _ string) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		version = v
		return err
	})
	return version, err
}

func withGoose(ctx context.Context, pool *pgxpool.Pool, m Migrations, log logger, fn func(db *sql.DB, dir string) error) error {
	if m.FS == nil {
		return errors.Join(ErrFailedToApplyMigrations, ErrMigrationsNotProvided)
	}
	dir := m.Dir
	if dir == "" {
		dir = "."
	}
	if _, err := fs.Stat(m.FS, dir); err != nil {
		return errors.Join(ErrMigrationsDirNotFound, err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	// goose works on database/sql; share the pool's connections.
	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "failed to close migration connection", "error", err)
		}
	}()

	goose.SetBaseFS(m.FS)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(newSlogAdapter(log))
	table := m.Table
	if table == "" {
		table = defaultVersionTable
	}
	goose.SetTableName(table)

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	if err := fn(db, dir); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	return nil
}

// migrateSlogAdapter routes goose's printf logging to the structured logger.
type migrateSlogAdapter struct {
	log logger
}

func newSlogAdapter(log logger) goose.Logger {
	return &migrateSlogAdapter{log: log}
}

func (a *migrateSlogAdapter) Fatalf(format string, v ...any) {
	a.log.ErrorContext(context.Background(), fmt.Sprintf(format, v...))
}

func (a *migrateSlogAdapter) Printf(format string, v ...any) {
	a.log.InfoContext(context.Background(), fmt.Sprintf(format, v...))
}
