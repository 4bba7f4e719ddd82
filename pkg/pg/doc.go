// Package pg bootstraps PostgreSQL access on top of pgx/v5.
//
// It covers the infrastructure a storage package needs and nothing more:
// a retrying pool constructor, goose migrations read from an fs.FS (usually
// an embed.FS shipped with the storage package), a readiness probe and
// helpers that classify *pgconn.PgError values.
//
// # Usage
//
//	var cfg pg.Config
//	if err := env.Parse(&cfg); err != nil {
//		return err
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	err = pg.Migrate(ctx, pool, pg.Migrations{
//		FS:    migrations,
//		Dir:   "migrations",
//		Table: cfg.MigrationsTable,
//	}, slog.Default())
//
// Migration files may use goose's ENVSUB directive, so table names can be
// taken from the environment at apply time.
//
// # Errors
//
// Infrastructure failures are sentinel errors joined with the driver cause
// via errors.Join. Query errors are classified with IsNotFoundError,
// IsDuplicateKeyError, IsForeignKeyViolationError and IsRetryableError.
package pg
