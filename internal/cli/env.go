package cli

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/transitkit/pkg/config"
	"github.com/dmitrymomot/transitkit/pkg/pg"
	"github.com/dmitrymomot/transitkit/pkg/pgstore"
	"github.com/dmitrymomot/transitkit/pkg/redis"
	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

// Environment is everything the commands read from the process environment.
type Environment struct {
	PG     pg.Config
	Store  pgstore.Config
	Engine statemachine.Config
}

func (o *RootOptions) environment() (Environment, error) {
	if o.Database != "" {
		if err := os.Setenv("PG_CONN_URL", o.Database); err != nil {
			return Environment{}, err
		}
	}
	var env Environment
	if err := config.Load(&env); err != nil {
		return Environment{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return env, nil
}

func (o *RootOptions) connect(ctx context.Context) (*pgxpool.Pool, Environment, error) {
	env, err := o.environment()
	if err != nil {
		return nil, env, err
	}
	pool, err := pg.Connect(ctx, env.PG)
	if err != nil {
		return nil, env, WrapExitError(ExitCommandError, "failed to connect to postgres", err)
	}
	return pool, env, nil
}

// openStorage connects and builds a storage without entity writers, which is
// enough for reading history and managing pending records.
func (o *RootOptions) openStorage(ctx context.Context, opts ...pgstore.Option) (*pgstore.Storage, *pgxpool.Pool, Environment, error) {
	pool, env, err := o.connect(ctx)
	if err != nil {
		return nil, nil, env, err
	}
	store, err := pgstore.New(pool, env.Store, append([]pgstore.Option{pgstore.WithLogger(o.Logger())}, opts...)...)
	if err != nil {
		pool.Close()
		return nil, nil, env, WrapExitError(ExitCommandError, "invalid storage configuration", err)
	}
	return store, pool, env, nil
}

func loadRedisConfig() (redis.Config, error) {
	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return cfg, WrapExitError(ExitCommandError, "invalid redis configuration", err)
	}
	return cfg, nil
}
