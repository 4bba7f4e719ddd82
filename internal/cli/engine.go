package cli

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/transitkit/pkg/opsserver"
	"github.com/dmitrymomot/transitkit/pkg/pg"
	"github.com/dmitrymomot/transitkit/pkg/redis"
	"github.com/dmitrymomot/transitkit/pkg/statemachine"
	"github.com/dmitrymomot/transitkit/pkg/transitionmetrics"
)

// EngineOptions are the flags shared by commands that apply transitions.
type EngineOptions struct {
	Catalog  string
	UseRedis bool
}

type runtime struct {
	engine  *statemachine.Engine
	metrics *transitionmetrics.Notifier
	pool    *pgxpool.Pool
	checks  []opsserver.Option
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildRuntime wires catalog, storage, locker and metrics into an engine.
// reg may be nil when metrics are not exported.
func buildRuntime(ctx context.Context, root *RootOptions, opts EngineOptions, reg prometheus.Registerer) (*runtime, error) {
	catalog, err := LoadCatalog(opts.Catalog)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load catalog", err)
	}
	writers, err := catalog.StorageOptions()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid catalog", err)
	}

	store, pool, env, err := root.openStorage(ctx, writers...)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		pool:    pool,
		checks:  []opsserver.Option{opsserver.WithCheck("postgres", pg.Healthcheck(pool))},
		closers: []func(){pool.Close},
	}

	registry, err := catalog.Registry(pool)
	if err != nil {
		rt.Close()
		return nil, WrapExitError(ExitCommandError, "invalid catalog", err)
	}

	log := root.Logger()
	notifiers := statemachine.Notifiers{statemachine.NewLogNotifier(log)}
	if reg != nil {
		rt.metrics, err = transitionmetrics.New(reg)
		if err != nil {
			rt.Close()
			return nil, WrapExitError(ExitCommandError, "failed to register metrics", err)
		}
		notifiers = append(notifiers, rt.metrics)
	}

	engineOpts := []statemachine.EngineOption{
		statemachine.WithConfig(env.Engine),
		statemachine.WithLogger(log),
		statemachine.WithNotifier(notifiers),
	}
	if opts.UseRedis {
		cfg, err := loadRedisConfig()
		if err != nil {
			rt.Close()
			return nil, err
		}
		client, err := redis.Connect(ctx, cfg)
		if err != nil {
			rt.Close()
			return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		rt.checks = append(rt.checks, opsserver.WithCheck("redis", redis.Healthcheck(client)))
		engineOpts = append(engineOpts, statemachine.WithLocker(redis.NewLocker(client, cfg), env.Engine.LockTTL))
	}

	rt.engine, err = statemachine.NewEngine(store, registry, engineOpts...)
	if err != nil {
		rt.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build engine", err)
	}
	return rt, nil
}

func (r *runtime) dispatcherOptions(root *RootOptions) []statemachine.DispatcherOption {
	opts := []statemachine.DispatcherOption{statemachine.WithDispatcherLogger(root.Logger())}
	if r.metrics != nil {
		opts = append(opts, statemachine.WithFailureHandler(r.metrics.FailureHandler()))
	}
	return opts
}
