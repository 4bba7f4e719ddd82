package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/transitkit/pkg/config"
	"github.com/dmitrymomot/transitkit/pkg/logger"
	"github.com/dmitrymomot/transitkit/pkg/opsserver"
	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

type DispatchOptions struct {
	*RootOptions
	Engine      EngineOptions
	MetricsAddr string
}

func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run the pending transition dispatcher",
		Long: `Poll for due pending transitions and apply them until interrupted.

Metrics, liveness and readiness are served on --metrics-addr (OPS_ADDR).
Tuning comes from STATEMACHINE_DISPATCH_INTERVAL, STATEMACHINE_DISPATCH_BATCH_SIZE
and STATEMACHINE_DISPATCH_CONCURRENCY.`,
		Example: `  transitkit dispatch --catalog catalog.yaml
  transitkit dispatch --catalog catalog.yaml --redis --metrics-addr :9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDispatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Engine.Catalog, "catalog", "", "catalog file (required)")
	cmd.Flags().BoolVar(&opts.Engine.UseRedis, "redis", false, "serialize transitions with a Redis lock (REDIS_URL)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "ops server address (defaults to OPS_ADDR)")
	_ = cmd.MarkFlagRequired("catalog")

	return cmd
}

func runDispatch(cmd *cobra.Command, opts *DispatchOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opsCfg opsserver.Config
	if err := config.Load(&opsCfg, config.WithPrefix("OPS_")); err != nil {
		return WrapExitError(ExitCommandError, "invalid ops server configuration", err)
	}
	if opts.MetricsAddr != "" {
		opsCfg.Addr = opts.MetricsAddr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt, err := buildRuntime(ctx, opts.RootOptions, opts.Engine, reg)
	if err != nil {
		return err
	}
	defer rt.Close()

	d, err := statemachine.NewDispatcher(rt.engine, rt.dispatcherOptions(opts.RootOptions)...)
	if err != nil {
		return err
	}

	log := opts.Logger().With(slog.String("dispatcher_id", d.ID().String()))
	ops := opsserver.New(opsCfg, append(rt.checks,
		opsserver.WithGatherer(reg),
		opsserver.WithLogger(log),
	)...)

	log.InfoContext(ctx, "dispatcher starting", slog.String("catalog", opts.Engine.Catalog))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(d.Run(ctx))
	g.Go(func() error { return ops.Run(ctx) })

	if err := g.Wait(); err != nil {
		log.ErrorContext(context.WithoutCancel(ctx), "dispatcher stopped", logger.Error(err))
		return WrapExitError(ExitFailure, "dispatcher stopped", err)
	}

	log.InfoContext(context.WithoutCancel(ctx), "dispatcher stopped")
	return nil
}
