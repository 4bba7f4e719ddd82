package statemachine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DispatchFailure pairs a pending transition with the error it failed with.
type DispatchFailure struct {
	Pending PendingTransition
	Err     error
}

// SweepResult summarizes one dispatcher sweep. Skipped counts records that
// were cancelled or applied elsewhere after they were selected.
type SweepResult struct {
	Dispatched int
	Applied    int
	Skipped    int
	Failed     int
	Failures   []DispatchFailure
}

// Dispatcher periodically executes due pending transitions.
//
// Records of the same entity field run one after another in id order; distinct
// fields run concurrently. A record whose source state no longer matches the
// entity stays unapplied and is not retried as a transient fault.
type Dispatcher struct {
	id      uuid.UUID
	engine  *Engine
	storage PendingStorage
	ticker  *time.Ticker

	interval    time.Duration
	batchSize   int
	concurrency int
	logger      *slog.Logger
	onFailure   func(ctx context.Context, p PendingTransition, err error)
	now         func() time.Time
}

// NewDispatcher creates a dispatcher reading due records from the engine's storage.
func NewDispatcher(engine *Engine, opts ...DispatcherOption) (*Dispatcher, error) {
	if engine == nil {
		return nil, ErrEngineNil
	}

	cfg := engine.Config()
	options := &dispatcherOptions{
		interval:    cfg.DispatchInterval,
		batchSize:   cfg.DispatchBatchSize,
		concurrency: cfg.DispatchConcurrency,
		logger:      slog.Default(),
		now:         time.Now,
	}
	if options.interval <= 0 {
		options.interval = time.Minute
	}
	if options.batchSize <= 0 {
		options.batchSize = 100
	}
	if options.concurrency <= 0 {
		options.concurrency = 1
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Dispatcher{
		id:          uuid.New(),
		engine:      engine,
		storage:     engine.Storage(),
		interval:    options.interval,
		batchSize:   options.batchSize,
		concurrency: options.concurrency,
		logger:      options.logger,
		onFailure:   options.onFailure,
		now:         options.now,
	}, nil
}

func (d *Dispatcher) ID() uuid.UUID {
	return d.id
}

// Start sweeps immediately and then on every tick until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.ticker = time.NewTicker(d.interval)
	defer d.ticker.Stop()

	d.logger.InfoContext(ctx, "pending transition dispatcher started",
		slog.String("dispatcher_id", d.id.String()),
		slog.Duration("interval", d.interval))

	d.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "pending transition dispatcher shutting down",
				slog.String("dispatcher_id", d.id.String()))
			return ctx.Err()
		case <-d.ticker.C:
			d.tick(ctx)
		}
	}
}

// Run returns a function suitable for errgroup.Go. It exits cleanly on cancellation.
func (d *Dispatcher) Run(ctx context.Context) func() error {
	return func() error {
		if err := d.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	result, err := d.Sweep(ctx)
	if err != nil {
		d.logger.ErrorContext(ctx, "pending transition sweep failed",
			slog.String("dispatcher_id", d.id.String()),
			slog.String("error", err.Error()))
		return
	}
	if result.Dispatched > 0 {
		d.logger.InfoContext(ctx, "pending transition sweep finished",
			slog.String("dispatcher_id", d.id.String()),
			slog.Int("dispatched", result.Dispatched),
			slog.Int("applied", result.Applied),
			slog.Int("skipped", result.Skipped),
			slog.Int("failed", result.Failed))
	}
}

// Sweep executes every pending transition due at the time of the call.
// Due records are read in pages of the batch size; a page is fully
// dispatched before the next one is read, so records of one entity field
// keep their id order across pages. The returned error covers storage
// failures while paging; per-record failures are reported in the result.
func (d *Dispatcher) Sweep(ctx context.Context) (SweepResult, error) {
	now := d.now()

	var (
		result  SweepResult
		afterID int64
	)
	for ctx.Err() == nil {
		batch, err := d.storage.DuePending(ctx, now, afterID, d.batchSize)
		if err != nil {
			return result, fmt.Errorf("failed to read due pending transitions: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		d.dispatchPage(ctx, batch, &result)
		afterID = batch[len(batch)-1].ID

		if len(batch) < d.batchSize {
			break
		}
	}

	return result, nil
}

func (d *Dispatcher) dispatchPage(ctx context.Context, batch []PendingTransition, result *SweepResult) {
	groups := make(map[string][]PendingTransition)
	var order []string
	for _, p := range batch {
		key := LockKey(p.Entity, p.Field)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], p)
	}

	var mu sync.Mutex
	record := func(p PendingTransition, err error) {
		mu.Lock()
		defer mu.Unlock()
		result.Dispatched++
		switch {
		case err == nil:
			result.Applied++
		case isVanished(err):
			result.Skipped++
		default:
			result.Failed++
			result.Failures = append(result.Failures, DispatchFailure{Pending: p, Err: err})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, key := range order {
		records := groups[key]
		g.Go(func() error {
			for _, p := range records {
				if gctx.Err() != nil {
					return nil
				}
				record(p, d.execute(gctx, p))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// isVanished reports whether a record was cancelled or executed by someone
// else between selection and execution.
func isVanished(err error) bool {
	return errors.Is(err, ErrPendingNotFound) || errors.Is(err, ErrAlreadyApplied)
}

func (d *Dispatcher) execute(ctx context.Context, p PendingTransition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pending transition %d panicked: %v", p.ID, r)
		}
		switch {
		case err == nil:
		case isVanished(err):
			d.logger.DebugContext(ctx, "pending transition skipped",
				slog.String("dispatcher_id", d.id.String()),
				slog.Int64("pending_id", p.ID),
				slog.String("reason", err.Error()))
		default:
			d.handleFailure(ctx, p, err)
		}
	}()

	return d.engine.ExecutePending(ctx, p)
}

func (d *Dispatcher) handleFailure(ctx context.Context, p PendingTransition, err error) {
	attrs := []any{
		slog.String("dispatcher_id", d.id.String()),
		slog.Int64("pending_id", p.ID),
		slog.String("entity", p.Entity.String()),
		slog.String("field", p.Field),
		slog.String("from", p.From),
		slog.String("to", p.To),
		slog.String("error", err.Error()),
	}

	if IsInvalidStartingStateError(err) {
		d.logger.WarnContext(ctx, "pending transition left unapplied: starting state changed", attrs...)
	} else {
		d.logger.ErrorContext(ctx, "pending transition failed", attrs...)
	}

	if d.onFailure != nil {
		d.onFailure(ctx, p, err)
	}
}
