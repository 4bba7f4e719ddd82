package statemachine

import (
	"context"
	"log/slog"
	"time"
)

// DispatcherOption is a functional option for configuring a dispatcher
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	interval    time.Duration
	batchSize   int
	concurrency int
	logger      *slog.Logger
	onFailure   func(ctx context.Context, p PendingTransition, err error)
	now         func() time.Time
}

// WithDispatchInterval sets how often the dispatcher sweeps for due transitions
func WithDispatchInterval(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithBatchSize sets how many due records are read per storage page
func WithBatchSize(n int) DispatcherOption {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithConcurrency sets how many entity fields are processed in parallel
func WithConcurrency(n int) DispatcherOption {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithDispatcherLogger sets the logger for the dispatcher
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFailureHandler sets a callback for every pending transition that fails to execute
func WithFailureHandler(fn func(ctx context.Context, p PendingTransition, err error)) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.onFailure = fn
	}
}

// WithDispatcherClock overrides the time source used to select due records
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(o *dispatcherOptions) {
		if now != nil {
			o.now = now
		}
	}
}
