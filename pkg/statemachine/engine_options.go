package statemachine

import (
	"context"
	"log/slog"
	"maps"
	"time"
)

// EngineOption is a functional option for configuring an engine
type EngineOption func(*Engine)

// WithConfig replaces the engine configuration.
func WithConfig(cfg Config) EngineOption {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithNotifier sets the lifecycle notification sink.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithLogger sets the logger for the engine
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithResponsibleResolver sets the fallback used to attribute a transition when
// no explicit responsible party is passed. Without a resolver the fallback is none.
func WithResponsibleResolver(resolve func(ctx context.Context) (Ref, bool)) EngineOption {
	return func(e *Engine) {
		e.resolver = resolve
	}
}

// WithLocker serializes transitions per entity field through the locker.
// A zero ttl falls back to Config.LockTTL.
func WithLocker(l Locker, ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.locker = l
		e.lockTTL = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// TransitionOption is a functional option for a single transition or postponement.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	customProperties map[string]any
	responsible      *Ref
	pending          *PendingTransition // set when executing a deferred transition
}

// WithCustomProperties attaches opaque data to the audit record.
func WithCustomProperties(props map[string]any) TransitionOption {
	return func(o *transitionOptions) {
		o.customProperties = maps.Clone(props)
	}
}

// WithResponsible attributes the transition to an explicit party.
func WithResponsible(ref Ref) TransitionOption {
	return func(o *transitionOptions) {
		if !ref.IsZero() {
			o.responsible = &ref
		}
	}
}

func buildTransitionOptions(opts []TransitionOption) transitionOptions {
	var o transitionOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type responsibleKey struct{}

// WithResponsibleContext stores the acting party in ctx.
// Pair it with WithResponsibleResolver(ResponsibleFromContext).
func WithResponsibleContext(ctx context.Context, ref Ref) context.Context {
	return context.WithValue(ctx, responsibleKey{}, ref)
}

// ResponsibleFromContext returns the acting party stored by WithResponsibleContext.
func ResponsibleFromContext(ctx context.Context) (Ref, bool) {
	ref, ok := ctx.Value(responsibleKey{}).(Ref)
	if !ok || ref.IsZero() {
		return Ref{}, false
	}
	return ref, true
}
