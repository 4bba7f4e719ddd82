package statemachine

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EventKind names a transition lifecycle notification.
type EventKind string

const (
	EventTransitionStarted   EventKind = "transition.started"
	EventTransitionCompleted EventKind = "transition.completed"
	EventTransitionFailed    EventKind = "transition.failed"
)

// Event is a transition lifecycle notification. Err is set only for failures.
type Event struct {
	Kind   EventKind
	Entity Ref
	Field  string
	From   string
	To     string
	Err    error
	At     time.Time
}

// Notifier receives transition lifecycle events synchronously on the
// transition's calling goroutine.
//
// An error from a Started notification aborts the transition before any mutation.
// An error from a Completed notification turns the transition into a failure.
// Errors from Failed notifications are logged and dropped.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Notifiers fans an event out to every notifier in order and joins their errors.
type Notifiers []Notifier

func (n Notifiers) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, notifier := range n {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type logNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a Notifier that writes every event to the logger.
func NewLogNotifier(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Notify(ctx context.Context, e Event) error {
	attrs := []slog.Attr{
		slog.String("entity", e.Entity.String()),
		slog.String("field", e.Field),
		slog.String("from", e.From),
		slog.String("to", e.To),
	}

	level := slog.LevelDebug
	switch e.Kind {
	case EventTransitionCompleted:
		level = slog.LevelInfo
	case EventTransitionFailed:
		level = slog.LevelError
		if e.Err != nil {
			attrs = append(attrs, slog.String("error", e.Err.Error()))
		}
	}

	n.logger.LogAttrs(ctx, level, string(e.Kind), attrs...)
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }
