package transitionmetrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

// Notifier records transition events as Prometheus metrics.
// Duration is measured from the Started event to the Completed or Failed event
// of the same entity field.
type Notifier struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	inFlight  *prometheus.GaugeVec
	duration  *prometheus.HistogramVec
	dispatch  *prometheus.CounterVec

	mu      sync.Mutex
	pending map[string]time.Time
}

var _ statemachine.Notifier = (*Notifier)(nil)

type Option func(*options)

type options struct {
	namespace string
	buckets   []float64
}

// WithNamespace prefixes every metric name. Default "transitkit".
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

func WithBuckets(buckets ...float64) Option {
	return func(o *options) {
		if len(buckets) > 0 {
			o.buckets = buckets
		}
	}
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, opts ...Option) (*Notifier, error) {
	o := options{namespace: "transitkit", buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(&o)
	}

	fieldLabels := []string{"entity_type", "field"}
	n := &Notifier{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "transitions_started_total",
			Help:      "Transitions that passed validation and began applying.",
		}, fieldLabels),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "transitions_completed_total",
			Help:      "Committed transitions by edge.",
		}, []string{"entity_type", "field", "from", "to"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "transitions_failed_total",
			Help:      "Transitions that failed after they started.",
		}, fieldLabels),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: o.namespace,
			Name:      "transitions_in_flight",
			Help:      "Transitions started but not yet completed or failed.",
		}, fieldLabels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "transition_duration_seconds",
			Help:      "Time from start to commit or failure.",
			Buckets:   o.buckets,
		}, []string{"entity_type", "field", "outcome"}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "pending_dispatch_failures_total",
			Help:      "Pending transitions the dispatcher could not apply.",
		}, []string{"entity_type", "field", "reason"}),
		pending: make(map[string]time.Time),
	}

	for _, c := range []prometheus.Collector{n.started, n.completed, n.failed, n.inFlight, n.duration, n.dispatch} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Notify implements statemachine.Notifier. It never fails.
func (n *Notifier) Notify(_ context.Context, ev statemachine.Event) error {
	entityType := ev.Entity.Type
	key := statemachine.LockKey(ev.Entity, ev.Field)

	switch ev.Kind {
	case statemachine.EventTransitionStarted:
		n.started.WithLabelValues(entityType, ev.Field).Inc()
		n.inFlight.WithLabelValues(entityType, ev.Field).Inc()
		n.mu.Lock()
		n.pending[key] = ev.At
		n.mu.Unlock()

	case statemachine.EventTransitionCompleted:
		n.completed.WithLabelValues(entityType, ev.Field, ev.From, ev.To).Inc()
		n.finish(key, ev, "completed")

	case statemachine.EventTransitionFailed:
		n.failed.WithLabelValues(entityType, ev.Field).Inc()
		n.finish(key, ev, "failed")
	}
	return nil
}

func (n *Notifier) finish(key string, ev statemachine.Event, outcome string) {
	n.mu.Lock()
	startedAt, ok := n.pending[key]
	delete(n.pending, key)
	n.mu.Unlock()

	if !ok {
		return
	}
	n.inFlight.WithLabelValues(ev.Entity.Type, ev.Field).Dec()
	n.duration.WithLabelValues(ev.Entity.Type, ev.Field, outcome).Observe(ev.At.Sub(startedAt).Seconds())
}

// FailureHandler counts dispatcher failures. Pass it to statemachine.WithFailureHandler.
func (n *Notifier) FailureHandler() func(context.Context, statemachine.PendingTransition, error) {
	return func(_ context.Context, p statemachine.PendingTransition, err error) {
		n.dispatch.WithLabelValues(p.Entity.Type, p.Field, failureReason(err)).Inc()
	}
}

func failureReason(err error) string {
	switch {
	case statemachine.IsInvalidStartingStateError(err):
		return "invalid_starting_state"
	case statemachine.IsTransitionNotAllowedError(err):
		return "not_allowed"
	case statemachine.IsValidationFailedError(err):
		return "validation_failed"
	case errors.Is(err, statemachine.ErrLockNotAcquired):
		return "lock"
	default:
		return "error"
	}
}
