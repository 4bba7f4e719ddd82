package statemachine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

const (
	Pending   = statemachine.StringState("pending")
	Active    = statemachine.StringState("active")
	Completed = statemachine.StringState("completed")
	Cancelled = statemachine.StringState("cancelled")
)

const (
	orderType   = "order"
	statusField = "status"
)

// orderMachine is pending→[active, cancelled], active→[completed, cancelled].
func orderMachine(opts ...statemachine.Option) *statemachine.Machine {
	base := []statemachine.Option{
		statemachine.WithName("order_status"),
		statemachine.WithTransition(Pending, Active, Cancelled),
		statemachine.WithTransition(Active, Completed, Cancelled),
	}
	return statemachine.MustNew(Pending, append(base, opts...)...)
}

type fixture struct {
	storage  *statemachine.MemoryStorage
	registry *statemachine.Registry
	engine   *statemachine.Engine
	events   *eventRecorder
}

func newFixture(t *testing.T, m *statemachine.Machine, opts ...statemachine.EngineOption) *fixture {
	t.Helper()

	storage := statemachine.NewMemoryStorage()
	registry := statemachine.NewRegistry()
	registry.MustRegister(orderType, statusField, m)
	registry.RegisterLoader(orderType, storage.Loader(orderType))

	events := &eventRecorder{}
	opts = append([]statemachine.EngineOption{statemachine.WithNotifier(events)}, opts...)

	engine, err := statemachine.NewEngine(storage, registry, opts...)
	require.NoError(t, err)

	return &fixture{
		storage:  storage,
		registry: registry,
		engine:   engine,
		events:   events,
	}
}

func (f *fixture) createOrder(t *testing.T, id any, attrs map[string]any) *statemachine.Model {
	t.Helper()
	order := statemachine.NewModel(orderType, id, attrs)
	require.NoError(t, f.engine.Create(context.Background(), order))
	return order
}

type eventRecorder struct {
	mu     sync.Mutex
	events []statemachine.Event
}

func (r *eventRecorder) Notify(_ context.Context, e statemachine.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) Kinds() []statemachine.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]statemachine.EventKind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (r *eventRecorder) Events() []statemachine.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]statemachine.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func farFuture() time.Time {
	return time.Now().Add(24 * time.Hour)
}
