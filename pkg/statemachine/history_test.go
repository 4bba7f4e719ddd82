package statemachine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

type historySnapshot struct {
	WasPending    bool
	WasCompleted  bool
	TimesPending  int
	TimesActive   int
	WhenActive    time.Time
	EverActive    bool
	WhenCompleted time.Time
	EverCompleted bool
	LastActive    *statemachine.Transition
	LastCompleted *statemachine.Transition
	AllActive     []statemachine.Transition
	AllCompleted  []statemachine.Transition
	History       []statemachine.Transition
	Latest        *statemachine.Transition
}

func collectHistory(t *testing.T, e *statemachine.Engine, order statemachine.Entity) historySnapshot {
	t.Helper()
	ctx := context.Background()

	var (
		s   historySnapshot
		err error
	)
	s.WasPending, err = e.Was(ctx, order, statusField, Pending)
	require.NoError(t, err)
	s.WasCompleted, err = e.Was(ctx, order, statusField, Completed)
	require.NoError(t, err)
	s.TimesPending, err = e.TimesWas(ctx, order, statusField, Pending)
	require.NoError(t, err)
	s.TimesActive, err = e.TimesWas(ctx, order, statusField, Active)
	require.NoError(t, err)
	s.WhenActive, s.EverActive, err = e.WhenWas(ctx, order, statusField, Active)
	require.NoError(t, err)
	s.WhenCompleted, s.EverCompleted, err = e.WhenWas(ctx, order, statusField, Completed)
	require.NoError(t, err)
	s.LastActive, err = e.SnapshotWhen(ctx, order, statusField, Active)
	require.NoError(t, err)
	s.LastCompleted, err = e.SnapshotWhen(ctx, order, statusField, Completed)
	require.NoError(t, err)
	s.AllActive, err = e.SnapshotsWhen(ctx, order, statusField, Active)
	require.NoError(t, err)
	s.AllCompleted, err = e.SnapshotsWhen(ctx, order, statusField, Completed)
	require.NoError(t, err)
	s.History, err = e.History(ctx, order, statusField)
	require.NoError(t, err)
	s.Latest, err = e.Latest(ctx, order, statusField)
	require.NoError(t, err)
	return s
}

// cyclingMachine allows pending→active→pending so states repeat in history.
func cyclingMachine() *statemachine.Machine {
	return orderMachine(statemachine.WithTransition(Active, Pending))
}

func TestHistory_Queries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, cyclingMachine())
	order := f.createOrder(t, 1, nil)

	for _, to := range []statemachine.State{Active, Pending, Active} {
		require.NoError(t, f.engine.TransitionTo(ctx, order, statusField, nil, to,
			statemachine.WithCustomProperties(map[string]any{"to": to.Name()})))
	}

	s := collectHistory(t, f.engine, order)

	assert.True(t, s.WasPending)
	assert.False(t, s.WasCompleted)
	assert.Equal(t, 2, s.TimesPending)
	assert.Equal(t, 2, s.TimesActive)
	assert.True(t, s.EverActive)
	assert.False(t, s.EverCompleted)
	assert.True(t, s.WhenCompleted.IsZero())
	assert.Nil(t, s.LastCompleted)
	assert.Empty(t, s.AllCompleted)

	require.Len(t, s.AllActive, 2)
	require.NotNil(t, s.LastActive)
	assert.Equal(t, s.AllActive[1].ID, s.LastActive.ID)
	assert.Greater(t, s.AllActive[1].ID, s.AllActive[0].ID)
	assert.Equal(t, s.LastActive.CreatedAt, s.WhenActive)

	require.Len(t, s.History, 4)
	assert.True(t, s.History[0].IsGenesis())
	assert.Equal(t, s.History[3].ID, s.Latest.ID)
}

func TestHistory_EagerAndFallbackPathsAgree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, cyclingMachine())
	order := f.createOrder(t, 1, nil)
	other := f.createOrder(t, 2, nil)

	for _, to := range []statemachine.State{Active, Pending, Active} {
		require.NoError(t, f.engine.TransitionTo(ctx, order, statusField, nil, to))
	}
	require.NoError(t, f.engine.TransitionTo(ctx, other, statusField, nil, Active))

	fallback := collectHistory(t, f.engine, order)

	require.NoError(t, f.engine.PreloadHistory(ctx, order, other))
	before := f.storage.Queries()
	eager := collectHistory(t, f.engine, order)

	assert.Equal(t, before, f.storage.Queries(), "eager path must not touch storage")
	assert.Equal(t, fallback, eager)

	t.Run("records appended after preload stay in sync", func(t *testing.T) {
		require.NoError(t, f.engine.TransitionTo(ctx, order, statusField, nil, Completed))

		eager := collectHistory(t, f.engine, order)
		order.UnloadTransitions()
		fallback := collectHistory(t, f.engine, order)

		assert.Equal(t, fallback, eager)
		assert.True(t, eager.WasCompleted)
		require.NotNil(t, eager.LastCompleted)
		assert.Equal(t, eager.Latest.ID, eager.LastCompleted.ID)
	})
}

func TestHistory_PreloadSingleRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, orderMachine())
	orders := make([]statemachine.Entity, 0, 5)
	for i := range 5 {
		orders = append(orders, f.createOrder(t, i+1, nil))
	}
	fresh := statemachine.NewModel(orderType, 99, nil)
	orders = append(orders, fresh)

	before := f.storage.Queries()
	require.NoError(t, f.engine.PreloadHistory(ctx, orders...))
	assert.Equal(t, before+1, f.storage.Queries())

	loaded, ok := fresh.LoadedTransitions()
	assert.True(t, ok)
	assert.Empty(t, loaded)

	for _, o := range orders[:5] {
		was, err := f.engine.Was(ctx, o, statusField, Pending)
		require.NoError(t, err)
		assert.True(t, was)
	}
	assert.Equal(t, before+1, f.storage.Queries())
}

func TestHistory_QueryScopes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	admin := statemachine.NewRef("user", 1)

	f := newFixture(t, orderMachine())
	first := f.createOrder(t, 1, nil)
	second := f.createOrder(t, 2, nil)

	require.NoError(t, f.engine.TransitionTo(ctx, first, statusField, nil, Active,
		statemachine.WithResponsible(admin),
		statemachine.WithCustomProperties(map[string]any{"channel": map[string]any{"name": "web"}})))
	require.NoError(t, f.engine.TransitionTo(ctx, second, statusField, nil, Cancelled))

	genesis, err := f.engine.QueryHistory(ctx, statemachine.HistoryCriteria{From: []string{""}})
	require.NoError(t, err)
	assert.Len(t, genesis, 2)

	byAdmin, err := f.engine.QueryHistory(ctx, statemachine.HistoryCriteria{Responsible: &admin})
	require.NoError(t, err)
	require.Len(t, byAdmin, 1)
	assert.Equal(t, first.Ref(), byAdmin[0].Entity)

	byChannel, err := f.engine.QueryHistory(ctx, statemachine.HistoryCriteria{
		CustomProperty: map[string]any{"channel.name": "web"},
	})
	require.NoError(t, err)
	assert.Len(t, byChannel, 1)

	transitioned, err := f.engine.QueryHistory(ctx, statemachine.HistoryCriteria{
		Field: statusField,
		From:  []string{"pending"},
		To:    []string{"active", "cancelled"},
	})
	require.NoError(t, err)
	assert.Len(t, transitioned, 2)
}
