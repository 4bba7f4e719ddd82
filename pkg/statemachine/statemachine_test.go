package statemachine_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

type priority int

func (p priority) Name() string {
	return [...]string{"low", "high"}[p]
}

func TestMachine(t *testing.T) {
	t.Parallel()

	t.Run("literal edges", func(t *testing.T) {
		t.Parallel()
		m := orderMachine()

		assert.Equal(t, "pending", m.DefaultState())
		assert.Equal(t, "order_status", m.Name())
		assert.True(t, m.RecordsHistory())
		assert.True(t, m.CanBe("pending", "active"))
		assert.True(t, m.CanBe("active", "completed"))
		assert.False(t, m.CanBe("pending", "completed"))
		assert.False(t, m.CanBe("completed", "pending"))
		assert.Equal(t, []string{"active", "cancelled", "completed", "pending"}, m.States())
	})

	t.Run("wildcard edges", func(t *testing.T) {
		t.Parallel()

		anyToCancelled := statemachine.MustNew(Pending,
			statemachine.WithTransition(statemachine.Any, Cancelled))
		assert.True(t, anyToCancelled.Allows("pending", "cancelled"))
		assert.True(t, anyToCancelled.Allows("completed", "cancelled"))
		assert.False(t, anyToCancelled.Allows("pending", "active"))
		assert.False(t, anyToCancelled.CanBe("pending", "cancelled"))

		pendingToAny := statemachine.MustNew(Pending,
			statemachine.WithTransition(Pending, statemachine.Any))
		assert.True(t, pendingToAny.Allows("pending", "whatever"))
		assert.False(t, pendingToAny.Allows("active", "pending"))

		anyToAny := statemachine.MustNew(Pending,
			statemachine.WithTransition(statemachine.Any, statemachine.Any))
		assert.True(t, anyToAny.Allows("x", "y"))
	})

	t.Run("duplicate targets are collapsed", func(t *testing.T) {
		t.Parallel()
		m := statemachine.MustNew(Pending,
			statemachine.WithTransition(Pending, Active, Active),
			statemachine.WithTransition(Pending, Active, Cancelled),
		)
		assert.Equal(t, []string{"active", "cancelled"}, m.Transitions()["pending"])
	})

	t.Run("transition map", func(t *testing.T) {
		t.Parallel()
		m, err := statemachine.New(Pending, statemachine.WithTransitions(map[statemachine.State][]statemachine.State{
			Pending: {Active},
			Active:  {Completed},
		}))
		require.NoError(t, err)
		assert.True(t, m.CanBe("pending", "active"))
		assert.True(t, m.CanBe("active", "completed"))
	})

	t.Run("enum-like states normalize to their name", func(t *testing.T) {
		t.Parallel()
		m := statemachine.MustNew(priority(0), statemachine.WithTransition(priority(0), priority(1)))
		assert.Equal(t, "low", m.DefaultState())
		assert.True(t, m.CanBe("low", "high"))
	})

	t.Run("nil default state", func(t *testing.T) {
		t.Parallel()
		m, err := statemachine.New(nil, statemachine.WithTransition(Pending, Active))
		require.NoError(t, err)
		assert.Empty(t, m.DefaultState())
	})

	t.Run("invalid definitions", func(t *testing.T) {
		t.Parallel()

		_, err := statemachine.New(Pending, statemachine.WithTransition(nil, Active))
		assert.ErrorIs(t, err, statemachine.ErrInvalidMachine)

		_, err = statemachine.New(Pending, statemachine.WithTransition(Pending))
		assert.ErrorIs(t, err, statemachine.ErrInvalidMachine)

		_, err = statemachine.New(Pending, statemachine.WithTransition(Pending, statemachine.StringState("")))
		assert.ErrorIs(t, err, statemachine.ErrInvalidMachine)

		_, err = statemachine.New(Pending, statemachine.WithAfterHook(nil, nil))
		assert.ErrorIs(t, err, statemachine.ErrInvalidMachine)

		assert.Panics(t, func() {
			statemachine.MustNew(Pending, statemachine.WithTransition(nil, Active))
		})
	})

	t.Run("hooks keep registration order", func(t *testing.T) {
		t.Parallel()

		var calls []string
		hook := func(name string) statemachine.Hook {
			return func(context.Context, string, string, statemachine.Entity) error {
				calls = append(calls, name)
				return nil
			}
		}

		m := orderMachine(
			statemachine.WithBeforeHook(Pending, hook("b1"), hook("b2")),
			statemachine.WithBeforeHook(Pending, hook("b3")),
			statemachine.WithAfterHook(Active, hook("a1")),
		)

		for _, h := range m.BeforeHooks("pending") {
			require.NoError(t, h(context.Background(), "pending", "active", nil))
		}
		for _, h := range m.AfterHooks("active") {
			require.NoError(t, h(context.Background(), "pending", "active", nil))
		}

		assert.Equal(t, []string{"b1", "b2", "b3", "a1"}, calls)
		assert.Empty(t, m.BeforeHooks("active"))
	})
}

func TestBuilder(t *testing.T) {
	t.Parallel()

	t.Run("fluent definition", func(t *testing.T) {
		t.Parallel()

		called := false
		m := statemachine.NewBuilder(Pending).
			Named("order_status").
			From(Pending).To(Active, Cancelled).
			From(Active).To(Completed).
			Before(func(context.Context, string, string, statemachine.Entity) error {
				called = true
				return nil
			}).
			After(Completed).
			WithoutHistory().
			MustBuild()

		assert.Equal(t, "order_status", m.Name())
		assert.False(t, m.RecordsHistory())
		assert.True(t, m.CanBe("pending", "cancelled"))
		assert.True(t, m.CanBe("active", "completed"))
		require.Len(t, m.BeforeHooks("active"), 1)
		require.NoError(t, m.BeforeHooks("active")[0](context.Background(), "active", "completed", nil))
		assert.True(t, called)
	})

	t.Run("To before From fails at build", func(t *testing.T) {
		t.Parallel()

		_, err := statemachine.NewBuilder(Pending).To(Active).Build()
		assert.ErrorIs(t, err, statemachine.ErrInvalidMachine)

		assert.Panics(t, func() {
			statemachine.NewBuilder(Pending).Before().MustBuild()
		})
	})
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	t.Run("full document", func(t *testing.T) {
		t.Parallel()

		doc := `
name: order_status
default: pending
record_history: false
transitions:
  pending: [active, cancelled]
  active: [completed, cancelled]
  "*": [archived]
`
		m, err := statemachine.ParseYAML([]byte(doc))
		require.NoError(t, err)

		assert.Equal(t, "order_status", m.Name())
		assert.Equal(t, "pending", m.DefaultState())
		assert.False(t, m.RecordsHistory())
		assert.True(t, m.CanBe("pending", "active"))
		assert.True(t, m.Allows("completed", "archived"))
		assert.False(t, m.Allows("completed", "pending"))
	})

	t.Run("extra options attach hooks", func(t *testing.T) {
		t.Parallel()

		m, err := statemachine.LoadYAML(strings.NewReader("default: draft\ntransitions:\n  draft: [published]\n"),
			statemachine.WithAfterHook(statemachine.StringState("published"),
				func(context.Context, string, string, statemachine.Entity) error { return nil }),
		)
		require.NoError(t, err)
		assert.True(t, m.RecordsHistory())
		assert.Len(t, m.AfterHooks("published"), 1)
	})

	t.Run("invalid documents", func(t *testing.T) {
		t.Parallel()

		_, err := statemachine.ParseYAML([]byte("transitions: [oops"))
		assert.ErrorIs(t, err, statemachine.ErrInvalidMachine)

		_, err = statemachine.ParseYAML([]byte("transitions:\n  pending: []\n"))
		assert.ErrorIs(t, err, statemachine.ErrInvalidMachine)
	})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("register and look up", func(t *testing.T) {
		t.Parallel()

		r := statemachine.NewRegistry()
		status := orderMachine()
		payment := statemachine.MustNew(statemachine.StringState("unpaid"),
			statemachine.WithTransition(statemachine.StringState("unpaid"), statemachine.StringState("paid")))

		require.NoError(t, r.Register(orderType, statusField, status))
		require.NoError(t, r.Register(orderType, "payment", payment))

		m, err := r.Machine(orderType, statusField)
		require.NoError(t, err)
		assert.Same(t, status, m)
		assert.Equal(t, []string{statusField, "payment"}, r.Fields(orderType))
		assert.Equal(t, []string{orderType}, r.Types())

		_, err = r.Machine(orderType, "missing")
		assert.ErrorIs(t, err, statemachine.ErrUnknownField)

		_, err = r.Machine("invoice", statusField)
		assert.ErrorIs(t, err, statemachine.ErrUnknownEntityType)
	})

	t.Run("invalid registrations", func(t *testing.T) {
		t.Parallel()

		r := statemachine.NewRegistry()
		assert.ErrorIs(t, r.Register("", statusField, orderMachine()), statemachine.ErrInvalidMachine)
		assert.ErrorIs(t, r.Register(orderType, statusField, nil), statemachine.ErrInvalidMachine)
		assert.Panics(t, func() { r.MustRegister(orderType, "", orderMachine()) })
	})

	t.Run("load through loaders", func(t *testing.T) {
		t.Parallel()

		r := statemachine.NewRegistry()
		ctx := context.Background()

		_, err := r.Load(ctx, statemachine.NewRef(orderType, 1))
		assert.ErrorIs(t, err, statemachine.ErrNoLoader)

		r.RegisterLoader(orderType, func(_ context.Context, id string) (statemachine.Entity, error) {
			if id == "404" {
				return nil, errors.New("not found")
			}
			return statemachine.NewModel(orderType, id, nil), nil
		})

		e, err := r.Load(ctx, statemachine.NewRef(orderType, 1))
		require.NoError(t, err)
		assert.Equal(t, statemachine.Ref{Type: orderType, ID: "1"}, e.Ref())

		_, err = r.Load(ctx, statemachine.NewRef(orderType, 404))
		assert.Error(t, err)
	})
}

func TestModel(t *testing.T) {
	t.Parallel()

	t.Run("tracks changes until synced", func(t *testing.T) {
		t.Parallel()

		m := statemachine.NewModel(orderType, 1, map[string]any{"total": 5, "status": "pending"})
		assert.False(t, m.IsDirty())

		m.SetAttr("total", 10)
		m.SetState("status", "active")

		changes := m.Changes()
		assert.Equal(t, statemachine.Change{Old: 5, New: 10}, changes["total"])
		assert.Equal(t, statemachine.Change{Old: "pending", New: "active"}, changes["status"])

		m.SyncOriginal()
		assert.Empty(t, m.Changes())
		assert.Equal(t, 10, m.Attr("total"))
	})

	t.Run("state values normalize", func(t *testing.T) {
		t.Parallel()

		m := statemachine.NewModel(orderType, 1, map[string]any{
			"status":   Active,
			"priority": priority(1),
			"level":    3,
		})
		assert.Equal(t, "active", m.StateOf("status"))
		assert.Equal(t, "high", m.StateOf("priority"))
		assert.Equal(t, "3", m.StateOf("level"))
		assert.Empty(t, m.StateOf("missing"))
	})

	t.Run("eager-loaded history slot", func(t *testing.T) {
		t.Parallel()

		m := statemachine.NewModel(orderType, 1, nil)
		_, loaded := m.LoadedTransitions()
		assert.False(t, loaded)

		m.SetLoadedTransitions(nil)
		got, loaded := m.LoadedTransitions()
		assert.True(t, loaded)
		assert.Empty(t, got)

		m.UnloadTransitions()
		_, loaded = m.LoadedTransitions()
		assert.False(t, loaded)
	})
}

func TestTransitionRecord(t *testing.T) {
	t.Parallel()

	tr := statemachine.Transition{
		From: "pending",
		To:   "active",
		CustomProperties: map[string]any{
			"reason": "paid",
			"meta":   map[string]any{"source": "api"},
		},
		ChangedAttributes: statemachine.Changes{
			"total": {Old: 5, New: 10},
			"note":  {Old: nil, New: "x"},
		},
	}

	assert.False(t, tr.IsGenesis())
	assert.Equal(t, "paid", tr.CustomProperty("reason"))
	assert.Equal(t, "api", tr.CustomProperty("meta.source"))
	assert.Nil(t, tr.CustomProperty("meta.missing"))
	assert.Nil(t, tr.CustomProperty("reason.deeper"))
	assert.Len(t, tr.AllCustomProperties(), 2)
	assert.Equal(t, []string{"note", "total"}, tr.ChangedAttributeNames())
	assert.Equal(t, 5, tr.ChangedAttributeOld("total"))
	assert.Equal(t, 10, tr.ChangedAttributeNew("total"))

	genesis := statemachine.Transition{To: "pending"}
	assert.True(t, genesis.IsGenesis())
	assert.NotNil(t, genesis.AllCustomProperties())
}

func TestHistoryCriteria(t *testing.T) {
	t.Parallel()

	user := statemachine.NewRef("user", 7)
	tr := statemachine.Transition{
		Entity:           statemachine.NewRef(orderType, 1),
		Field:            statusField,
		From:             "pending",
		To:               "active",
		Responsible:      &user,
		CustomProperties: map[string]any{"attempt": 2, "meta": map[string]any{"source": "api"}},
	}

	tests := []struct {
		name     string
		criteria statemachine.HistoryCriteria
		want     bool
	}{
		{"empty criteria", statemachine.HistoryCriteria{}, true},
		{"entity", statemachine.HistoryCriteria{Entities: []statemachine.Ref{statemachine.NewRef(orderType, 1)}}, true},
		{"other entity", statemachine.HistoryCriteria{Entities: []statemachine.Ref{statemachine.NewRef(orderType, 2)}}, false},
		{"field", statemachine.HistoryCriteria{Field: "payment"}, false},
		{"from", statemachine.HistoryCriteria{From: []string{"pending", "active"}}, true},
		{"genesis only", statemachine.HistoryCriteria{From: []string{""}}, false},
		{"to", statemachine.HistoryCriteria{To: []string{"completed"}}, false},
		{"responsible", statemachine.HistoryCriteria{Responsible: &user}, true},
		{"other responsible", statemachine.HistoryCriteria{Responsible: &statemachine.Ref{Type: "user", ID: "8"}}, false},
		{"custom property", statemachine.HistoryCriteria{CustomProperty: map[string]any{"attempt": "2"}}, true},
		{"nested custom property", statemachine.HistoryCriteria{CustomProperty: map[string]any{"meta.source": "api"}}, true},
		{"missing custom property", statemachine.HistoryCriteria{CustomProperty: map[string]any{"meta.other": "api"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.criteria.Matches(tr))
		})
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()

	notAllowed := statemachine.NewErrTransitionNotAllowed("pending", "completed", orderType)
	assert.True(t, statemachine.IsTransitionNotAllowedError(notAllowed))
	assert.Contains(t, notAllowed.Error(), "pending")

	cause := errors.New("insufficient funds")
	validation := statemachine.NewErrValidationFailed("pending", "active", cause)
	assert.True(t, statemachine.IsValidationFailedError(validation))
	assert.ErrorIs(t, validation, cause)

	starting := statemachine.NewErrInvalidStartingState("pending", "active")
	assert.True(t, statemachine.IsInvalidStartingStateError(starting))
	assert.False(t, statemachine.IsTransitionNotAllowedError(starting))
	assert.Contains(t, starting.Error(), "active")
}
