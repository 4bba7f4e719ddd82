package statemachine_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

func benchEngine(b *testing.B, m *statemachine.Machine) (*statemachine.Engine, *statemachine.MemoryStorage) {
	b.Helper()

	storage := statemachine.NewMemoryStorage()
	registry := statemachine.NewRegistry()
	registry.MustRegister(orderType, statusField, m)

	engine, err := statemachine.NewEngine(storage, registry)
	if err != nil {
		b.Fatal(err)
	}
	return engine, storage
}

func BenchmarkMachine_Allows(b *testing.B) {
	m := orderMachine(statemachine.WithTransition(statemachine.Any, statemachine.StringState("archived")))

	for b.Loop() {
		_ = m.Allows("pending", "active")
		_ = m.Allows("completed", "archived")
		_ = m.Allows("completed", "pending")
	}
}

func BenchmarkEngine_TransitionTo(b *testing.B) {
	ctx := context.Background()
	engine, _ := benchEngine(b, cyclingMachine())

	order := statemachine.NewModel(orderType, 1, nil)
	if err := engine.Create(ctx, order); err != nil {
		b.Fatal(err)
	}

	for b.Loop() {
		_ = engine.TransitionTo(ctx, order, statusField, nil, Active)
		_ = engine.TransitionTo(ctx, order, statusField, nil, Pending)
	}
}

func BenchmarkEngine_TransitionToWithoutHistory(b *testing.B) {
	ctx := context.Background()
	engine, _ := benchEngine(b, orderMachine(
		statemachine.WithTransition(Active, Pending),
		statemachine.WithoutHistory(),
	))

	order := statemachine.NewModel(orderType, 1, map[string]any{statusField: "pending"})

	for b.Loop() {
		_ = engine.TransitionTo(ctx, order, statusField, nil, Active)
		_ = engine.TransitionTo(ctx, order, statusField, nil, Pending)
	}
}

func BenchmarkHistory_TimesWas(b *testing.B) {
	ctx := context.Background()

	for _, n := range []int{10, 100, 1000} {
		engine, _ := benchEngine(b, cyclingMachine())
		order := statemachine.NewModel(orderType, 1, nil)
		if err := engine.Create(ctx, order); err != nil {
			b.Fatal(err)
		}
		for range n / 2 {
			_ = engine.TransitionTo(ctx, order, statusField, nil, Active)
			_ = engine.TransitionTo(ctx, order, statusField, nil, Pending)
		}

		b.Run(fmt.Sprintf("storage/%d", n), func(b *testing.B) {
			order.UnloadTransitions()
			for b.Loop() {
				_, _ = engine.TimesWas(ctx, order, statusField, Active)
			}
		})

		b.Run(fmt.Sprintf("eager/%d", n), func(b *testing.B) {
			if err := engine.PreloadHistory(ctx, order); err != nil {
				b.Fatal(err)
			}
			for b.Loop() {
				_, _ = engine.TimesWas(ctx, order, statusField, Active)
			}
		})
	}
}

func BenchmarkDispatcher_Sweep(b *testing.B) {
	ctx := context.Background()
	engine, storage := benchEngine(b, orderMachine())
	registry := engine.Registry()
	registry.RegisterLoader(orderType, storage.Loader(orderType))

	d, err := statemachine.NewDispatcher(engine)
	if err != nil {
		b.Fatal(err)
	}

	round := 0
	for b.Loop() {
		b.StopTimer()
		round++
		for i := range 50 {
			order := statemachine.NewModel(orderType, fmt.Sprintf("%d-%d", round, i), nil)
			if err := engine.Create(ctx, order); err != nil {
				b.Fatal(err)
			}
			if _, err := engine.PostponeTransitionTo(ctx, order, statusField, nil, Active, pastDue()); err != nil {
				b.Fatal(err)
			}
		}
		b.StartTimer()

		if _, err := d.Sweep(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
