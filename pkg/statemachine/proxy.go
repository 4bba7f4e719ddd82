package statemachine

import (
	"context"
	"sync"
	"time"
)

// Proxy is a per-field handle binding a snapshot of the field's value to the engine.
type Proxy struct {
	engine  *Engine
	entity  Entity
	field   string
	machine *Machine
	state   string
}

// State returns a proxy for one state field of the entity.
func (e *Engine) State(ent Entity, field string) (*Proxy, error) {
	m, err := e.Machine(ent, field)
	if err != nil {
		return nil, err
	}
	return &Proxy{
		engine:  e,
		entity:  ent,
		field:   field,
		machine: m,
		state:   ent.StateOf(field),
	}, nil
}

// Current returns the snapshotted state.
func (p *Proxy) Current() string {
	return p.state
}

func (p *Proxy) Field() string {
	return p.field
}

func (p *Proxy) Machine() *Machine {
	return p.machine
}

func (p *Proxy) Is(state State) bool {
	return p.state == normalize(state)
}

func (p *Proxy) IsNot(state State) bool {
	return !p.Is(state)
}

// CanBe reports whether the literal edge from the current state to state is declared.
func (p *Proxy) CanBe(state State) bool {
	return p.machine.CanBe(p.state, normalize(state))
}

// TransitionTo moves the field from the snapshotted state.
func (p *Proxy) TransitionTo(ctx context.Context, state State, opts ...TransitionOption) error {
	return p.engine.TransitionTo(ctx, p.entity, p.field, StringState(p.state), state, opts...)
}

// PostponeTransitionTo schedules a move from the snapshotted state.
func (p *Proxy) PostponeTransitionTo(ctx context.Context, state State, when time.Time, opts ...TransitionOption) (*PendingTransition, error) {
	return p.engine.PostponeTransitionTo(ctx, p.entity, p.field, StringState(p.state), state, when, opts...)
}

func (p *Proxy) Was(ctx context.Context, state State) (bool, error) {
	return p.engine.Was(ctx, p.entity, p.field, state)
}

func (p *Proxy) TimesWas(ctx context.Context, state State) (int, error) {
	return p.engine.TimesWas(ctx, p.entity, p.field, state)
}

func (p *Proxy) WhenWas(ctx context.Context, state State) (time.Time, bool, error) {
	return p.engine.WhenWas(ctx, p.entity, p.field, state)
}

func (p *Proxy) SnapshotWhen(ctx context.Context, state State) (*Transition, error) {
	return p.engine.SnapshotWhen(ctx, p.entity, p.field, state)
}

func (p *Proxy) SnapshotsWhen(ctx context.Context, state State) ([]Transition, error) {
	return p.engine.SnapshotsWhen(ctx, p.entity, p.field, state)
}

func (p *Proxy) History(ctx context.Context) ([]Transition, error) {
	return p.engine.History(ctx, p.entity, p.field)
}

// Latest returns the record that moved the field into its current state, or nil.
func (p *Proxy) Latest(ctx context.Context) (*Transition, error) {
	return p.engine.SnapshotWhen(ctx, p.entity, p.field, StringState(p.state))
}

// CustomProperty reads a custom property of the latest record, or nil.
func (p *Proxy) CustomProperty(ctx context.Context, key string) (any, error) {
	t, err := p.Latest(ctx)
	if err != nil || t == nil {
		return nil, err
	}
	return t.CustomProperty(key), nil
}

// AllCustomProperties returns the custom properties of the latest record, never nil.
func (p *Proxy) AllCustomProperties(ctx context.Context) (map[string]any, error) {
	t, err := p.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return map[string]any{}, nil
	}
	return t.AllCustomProperties(), nil
}

// Responsible returns who moved the field into its current state, or nil.
func (p *Proxy) Responsible(ctx context.Context) (*Ref, error) {
	t, err := p.Latest(ctx)
	if err != nil || t == nil {
		return nil, err
	}
	return t.Responsible, nil
}

func (p *Proxy) PendingTransitions(ctx context.Context) ([]PendingTransition, error) {
	return p.engine.PendingTransitions(ctx, p.entity, p.field)
}

func (p *Proxy) HasPendingTransitions(ctx context.Context) (bool, error) {
	return p.engine.HasPendingTransitions(ctx, p.entity, p.field)
}

// Bound hands out proxies for the state fields of one entity.
type Bound struct {
	engine  *Engine
	entity  Entity
	mu      sync.Mutex
	proxies map[string]*Proxy
}

// Bind returns a per-entity proxy factory.
func (e *Engine) Bind(ent Entity) *Bound {
	return &Bound{
		engine:  e,
		entity:  ent,
		proxies: make(map[string]*Proxy),
	}
}

func (b *Bound) Entity() Entity {
	return b.entity
}

// Field returns the proxy for a state field. A cached proxy is reused until
// the entity's live value diverges from its snapshot.
func (b *Bound) Field(name string) (*Proxy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.proxies[name]; ok && p.state == b.entity.StateOf(name) {
		return p, nil
	}

	p, err := b.engine.State(b.entity, name)
	if err != nil {
		return nil, err
	}
	b.proxies[name] = p
	return p, nil
}
