package statemachine

import (
	"context"
	"maps"
	"slices"
)

// Machine is the rule table for one kind of state field: the legal edges,
// the default state, history recording, an optional validator and the
// before/after hook registries. A Machine is immutable once built and safe
// for concurrent use.
type Machine struct {
	name          string
	defaultState  string
	transitions   map[string][]string
	recordHistory bool
	validator     Validator
	beforeHooks   map[string][]Hook // keyed by source state
	afterHooks    map[string][]Hook // keyed by destination state
}

func newMachine(defaultState State) *Machine {
	return &Machine{
		defaultState:  normalize(defaultState),
		transitions:   make(map[string][]string),
		recordHistory: true,
		beforeHooks:   make(map[string][]Hook),
		afterHooks:    make(map[string][]Hook),
	}
}

func (m *Machine) Name() string {
	return m.name
}

// DefaultState returns the state assigned to new entities. Empty means no default.
func (m *Machine) DefaultState() string {
	return m.defaultState
}

// RecordsHistory reports whether transitions of this machine are written to the audit trail.
func (m *Machine) RecordsHistory() bool {
	return m.recordHistory
}

// Transitions returns a copy of the edge map.
func (m *Machine) Transitions() map[string][]string {
	out := make(map[string][]string, len(m.transitions))
	for from, to := range m.transitions {
		out[from] = slices.Clone(to)
	}
	return out
}

// States returns every concrete state named in the rule table, sorted.
func (m *Machine) States() []string {
	seen := make(map[string]struct{})
	if m.defaultState != "" {
		seen[m.defaultState] = struct{}{}
	}
	for from, targets := range m.transitions {
		seen[from] = struct{}{}
		for _, to := range targets {
			seen[to] = struct{}{}
		}
	}
	delete(seen, Any.Name())
	return slices.Sorted(maps.Keys(seen))
}

// CanBe reports whether the literal edge from→to is declared, without wildcard expansion.
func (m *Machine) CanBe(from, to string) bool {
	return slices.Contains(m.transitions[from], to)
}

// Allows reports whether a transition is legal: the table holds one of
// from→to, from→*, *→to or *→*.
func (m *Machine) Allows(from, to string) bool {
	wildcard := Any.Name()
	return m.CanBe(from, to) ||
		m.CanBe(from, wildcard) ||
		m.CanBe(wildcard, to) ||
		m.CanBe(wildcard, wildcard)
}

// BeforeHooks returns the hooks registered for the source state, in registration order.
func (m *Machine) BeforeHooks(from string) []Hook {
	return slices.Clone(m.beforeHooks[from])
}

// AfterHooks returns the hooks registered for the destination state, in registration order.
func (m *Machine) AfterHooks(to string) []Hook {
	return slices.Clone(m.afterHooks[to])
}

func (m *Machine) validate(ctx context.Context, from, to string, e Entity) error {
	if m.validator == nil {
		return nil
	}
	return m.validator(ctx, from, to, e)
}

func (m *Machine) addTransition(from string, targets ...string) {
	for _, to := range targets {
		if !slices.Contains(m.transitions[from], to) {
			m.transitions[from] = append(m.transitions[from], to)
		}
	}
}
