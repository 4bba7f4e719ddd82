package statemachine

import (
	"errors"
	"fmt"
)

// Option configures a Machine during construction.
type Option func(*Machine) error

// New creates a rule table with the given default state and options.
// A nil default state means new entities get no initial value.
func New(defaultState State, opts ...Option) (*Machine, error) {
	m := newMachine(defaultState)

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// MustNew creates a rule table with the given default state and options.
// Panics if any option fails to apply, following the fail-fast pattern for static definitions.
func MustNew(defaultState State, opts ...Option) *Machine {
	m, err := New(defaultState, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create state machine: %v", err))
	}
	return m
}

// WithName labels the machine in logs and errors.
func WithName(name string) Option {
	return func(m *Machine) error {
		m.name = name
		return nil
	}
}

// WithTransition declares the edges from→to for every given destination.
// Use Any on either side for wildcard edges.
func WithTransition(from State, to ...State) Option {
	return func(m *Machine) error {
		fromName := normalize(from)
		if fromName == "" {
			return fmt.Errorf("%w: source state cannot be empty", ErrInvalidMachine)
		}
		if len(to) == 0 {
			return fmt.Errorf("%w: no destination for %q", ErrInvalidMachine, fromName)
		}

		targets := make([]string, 0, len(to))
		for _, s := range to {
			name := normalize(s)
			if name == "" {
				return fmt.Errorf("%w: destination state from %q cannot be empty", ErrInvalidMachine, fromName)
			}
			targets = append(targets, name)
		}

		m.addTransition(fromName, targets...)
		return nil
	}
}

// WithTransitions declares every edge of a source state to reachable states map.
func WithTransitions(transitions map[State][]State) Option {
	return func(m *Machine) error {
		var errs []error
		for from, targets := range transitions {
			if err := WithTransition(from, targets...)(m); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// WithoutHistory disables the audit trail for this machine.
func WithoutHistory() Option {
	return func(m *Machine) error {
		m.recordHistory = false
		return nil
	}
}

// WithValidator sets the transition validator. It runs before any mutation.
func WithValidator(v Validator) Option {
	return func(m *Machine) error {
		m.validator = v
		return nil
	}
}

// WithBeforeHook appends hooks that run before the entity is saved
// whenever a transition leaves the given state.
func WithBeforeHook(from State, hooks ...Hook) Option {
	return func(m *Machine) error {
		name := normalize(from)
		if name == "" {
			return fmt.Errorf("%w: before hook state cannot be empty", ErrInvalidMachine)
		}
		for _, hook := range hooks {
			if hook != nil {
				m.beforeHooks[name] = append(m.beforeHooks[name], hook)
			}
		}
		return nil
	}
}

// WithAfterHook appends hooks that run after commit whenever a transition
// enters the given state.
func WithAfterHook(to State, hooks ...Hook) Option {
	return func(m *Machine) error {
		name := normalize(to)
		if name == "" {
			return fmt.Errorf("%w: after hook state cannot be empty", ErrInvalidMachine)
		}
		for _, hook := range hooks {
			if hook != nil {
				m.afterHooks[name] = append(m.afterHooks[name], hook)
			}
		}
		return nil
	}
}
