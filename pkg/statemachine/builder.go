package statemachine

import (
	"errors"
	"fmt"
)

// Builder provides a fluent API for building rule tables.
type Builder struct {
	defaultState State
	currentFrom  State
	opts         []Option
	errs         []error
}

// NewBuilder creates a new rule table builder.
func NewBuilder(defaultState State) *Builder {
	return &Builder{defaultState: defaultState}
}

// Named sets the machine name.
func (b *Builder) Named(name string) *Builder {
	b.opts = append(b.opts, WithName(name))
	return b
}

// From sets the source state for the following To and Before calls.
func (b *Builder) From(state State) *Builder {
	b.currentFrom = state
	return b
}

// To declares edges from the current source state.
func (b *Builder) To(states ...State) *Builder {
	if b.currentFrom == nil {
		b.errs = append(b.errs, fmt.Errorf("%w: To called before From", ErrInvalidMachine))
		return b
	}
	b.opts = append(b.opts, WithTransition(b.currentFrom, states...))
	return b
}

// Before registers hooks for transitions leaving the current source state.
func (b *Builder) Before(hooks ...Hook) *Builder {
	if b.currentFrom == nil {
		b.errs = append(b.errs, fmt.Errorf("%w: Before called before From", ErrInvalidMachine))
		return b
	}
	b.opts = append(b.opts, WithBeforeHook(b.currentFrom, hooks...))
	return b
}

// After registers hooks for transitions entering the given state.
func (b *Builder) After(state State, hooks ...Hook) *Builder {
	b.opts = append(b.opts, WithAfterHook(state, hooks...))
	return b
}

// Validate sets the transition validator.
func (b *Builder) Validate(v Validator) *Builder {
	b.opts = append(b.opts, WithValidator(v))
	return b
}

// WithoutHistory disables the audit trail.
func (b *Builder) WithoutHistory() *Builder {
	b.opts = append(b.opts, WithoutHistory())
	return b
}

// Build returns the constructed rule table.
func (b *Builder) Build() (*Machine, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	return New(b.defaultState, b.opts...)
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Machine {
	m, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build state machine: %v", err))
	}
	return m
}
