package statemachine

import (
	"context"
	"fmt"
	"maps"
	"time"
)

// PostponeTransitionTo stores a transition to run at when. A nil from uses the
// field's current value. Returns nil without storing anything when to is the
// current value. Legality is checked now; validation runs at execution time.
func (e *Engine) PostponeTransitionTo(ctx context.Context, ent Entity, field string, from, to State, when time.Time, opts ...TransitionOption) (*PendingTransition, error) {
	m, err := e.Machine(ent, field)
	if err != nil {
		return nil, err
	}

	fromName := normalize(from)
	if from == nil {
		fromName = ent.StateOf(field)
	}
	toName := normalize(to)

	if toName == ent.StateOf(field) {
		return nil, nil
	}

	ref := ent.Ref()
	if fromName == "" || toName == "" || !m.Allows(fromName, toName) {
		return nil, NewErrTransitionNotAllowed(fromName, toName, ref.Type)
	}

	o := buildTransitionOptions(opts)
	p := &PendingTransition{
		Entity:           ref,
		Field:            field,
		From:             fromName,
		To:               toName,
		CustomProperties: maps.Clone(o.customProperties),
		Responsible:      e.responsible(ctx, o),
		TransitionAt:     when,
	}
	if err := e.storage.CreatePending(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to store pending transition: %w", err)
	}

	return p, nil
}

// PendingTransitions returns every pending transition of the field, applied or not.
func (e *Engine) PendingTransitions(ctx context.Context, ent Entity, field string) ([]PendingTransition, error) {
	if ent == nil {
		return nil, ErrNilEntity
	}
	return e.storage.QueryPending(ctx, PendingCriteria{
		Entities: []Ref{ent.Ref()},
		Field:    field,
	})
}

// HasPendingTransitions reports whether the field has unapplied pending transitions.
func (e *Engine) HasPendingTransitions(ctx context.Context, ent Entity, field string) (bool, error) {
	if ent == nil {
		return false, ErrNilEntity
	}
	pending, err := e.storage.QueryPending(ctx, PendingCriteria{
		Entities:      []Ref{ent.Ref()},
		Field:         field,
		OnlyUnapplied: true,
	})
	if err != nil {
		return false, err
	}
	return len(pending) > 0, nil
}

// CancelPendingTransitions deletes every pending transition of the field.
func (e *Engine) CancelPendingTransitions(ctx context.Context, ent Entity, field string) (int64, error) {
	if ent == nil {
		return 0, ErrNilEntity
	}

	var n int64
	err := e.storage.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		n, err = tx.DeletePending(ctx, ent.Ref(), field, 0)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending transitions: %w", err)
	}
	return n, nil
}

// ExecutePending runs one due pending transition. The stored record is read
// again under the field lock: a cancelled record returns ErrPendingNotFound and
// an executed one ErrAlreadyApplied, before any hook or notification runs.
// The entity is loaded through the registry and must still be in the recorded
// source state, otherwise ErrInvalidStartingState is returned.
//
// The record is marked applied only after the whole transition succeeded,
// after-hooks and notifications included; any failure leaves it unapplied.
// It is exempt from the cancellation of superseded pending transitions.
func (e *Engine) ExecutePending(ctx context.Context, p PendingTransition) error {
	if p.IsApplied() {
		return ErrAlreadyApplied
	}

	m, err := e.registry.Machine(p.Entity.Type, p.Field)
	if err != nil {
		return err
	}

	unlock, err := e.lock(ctx, p.Entity, p.Field)
	if err != nil {
		return err
	}
	defer unlock()

	stored, err := e.storage.PendingByID(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("pending transition %d: %w", p.ID, err)
	}
	if stored.IsApplied() {
		return fmt.Errorf("pending transition %d: %w", p.ID, ErrAlreadyApplied)
	}

	ent, err := e.registry.Load(ctx, stored.Entity)
	if err != nil {
		return err
	}

	if live := ent.StateOf(stored.Field); live != stored.From {
		return NewErrInvalidStartingState(stored.From, live)
	}

	o := transitionOptions{
		customProperties: stored.CustomProperties,
		responsible:      stored.Responsible,
		pending:          stored,
	}
	if err := e.transition(ctx, m, ent, stored.Field, stored.From, stored.To, o); err != nil {
		return err
	}

	if err := e.storage.MarkApplied(ctx, stored.ID, e.now()); err != nil {
		return fmt.Errorf("failed to mark pending transition %d applied: %w", stored.ID, err)
	}
	return nil
}
