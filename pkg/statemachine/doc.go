// Package statemachine enforces legal changes of state fields on persistent
// entities, applies them atomically with the entity save, keeps an audit trail
// of every transition and executes transitions scheduled for later.
//
// # Rule tables
//
// A Machine declares which moves a state field may make. It is built with
// functional options, the fluent Builder or from YAML:
//
//	const (
//	    Pending   = statemachine.StringState("pending")
//	    Active    = statemachine.StringState("active")
//	    Completed = statemachine.StringState("completed")
//	    Cancelled = statemachine.StringState("cancelled")
//	)
//
//	orderStatus := statemachine.MustNew(Pending,
//	    statemachine.WithTransition(Pending, Active, Cancelled),
//	    statemachine.WithTransition(Active, Completed, Cancelled),
//	    statemachine.WithAfterHook(Completed, sendReceipt),
//	)
//
// The wildcard state Any matches every concrete state on either side of an edge.
//
// # Engine
//
// Machines are bound to entity fields in a Registry and executed by an Engine
// over a Storage implementation (MemoryStorage here, PostgreSQL in pgstore):
//
//	registry := statemachine.NewRegistry()
//	registry.MustRegister("order", "status", orderStatus)
//
//	engine, err := statemachine.NewEngine(storage, registry)
//	order := statemachine.NewModel("order", 42, nil)
//	err = engine.Create(ctx, order)
//
//	status, err := engine.State(order, "status")
//	err = status.TransitionTo(ctx, Active,
//	    statemachine.WithResponsible(statemachine.NewRef("user", 7)))
//
// A transition is checked against the rule table and the validator before
// anything happens. Then Started is announced, before-hooks run, and one unit
// of work saves the entity, appends the audit record and cancels the field's
// pending transitions. After commit the after-hooks run and Completed is
// announced. Any failure after Started announces Failed and is returned as is.
//
// # History
//
// Was, TimesWas, WhenWas, SnapshotWhen and SnapshotsWhen answer from the
// entity's eager-loaded history when it has one (see PreloadHistory) and from
// storage otherwise, with identical results.
//
// # Deferred transitions
//
// PostponeTransitionTo stores a PendingTransition. A Dispatcher sweeps due
// records and executes each one; a record whose source state no longer matches
// the entity fails with ErrInvalidStartingState and stays unapplied.
package statemachine
