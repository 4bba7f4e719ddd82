package statemachine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"
)

// Engine validates and executes transitions of registered state fields and
// records them in the audit trail.
type Engine struct {
	storage  Storage
	registry *Registry
	cfg      Config
	notifier Notifier
	logger   *slog.Logger
	resolver func(ctx context.Context) (Ref, bool)
	locker   Locker
	lockTTL  time.Duration
	now      func() time.Time
}

// NewEngine creates a transition engine over the storage and registry.
func NewEngine(storage Storage, registry *Registry, opts ...EngineOption) (*Engine, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	if registry == nil {
		return nil, ErrRegistryNil
	}

	e := &Engine{
		storage:  storage,
		registry: registry,
		cfg:      DefaultConfig(),
		notifier: nopNotifier{},
		logger:   slog.Default(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.lockTTL <= 0 {
		e.lockTTL = e.cfg.LockTTL
	}

	return e, nil
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) Storage() Storage {
	return e.storage
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Machine returns the rule table bound to the entity's field.
func (e *Engine) Machine(ent Entity, field string) (*Machine, error) {
	if ent == nil {
		return nil, ErrNilEntity
	}
	return e.registry.Machine(ent.Ref().Type, field)
}

// CanBe reports whether the rule table declares the literal edge from→to.
// Wildcards are not expanded; use Machine.Allows for the full legality rule.
func (e *Engine) CanBe(ent Entity, field string, from, to State) (bool, error) {
	m, err := e.Machine(ent, field)
	if err != nil {
		return false, err
	}
	return m.CanBe(normalize(from), normalize(to)), nil
}

// TransitionTo moves a state field from one state to another.
// A nil from uses the field's current value. Moving to the current value is a no-op.
//
// Legality and validation failures are returned before anything is mutated or announced.
// Once the Started event is emitted, any failure emits Failed and is returned unchanged.
func (e *Engine) TransitionTo(ctx context.Context, ent Entity, field string, from, to State, opts ...TransitionOption) error {
	m, err := e.Machine(ent, field)
	if err != nil {
		return err
	}

	unlock, err := e.lock(ctx, ent.Ref(), field)
	if err != nil {
		return err
	}
	defer unlock()

	fromName := normalize(from)
	if from == nil {
		fromName = ent.StateOf(field)
	}

	return e.transition(ctx, m, ent, field, fromName, normalize(to), buildTransitionOptions(opts))
}

func (e *Engine) transition(ctx context.Context, m *Machine, ent Entity, field, from, to string, o transitionOptions) error {
	if to == ent.StateOf(field) {
		return nil
	}

	ref := ent.Ref()
	if from == "" || to == "" || !m.Allows(from, to) {
		return NewErrTransitionNotAllowed(from, to, ref.Type)
	}

	if err := m.validate(ctx, from, to, ent); err != nil {
		return NewErrValidationFailed(from, to, err)
	}

	event := Event{Entity: ref, Field: field, From: from, To: to}
	if err := e.notify(ctx, event, EventTransitionStarted); err != nil {
		return err
	}

	if err := e.apply(ctx, m, ent, field, from, to, o); err != nil {
		e.fail(ctx, event, err)
		return err
	}

	for _, hook := range m.AfterHooks(to) {
		if err := runHook(ctx, hook, from, to, ent); err != nil {
			e.fail(ctx, event, err)
			return err
		}
	}

	if err := e.notify(ctx, event, EventTransitionCompleted); err != nil {
		e.fail(ctx, event, err)
		return err
	}

	e.logger.DebugContext(ctx, "state transition completed",
		slog.String("entity", ref.String()),
		slog.String("field", field),
		slog.String("from", from),
		slog.String("to", to))

	return nil
}

// apply runs the before-hooks and the atomic unit of work. The live entity's
// field is restored if the unit of work does not commit.
func (e *Engine) apply(ctx context.Context, m *Machine, ent Entity, field, from, to string, o transitionOptions) error {
	for _, hook := range m.BeforeHooks(from) {
		if err := runHook(ctx, hook, from, to, ent); err != nil {
			return err
		}
	}

	ref := ent.Ref()
	previous := ent.StateOf(field)
	committed := false
	defer func() {
		if !committed {
			ent.SetState(field, previous)
		}
	}()

	var record *Transition
	err := e.storage.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		ent.SetState(field, to)
		changes := e.changedAttributes(ent, field)

		if err := tx.SaveEntity(ctx, ent); err != nil {
			return fmt.Errorf("failed to save entity %s: %w", ref, err)
		}

		if m.RecordsHistory() {
			record = &Transition{
				Entity:            ref,
				Field:             field,
				From:              from,
				To:                to,
				CustomProperties:  maps.Clone(o.customProperties),
				Responsible:       e.responsible(ctx, o),
				ChangedAttributes: changes,
			}
			if err := tx.CreateTransition(ctx, record); err != nil {
				return fmt.Errorf("failed to record transition: %w", err)
			}
		}

		var executing int64
		if o.pending != nil {
			executing = o.pending.ID
		}

		if e.cfg.CancelPendingOnTransition {
			n, err := tx.DeletePending(ctx, ref, field, executing)
			if err != nil {
				return fmt.Errorf("failed to cancel pending transitions: %w", err)
			}
			if n > 0 {
				e.logger.DebugContext(ctx, "cancelled pending transitions",
					slog.String("entity", ref.String()),
					slog.String("field", field),
					slog.Int64("count", n))
			}
		}

		return nil
	})
	if err != nil {
		return err
	}
	committed = true

	e.afterCommit(ent, record)
	return nil
}

func (e *Engine) afterCommit(ent Entity, records ...*Transition) {
	if s, ok := ent.(Syncer); ok {
		s.SyncOriginal()
	}

	h, ok := ent.(HistoryHolder)
	if !ok {
		return
	}
	loaded, ok := h.LoadedTransitions()
	if !ok {
		return
	}
	for _, r := range records {
		if r != nil {
			loaded = append(loaded, cloneTransition(*r))
		}
	}
	h.SetLoadedTransitions(loaded)
}

// changedAttributes returns the dirty attributes other than the state field itself.
func (e *Engine) changedAttributes(ent Entity, field string) Changes {
	if !e.cfg.RecordChangedAttributes {
		return nil
	}
	tracker, ok := ent.(ChangeTracker)
	if !ok {
		return nil
	}
	changes := tracker.Changes().clone()
	delete(changes, field)
	if len(changes) == 0 {
		return nil
	}
	return changes
}

// responsible resolves the party a transition is attributed to.
// The explicit option wins over the resolver.
func (e *Engine) responsible(ctx context.Context, o transitionOptions) *Ref {
	if o.responsible != nil {
		ref := *o.responsible
		return &ref
	}
	if e.resolver == nil {
		return nil
	}
	if ref, ok := e.resolver(ctx); ok && !ref.IsZero() {
		return &ref
	}
	return nil
}

// InitDefaults assigns each registered field's default state when the field is unset.
func (e *Engine) InitDefaults(ent Entity) error {
	if ent == nil {
		return ErrNilEntity
	}

	ref := ent.Ref()
	fields := e.registry.Fields(ref.Type)
	if len(fields) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownEntityType, ref.Type)
	}

	for _, field := range fields {
		m, err := e.registry.Machine(ref.Type, field)
		if err != nil {
			return err
		}
		if ent.StateOf(field) == "" && m.DefaultState() != "" {
			ent.SetState(field, m.DefaultState())
		}
	}
	return nil
}

// Create initializes default states, persists the entity and writes the genesis
// record of every field with a state, all in one unit of work.
func (e *Engine) Create(ctx context.Context, ent Entity, opts ...TransitionOption) error {
	if err := e.InitDefaults(ent); err != nil {
		return err
	}

	o := buildTransitionOptions(opts)
	var records []*Transition
	err := e.storage.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.SaveEntity(ctx, ent); err != nil {
			return fmt.Errorf("failed to save entity %s: %w", ent.Ref(), err)
		}
		var err error
		records, err = e.recordGenesis(ctx, tx, ent, o, nil)
		return err
	})
	if err != nil {
		return err
	}

	e.afterCommit(ent, records...)
	return nil
}

// RecordInitialStates writes missing genesis records for an entity the host
// persisted itself. Fields that already have a genesis record are skipped.
func (e *Engine) RecordInitialStates(ctx context.Context, ent Entity, opts ...TransitionOption) error {
	if ent == nil {
		return ErrNilEntity
	}

	ref := ent.Ref()
	existing := make(map[string]bool)
	for _, field := range e.registry.Fields(ref.Type) {
		n, err := e.storage.CountTransitions(ctx, HistoryCriteria{
			Entities: []Ref{ref},
			Field:    field,
			From:     []string{""},
		})
		if err != nil {
			return fmt.Errorf("failed to check genesis record: %w", err)
		}
		existing[field] = n > 0
	}

	o := buildTransitionOptions(opts)
	var records []*Transition
	err := e.storage.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		records, err = e.recordGenesis(ctx, tx, ent, o, existing)
		return err
	})
	if err != nil {
		return err
	}

	e.afterCommit(ent, records...)
	return nil
}

func (e *Engine) recordGenesis(ctx context.Context, tx Tx, ent Entity, o transitionOptions, skip map[string]bool) ([]*Transition, error) {
	ref := ent.Ref()
	var records []*Transition
	for _, field := range e.registry.Fields(ref.Type) {
		m, err := e.registry.Machine(ref.Type, field)
		if err != nil {
			return nil, err
		}
		state := ent.StateOf(field)
		if state == "" || !m.RecordsHistory() || skip[field] {
			continue
		}

		record := &Transition{
			Entity:           ref,
			Field:            field,
			To:                state,
			CustomProperties:  maps.Clone(o.customProperties),
			Responsible:       e.responsible(ctx, o),
			ChangedAttributes: e.changedAttributes(ent, ""),
		}
		if err := tx.CreateTransition(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to record initial state of %s: %w", field, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (e *Engine) lock(ctx context.Context, ref Ref, field string) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}

	key := LockKey(ref, field)
	unlock, err := e.locker.Lock(ctx, key, e.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLockNotAcquired, key, err)
	}

	return func() {
		// Release even when ctx is already cancelled.
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			e.logger.WarnContext(ctx, "failed to release transition lock",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}, nil
}

func (e *Engine) notify(ctx context.Context, event Event, kind EventKind) error {
	event.Kind = kind
	event.At = e.now()
	return e.notifier.Notify(ctx, event)
}

func (e *Engine) fail(ctx context.Context, event Event, cause error) {
	event.Err = cause
	if err := e.notify(ctx, event, EventTransitionFailed); err != nil {
		e.logger.ErrorContext(ctx, "transition failed notification error",
			slog.String("entity", event.Entity.String()),
			slog.String("field", event.Field),
			slog.String("error", err.Error()))
	}
}

// runHook calls a hook and turns a panic into an error.
func runHook(ctx context.Context, hook Hook, from, to string, ent Entity) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rErr, ok := r.(error); ok {
				err = fmt.Errorf("hook panicked: %w", rErr)
				return
			}
			err = errors.New(fmt.Sprint("hook panicked: ", r))
		}
	}()
	return hook(ctx, from, to, ent)
}
