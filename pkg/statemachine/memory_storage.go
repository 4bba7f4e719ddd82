package statemachine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ErrEntityNotFound is returned by loaders for unknown ids.
var ErrEntityNotFound = errors.New("entity not found")

// MemoryStorage implements Storage for testing and local development.
// Units of work are serialized and buffered; nothing is visible until commit.
type MemoryStorage struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	entities    map[Ref]Entity
	transitions []Transition
	pending     []*PendingTransition

	nextTransitionID atomic.Int64
	nextPendingID    atomic.Int64
	queries          atomic.Int64

	saveHook func(Entity) error
	now      func() time.Time
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entities: make(map[Ref]Entity),
		now:      time.Now,
	}
}

// SetClock overrides the time source used for CreatedAt stamps.
func (ms *MemoryStorage) SetClock(now func() time.Time) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if now != nil {
		ms.now = now
	}
}

// SetSaveHook installs a function called on every SaveEntity inside a unit of work.
// A non-nil error fails the save, which lets tests inject persistence failures.
func (ms *MemoryStorage) SetSaveHook(hook func(Entity) error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.saveHook = hook
}

// Queries returns how many read round-trips hit the storage.
func (ms *MemoryStorage) Queries() int64 {
	return ms.queries.Load()
}

// Transitions returns a copy of every committed audit record.
func (ms *MemoryStorage) Transitions() []Transition {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return slices.Clone(ms.transitions)
}

// Pending returns a copy of every pending transition.
func (ms *MemoryStorage) Pending() []PendingTransition {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]PendingTransition, 0, len(ms.pending))
	for _, p := range ms.pending {
		out = append(out, clonePending(p))
	}
	return out
}

// Entity returns the last committed snapshot of an entity.
func (ms *MemoryStorage) Entity(ref Ref) (Entity, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	e, ok := ms.entities[ref]
	if !ok {
		return nil, false
	}
	return snapshot(e), true
}

// Loader returns a Loader that resolves committed entities of one type.
func (ms *MemoryStorage) Loader(entityType string) Loader {
	return func(_ context.Context, id string) (Entity, error) {
		e, ok := ms.Entity(Ref{Type: entityType, ID: id})
		if !ok {
			return nil, fmt.Errorf("%w: %s:%s", ErrEntityNotFound, entityType, id)
		}
		return e, nil
	}
}

// QueryTransitions implements HistoryStorage
func (ms *MemoryStorage) QueryTransitions(ctx context.Context, c HistoryCriteria) ([]Transition, error) {
	ms.queries.Add(1)
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.matchTransitions(c), nil
}

// CountTransitions implements HistoryStorage
func (ms *MemoryStorage) CountTransitions(ctx context.Context, c HistoryCriteria) (int, error) {
	ms.queries.Add(1)
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.matchTransitions(c)), nil
}

// LatestTransition implements HistoryStorage
func (ms *MemoryStorage) LatestTransition(ctx context.Context, c HistoryCriteria) (*Transition, error) {
	ms.queries.Add(1)
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	matched := ms.matchTransitions(c)
	if len(matched) == 0 {
		return nil, nil
	}
	latest := matched[len(matched)-1]
	return &latest, nil
}

// transitions are appended in id order, so matches come out sorted.
func (ms *MemoryStorage) matchTransitions(c HistoryCriteria) []Transition {
	var out []Transition
	for _, t := range ms.transitions {
		if c.Matches(t) {
			out = append(out, cloneTransition(t))
		}
	}
	return out
}

// CreatePending implements PendingStorage
func (ms *MemoryStorage) CreatePending(ctx context.Context, p *PendingTransition) error {
	if p == nil {
		return errors.New("pending transition cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	p.ID = ms.nextPendingID.Add(1)
	p.CreatedAt = ms.now()
	p.AppliedAt = nil

	stored := clonePending(p)
	ms.pending = append(ms.pending, &stored)
	return nil
}

// QueryPending implements PendingStorage
func (ms *MemoryStorage) QueryPending(ctx context.Context, c PendingCriteria) ([]PendingTransition, error) {
	ms.queries.Add(1)
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []PendingTransition
	for _, p := range ms.pending {
		if c.Matches(*p) {
			out = append(out, clonePending(p))
		}
	}
	return out, nil
}

// DuePending implements PendingStorage
func (ms *MemoryStorage) DuePending(ctx context.Context, now time.Time, afterID int64, limit int) ([]PendingTransition, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []PendingTransition
	for _, p := range ms.pending {
		if limit > 0 && len(out) >= limit {
			break
		}
		if p.ID > afterID && p.IsDue(now) {
			out = append(out, clonePending(p))
		}
	}
	return out, nil
}

// PendingByID implements PendingStorage
func (ms *MemoryStorage) PendingByID(ctx context.Context, id int64) (*PendingTransition, error) {
	ms.queries.Add(1)
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, p := range ms.pending {
		if p.ID == id {
			out := clonePending(p)
			return &out, nil
		}
	}
	return nil, ErrPendingNotFound
}

// MarkApplied implements PendingStorage
func (ms *MemoryStorage) MarkApplied(ctx context.Context, id int64, at time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, p := range ms.pending {
		if p.ID != id {
			continue
		}
		if p.AppliedAt != nil {
			return ErrAlreadyApplied
		}
		applied := at
		p.AppliedAt = &applied
		return nil
	}
	return ErrPendingNotFound
}

// WithTx implements Storage. Writes are buffered in the unit of work and
// applied only when fn returns nil; an error or panic discards them.
func (ms *MemoryStorage) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ms.txMu.Lock()
	defer ms.txMu.Unlock()

	tx := &memoryTx{ms: ms}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	ms.commit(tx)
	return nil
}

func (ms *MemoryStorage) commit(tx *memoryTx) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, e := range tx.saves {
		ms.entities[e.Ref()] = e
	}
	for _, d := range tx.deletes {
		ms.pending = slices.DeleteFunc(ms.pending, func(p *PendingTransition) bool {
			return p.Entity == d.ref && p.Field == d.field && p.ID != d.exceptID
		})
	}
	ms.transitions = append(ms.transitions, tx.transitions...)
}

type pendingDelete struct {
	ref      Ref
	field    string
	exceptID int64
}

type memoryTx struct {
	ms          *MemoryStorage
	saves       []Entity
	transitions []Transition
	deletes     []pendingDelete
}

func (tx *memoryTx) SaveEntity(ctx context.Context, e Entity) error {
	if e == nil {
		return ErrNilEntity
	}

	tx.ms.mu.RLock()
	hook := tx.ms.saveHook
	tx.ms.mu.RUnlock()

	if hook != nil {
		if err := hook(e); err != nil {
			return err
		}
	}

	tx.saves = append(tx.saves, snapshot(e))
	return nil
}

func (tx *memoryTx) CreateTransition(ctx context.Context, t *Transition) error {
	if t == nil {
		return errors.New("transition cannot be nil")
	}

	if t.IsGenesis() && tx.hasGenesis(t.Entity, t.Field) {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateGenesis, t.Entity, t.Field)
	}

	tx.ms.mu.RLock()
	now := tx.ms.now
	tx.ms.mu.RUnlock()

	t.ID = tx.ms.nextTransitionID.Add(1)
	t.CreatedAt = now()
	tx.transitions = append(tx.transitions, cloneTransition(*t))
	return nil
}

func (tx *memoryTx) hasGenesis(ref Ref, field string) bool {
	isGenesis := func(t Transition) bool {
		return t.IsGenesis() && t.Entity == ref && t.Field == field
	}
	if slices.ContainsFunc(tx.transitions, isGenesis) {
		return true
	}

	tx.ms.mu.RLock()
	defer tx.ms.mu.RUnlock()
	return slices.ContainsFunc(tx.ms.transitions, isGenesis)
}

func (tx *memoryTx) DeletePending(ctx context.Context, ref Ref, field string, exceptID int64) (int64, error) {
	tx.ms.mu.RLock()
	defer tx.ms.mu.RUnlock()

	var n int64
	for _, p := range tx.ms.pending {
		if p.Entity == ref && p.Field == field && p.ID != exceptID {
			n++
		}
	}
	tx.deletes = append(tx.deletes, pendingDelete{ref: ref, field: field, exceptID: exceptID})
	return n, nil
}

func snapshot(e Entity) Entity {
	if m, ok := e.(*Model); ok {
		return m.Clone()
	}
	return e
}

func cloneTransition(t Transition) Transition {
	t.CustomProperties = maps.Clone(t.CustomProperties)
	t.ChangedAttributes = t.ChangedAttributes.clone()
	if t.Responsible != nil {
		r := *t.Responsible
		t.Responsible = &r
	}
	return t
}

func clonePending(p *PendingTransition) PendingTransition {
	out := *p
	out.CustomProperties = maps.Clone(p.CustomProperties)
	if p.Responsible != nil {
		r := *p.Responsible
		out.Responsible = &r
	}
	if p.AppliedAt != nil {
		at := *p.AppliedAt
		out.AppliedAt = &at
	}
	return out
}
