package statemachine

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// HistoryCriteria filters audit records. Zero-valued fields do not filter.
// An empty string in From matches genesis records.
type HistoryCriteria struct {
	Entities       []Ref
	Field          string
	From           []string
	To             []string
	Responsible    *Ref
	CustomProperty map[string]any // dot path to expected value
}

// Matches reports whether a record satisfies the criteria.
// Storage backends must return exactly the records Matches accepts.
func (c HistoryCriteria) Matches(t Transition) bool {
	if len(c.Entities) > 0 && !slices.Contains(c.Entities, t.Entity) {
		return false
	}
	if c.Field != "" && t.Field != c.Field {
		return false
	}
	if len(c.From) > 0 && !slices.Contains(c.From, t.From) {
		return false
	}
	if len(c.To) > 0 && !slices.Contains(c.To, t.To) {
		return false
	}
	if c.Responsible != nil && (t.Responsible == nil || *t.Responsible != *c.Responsible) {
		return false
	}
	for path, want := range c.CustomProperty {
		got := lookupPath(t.CustomProperties, path)
		if got == nil || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// PendingCriteria filters pending transitions.
type PendingCriteria struct {
	Entities      []Ref
	Field         string
	OnlyUnapplied bool
}

func (c PendingCriteria) Matches(p PendingTransition) bool {
	if len(c.Entities) > 0 && !slices.Contains(c.Entities, p.Entity) {
		return false
	}
	if c.Field != "" && p.Field != c.Field {
		return false
	}
	if c.OnlyUnapplied && p.IsApplied() {
		return false
	}
	return true
}

// HistoryStorage reads the append-only audit trail.
type HistoryStorage interface {
	// QueryTransitions returns matching records ordered by id ascending.
	QueryTransitions(ctx context.Context, c HistoryCriteria) ([]Transition, error)

	CountTransitions(ctx context.Context, c HistoryCriteria) (int, error)

	// LatestTransition returns the matching record with the highest id, or nil when none matches.
	LatestTransition(ctx context.Context, c HistoryCriteria) (*Transition, error)
}

// PendingStorage persists deferred transitions.
type PendingStorage interface {
	// CreatePending stores p and fills its ID and CreatedAt.
	CreatePending(ctx context.Context, p *PendingTransition) error

	// QueryPending returns matching records ordered by id ascending.
	QueryPending(ctx context.Context, c PendingCriteria) ([]PendingTransition, error)

	// DuePending returns up to limit unapplied records scheduled at or before now
	// with an id greater than afterID, ordered by id ascending.
	DuePending(ctx context.Context, now time.Time, afterID int64, limit int) ([]PendingTransition, error)

	// PendingByID returns the stored record, or ErrPendingNotFound once it was cancelled.
	PendingByID(ctx context.Context, id int64) (*PendingTransition, error)

	// MarkApplied sets applied_at once. Returns ErrAlreadyApplied if it was already set
	// and ErrPendingNotFound if the record does not exist.
	MarkApplied(ctx context.Context, id int64, at time.Time) error
}

// Tx is the unit of work a transition is applied in.
type Tx interface {
	SaveEntity(ctx context.Context, e Entity) error

	// CreateTransition appends a record and fills its ID and CreatedAt.
	CreateTransition(ctx context.Context, t *Transition) error

	// DeletePending removes every pending transition of the entity field, applied
	// or not, except exceptID (0 keeps none), and returns how many were removed.
	DeletePending(ctx context.Context, ref Ref, field string, exceptID int64) (int64, error)
}

// Storage is the full persistence contract of the engine.
type Storage interface {
	HistoryStorage
	PendingStorage

	// WithTx runs fn in a unit of work. Any error returned by fn, or a panic,
	// rolls back every write made through the Tx. Panics are re-raised after rollback.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
