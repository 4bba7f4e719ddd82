package statemachine

import (
	"context"
	"fmt"
	"maps"
)

// State represents a value of a state field.
// Enum-like types implement Name to normalize to their stored identifier.
type State interface {
	Name() string
}

// StringState provides a simple string-based state implementation for basic use cases.
type StringState string

func (s StringState) Name() string {
	return string(s)
}

// Any is the wildcard state. In a rule table it matches any concrete state
// on either side of an edge.
const Any = StringState("*")

// Hook runs around a transition with the normalized source and destination states.
// Returning an error fails the transition.
type Hook func(ctx context.Context, from, to string, e Entity) error

// Validator inspects a transition before anything is mutated.
// A non-nil error rejects the transition and becomes the ValidationFailed detail.
type Validator func(ctx context.Context, from, to string, e Entity) error

// Ref identifies a persisted object of any type by a type tag and an identifier.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// NewRef builds a reference, formatting the identifier with fmt.Sprint.
func NewRef(entityType string, id any) Ref {
	return Ref{Type: entityType, ID: fmt.Sprint(id)}
}

func (r Ref) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

func (r Ref) String() string {
	return r.Type + ":" + r.ID
}

// Entity is a persistent object owning one or more state fields.
// The engine never owns an entity; it borrows it for the duration of an operation.
type Entity interface {
	Ref() Ref
	StateOf(field string) string
	SetState(field, value string)
}

// ChangeTracker is implemented by entities that know which attributes changed
// since they were loaded or last saved.
type ChangeTracker interface {
	Changes() Changes
}

// Syncer is implemented by entities that reset their change tracking after a save.
type Syncer interface {
	SyncOriginal()
}

// HistoryHolder is implemented by entities that can carry their transition
// history bulk-loaded by the caller. Loaded reports false when nothing was loaded.
type HistoryHolder interface {
	LoadedTransitions() ([]Transition, bool)
	SetLoadedTransitions(transitions []Transition)
}

// Change is the old and new value of one attribute in a single save.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Changes maps attribute names to their change.
type Changes map[string]Change

func (c Changes) clone() Changes {
	if c == nil {
		return nil
	}
	return maps.Clone(c)
}

func normalize(s State) string {
	if s == nil {
		return ""
	}
	return s.Name()
}

// LockKey returns the key used to serialize transitions of one entity field.
func LockKey(ref Ref, field string) string {
	return "statemachine:" + ref.Type + ":" + ref.ID + ":" + field
}
