package statemachine

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
)

// Model is a map-backed Entity with dirty tracking and an eager-load slot for
// its transition history. It is the default entity for hosts without their own
// object model and is safe for concurrent use.
type Model struct {
	mu          sync.RWMutex
	ref         Ref
	attrs       map[string]any
	original    map[string]any
	transitions []Transition
	loaded      bool
}

// NewModel creates a model whose attributes are treated as already persisted.
func NewModel(entityType string, id any, attrs map[string]any) *Model {
	if attrs == nil {
		attrs = make(map[string]any)
	}
	return &Model{
		ref:      NewRef(entityType, id),
		attrs:    maps.Clone(attrs),
		original: maps.Clone(attrs),
	}
}

func (m *Model) Ref() Ref {
	return m.ref
}

// StateOf returns the normalized value of a state field, or "" when unset.
func (m *Model) StateOf(field string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch v := m.attrs[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case State:
		return v.Name()
	default:
		return fmt.Sprint(v)
	}
}

func (m *Model) SetState(field, value string) {
	m.SetAttr(field, value)
}

// Attr returns an attribute value.
func (m *Model) Attr(name string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attrs[name]
}

// Attrs returns a copy of all attributes.
func (m *Model) Attrs() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.attrs)
}

func (m *Model) SetAttr(name string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrs[name] = value
}

// Changes returns the attributes whose value differs from the last synced state.
func (m *Model) Changes() Changes {
	m.mu.RLock()
	defer m.mu.RUnlock()

	changes := make(Changes)
	for name, value := range m.attrs {
		old, existed := m.original[name]
		if !existed || !reflect.DeepEqual(old, value) {
			changes[name] = Change{Old: old, New: value}
		}
	}
	for name, old := range m.original {
		if _, ok := m.attrs[name]; !ok {
			changes[name] = Change{Old: old}
		}
	}
	return changes
}

// IsDirty reports whether any attribute changed since the last sync.
func (m *Model) IsDirty() bool {
	return len(m.Changes()) > 0
}

// SyncOriginal marks the current attributes as persisted.
func (m *Model) SyncOriginal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.original = maps.Clone(m.attrs)
}

func (m *Model) LoadedTransitions() ([]Transition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.loaded {
		return nil, false
	}
	return slices.Clone(m.transitions), true
}

func (m *Model) SetLoadedTransitions(transitions []Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = slices.Clone(transitions)
	m.loaded = true
}

// UnloadTransitions drops the eager-loaded history so queries go to storage again.
func (m *Model) UnloadTransitions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = nil
	m.loaded = false
}

// Clone returns an independent copy without eager-loaded history.
func (m *Model) Clone() *Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Model{
		ref:      m.ref,
		attrs:    maps.Clone(m.attrs),
		original: maps.Clone(m.original),
	}
}
