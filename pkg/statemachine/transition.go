package statemachine

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Transition is an immutable audit record of a state field change.
// The genesis record of a field has an empty From.
type Transition struct {
	ID                int64          `json:"id"`
	Entity            Ref            `json:"entity"`
	Field             string         `json:"field"`
	From              string         `json:"from,omitempty"`
	To                string         `json:"to"`
	CustomProperties  map[string]any `json:"custom_properties,omitempty"`
	Responsible       *Ref           `json:"responsible,omitempty"`
	ChangedAttributes Changes        `json:"changed_attributes,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// IsGenesis reports whether the record captures the initial state of the field.
func (t Transition) IsGenesis() bool {
	return t.From == ""
}

// CustomProperty returns a custom property by key. Dots in the key descend into nested maps.
func (t Transition) CustomProperty(key string) any {
	return lookupPath(t.CustomProperties, key)
}

// AllCustomProperties returns a copy of the custom properties, never nil.
func (t Transition) AllCustomProperties() map[string]any {
	if t.CustomProperties == nil {
		return map[string]any{}
	}
	return maps.Clone(t.CustomProperties)
}

// ChangedAttributeNames returns the names of attributes changed alongside the transition, sorted.
func (t Transition) ChangedAttributeNames() []string {
	return slices.Sorted(maps.Keys(t.ChangedAttributes))
}

func (t Transition) ChangedAttributeOld(attribute string) any {
	return t.ChangedAttributes[attribute].Old
}

func (t Transition) ChangedAttributeNew(attribute string) any {
	return t.ChangedAttributes[attribute].New
}

// PendingTransition is a deferred transition request executed later by the Dispatcher.
// AppliedAt is set exactly once, when the transition has been executed.
type PendingTransition struct {
	ID               int64          `json:"id"`
	Entity           Ref            `json:"entity"`
	Field            string         `json:"field"`
	From             string         `json:"from"`
	To               string         `json:"to"`
	CustomProperties map[string]any `json:"custom_properties,omitempty"`
	Responsible      *Ref           `json:"responsible,omitempty"`
	TransitionAt     time.Time      `json:"transition_at"`
	AppliedAt        *time.Time     `json:"applied_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func (p PendingTransition) IsApplied() bool {
	return p.AppliedAt != nil
}

// IsDue reports whether the transition is unapplied and scheduled at or before now.
func (p PendingTransition) IsDue(now time.Time) bool {
	return !p.IsApplied() && !p.TransitionAt.After(now)
}

func lookupPath(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	if v, ok := m[key]; ok {
		return v
	}

	var current any = m
	for part := range strings.SplitSeq(key, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		if current, ok = node[part]; !ok {
			return nil
		}
	}
	return current
}
