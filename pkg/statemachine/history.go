package statemachine

import (
	"cmp"
	"context"
	"slices"
	"time"
)

// History queries take one of two paths. When the entity carries its
// transitions eager-loaded (HistoryHolder), they are answered from memory
// without touching storage. Otherwise they become a storage query. Both paths
// return the same result for the same data.

// eagerHistory returns the loaded records of one field ordered by id ascending.
func eagerHistory(ent Entity, field string) ([]Transition, bool) {
	h, ok := ent.(HistoryHolder)
	if !ok {
		return nil, false
	}
	all, ok := h.LoadedTransitions()
	if !ok {
		return nil, false
	}

	ref := ent.Ref()
	out := make([]Transition, 0, len(all))
	for _, t := range all {
		if t.Entity == ref && t.Field == field {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b Transition) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, true
}

func fieldCriteria(ent Entity, field string) HistoryCriteria {
	return HistoryCriteria{Entities: []Ref{ent.Ref()}, Field: field}
}

// SnapshotsWhen returns every record that moved the field into state, oldest first.
func (e *Engine) SnapshotsWhen(ctx context.Context, ent Entity, field string, state State) ([]Transition, error) {
	if ent == nil {
		return nil, ErrNilEntity
	}
	to := normalize(state)

	if loaded, ok := eagerHistory(ent, field); ok {
		var out []Transition
		for _, t := range loaded {
			if t.To == to {
				out = append(out, t)
			}
		}
		return out, nil
	}

	c := fieldCriteria(ent, field)
	c.To = []string{to}
	return e.storage.QueryTransitions(ctx, c)
}

// SnapshotWhen returns the most recent record that moved the field into state, or nil.
func (e *Engine) SnapshotWhen(ctx context.Context, ent Entity, field string, state State) (*Transition, error) {
	if ent == nil {
		return nil, ErrNilEntity
	}
	to := normalize(state)

	if loaded, ok := eagerHistory(ent, field); ok {
		for i := len(loaded) - 1; i >= 0; i-- {
			if loaded[i].To == to {
				t := loaded[i]
				return &t, nil
			}
		}
		return nil, nil
	}

	c := fieldCriteria(ent, field)
	c.To = []string{to}
	return e.storage.LatestTransition(ctx, c)
}

// TimesWas counts how many times the field entered state, the genesis record included.
func (e *Engine) TimesWas(ctx context.Context, ent Entity, field string, state State) (int, error) {
	if ent == nil {
		return 0, ErrNilEntity
	}
	to := normalize(state)

	if loaded, ok := eagerHistory(ent, field); ok {
		n := 0
		for _, t := range loaded {
			if t.To == to {
				n++
			}
		}
		return n, nil
	}

	c := fieldCriteria(ent, field)
	c.To = []string{to}
	return e.storage.CountTransitions(ctx, c)
}

// Was reports whether the field has ever been in state.
func (e *Engine) Was(ctx context.Context, ent Entity, field string, state State) (bool, error) {
	n, err := e.TimesWas(ctx, ent, field, state)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// WhenWas returns when the field last entered state. The flag is false if it never did.
func (e *Engine) WhenWas(ctx context.Context, ent Entity, field string, state State) (time.Time, bool, error) {
	t, err := e.SnapshotWhen(ctx, ent, field, state)
	if err != nil || t == nil {
		return time.Time{}, false, err
	}
	return t.CreatedAt, true, nil
}

// History returns every record of the field, oldest first.
func (e *Engine) History(ctx context.Context, ent Entity, field string) ([]Transition, error) {
	if ent == nil {
		return nil, ErrNilEntity
	}
	if loaded, ok := eagerHistory(ent, field); ok {
		return loaded, nil
	}
	return e.storage.QueryTransitions(ctx, fieldCriteria(ent, field))
}

// Latest returns the newest record of the field, or nil.
func (e *Engine) Latest(ctx context.Context, ent Entity, field string) (*Transition, error) {
	if ent == nil {
		return nil, ErrNilEntity
	}
	if loaded, ok := eagerHistory(ent, field); ok {
		if len(loaded) == 0 {
			return nil, nil
		}
		t := loaded[len(loaded)-1]
		return &t, nil
	}
	return e.storage.LatestTransition(ctx, fieldCriteria(ent, field))
}

// QueryHistory runs an arbitrary audit query against storage.
func (e *Engine) QueryHistory(ctx context.Context, c HistoryCriteria) ([]Transition, error) {
	return e.storage.QueryTransitions(ctx, c)
}

// PreloadHistory loads the full history of many entities in one storage query
// and attaches it to every entity implementing HistoryHolder.
func (e *Engine) PreloadHistory(ctx context.Context, entities ...Entity) error {
	holders := make(map[Ref][]HistoryHolder, len(entities))
	refs := make([]Ref, 0, len(entities))
	for _, ent := range entities {
		h, ok := ent.(HistoryHolder)
		if !ok {
			continue
		}
		ref := ent.Ref()
		if _, seen := holders[ref]; !seen {
			refs = append(refs, ref)
		}
		holders[ref] = append(holders[ref], h)
	}
	if len(refs) == 0 {
		return nil
	}

	records, err := e.storage.QueryTransitions(ctx, HistoryCriteria{Entities: refs})
	if err != nil {
		return err
	}

	grouped := make(map[Ref][]Transition, len(refs))
	for _, t := range records {
		grouped[t.Entity] = append(grouped[t.Entity], t)
	}
	for ref, hs := range holders {
		for _, h := range hs {
			h.SetLoadedTransitions(grouped[ref])
		}
	}
	return nil
}
