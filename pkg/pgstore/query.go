package pgstore

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

const (
	transitionColumns = `id, model_type, model_id, field, "from", "to", custom_properties, ` +
		`responsible_type, responsible_id, changed_attributes, created_at`
	pendingColumns = `id, model_type, model_id, field, "from", "to", custom_properties, ` +
		`responsible_type, responsible_id, transition_at, applied_at, created_at`
)

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) bind(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *where) add(format string, a ...any) {
	w.conds = append(w.conds, fmt.Sprintf(format, a...))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) entities(refs []statemachine.Ref) {
	if len(refs) == 0 {
		return
	}
	types := make([]string, len(refs))
	ids := make([]string, len(refs))
	for i, ref := range refs {
		types[i], ids[i] = ref.Type, ref.ID
	}
	w.add("(model_type, model_id) IN (SELECT * FROM unnest(%s::text[], %s::text[]))", w.bind(types), w.bind(ids))
}

func (w *where) field(field string) {
	if field != "" {
		w.add("field = %s", w.bind(field))
	}
}

func historyWhere(c statemachine.HistoryCriteria) *where {
	w := &where{}
	w.entities(c.Entities)
	w.field(c.Field)

	if len(c.From) > 0 {
		genesis := slices.Contains(c.From, "")
		from := slices.DeleteFunc(slices.Clone(c.From), func(s string) bool { return s == "" })
		switch {
		case genesis && len(from) == 0:
			w.add(`"from" IS NULL`)
		case genesis:
			w.add(`("from" IS NULL OR "from" = ANY(%s::text[]))`, w.bind(from))
		default:
			w.add(`"from" = ANY(%s::text[])`, w.bind(from))
		}
	}
	if len(c.To) > 0 {
		w.add(`"to" = ANY(%s::text[])`, w.bind(c.To))
	}
	if c.Responsible != nil {
		w.add("responsible_type = %s", w.bind(c.Responsible.Type))
		w.add("responsible_id = %s", w.bind(c.Responsible.ID))
	}
	for _, key := range slices.Sorted(maps.Keys(c.CustomProperty)) {
		value := w.bind(fmt.Sprint(c.CustomProperty[key]))
		w.add("(custom_properties ->> %s = %s OR custom_properties #>> %s::text[] = %s)",
			w.bind(key), value, w.bind(strings.Split(key, ".")), value)
	}
	return w
}

func pendingWhere(c statemachine.PendingCriteria) *where {
	w := &where{}
	w.entities(c.Entities)
	w.field(c.Field)
	if c.OnlyUnapplied {
		w.add("applied_at IS NULL")
	}
	return w
}
