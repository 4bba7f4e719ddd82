package logger

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error returns an empty Attr for a nil error so it can be passed unconditionally.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Errors groups non-nil errors under "errors", keyed by their position.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.String(strconv.Itoa(i), err.Error()))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Entity records a polymorphic reference as "type:id".
func Entity(ref statemachine.Ref) slog.Attr {
	return slog.String("entity", ref.String())
}

// Responsible returns an empty Attr for a nil reference.
func Responsible(ref *statemachine.Ref) slog.Attr {
	if ref == nil {
		return slog.Attr{}
	}
	return slog.String("responsible", ref.String())
}

func Field(name string) slog.Attr {
	return slog.String("field", name)
}

// Edge records both sides of a transition. Genesis records have an empty from.
func Edge(from, to string) slog.Attr {
	return Group("transition", slog.String("from", from), slog.String("to", to))
}

func PendingID(id int64) slog.Attr {
	return slog.Int64("pending_id", id)
}

func TransitionID(id int64) slog.Attr {
	return slog.Int64("transition_id", id)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
