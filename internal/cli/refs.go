package cli

import (
	"fmt"
	"strings"

	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

// parseRef parses "type:id". The id may itself contain colons.
func parseRef(s string) (statemachine.Ref, error) {
	entityType, id, ok := strings.Cut(s, ":")
	if !ok || entityType == "" || id == "" {
		return statemachine.Ref{}, fmt.Errorf("invalid reference %q: want type:id", s)
	}
	return statemachine.NewRef(entityType, id), nil
}

func parseRefs(values []string) ([]statemachine.Ref, error) {
	refs := make([]statemachine.Ref, 0, len(values))
	for _, v := range values {
		ref, err := parseRef(v)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// parseProperties parses key=value pairs. Keys may be dot paths.
func parseProperties(values []string) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	props := make(map[string]any, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q: want key=value", v)
		}
		props[key] = value
	}
	return props, nil
}

func refString(ref *statemachine.Ref) string {
	if ref == nil {
		return "-"
	}
	return ref.String()
}
