package statemachine

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Loader resolves an entity of one type from its identifier.
// The dispatcher uses loaders to turn polymorphic references back into live entities.
type Loader func(ctx context.Context, id string) (Entity, error)

type binding struct {
	machines map[string]*Machine
	fields   []string
	loader   Loader
}

// Registry binds entity types to per-field rule tables and loaders.
// It is built at startup and safe for concurrent reads.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*binding)}
}

func (r *Registry) bindingFor(entityType string) *binding {
	b, ok := r.types[entityType]
	if !ok {
		b = &binding{machines: make(map[string]*Machine)}
		r.types[entityType] = b
	}
	return b
}

// Register binds a rule table to a state field of an entity type.
// Registering the same field twice replaces the previous machine.
func (r *Registry) Register(entityType, field string, m *Machine) error {
	if entityType == "" || field == "" {
		return fmt.Errorf("%w: entity type and field are required", ErrInvalidMachine)
	}
	if m == nil {
		return fmt.Errorf("%w: nil machine for %s.%s", ErrInvalidMachine, entityType, field)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bindingFor(entityType)
	if _, exists := b.machines[field]; !exists {
		b.fields = append(b.fields, field)
	}
	b.machines[field] = m
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(entityType, field string, m *Machine) *Registry {
	if err := r.Register(entityType, field, m); err != nil {
		panic(err)
	}
	return r
}

// RegisterLoader sets the loader for an entity type.
func (r *Registry) RegisterLoader(entityType string, loader Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindingFor(entityType).loader = loader
}

// Machine returns the rule table bound to a field.
func (r *Registry) Machine(entityType, field string) (*Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.types[entityType]
	if !ok || len(b.machines) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	m, ok := b.machines[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, entityType, field)
	}
	return m, nil
}

// Fields returns the state fields of an entity type in registration order.
func (r *Registry) Fields(entityType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.types[entityType]
	if !ok {
		return nil
	}
	return slices.Clone(b.fields)
}

// Types returns every registered entity type, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Load resolves a reference into a live entity using the type's loader.
func (r *Registry) Load(ctx context.Context, ref Ref) (Entity, error) {
	r.mu.RLock()
	b, ok := r.types[ref.Type]
	var loader Loader
	if ok {
		loader = b.loader
	}
	r.mu.RUnlock()

	if loader == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoLoader, ref.Type)
	}

	e, err := loader(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ref, err)
	}
	if e == nil {
		return nil, fmt.Errorf("failed to load %s: %w", ref, ErrNilEntity)
	}
	return e, nil
}
