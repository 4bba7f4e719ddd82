package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/transitkit/pkg/pgstore"
	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

// Catalog describes the entity types the dispatcher can load and save.
// Entities are statemachine.Model documents kept in JSONB tables.
type Catalog struct {
	Entities []CatalogEntity `yaml:"entities"`

	dir string
}

type CatalogEntity struct {
	Type     string            `yaml:"type"`
	Table    string            `yaml:"table"`
	Machines map[string]string `yaml:"machines"` // field -> rule table file
}

var ErrInvalidCatalog = errors.New("invalid catalog")

// LoadCatalog reads a catalog file. Machine paths are relative to the file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := &Catalog{dir: filepath.Dir(path)}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	if len(c.Entities) == 0 {
		return nil, fmt.Errorf("%w: no entities", ErrInvalidCatalog)
	}
	for _, e := range c.Entities {
		if e.Type == "" || e.Table == "" || len(e.Machines) == 0 {
			return nil, fmt.Errorf("%w: entity %q needs type, table and machines", ErrInvalidCatalog, e.Type)
		}
	}
	return c, nil
}

// Registry loads every rule table and binds loaders reading from db.
func (c *Catalog) Registry(db pgstore.DB) (*statemachine.Registry, error) {
	registry := statemachine.NewRegistry()
	for _, e := range c.Entities {
		for field, file := range e.Machines {
			m, err := c.machine(file)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", e.Type, field, err)
			}
			if err := registry.Register(e.Type, field, m); err != nil {
				return nil, err
			}
		}

		loader, err := pgstore.ModelLoader(db, e.Type, e.Table)
		if err != nil {
			return nil, err
		}
		registry.RegisterLoader(e.Type, loader)
	}
	return registry, nil
}

// StorageOptions registers a JSONB model writer per entity type.
func (c *Catalog) StorageOptions() ([]pgstore.Option, error) {
	opts := make([]pgstore.Option, 0, len(c.Entities))
	for _, e := range c.Entities {
		w, err := pgstore.ModelWriter(e.Table)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pgstore.WithEntityWriter(e.Type, w))
	}
	return opts, nil
}

func (c *Catalog) machine(file string) (*statemachine.Machine, error) {
	if !filepath.IsAbs(file) {
		file = filepath.Join(c.dir, file)
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return statemachine.LoadYAML(f)
}
