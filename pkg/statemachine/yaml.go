package statemachine

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// yamlMachine is the on-disk shape of a rule table:
//
//	name: order_status
//	default: pending
//	record_history: true
//	transitions:
//	  pending: [active, cancelled]
//	  active: [completed, cancelled]
//	  "*": [archived]
type yamlMachine struct {
	Name          string              `yaml:"name"`
	Default       string              `yaml:"default"`
	RecordHistory *bool               `yaml:"record_history"`
	Transitions   map[string][]string `yaml:"transitions"`
}

// ParseYAML builds a rule table from a YAML document. Hooks and validators
// cannot be expressed in YAML; pass them as extra options.
func ParseYAML(data []byte, opts ...Option) (*Machine, error) {
	var doc yamlMachine
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMachine, err)
	}
	return doc.build(opts...)
}

// LoadYAML reads a YAML rule table from r.
func LoadYAML(r io.Reader, opts ...Option) (*Machine, error) {
	var doc yamlMachine
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMachine, err)
	}
	return doc.build(opts...)
}

func (d yamlMachine) build(extra ...Option) (*Machine, error) {
	var def State
	if d.Default != "" {
		def = StringState(d.Default)
	}

	transitions := make(map[State][]State, len(d.Transitions))
	for from, targets := range d.Transitions {
		states := make([]State, 0, len(targets))
		for _, to := range targets {
			states = append(states, StringState(to))
		}
		transitions[StringState(from)] = states
	}

	opts := []Option{WithName(d.Name), WithTransitions(transitions)}
	if d.RecordHistory != nil && !*d.RecordHistory {
		opts = append(opts, WithoutHistory())
	}

	return New(def, append(opts, extra...)...)
}
