package schema

import (
	"fmt"
	"sort"
)

// MissingSchemaError reports a schema key that could not be resolved.
type MissingSchemaError struct {
	Key string
}

func (e MissingSchemaError) Error() string {
	return fmt.Sprintf("schema %s not found", e.Key)
}

// Registry resolves schemas by key. It is built once at config load and is
// read-only afterwards. Registration links nested schema references and
// rejects cycles, so a registered schema tree is always finite.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry validates and links the given schemas. Every structured
// attribute must reference a schema in the same set, and no schema may nest
// itself directly or transitively.
func NewRegistry(schemas []*Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		if _, dup := r.schemas[s.key]; dup {
			return nil, fmt.Errorf("duplicate schema key %s", s.key)
		}
		r.schemas[s.key] = s
	}
	for _, s := range schemas {
		for i := range s.attrs {
			a := &s.attrs[i]
			if !a.Kind.Structured() {
				continue
			}
			nested, ok := r.schemas[a.SchemaKey]
			if !ok {
				return nil, fmt.Errorf("schema %s: attribute %s: %w", s.key, a.Name, MissingSchemaError{Key: a.SchemaKey})
			}
			a.nested = nested
		}
	}
	if err := r.checkAcyclic(); err != nil {
		return nil, err
	}
	return r, nil
}

// Resolve returns the schema registered under key.
func (r *Registry) Resolve(key string) (*Schema, error) {
	s, ok := r.schemas[key]
	if !ok {
		return nil, MissingSchemaError{Key: key}
	}
	return s, nil
}

// Keys returns the registered schema keys in stable order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.schemas))
	for k := range r.schemas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) checkAcyclic() error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(r.schemas))
	var visit func(s *Schema, trail []string) error
	visit = func(s *Schema, trail []string) error {
		switch state[s.key] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("schema cycle: %v -> %s", trail, s.key)
		}
		state[s.key] = visiting
		for _, a := range s.attrs {
			if a.nested == nil {
				continue
			}
			if err := visit(a.nested, append(trail, s.key)); err != nil {
				return err
			}
		}
		state[s.key] = done
		return nil
	}
	for _, key := range r.Keys() {
		if err := visit(r.schemas[key], nil); err != nil {
			return err
		}
	}
	return nil
}
