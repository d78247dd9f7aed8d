// Package schema holds the runtime type system for dynamic entities: the
// closed set of attribute kinds, named attribute schemas, and the registry
// that resolves schemas by key. Schemas are loaded once from configuration
// and shared read-only across requests.
package schema

import (
	"fmt"
)

// AccessAdmin marks an attribute that only callers with the matching
// admin capability may read or write.
const AccessAdmin = "admin"

// Attribute is a single named, typed slot in a schema.
type Attribute struct {
	Name      string
	Kind      Kind
	SchemaKey string // nested schema key, structured kinds only
	Access    string // "" (open) or AccessAdmin

	nested *Schema // linked by the registry
}

// Nested returns the resolved nested schema for structured attributes.
// It is nil until the owning schema is registered.
func (a Attribute) Nested() *Schema {
	return a.nested
}

// Admin reports whether the attribute is admin-restricted.
func (a Attribute) Admin() bool {
	return a.Access == AccessAdmin
}

// Schema is an immutable, ordered set of uniquely named attributes.
type Schema struct {
	key   string
	attrs []Attribute
	index map[string]int
}

// New builds a schema, rejecting duplicate or empty attribute names and
// structured attributes without a schema reference.
func New(key string, attrs []Attribute) (*Schema, error) {
	if key == "" {
		return nil, fmt.Errorf("schema key required")
	}
	s := &Schema{key: key, attrs: make([]Attribute, len(attrs)), index: make(map[string]int, len(attrs))}
	for i, a := range attrs {
		if a.Name == "" {
			return nil, fmt.Errorf("schema %s: attribute %d has no name", key, i)
		}
		if _, dup := s.index[a.Name]; dup {
			return nil, fmt.Errorf("schema %s: duplicate attribute %s", key, a.Name)
		}
		if a.Kind.Structured() && a.SchemaKey == "" {
			return nil, fmt.Errorf("schema %s: attribute %s is %s but names no schema", key, a.Name, a.Kind)
		}
		if !a.Kind.Structured() && a.SchemaKey != "" {
			return nil, fmt.Errorf("schema %s: attribute %s is %s and cannot nest schema %s", key, a.Name, a.Kind, a.SchemaKey)
		}
		s.attrs[i] = a
		s.index[a.Name] = i
	}
	return s, nil
}

// Key returns the schema's registry key.
func (s *Schema) Key() string { return s.key }

// Attribute resolves an attribute by name.
func (s *Schema) Attribute(name string) (Attribute, bool) {
	i, ok := s.index[name]
	if !ok {
		return Attribute{}, false
	}
	return s.attrs[i], true
}

// Attributes returns the attributes in declaration order. The slice is a
// copy; the schema itself never changes after registration.
func (s *Schema) Attributes() []Attribute {
	out := make([]Attribute, len(s.attrs))
	copy(out, s.attrs)
	return out
}

// Len returns the number of declared attributes.
func (s *Schema) Len() int { return len(s.attrs) }
