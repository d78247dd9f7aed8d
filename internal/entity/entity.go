// Package entity implements the runtime value container bound to a schema:
// attribute values are validated and coerced on every mutation, nested
// attributes hold entities of the nested schema, and the flat-map codec is
// the single path between entities and transport maps.
package entity

import (
	"fmt"

	"caseline/internal/schema"
)

// UnknownAttributeError reports a name not declared in the bound schema.
type UnknownAttributeError struct {
	Attribute string
	SchemaKey string
}

func (e UnknownAttributeError) Error() string {
	return fmt.Sprintf("attribute %s not declared in schema %s", e.Attribute, e.SchemaKey)
}

// Entity holds typed attribute values for one schema. Absent attributes are
// simply missing from the value map; null is never stored.
type Entity struct {
	schema *schema.Schema
	values map[string]any
}

// New returns an empty entity bound to s.
func New(s *schema.Schema) *Entity {
	return &Entity{schema: s, values: make(map[string]any)}
}

// Schema returns the bound schema.
func (e *Entity) Schema() *schema.Schema { return e.schema }

// Get returns the typed value for name. The second result distinguishes an
// absent attribute from a populated one.
func (e *Entity) Get(name string) (any, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Set validates and stores a raw value under name. Unknown names fail with
// UnknownAttributeError, bad shapes with schema.InvalidValueError.
func (e *Entity) Set(name string, raw any) error {
	attr, ok := e.schema.Attribute(name)
	if !ok {
		return UnknownAttributeError{Attribute: name, SchemaKey: e.schema.Key()}
	}
	v, err := coerce(attr, raw)
	if err != nil {
		return err
	}
	e.values[name] = v
	return nil
}

func coerce(attr schema.Attribute, raw any) (any, error) {
	switch attr.Kind {
	case schema.KindEntity:
		return coerceNested(attr, raw)
	case schema.KindEntityList:
		return coerceNestedList(attr, raw)
	default:
		return schema.Coerce(attr.Name, attr.Kind, raw)
	}
}

func coerceNested(attr schema.Attribute, raw any) (*Entity, error) {
	switch v := raw.(type) {
	case *Entity:
		if v.schema.Key() != attr.Nested().Key() {
			return nil, invalidValue(attr, raw)
		}
		return v, nil
	case map[string]any:
		return FromFlatMap(attr.Nested(), v)
	}
	return nil, invalidValue(attr, raw)
}

func coerceNestedList(attr schema.Attribute, raw any) ([]*Entity, error) {
	var items []any
	switch v := raw.(type) {
	case []*Entity:
		items = make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
	case []map[string]any:
		items = make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
	case []any:
		items = v
	default:
		return nil, invalidValue(attr, raw)
	}
	out := make([]*Entity, 0, len(items))
	for _, item := range items {
		nested, err := coerceNested(attr, item)
		if err != nil {
			return nil, err
		}
		out = append(out, nested)
	}
	return out, nil
}

func invalidValue(attr schema.Attribute, raw any) error {
	received := fmt.Sprintf("%T", raw)
	if nested, ok := raw.(*Entity); ok {
		received = fmt.Sprintf("entity of schema %s", nested.schema.Key())
	}
	return schema.InvalidValueError{Attribute: attr.Name, Expected: attr.Kind, Received: received}
}

// FlatMap projects the entity tree into a plain name-to-value map suitable
// for transport, recursing into nested entities. Attributes are visited in
// schema declaration order; absent attributes are omitted.
func (e *Entity) FlatMap() map[string]any {
	out := make(map[string]any, len(e.values))
	for _, attr := range e.schema.Attributes() {
		v, ok := e.values[attr.Name]
		if !ok {
			continue
		}
		out[attr.Name] = encode(v)
	}
	return out
}

func encode(v any) any {
	switch t := v.(type) {
	case *Entity:
		return t.FlatMap()
	case []*Entity:
		list := make([]any, len(t))
		for i, nested := range t {
			list[i] = nested.FlatMap()
		}
		return list
	default:
		return schema.Encode(v)
	}
}

// FromFlatMap builds an entity from a transport map, validating every key
// against the schema. Keys not declared in the schema are rejected with
// UnknownAttributeError rather than dropped; callers that want lenient input
// must filter the map themselves before decoding.
func FromFlatMap(s *schema.Schema, m map[string]any) (*Entity, error) {
	e := New(s)
	for _, attr := range s.Attributes() {
		raw, ok := m[attr.Name]
		if !ok {
			continue
		}
		if err := e.Set(attr.Name, raw); err != nil {
			return nil, err
		}
	}
	for name := range m {
		if _, ok := s.Attribute(name); !ok {
			return nil, UnknownAttributeError{Attribute: name, SchemaKey: s.Key()}
		}
	}
	return e, nil
}
