package entity

import "caseline/internal/schema"

// Patch is a partial update: only the keys present in the map are applied.
// A key that is present with a value overwrites; a key that is absent leaves
// the stored value untouched. This keeps "not provided" distinct from any
// stored value, which a full entity with nulls could not do.
type Patch map[string]any

// Touches reports whether the patch names an attribute matched by pred.
// Unknown keys are ignored here; Apply rejects them.
func (p Patch) Touches(s *schema.Schema, pred func(schema.Attribute) bool) []string {
	var touched []string
	for _, attr := range s.Attributes() {
		if _, ok := p[attr.Name]; !ok {
			continue
		}
		if pred(attr) {
			touched = append(touched, attr.Name)
		}
	}
	return touched
}

// Apply validates the whole patch against the entity's schema and only then
// mutates, so a rejected patch leaves the entity unchanged.
func (e *Entity) Apply(p Patch) error {
	staged := make(map[string]any, len(p))
	for name, raw := range p {
		attr, ok := e.schema.Attribute(name)
		if !ok {
			return UnknownAttributeError{Attribute: name, SchemaKey: e.schema.Key()}
		}
		v, err := coerce(attr, raw)
		if err != nil {
			return err
		}
		staged[name] = v
	}
	for name, v := range staged {
		e.values[name] = v
	}
	return nil
}
