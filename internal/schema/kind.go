package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the closed set of attribute value kinds.
type Kind string

const (
	KindString     Kind = "string"
	KindInteger    Kind = "integer"
	KindBoolean    Kind = "boolean"
	KindDate       Kind = "date"
	KindEntity     Kind = "entity"
	KindEntityList Kind = "entity_list"
)

// ParseKind maps a configured type name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindString:
		return KindString, nil
	case KindInteger:
		return KindInteger, nil
	case KindBoolean:
		return KindBoolean, nil
	case KindDate:
		return KindDate, nil
	case KindEntity:
		return KindEntity, nil
	case KindEntityList:
		return KindEntityList, nil
	}
	return "", fmt.Errorf("unknown attribute type %q", s)
}

// Structured reports whether the kind carries a nested schema.
func (k Kind) Structured() bool {
	return k == KindEntity || k == KindEntityList
}

// InvalidValueError reports a raw value whose shape does not satisfy the
// attribute's kind.
type InvalidValueError struct {
	Attribute string
	Expected  Kind
	Received  string
}

func (e InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for attribute %s: expected %s, received %s", e.Attribute, e.Expected, e.Received)
}

func invalidValue(attr string, kind Kind, raw any) error {
	return InvalidValueError{Attribute: attr, Expected: kind, Received: describe(raw)}
}

func describe(raw any) string {
	if raw == nil {
		return "null"
	}
	switch v := raw.(type) {
	case string:
		return fmt.Sprintf("string %q", v)
	default:
		return fmt.Sprintf("%T", raw)
	}
}

// Coerce validates a raw scalar value against a kind and returns its
// canonical in-memory representation (string, int64, bool or time.Time).
// Coercions are total for the accepted shapes: numeric strings become
// integers, RFC 3339 or date-only strings become dates. Structured kinds are
// validated by the entity package against the nested schema.
func Coerce(attr string, kind Kind, raw any) (any, error) {
	if raw == nil {
		return nil, invalidValue(attr, kind, raw)
	}
	switch kind {
	case KindString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case KindInteger:
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, nil
			}
		}
	case KindBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, nil
			}
		}
	case KindDate:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t.UTC(), nil
			}
			if t, err := time.Parse("2006-01-02", v); err == nil {
				return t.UTC(), nil
			}
		}
	}
	return nil, invalidValue(attr, kind, raw)
}

// Encode converts a canonical scalar value to its transport representation.
func Encode(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return v
}
