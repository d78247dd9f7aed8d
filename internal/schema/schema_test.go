package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceScalars(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		raw     any
		want    any
		wantErr bool
	}{
		{name: "string passes", kind: KindString, raw: "hello", want: "hello"},
		{name: "string rejects int", kind: KindInteger, raw: "x12", wantErr: true},
		{name: "integer from int", kind: KindInteger, raw: 42, want: int64(42)},
		{name: "integer from json float", kind: KindInteger, raw: float64(7), want: int64(7)},
		{name: "integer from numeric string", kind: KindInteger, raw: "19", want: int64(19)},
		{name: "integer rejects fraction", kind: KindInteger, raw: 1.5, wantErr: true},
		{name: "integer rejects bool", kind: KindInteger, raw: true, wantErr: true},
		{name: "boolean from bool", kind: KindBoolean, raw: true, want: true},
		{name: "boolean from string", kind: KindBoolean, raw: "false", want: false},
		{name: "boolean rejects number", kind: KindBoolean, raw: 1.0, wantErr: true},
		{name: "date from rfc3339", kind: KindDate, raw: "2024-05-01T10:30:00Z", want: time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{name: "date from date-only", kind: KindDate, raw: "2024-05-01", want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{name: "date rejects garbage", kind: KindDate, raw: "yesterday", wantErr: true},
		{name: "null rejected", kind: KindString, raw: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce("attr", tt.kind, tt.raw)
			if tt.wantErr {
				var ive InvalidValueError
				require.Error(t, err)
				require.True(t, errors.As(err, &ive))
				assert.Equal(t, "attr", ive.Attribute)
				assert.Equal(t, tt.kind, ive.Expected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchemaUniqueNames(t *testing.T) {
	_, err := New("case", []Attribute{
		{Name: "firstName", Kind: KindString},
		{Name: "firstName", Kind: KindString},
	})
	require.Error(t, err)
}

func TestSchemaStructuredNeedsReference(t *testing.T) {
	_, err := New("case", []Attribute{{Name: "address", Kind: KindEntity}})
	require.Error(t, err)

	_, err = New("case", []Attribute{{Name: "age", Kind: KindInteger, SchemaKey: "address"}})
	require.Error(t, err)
}

func TestSchemaDeclarationOrder(t *testing.T) {
	s, err := New("case", []Attribute{
		{Name: "b", Kind: KindString},
		{Name: "a", Kind: KindInteger},
		{Name: "c", Kind: KindBoolean},
	})
	require.NoError(t, err)
	var names []string
	for _, a := range s.Attributes() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
}

func TestRegistryResolvesNested(t *testing.T) {
	address, err := New("address", []Attribute{{Name: "city", Kind: KindString}})
	require.NoError(t, err)
	person, err := New("person", []Attribute{
		{Name: "name", Kind: KindString},
		{Name: "address", Kind: KindEntity, SchemaKey: "address"},
	})
	require.NoError(t, err)

	reg, err := NewRegistry([]*Schema{address, person})
	require.NoError(t, err)

	got, err := reg.Resolve("person")
	require.NoError(t, err)
	attr, ok := got.Attribute("address")
	require.True(t, ok)
	require.NotNil(t, attr.Nested())
	assert.Equal(t, "address", attr.Nested().Key())
}

func TestRegistryMissingSchema(t *testing.T) {
	person, err := New("person", []Attribute{
		{Name: "address", Kind: KindEntity, SchemaKey: "nowhere"},
	})
	require.NoError(t, err)
	_, err = NewRegistry([]*Schema{person})
	var mse MissingSchemaError
	require.True(t, errors.As(err, &mse))
	assert.Equal(t, "nowhere", mse.Key)

	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	_, err = reg.Resolve("person")
	require.True(t, errors.As(err, &mse))
}

func TestRegistryRejectsCycles(t *testing.T) {
	selfRef, err := New("node", []Attribute{{Name: "next", Kind: KindEntity, SchemaKey: "node"}})
	require.NoError(t, err)
	_, err = NewRegistry([]*Schema{selfRef})
	require.Error(t, err)

	a, err := New("a", []Attribute{{Name: "b", Kind: KindEntity, SchemaKey: "b"}})
	require.NoError(t, err)
	b, err := New("b", []Attribute{{Name: "kids", Kind: KindEntityList, SchemaKey: "a"}})
	require.NoError(t, err)
	_, err = NewRegistry([]*Schema{a, b})
	require.Error(t, err)
}
