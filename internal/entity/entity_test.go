package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	address, err := schema.New("address", []schema.Attribute{
		{Name: "street", Kind: schema.KindString},
		{Name: "city", Kind: schema.KindString},
		{Name: "verified", Kind: schema.KindBoolean},
	})
	require.NoError(t, err)
	person, err := schema.New("person", []schema.Attribute{
		{Name: "firstName", Kind: schema.KindString},
		{Name: "age", Kind: schema.KindInteger},
		{Name: "birthDate", Kind: schema.KindDate},
		{Name: "address", Kind: schema.KindEntity, SchemaKey: "address"},
		{Name: "priors", Kind: schema.KindEntityList, SchemaKey: "address"},
		{Name: "officerNotes", Kind: schema.KindString, Access: schema.AccessAdmin},
	})
	require.NoError(t, err)
	reg, err := schema.NewRegistry([]*schema.Schema{address, person})
	require.NoError(t, err)
	return reg
}

func personSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := testRegistry(t).Resolve("person")
	require.NoError(t, err)
	return s
}

func TestSetUnknownAttribute(t *testing.T) {
	e := New(personSchema(t))
	err := e.Set("nickname", "slim")
	var uae UnknownAttributeError
	require.True(t, errors.As(err, &uae))
	assert.Equal(t, "nickname", uae.Attribute)
	assert.Equal(t, "person", uae.SchemaKey)
}

func TestSetCoercesAndStores(t *testing.T) {
	e := New(personSchema(t))
	require.NoError(t, e.Set("firstName", "Ada"))
	require.NoError(t, e.Set("age", "36"))
	require.NoError(t, e.Set("birthDate", "1988-02-10"))

	v, ok := e.Get("age")
	require.True(t, ok)
	assert.Equal(t, int64(36), v)

	v, ok = e.Get("birthDate")
	require.True(t, ok)
	assert.Equal(t, time.Date(1988, 2, 10, 0, 0, 0, 0, time.UTC), v)

	_, ok = e.Get("address")
	assert.False(t, ok, "unset attribute must read as absent")
}

func TestSetInvalidValue(t *testing.T) {
	e := New(personSchema(t))
	err := e.Set("age", "not-a-number")
	var ive schema.InvalidValueError
	require.True(t, errors.As(err, &ive))
	assert.Equal(t, "age", ive.Attribute)
	assert.Equal(t, schema.KindInteger, ive.Expected)
}

func TestNestedEntityFromMap(t *testing.T) {
	e := New(personSchema(t))
	require.NoError(t, e.Set("address", map[string]any{"street": "1 Main St", "city": "Springfield"}))
	v, ok := e.Get("address")
	require.True(t, ok)
	nested, ok := v.(*Entity)
	require.True(t, ok)
	city, ok := nested.Get("city")
	require.True(t, ok)
	assert.Equal(t, "Springfield", city)

	err := e.Set("address", map[string]any{"zip": "12345"})
	var uae UnknownAttributeError
	require.True(t, errors.As(err, &uae))
	assert.Equal(t, "address", uae.SchemaKey)
}

func TestNestedEntityListShapes(t *testing.T) {
	e := New(personSchema(t))
	require.NoError(t, e.Set("priors", []any{
		map[string]any{"city": "Shelbyville"},
		map[string]any{"city": "Ogdenville"},
	}))
	v, _ := e.Get("priors")
	require.Len(t, v.([]*Entity), 2)

	require.Error(t, e.Set("priors", "not-a-list"))
	require.Error(t, e.Set("priors", []any{"not-a-map"}))
}

func TestFlatMapRecursesAndEncodes(t *testing.T) {
	e := New(personSchema(t))
	require.NoError(t, e.Set("firstName", "Ada"))
	require.NoError(t, e.Set("birthDate", "1988-02-10T00:00:00Z"))
	require.NoError(t, e.Set("address", map[string]any{"city": "Springfield", "verified": true}))

	m := e.FlatMap()
	assert.Equal(t, "Ada", m["firstName"])
	assert.Equal(t, "1988-02-10T00:00:00Z", m["birthDate"])
	assert.Equal(t, map[string]any{"city": "Springfield", "verified": true}, m["address"])
	_, present := m["age"]
	assert.False(t, present)
}

func TestFromFlatMapStrictUnknownKeys(t *testing.T) {
	_, err := FromFlatMap(personSchema(t), map[string]any{"firstName": "Ada", "shoeSize": 7})
	var uae UnknownAttributeError
	require.True(t, errors.As(err, &uae))
	assert.Equal(t, "shoeSize", uae.Attribute)
}

func TestApplyIsAllOrNothing(t *testing.T) {
	e := New(personSchema(t))
	require.NoError(t, e.Set("firstName", "Ada"))
	require.NoError(t, e.Set("age", 30))

	err := e.Apply(Patch{"age": 31, "birthDate": "not-a-date"})
	require.Error(t, err)
	v, _ := e.Get("age")
	assert.Equal(t, int64(30), v, "failed patch must not mutate")

	require.NoError(t, e.Apply(Patch{"age": 31}))
	v, _ = e.Get("age")
	assert.Equal(t, int64(31), v)
	v, _ = e.Get("firstName")
	assert.Equal(t, "Ada", v, "untouched fields survive a patch")
}

func TestPatchTouches(t *testing.T) {
	s := personSchema(t)
	p := Patch{"firstName": "Ada", "officerNotes": "sealed"}
	touched := p.Touches(s, func(a schema.Attribute) bool { return a.Admin() })
	assert.Equal(t, []string{"officerNotes"}, touched)

	touched = Patch{"firstName": "Ada"}.Touches(s, func(a schema.Attribute) bool { return a.Admin() })
	assert.Empty(t, touched)
}
