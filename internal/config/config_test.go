package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/schema"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)
	s, err := reg.Resolve("case-profile")
	require.NoError(t, err)
	attr, ok := s.Attribute("officerNotes")
	require.True(t, ok)
	assert.True(t, attr.Admin())

	def, ok := cfg.RecordDefinition("case-record")
	require.True(t, ok)
	assert.Equal(t, "case-profile", def.SchemaKey)
	assert.Equal(t, "2160h", def.Expiration)

	_, ok = cfg.RecordDefinition("no-such-definition")
	assert.False(t, ok)
}

func TestFromYAMLRejectsUnknownSchemaReference(t *testing.T) {
	_, err := FromYAML([]byte(`
schemas:
  - key: case-profile
    attributes:
      - name: firstName
        type: string
record_definitions:
  - id: r1
    key: case-record
    schema_key: missing-schema
`))
	require.Error(t, err)
	assert.ErrorAs(t, err, &schema.MissingSchemaError{})
}

func TestFromYAMLRejectsCycles(t *testing.T) {
	_, err := FromYAML([]byte(`
schemas:
  - key: node
    attributes:
      - name: next
        type: entity
        schema: node
record_definitions:
  - id: r1
    key: case-record
    schema_key: node
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestFromYAMLRejectsBadExpiration(t *testing.T) {
	_, err := FromYAML([]byte(`
schemas:
  - key: case-profile
    attributes:
      - name: firstName
        type: string
record_definitions:
  - id: r1
    key: case-record
    schema_key: case-profile
    expiration: ninety-days
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expiration")
}

func TestFromYAMLRejectsUnknownAttributeType(t *testing.T) {
	_, err := FromYAML([]byte(`
schemas:
  - key: case-profile
    attributes:
      - name: blob
        type: binary
record_definitions:
  - id: r1
    key: case-record
    schema_key: case-profile
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown attribute type")
}
