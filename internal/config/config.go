// Package config models caseline.yml: the schemas entities may carry, the
// record/transaction definitions that reference them, and the role
// permission sets. Configuration is loaded once at startup, validated, and
// shared read-only for the life of the process.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"caseline/internal/domain"
	"caseline/internal/schema"
)

// Config models caseline.yml.
type Config struct {
	Service struct {
		Name string `yaml:"name"`
	} `yaml:"service"`
	Schemas                []SchemaConfig                 `yaml:"schemas"`
	RecordDefinitions      []domain.RecordDefinition      `yaml:"record_definitions"`
	TransactionDefinitions []domain.TransactionDefinition `yaml:"transaction_definitions"`
	Roles                  map[string]Role                `yaml:"roles"`
}

type Role struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type SchemaConfig struct {
	Key        string            `yaml:"key"`
	Attributes []AttributeConfig `yaml:"attributes"`
}

type AttributeConfig struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Schema string `yaml:"schema,omitempty"`
	Access string `yaml:"access,omitempty"`
}

// Load reads and validates config from a workspace directory.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run 'caseline config init' or pass --config", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. Schema references
// (including cycles) are checked by BuildRegistry, which Validate runs.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		c.Service.Name = "caseline"
	}
	if len(c.Schemas) == 0 {
		return fmt.Errorf("config.schemas is required")
	}
	reg, err := c.BuildRegistry()
	if err != nil {
		return err
	}
	if len(c.RecordDefinitions) == 0 {
		return fmt.Errorf("config.record_definitions is required")
	}
	seenRecordKeys := map[string]bool{}
	for _, def := range c.RecordDefinitions {
		if def.Key == "" {
			return fmt.Errorf("record definition %s has no key", def.ID)
		}
		if seenRecordKeys[def.Key] {
			return fmt.Errorf("duplicate record definition key %s", def.Key)
		}
		seenRecordKeys[def.Key] = true
		if _, err := reg.Resolve(def.SchemaKey); err != nil {
			return fmt.Errorf("record definition %s: %w", def.Key, err)
		}
		if def.Expiration != "" {
			if _, err := time.ParseDuration(def.Expiration); err != nil {
				return fmt.Errorf("record definition %s: bad expiration %q: %w", def.Key, def.Expiration, err)
			}
		}
	}
	seenTxnKeys := map[string]bool{}
	for _, def := range c.TransactionDefinitions {
		if def.Key == "" {
			return fmt.Errorf("transaction definition %s has no key", def.ID)
		}
		if seenTxnKeys[def.Key] {
			return fmt.Errorf("duplicate transaction definition key %s", def.Key)
		}
		seenTxnKeys[def.Key] = true
		if _, err := reg.Resolve(def.SchemaKey); err != nil {
			return fmt.Errorf("transaction definition %s: %w", def.Key, err)
		}
	}
	for roleID, role := range c.Roles {
		if roleID == "" {
			return fmt.Errorf("config.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission", roleID)
			}
		}
	}
	return nil
}

// BuildRegistry compiles the configured schemas into an immutable registry,
// resolving nested references and rejecting cycles.
func (c *Config) BuildRegistry() (*schema.Registry, error) {
	schemas := make([]*schema.Schema, 0, len(c.Schemas))
	for _, sc := range c.Schemas {
		attrs := make([]schema.Attribute, 0, len(sc.Attributes))
		for _, ac := range sc.Attributes {
			kind, err := schema.ParseKind(ac.Type)
			if err != nil {
				return nil, fmt.Errorf("schema %s attribute %s: %w", sc.Key, ac.Name, err)
			}
			if ac.Access != "" && ac.Access != schema.AccessAdmin {
				return nil, fmt.Errorf("schema %s attribute %s: unknown access %q", sc.Key, ac.Name, ac.Access)
			}
			attrs = append(attrs, schema.Attribute{
				Name:      ac.Name,
				Kind:      kind,
				SchemaKey: ac.Schema,
				Access:    ac.Access,
			})
		}
		s, err := schema.New(sc.Key, attrs)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schema.NewRegistry(schemas)
}

// RecordDefinition resolves a record definition by key.
func (c *Config) RecordDefinition(key string) (domain.RecordDefinition, bool) {
	for _, def := range c.RecordDefinitions {
		if def.Key == key {
			return def, true
		}
	}
	return domain.RecordDefinition{}, false
}

// TransactionDefinition resolves a transaction definition by key.
func (c *Config) TransactionDefinition(key string) (domain.TransactionDefinition, bool) {
	for _, def := range c.TransactionDefinitions {
		if def.Key == key {
			return def, true
		}
	}
	return domain.TransactionDefinition{}, false
}

// RolePermissions flattens roles to the shape the authorizer consumes.
func (c *Config) RolePermissions() map[string][]string {
	out := make(map[string][]string, len(c.Roles))
	for role, r := range c.Roles {
		out[role] = r.Permissions
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// Default returns the default Config struct used for local development and
// tests.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `service:
  name: caseline

schemas:
  - key: address
    attributes:
      - name: street
        type: string
      - name: city
        type: string
      - name: state
        type: string
      - name: postalCode
        type: string

  - key: case-profile
    attributes:
      - name: firstName
        type: string
      - name: lastName
        type: string
      - name: email
        type: string
      - name: birthDate
        type: date
      - name: dependents
        type: integer
      - name: consentGiven
        type: boolean
      - name: address
        type: entity
        schema: address
      - name: priorAddresses
        type: entity_list
        schema: address
      - name: officerNotes
        type: string
        access: admin
      - name: riskScore
        type: integer
        access: admin

record_definitions:
  - id: 1f1e9f04-0d23-4a55-9c6a-7c9fdfbe0001
    key: case-record
    schema_key: case-profile
    expiration: 2160h

transaction_definitions:
  - id: 1f1e9f04-0d23-4a55-9c6a-7c9fdfbe0101
    key: case-intake
    schema_key: case-profile

roles:
  public-user:
    description: "Self-service applicant"
    permissions:
      - transaction.create
      - transaction.view
      - record.view
  agency-user:
    description: "Agency caseworker"
    permissions:
      - transaction.create
      - transaction.view
      - transaction.update
      - transaction.update-admin
      - transaction.view-admin
      - record.create
      - record.view
      - record.view-admin
      - record.update
      - record.update-admin
`
