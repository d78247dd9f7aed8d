package domain

// RecordDefinition is read-only configuration describing a class of record:
// which schema its data must satisfy and how long a record of this class
// stays live after creation.
type RecordDefinition struct {
	ID         string `json:"id"`
	Key        string `json:"key"`
	SchemaKey  string `json:"schema_key" yaml:"schema_key"`
	Expiration string `json:"expiration"` // Go duration string, e.g. "2160h"
}

// TransactionDefinition is read-only configuration describing a class of
// transaction.
type TransactionDefinition struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	SchemaKey string `json:"schema_key" yaml:"schema_key"`
}

// Record is a long-lived business entity carrying schema-validated dynamic
// data. Expires is derived once at creation from the definition's expiration
// and never recomputed; expired is a read-time status, not a stored one.
type Record struct {
	ID                  string  `json:"id"`
	RecordDefinitionID  string  `json:"record_definition_id"`
	RecordDefinitionKey string  `json:"record_definition_key"`
	ExternalID          string  `json:"external_id,omitempty"`
	Status              string  `json:"status"`
	Expires             string  `json:"expires" format:"date-time"`
	CreatedFrom         string  `json:"created_from"` // transaction that created this record
	LastUpdatedFrom     *string `json:"last_updated_from,omitempty"`
	CreatedBy           string  `json:"created_by"`
	LastUpdatedBy       string  `json:"last_updated_by"`
	CreatedAt           string  `json:"created_at" format:"date-time"`
	UpdatedAt           string  `json:"updated_at" format:"date-time"`
	Version             int64   `json:"version"`
	DataJSON            string  `json:"data_json"`
}

// Transaction is a unit of work that may create records. It carries its own
// schema-validated dynamic data.
type Transaction struct {
	ID                       string `json:"id"`
	TransactionDefinitionID  string `json:"transaction_definition_id"`
	TransactionDefinitionKey string `json:"transaction_definition_key"`
	ProcessInstanceID        string `json:"process_instance_id,omitempty"`
	Status                   string `json:"status"`
	CreatedBy                string `json:"created_by"`
	LastUpdatedBy            string `json:"last_updated_by"`
	CreatedAt                string `json:"created_at" format:"date-time"`
	UpdatedAt                string `json:"updated_at" format:"date-time"`
	Version                  int64  `json:"version"`
	DataJSON                 string `json:"data_json"`
}

// Event is one append-only audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey is a hashed service-caller credential.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	UserType  string `json:"user_type"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
