package transaction

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaEnforcer validates a document's value against the schema
// registered for its table. nil means "no schema configured", allow
// anything, matching bundoc/collection.go's SetSchema("") no-op path.
type SchemaEnforcer interface {
	Validate(tableName string, value json.RawMessage) error
}

// JSONSchemaRegistry is a reference SchemaEnforcer compiling per-table
// JSON Schema documents via xeipuuv/gojsonschema, grounded directly on
// bundoc/collection.go's SetSchema/validateDocument pair.
type JSONSchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewJSONSchemaRegistry returns a registry with no schemas configured.
func NewJSONSchemaRegistry() *JSONSchemaRegistry {
	return &JSONSchemaRegistry{schemas: make(map[string]*gojsonschema.Schema)}
}

// SetSchema compiles and installs the JSON Schema for tableName. An empty
// schemaJSON clears enforcement for that table.
func (r *JSONSchemaRegistry) SetSchema(tableName, schemaJSON string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.TrimSpace(schemaJSON) == "" {
		delete(r.schemas, tableName)
		return nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("transaction: invalid json schema for %s: %w", tableName, err)
	}
	r.schemas[tableName] = schema
	return nil
}

func (r *JSONSchemaRegistry) Validate(tableName string, value json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[tableName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var doc interface{}
	if err := json.Unmarshal(value, &doc); err != nil {
		return fmt.Errorf("transaction: decode document for schema check: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("transaction: schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("document failed schema for %s: %s", tableName, strings.Join(msgs, "; "))
	}
	return nil
}
