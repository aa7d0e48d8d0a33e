package store

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// storeSchema validates the shape of a persisted store document before it
// is trusted. It checks structure, not business invariants; those are
// CheckConsistency's job.
const storeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "tasks", "sections", "meta"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "tasks": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["id", "title", "status", "priority", "version", "change_log"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string", "minLength": 1},
          "status": {"enum": ["pending", "in_progress", "completed", "blocked"]},
          "priority": {"enum": ["low", "medium", "high", "critical"]},
          "version": {"type": "integer", "minimum": 1},
          "change_log": {"type": "array", "items": {"type": "object"}},
          "dependencies": {"type": "array", "items": {"type": "string"}},
          "tags": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "task_ids": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "history": {"type": "array"},
    "meta": {
      "type": "object",
      "properties": {
        "total": {"type": "integer", "minimum": 0},
        "completed": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compileStoreSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(storeSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse store schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("store.json", doc); err != nil {
			schemaErr = fmt.Errorf("add store schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile("store.json")
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks raw store bytes against the schema without
// loading them. Diagnostics use it to inspect a store file in place.
func ValidateDocument(data []byte) error {
	return validateStoreDocument(data)
}

// validateStoreDocument checks raw store bytes against the schema.
func validateStoreDocument(data []byte) error {
	schema, err := compileStoreSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &CorruptStoreError{Detail: fmt.Sprintf("invalid json: %v", err)}
	}
	if err := schema.Validate(inst); err != nil {
		return &CorruptStoreError{Detail: err.Error()}
	}
	return nil
}
