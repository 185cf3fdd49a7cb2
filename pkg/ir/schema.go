package ir

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaDoc is the JSON Schema for the wire representation of an IR.
// additionalProperties is false everywhere a step or the envelope could
// otherwise silently accept a field the Go struct ignores — the
// fail-closed rule of §4.B.
const schemaDoc = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "$id": "https://ledgerflow.dev/schema/ir.json",
  "type": "object",
  "additionalProperties": false,
  "required": ["tenant_id", "steps"],
  "properties": {
    "tenant_id": {"type": "string", "minLength": 1, "maxLength": 100},
    "request_id": {"type": "string"},
    "created_at": {"type": "string"},
    "intent_summary": {"type": "string", "maxLength": 2000},
    "labels": {"type": "object", "additionalProperties": {"type": "string"}},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/definitions/step"}
    }
  },
  "definitions": {
    "step": {
      "type": "object",
      "additionalProperties": false,
      "required": ["action", "provider", "resource", "idempotency_key"],
      "properties": {
        "action": {"type": "string"},
        "provider": {"type": "string"},
        "resource": {"type": "string", "minLength": 1, "maxLength": 500},
        "params": {"type": "object"},
        "idempotency_key": {"type": "string", "minLength": 1, "maxLength": 200},
        "constraints": {"type": "object"},
        "budget_cents": {"type": "integer", "minimum": 0},
        "risk_tier": {"type": ["integer", "null"]},
        "requires_approval": {"type": "boolean"},
        "step_id": {"type": "string"},
        "description": {"type": "string", "maxLength": 1000}
      }
    }
  }
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("ir.json", bytes.NewReader([]byte(schemaDoc))); err != nil {
			compileErr = fmt.Errorf("ir: adding schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("ir.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("ir: compiling schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// ValidateSchema checks raw wire JSON against the IR JSON Schema: closed
// envelope/per-step field sets, required fields present, idempotency_key
// and resource length bounds, budget_cents non-negative integer. This
// runs before any semantic (risk-tier) validation — schema violations
// are always fail-closed ERRORs.
func ValidateSchema(raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("ir: invalid json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return err
	}
	return nil
}
