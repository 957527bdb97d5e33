package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// eventSchema is the envelope every audit event must satisfy. The
// per-type detail requirements below are checked separately because
// they depend on the event type value.
const eventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["event_id", "timestamp", "event_type", "severity", "environment", "actor", "action", "resource", "result"],
  "properties": {
    "event_id": {
      "type": "string",
      "pattern": "^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$"
    },
    "timestamp": {"type": "string", "format": "date-time"},
    "event_type": {
      "type": "string",
      "enum": ["rotation", "approval", "backup", "scan", "sync", "alert", "remediation", "deployment", "system"]
    },
    "severity": {
      "type": "string",
      "enum": ["low", "medium", "high", "critical"]
    },
    "environment": {"type": "string", "minLength": 1},
    "actor": {"type": "string", "minLength": 1},
    "action": {"type": "string", "minLength": 1},
    "resource": {"type": "string", "minLength": 1},
    "result": {"type": "string", "minLength": 1},
    "details": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  },
  "additionalProperties": false
}`

// requiredDetails lists detail keys each event type must carry so the
// trail stays queryable without parsing free-text actions.
var requiredDetails = map[EventType][]string{
	TypeRotation:    {"secret_type"},
	TypeApproval:    {"secret_type", "granted_by"},
	TypeAlert:       {"alertname"},
	TypeRemediation: {"service"},
}

var (
	compiledEventSchema *gojsonschema.Schema
	eventSchemaOnce     sync.Once
	eventSchemaErr      error
)

func eventSchemaCompiled() (*gojsonschema.Schema, error) {
	eventSchemaOnce.Do(func() {
		compiledEventSchema, eventSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(eventSchema))
	})
	return compiledEventSchema, eventSchemaErr
}

// Validate checks the event against the embedded schema and the
// per-type required detail fields.
func Validate(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for validation: %w", err)
	}
	if err := validateEventJSON(data); err != nil {
		return err
	}

	for _, key := range requiredDetails[event.EventType] {
		if event.Details[key] == "" {
			return fmt.Errorf("%s events require detail %q", event.EventType, key)
		}
	}
	return nil
}

// validateEventJSON validates a raw JSON line, used both on write and
// when re-checking existing day files.
func validateEventJSON(data []byte) error {
	schema, err := eventSchemaCompiled()
	if err != nil {
		return fmt.Errorf("audit event schema is invalid: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return fmt.Errorf("invalid audit event:\n  - %s", strings.Join(errorMessages, "\n  - "))
	}
	return nil
}
