package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema is the JSON Schema for the bsasagg configuration document,
// validated the same way the teacher's cmd/schema-exporter validates
// generated OpenAPI documents: gojsonschema against a Go-literal schema
// document, before the config is ever unmarshaled into a typed struct.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "workerCount": {"type": "integer", "minimum": 1},
    "scalarMaxRate": {"type": "number", "exclusiveMinimum": 0},
    "arrayMaxRate": {"type": "number", "exclusiveMinimum": 0},
    "controllerWaitPeriod": {"type": "number", "exclusiveMinimum": 0},
    "natsURL": {"type": "string", "minLength": 1},
    "healthPort": {"type": "integer", "minimum": 0, "maximum": 65535},
    "metricsPort": {"type": "integer", "minimum": 0, "maximum": 65535},
    "sources": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "queueLimit": {"type": "integer", "minimum": 0},
          "maxRateHz": {"type": "number", "minimum": 0},
          "array": {"type": "boolean"}
        },
        "required": ["name"]
      }
    }
  }
}`

var configSchemaLoader = gojsonschema.NewStringLoader(configSchema)

// ValidateSchema validates raw JSON config document bytes against the
// configuration JSON Schema, catching malformed source lists or rate
// overrides before the Controller ever sees them (spec.md §7: "Controller
// surfaces only configuration-level failures to its caller").
func ValidateSchema(data []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(configSchemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, re.String())
		}
		return fmt.Errorf("configuration does not match schema: %s", strings.Join(msgs, "; "))
	}

	return nil
}
