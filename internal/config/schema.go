package config

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// documentSchema constrains the shapes this core depends on. The document is
// deliberately open (additionalProperties stays true everywhere): the set of
// config keys is owned by the features that consume them, not by this gate.
const documentSchema = `{
  "type": "object",
  "properties": {
    "server": {
      "type": "object",
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "integer", "minimum": 0, "maximum": 65535}
      }
    },
    "auth": {
      "type": "object",
      "properties": {
        "token": {"type": "string"}
      }
    },
    "workspace": {
      "type": "object",
      "properties": {
        "path": {"type": "string"}
      }
    },
    "channels": {
      "type": "object",
      "additionalProperties": {"type": "object"}
    },
    "llm": {
      "type": "object",
      "properties": {
        "default_provider": {"type": "string"},
        "providers": {
          "type": "object",
          "additionalProperties": {"type": "object"}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("perch_config", documentSchema)
	})
	return compiledSchema, schemaErr
}

// SchemaJSON returns the raw JSON schema for the configuration document.
func SchemaJSON() []byte {
	return []byte(documentSchema)
}

// ValidateDocument checks doc against the config schema and returns the
// issues found. A nil slice means the document is valid.
func ValidateDocument(doc Document) []string {
	schema, err := loadSchema()
	if err != nil {
		return []string{fmt.Sprintf("schema unavailable: %v", err)}
	}
	if err := schema.Validate(normalizeForSchema(doc)); err != nil {
		return flattenSchemaError(err)
	}
	return nil
}

func flattenSchemaError(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	leaves := ve.BasicOutput().Errors
	var issues []string
	for _, leaf := range leaves {
		if leaf.Error == "" {
			continue
		}
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		issues = append(issues, fmt.Sprintf("%s: %s", loc, leaf.Error))
	}
	if len(issues) == 0 {
		issues = []string{ve.Error()}
	}
	return issues
}

// normalizeForSchema converts YAML-decoded values into the shapes the schema
// validator expects (e.g. int to float-compatible json numbers are handled by
// the library; map[string]any trees pass through as-is).
func normalizeForSchema(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = normalizeForSchema(v)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = normalizeForSchema(v)
		}
		return out
	default:
		return typed
	}
}
