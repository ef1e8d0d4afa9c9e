package promptc

import "encoding/json"

// SanitizeSchema strips additionalProperties and $schema at the top level
// and inside every property, so the schema shown to the model matches what
// every supported provider's function-calling/JSON-mode surface expects.
// It is idempotent: sanitizing an already-sanitized schema is a no-op.
func SanitizeSchema(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}

	delete(schema, "additionalProperties")
	delete(schema, "$schema")

	if properties, ok := schema["properties"].(map[string]any); ok {
		for _, propValue := range properties {
			if prop, ok := propValue.(map[string]any); ok {
				delete(prop, "additionalProperties")
				delete(prop, "$schema")
			}
		}
	}

	return schema
}
