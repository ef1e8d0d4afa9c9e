package promptc

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/conduit/internal/convo"
)

const testTemplate = "You are {persona_definition}. Filesystem: {filesystem_access_info}."

func TestCompileEmptyCatalogUsesLiteral(t *testing.T) {
	c := New("sandboxed", nil)
	out := c.Compile(testTemplate, "a helpful assistant", nil)

	if !strings.Contains(out, noToolsLiteral) {
		t.Fatalf("expected empty-catalog literal, got: %s", out)
	}
	if !strings.HasSuffix(out, "--- Conversation ---") {
		t.Fatalf("expected conversation marker at the end, got: %s", out)
	}
	if !strings.Contains(out, "a helpful assistant") || !strings.Contains(out, "sandboxed") {
		t.Fatalf("expected placeholders substituted, got: %s", out)
	}
}

func TestCompileTolerantOfMissingPlaceholder(t *testing.T) {
	c := New("sandboxed", nil)
	out := c.Compile("You are an assistant with no placeholders.", "unused persona", nil)

	if !strings.Contains(out, "You are an assistant with no placeholders.") {
		t.Fatalf("expected raw template preserved, got: %s", out)
	}
}

func TestCompileIncludesDelimitersAndToolBlock(t *testing.T) {
	c := New("sandboxed", nil)
	tools := []convo.ToolDefinition{
		{
			QualifiedName: "host:ping",
			Description:   "Returns the current time.",
			Parameters:    []byte(`{"type":"object","properties":{},"additionalProperties":false,"$schema":"http://json-schema.org/draft-07/schema#"}`),
		},
	}
	out := c.Compile(testTemplate, "a helpful assistant", tools)

	if !strings.Contains(out, "```tool\n") || !strings.Contains(out, "\n```") {
		t.Fatalf("expected tool delimiters present in instructions, got: %s", out)
	}
	if !strings.Contains(out, "Tool Name: host:ping") {
		t.Fatalf("expected tool block, got: %s", out)
	}
	if strings.Contains(out, "additionalProperties") || strings.Contains(out, "$schema") {
		t.Fatalf("expected sanitized schema, got: %s", out)
	}
}

func TestSanitizeSchemaIsIdempotent(t *testing.T) {
	raw := []byte(`{"type":"object","additionalProperties":false,"$schema":"x","properties":{"name":{"type":"string","additionalProperties":false}}}`)
	once := SanitizeSchema(raw)
	twice, err := marshalThenSanitize(once)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(once) != len(twice) {
		t.Fatalf("expected idempotent sanitation, got %v vs %v", once, twice)
	}
}

func marshalThenSanitize(m map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return SanitizeSchema(raw), nil
}
