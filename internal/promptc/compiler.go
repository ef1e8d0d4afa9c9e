// Package promptc implements the Prompt Compiler: it turns a per-user
// persona template and the live tool catalog into the one system-prompt
// string handed to the LLM Adapter every turn.
package promptc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/conduit/internal/convo"
)

const (
	personaPlaceholder    = "{persona_definition}"
	filesystemPlaceholder = "{filesystem_access_info}"

	toolStartDelimiter = "```tool\n"
	toolEndDelimiter   = "\n```"

	noToolsLiteral = "No tools are available for you to use."
)

// Compiler renders the final system prompt from a base template plus the
// current tool catalog.
type Compiler struct {
	// FilesystemAccessInfo is the host-wide string substituted wherever the
	// base template names {filesystem_access_info}; it doesn't vary by
	// session, only by deployment.
	FilesystemAccessInfo string
	Logger                *slog.Logger
}

// New creates a Compiler. A nil logger falls back to slog.Default().
func New(filesystemAccessInfo string, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{FilesystemAccessInfo: filesystemAccessInfo, Logger: logger}
}

// Compile renders baseTemplate with persona substituted, appends the Tool
// Usage Instructions block and one block per tool, and terminates with the
// conversation marker. Missing placeholders in baseTemplate are tolerated:
// the raw template is used as-is and a warning is logged, never an error.
func (c *Compiler) Compile(baseTemplate, personaDefinition string, tools []convo.ToolDefinition) string {
	rendered := c.substitutePlaceholders(baseTemplate, personaDefinition)

	var b strings.Builder
	b.WriteString(rendered)
	b.WriteString("\n\n--- Tool Usage Instructions ---")

	if len(tools) == 0 {
		b.WriteString("\n")
		b.WriteString(noToolsLiteral)
	} else {
		b.WriteString(toolUsageInstructions())
		b.WriteString("\n\n--- Available Tools ---")
		b.WriteString("\nHere are the tools available to you (described in a format similar to function declarations):")
		for _, tool := range tools {
			b.WriteString(c.renderTool(tool))
		}
	}

	b.WriteString("\n\n--- Conversation ---")
	return b.String()
}

func (c *Compiler) substitutePlaceholders(template, personaDefinition string) string {
	out := template
	if strings.Contains(out, personaPlaceholder) {
		out = strings.ReplaceAll(out, personaPlaceholder, personaDefinition)
	} else {
		c.Logger.Warn("prompt template missing placeholder", "placeholder", personaPlaceholder)
	}
	if strings.Contains(out, filesystemPlaceholder) {
		out = strings.ReplaceAll(out, filesystemPlaceholder, c.FilesystemAccessInfo)
	} else {
		c.Logger.Warn("prompt template missing placeholder", "placeholder", filesystemPlaceholder)
	}
	return out
}

func toolUsageInstructions() string {
	return "\nWhen you decide to use a tool to answer a user's request:" +
		"\n1. First, briefly tell the user what action you are taking (e.g., 'Okay, searching memory for related notes...')." +
		"\n2. Then, on a **new line**, provide the required tool call JSON object, enclosed *exactly* like this, with **no other text on the same line or within the delimiters**:" +
		"\n" + toolStartDelimiter +
		`{ "tool": "server_id:tool_name", "arguments": { /* ...args... */ } }` +
		"\n" + toolEndDelimiter +
		"\nAfter you receive the result from the tool, summarize it for the user."
}

func (c *Compiler) renderTool(tool convo.ToolDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nTool Name: %s", tool.QualifiedName)
	description := tool.Description
	if description == "" {
		description = "No description"
	}
	fmt.Fprintf(&b, "\n  Description: %s", description)

	sanitized := SanitizeSchema(tool.Parameters)
	if len(sanitized) == 0 {
		b.WriteString("\n  Parameters Schema: None")
		return b.String()
	}

	pretty, err := json.MarshalIndent(sanitized, "  ", "    ")
	if err != nil {
		c.Logger.Warn("failed to marshal tool parameter schema", "tool", tool.QualifiedName, "error", err)
		fmt.Fprintf(&b, "\n  Parameters Schema: %v", sanitized)
		return b.String()
	}
	fmt.Fprintf(&b, "\n  Parameters Schema (JSON):\n  %s", pretty)
	return b.String()
}
