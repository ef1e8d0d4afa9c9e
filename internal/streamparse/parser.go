package streamparse

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	startDelimiter = "```tool\n"
	endDelimiter   = "\n```"
)

// Parser incrementally consumes raw text fragments from an LLM Adapter and
// emits structured Parts, buffering across fragment boundaries so a
// delimiter split mid-fragment is never missed.
type Parser struct {
	buf strings.Builder
}

// New creates an empty Parser.
func New() *Parser {
	return &Parser{}
}

// Feed appends a raw fragment and returns every Part that can be resolved
// from the buffer so far. A fragment that doesn't complete a delimited
// block yields nothing yet; the partial bytes stay buffered.
func (p *Parser) Feed(fragment string) []Part {
	p.buf.WriteString(fragment)
	return p.drain()
}

// Flush signals that the underlying stream has ended: any buffered text is
// emitted as a final TextChunk, followed by exactly one EndOfTurn.
func (p *Parser) Flush() []Part {
	var parts []Part
	if rest := p.buf.String(); rest != "" {
		parts = append(parts, TextChunk{Content: rest})
		p.buf.Reset()
	}
	return append(parts, EndOfTurn{})
}

func (p *Parser) drain() []Part {
	var parts []Part
	for {
		buf := p.buf.String()
		startIdx := strings.Index(buf, startDelimiter)
		if startIdx == -1 {
			// No start delimiter yet: hold everything, including any
			// trailing partial delimiter, until more fragments arrive.
			return parts
		}

		if startIdx > 0 {
			parts = append(parts, TextChunk{Content: buf[:startIdx]})
			buf = buf[startIdx:]
			p.resetTo(buf)
		}

		searchFrom := len(startDelimiter)
		relEnd := strings.Index(buf[searchFrom:], endDelimiter)
		if relEnd == -1 {
			// Start delimiter found but not yet closed: wait for more.
			return parts
		}
		endIdx := searchFrom + relEnd

		jsonContent := strings.TrimSpace(buf[searchFrom:endIdx])
		parts = append(parts, parseToolBlob(jsonContent)...)

		p.resetTo(buf[endIdx+len(endDelimiter):])
	}
}

func (p *Parser) resetTo(s string) {
	p.buf.Reset()
	p.buf.WriteString(s)
}

// parseToolBlob decodes one ```tool block's JSON content. A malformed blob
// or one that decodes but isn't a {"tool":..., "arguments":...} object
// becomes an ErrorInfo with Details populated either way, so the caller
// always has the raw text to show or log, not just a message.
func parseToolBlob(content string) []Part {
	var decoded any
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return []Part{ErrorInfo{
			Message: fmt.Sprintf("failed to parse tool call JSON: %v", err),
			Details: content,
		}}
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return []Part{invalidShape(content)}
	}
	toolVal, hasTool := obj["tool"]
	argsVal, hasArgs := obj["arguments"]
	if !hasTool || !hasArgs {
		return []Part{invalidShape(content)}
	}
	toolName, ok := toolVal.(string)
	if !ok {
		return []Part{invalidShape(content)}
	}
	if _, ok := argsVal.(map[string]any); !ok {
		return []Part{invalidShape(content)}
	}
	argsBytes, err := json.Marshal(argsVal)
	if err != nil {
		return []Part{invalidShape(content)}
	}

	return []Part{ToolCallIntent{ToolName: toolName, Arguments: argsBytes}}
}

func invalidShape(content string) Part {
	return ErrorInfo{
		Message: "invalid tool call format received from LLM",
		Details: content,
	}
}
