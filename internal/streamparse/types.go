// Package streamparse implements the LLM Stream Parser: it turns a raw,
// arbitrarily-chunked text stream from an LLM Adapter into a sequence of
// structured parts by recognizing ```tool\n ... \n``` delimited JSON
// tool-call blobs embedded in otherwise free-form prose.
package streamparse

import "encoding/json"

// Part is one structured piece of a parsed response stream. Exactly one
// of the concrete types below is meaningful per Part; ResponsePart is a
// closed sum type enforced by the unexported marker method.
type Part interface {
	isPart()
}

// TextChunk is a run of plain prose text, outside any tool delimiter.
type TextChunk struct {
	Content string
}

// ToolCallIntent is the model's request to invoke a qualified tool.
type ToolCallIntent struct {
	ToolName  string
	Arguments json.RawMessage
}

// ErrorInfo reports a parsing failure without ending the stream: a
// malformed or wrong-shaped blob becomes an ErrorInfo, never a crash.
type ErrorInfo struct {
	Message string
	Code    int
	Details string
}

// EndOfTurn signals that the underlying raw stream has ended. The stream
// parser always emits at most one of these, at the very end of Flush;
// collapsing repeated EndOfTurn signals across tool-call round trips is
// the orchestrator's job, one layer up.
type EndOfTurn struct{}

func (TextChunk) isPart()      {}
func (ToolCallIntent) isPart() {}
func (ErrorInfo) isPart()      {}
func (EndOfTurn) isPart()      {}
