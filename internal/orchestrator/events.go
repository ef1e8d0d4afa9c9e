// Package orchestrator implements the Conversation Orchestrator: the
// per-session state machine that turns one user message into a sequence
// of events by looping text-generation and tool calls until the model
// settles on a final answer.
package orchestrator

import "github.com/haasonsaas/conduit/internal/convo"

// Event is one item in the stream HandleInput returns. Exactly one of the
// concrete types below is meaningful per Event.
type Event interface {
	isEvent()
}

// TextChunk re-emits a piece of the model's prose verbatim.
type TextChunk struct {
	Content string
}

// ToolCallIntent re-emits the model's request to invoke a tool.
type ToolCallIntent struct {
	ToolName  string
	Arguments []byte
}

// ToolResultData carries the actual result (or failure payload) of a tool
// call, for the client to surface directly.
type ToolResultData struct {
	ToolName string
	Result   any
}

// RePromptContext is purely informational: it lets the caller see the
// exact tool ChatMessage that was appended to history and is about to be
// fed back to the model.
type RePromptContext struct {
	Message convo.ChatMessage
}

// ErrorInfo reports a recoverable problem (malformed tool blob, tool
// failure, provider error) without necessarily ending the session.
type ErrorInfo struct {
	Message string
	Details string
}

// EndOfTurn terminates exactly one HandleInput call. The orchestrator
// guarantees precisely one of these per call, regardless of how many
// tool round-trips or lower-level EndOfTurn signals occurred inside it.
type EndOfTurn struct{}

func (TextChunk) isEvent()       {}
func (ToolCallIntent) isEvent()  {}
func (ToolResultData) isEvent()  {}
func (RePromptContext) isEvent() {}
func (ErrorInfo) isEvent()       {}
func (EndOfTurn) isEvent()       {}
