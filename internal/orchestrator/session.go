package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/conduit/internal/convo"
	"github.com/haasonsaas/conduit/internal/llm"
	"github.com/haasonsaas/conduit/internal/promptc"
	"github.com/haasonsaas/conduit/internal/streamparse"
	"github.com/haasonsaas/conduit/internal/toolhost"
	"github.com/haasonsaas/conduit/internal/tp"
)

// MaxToolHops bounds how many tool round-trips one HandleInput call may
// take before it's forced to stop, guarding against a model stuck calling
// tools in a loop. Recommended by spec, not a hard protocol requirement.
const MaxToolHops = 8

// ErrSessionBusy is returned when HandleInput is called while a previous
// call on the same Session hasn't finished yet.
var ErrSessionBusy = errors.New("orchestrator: session already has a turn in flight")

// ToolCoordinator is everything a Session needs from the Tool Coordinator:
// the live catalog and the ability to invoke a qualified tool.
type ToolCoordinator interface {
	ListTools() []*toolhost.ToolRegistryEntry
	CallTool(ctx context.Context, qualifiedName string, arguments json.RawMessage) (*tp.ToolCallResult, error)
}

// MetricsRecorder is everything a Session reports to observability. A nil
// recorder (the default) disables reporting entirely.
type MetricsRecorder interface {
	RecordLLMRequest(provider, model, status string, durationSeconds float64)
	RecordToolCall(qualifiedName, status string, durationSeconds float64)
	RecordTurn(outcome string, toolHops int)
}

// Session holds one conversation's bounded history and enforces that at
// most one HandleInput call runs at a time.
type Session struct {
	ID string

	mu      sync.Mutex
	history *convo.History

	baseTemplate string
	persona      string

	adapter  llm.Adapter
	tools    ToolCoordinator
	compiler *promptc.Compiler
	logger   *slog.Logger
	metrics  MetricsRecorder
}

// NewSession creates a Session bound to one resolved system prompt
// template, LLM adapter, and tool coordinator.
func NewSession(id, baseTemplate, persona string, adapter llm.Adapter, tools ToolCoordinator, compiler *promptc.Compiler, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:           id,
		history:      convo.NewHistory(convo.MaxHistoryLen),
		baseTemplate: baseTemplate,
		persona:      persona,
		adapter:      adapter,
		tools:        tools,
		compiler:     compiler,
		logger:       logger,
	}
}

// SetMetrics installs the observability recorder. Must be called before
// HandleInput starts a turn to avoid a data race; nil disables reporting.
func (s *Session) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// HandleInput appends userText as a user message and drives the
// text/tool-call loop until the model produces a natural end, an error
// terminates the turn, or MaxToolHops is exceeded. It returns a channel of
// Events; the channel is closed after exactly one EndOfTurn is sent.
//
// Returns ErrSessionBusy without starting anything if a previous call on
// this Session hasn't finished.
func (s *Session) HandleInput(ctx context.Context, userText string, cfg llm.GenerateConfig) (<-chan Event, error) {
	if !s.mu.TryLock() {
		return nil, ErrSessionBusy
	}

	out := make(chan Event)
	go func() {
		defer s.mu.Unlock()
		defer close(out)
		s.run(ctx, userText, cfg, out)
	}()
	return out, nil
}

func (s *Session) run(ctx context.Context, userText string, cfg llm.GenerateConfig, out chan<- Event) {
	s.history.Append(convo.NewTextMessage(convo.RoleUser, userText))

	for hop := 0; ; hop++ {
		if hop >= MaxToolHops {
			out <- ErrorInfo{Message: "maximum tool call hops exceeded for this turn"}
			out <- EndOfTurn{}
			s.recordTurn("tool_hop_limit_exceeded", hop)
			return
		}

		toolCalled, stop, outcome := s.turnIteration(ctx, cfg, out)
		if stop {
			s.recordTurn(outcome, hop)
			return
		}
		if !toolCalled {
			return
		}
	}
}

func (s *Session) recordTurn(outcome string, toolHops int) {
	if s.metrics != nil {
		s.metrics.RecordTurn(outcome, toolHops)
	}
}

// turnIteration runs one pass of generate→parse→(maybe tool call). It
// returns toolCalled=true if a ToolCallIntent was handled (the caller
// should loop and re-prompt), stop=true if the turn is fully over (an
// EndOfTurn or fatal error was already emitted), and outcome describing
// why when stop is true ("ok" or "error"; meaningless otherwise).
func (s *Session) turnIteration(ctx context.Context, cfg llm.GenerateConfig, out chan<- Event) (toolCalled, stop bool, outcome string) {
	bundle := llm.PromptBundle{
		System:  s.compiler.Compile(s.baseTemplate, s.persona, s.catalog()),
		History: s.history.Snapshot(),
	}

	model := cfg.ModelName
	if model == "" {
		model = "default"
	}
	started := time.Now()
	recordLLM := func(status string) {
		if s.metrics != nil {
			s.metrics.RecordLLMRequest(s.adapter.Name(), model, status, time.Since(started).Seconds())
		}
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fragments, err := s.adapter.StreamGenerate(genCtx, bundle, cfg)
	if err != nil {
		recordLLM("error")
		out <- ErrorInfo{Message: "LLM service error: " + err.Error()}
		out <- EndOfTurn{}
		return false, true, "error"
	}

	parser := streamparse.New()
	var assistantBuffer []byte

	flushAssistant := func() {
		if len(assistantBuffer) == 0 {
			return
		}
		s.history.Append(convo.NewTextMessage(convo.RoleAssistant, string(assistantBuffer)))
		assistantBuffer = nil
	}

	for frag := range fragments {
		if frag.Err != nil {
			recordLLM("error")
			out <- ErrorInfo{Message: "LLM service error: " + frag.Err.Error()}
			out <- EndOfTurn{}
			return false, true, "error"
		}

		var parts []streamparse.Part
		if frag.Text != "" {
			parts = parser.Feed(frag.Text)
		}
		if frag.Done {
			parts = append(parts, parser.Flush()...)
		}

		for _, part := range parts {
			switch p := part.(type) {
			case streamparse.TextChunk:
				assistantBuffer = append(assistantBuffer, p.Content...)
				out <- TextChunk{Content: p.Content}

			case streamparse.ErrorInfo:
				out <- ErrorInfo{Message: p.Message, Details: p.Details}

			case streamparse.ToolCallIntent:
				flushAssistant()
				out <- ToolCallIntent{ToolName: p.ToolName, Arguments: p.Arguments}

				toolMsg, result := s.callTool(ctx, p.ToolName, p.Arguments)
				out <- ToolResultData{ToolName: p.ToolName, Result: result}
				s.history.Append(toolMsg)
				out <- RePromptContext{Message: toolMsg}

				// Stop listening to this generation and re-prompt instead.
				// Canceling alone doesn't guarantee the adapter's producer
				// goroutine won't still try one more send, so drain the
				// rest of the stream in the background rather than risk
				// leaking it on an unbuffered channel nobody reads anymore.
				cancel()
				go func() {
					for range fragments {
					}
				}()
				recordLLM("ok")
				return true, false, ""

			case streamparse.EndOfTurn:
				flushAssistant()
				out <- EndOfTurn{}
				recordLLM("ok")
				return false, true, "ok"
			}
		}
	}

	flushAssistant()
	out <- EndOfTurn{}
	recordLLM("ok")
	return false, true, "ok"
}

// callTool invokes the named tool and always returns a tool ChatMessage,
// whether the call succeeded or failed: a tool failure ends this hop
// with an error payload fed back to the model, it never terminates the
// session. It also returns the raw result/failure payload for the
// caller's ToolResultData event.
func (s *Session) callTool(ctx context.Context, qualifiedName string, arguments json.RawMessage) (convo.ChatMessage, any) {
	started := time.Now()
	result, err := s.tools.CallTool(ctx, qualifiedName, arguments)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordToolCall(qualifiedName, "error", time.Since(started).Seconds())
		}
		s.logger.Warn("tool call failed", "tool", qualifiedName, "error", err)
		payload := map[string]string{
			"error":   errorClass(err),
			"message": err.Error(),
		}
		return convo.NewToolResultMessage(qualifiedName, payload), payload
	}
	if s.metrics != nil {
		s.metrics.RecordToolCall(qualifiedName, "success", time.Since(started).Seconds())
	}
	return convo.NewToolResultMessage(qualifiedName, result), result
}

// catalog flattens the coordinator's live registry entries into the
// ToolDefinition shape the prompt compiler expects.
func (s *Session) catalog() []convo.ToolDefinition {
	entries := s.tools.ListTools()
	defs := make([]convo.ToolDefinition, 0, len(entries))
	for _, e := range entries {
		if e.Definition == nil {
			continue
		}
		defs = append(defs, convo.ToolDefinition{
			QualifiedName: e.QualifiedName,
			ServerID:      e.ServerID,
			Description:   e.Definition.Description,
			Parameters:    e.Definition.InputSchema,
		})
	}
	return defs
}

func errorClass(err error) string {
	switch err.(type) {
	case *toolhost.ToolNotFoundError:
		return "ToolNotFound"
	case *toolhost.ToolUnavailableError:
		return "ToolUnavailable"
	case *toolhost.ToolExecutionError:
		return "ToolExecutionError"
	default:
		return "ToolError"
	}
}
