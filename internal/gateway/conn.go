package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/conduit/internal/llm"
	"github.com/haasonsaas/conduit/internal/orchestrator"
)

// clientConn owns one WebSocket connection's lifecycle: the identify
// handshake, the post-identification message loop, and teardown.
type clientConn struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger *slog.Logger

	writeMu sync.Mutex

	email   string
	session *orchestrator.Session

	mu           sync.Mutex
	activeCancel context.CancelFunc
}

func (c *clientConn) run() {
	defer c.teardown()

	if err := c.handshake(); err != nil {
		c.logger.Info("identification failed", "error", err)
		return
	}

	c.messageLoop()
}

// handshake waits for exactly one inbound frame and accepts only
// {"type":"identify","email":"..."}. Any other shape closes the
// connection with policy-violation code 1008.
func (c *clientConn) handshake() error {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}

	f, err := validateInboundFrame(raw)
	if err != nil || f.Type != "identify" {
		c.sendFrame(frame("identify_fail", errorPayload{Message: "expected an identify frame"}))
		c.close(closePolicyViolation, "identification failed")
		if err != nil {
			return err
		}
		return fmt.Errorf("expected identify frame, got %q", f.Type)
	}

	var payload identifyPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		c.sendFrame(frame("identify_fail", errorPayload{Message: "malformed identify payload"}))
		c.close(closePolicyViolation, "identification failed")
		return err
	}

	persona, ok := c.server.identities.Persona(payload.Email)
	if !ok {
		c.sendFrame(frame("identify_fail", errorPayload{Message: "unknown email"}))
		c.close(closePolicyViolation, "identification failed")
		return fmt.Errorf("unrecognized email %q", payload.Email)
	}

	c.email = payload.Email
	c.session = c.server.newSession(c.id, payload.Email, persona)
	c.logger.Info("session identified", "email", payload.Email)
	if c.server.observer != nil {
		c.server.observer.SessionConnected()
	}

	return c.sendFrame(frame("identify_success", identifySuccessPayload{SessionID: c.id}))
}

// messageLoop handles every inbound frame once identification succeeds. A
// second "message" frame arriving while a turn is in flight is rejected
// with an error frame naming the in-flight turn, rather than queued: the
// existing turn keeps running uninterrupted.
func (c *clientConn) messageLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		f, err := validateInboundFrame(raw)
		if err != nil {
			c.sendFrame(frame("error", errorPayload{Message: "protocol error: " + err.Error()}))
			continue
		}

		switch f.Type {
		case "message":
			var payload messagePayload
			if err := json.Unmarshal(f.Payload, &payload); err != nil {
				c.sendFrame(frame("error", errorPayload{Message: "malformed message payload"}))
				continue
			}
			c.handleMessage(payload.Text)
		default:
			c.sendFrame(frame("error", errorPayload{Message: "unsupported frame type: " + f.Type}))
		}
	}
}

func (c *clientConn) handleMessage(text string) {
	ctx, cancel := context.WithCancel(context.Background())

	events, err := c.session.HandleInput(ctx, text, llm.GenerateConfig{})
	if err != nil {
		cancel()
		if errors.Is(err, orchestrator.ErrSessionBusy) {
			c.sendFrame(frame("error", errorPayload{
				Message: fmt.Sprintf("a turn is already in progress for session %s", c.id),
			}))
			return
		}
		c.sendFrame(frame("error", errorPayload{Message: err.Error()}))
		return
	}

	c.mu.Lock()
	c.activeCancel = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.activeCancel = nil
			c.mu.Unlock()
			cancel()
		}()
		for ev := range events {
			if err := c.sendFrame(formatEvent(ev)); err != nil {
				return
			}
		}
	}()
}

// teardown cancels any in-flight turn, drops the session's history (owned
// entirely by the orchestrator.Session, which is simply discarded here),
// and releases the connection.
func (c *clientConn) teardown() {
	c.mu.Lock()
	if c.activeCancel != nil {
		c.activeCancel()
	}
	c.mu.Unlock()
	c.conn.Close()
	if c.session != nil && c.server.observer != nil {
		c.server.observer.SessionDisconnected()
	}
	c.logger.Info("connection closed", "email", c.email)
}

func (c *clientConn) sendFrame(f Frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *clientConn) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
}

// formatEvent translates one orchestrator.Event into its wire Frame. The
// tool-call status frame's state is literally "calling_tool".
func formatEvent(ev orchestrator.Event) Frame {
	switch v := ev.(type) {
	case orchestrator.TextChunk:
		return frame("text", textPayload{Content: v.Content})
	case orchestrator.ToolCallIntent:
		return frame("status", statusPayload{
			State:     "calling_tool",
			Tool:      v.ToolName,
			Message:   fmt.Sprintf("Attempting to use tool: %s", v.ToolName),
			Arguments: v.Arguments,
		})
	case orchestrator.ToolResultData:
		return frame("tool_result", toolResultPayload{Tool: v.ToolName, Result: v.Result})
	case orchestrator.RePromptContext:
		return frame("re_prompt_context", map[string]any{"message": v.Message})
	case orchestrator.ErrorInfo:
		return frame("error", errorPayload{Message: v.Message, Details: v.Details})
	case orchestrator.EndOfTurn:
		return frame("end", struct{}{})
	default:
		return frame("error", errorPayload{Message: "internal error: unknown event type"})
	}
}
