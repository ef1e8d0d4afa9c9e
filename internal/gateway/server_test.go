package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/conduit/internal/llm"
	"github.com/haasonsaas/conduit/internal/orchestrator"
	"github.com/haasonsaas/conduit/internal/promptc"
	"github.com/haasonsaas/conduit/internal/toolhost"
	"github.com/haasonsaas/conduit/internal/tp"
)

type fakeIdentities struct {
	personas map[string]string
}

func (f *fakeIdentities) Persona(email string) (string, bool) {
	p, ok := f.personas[email]
	return p, ok
}

type scriptedAdapter struct {
	fragments []string
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) StreamGenerate(ctx context.Context, bundle llm.PromptBundle, cfg llm.GenerateConfig) (<-chan llm.Fragment, error) {
	out := make(chan llm.Fragment)
	go func() {
		defer close(out)
		for i, text := range a.fragments {
			select {
			case out <- llm.Fragment{Text: text, Done: i == len(a.fragments)-1}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type noTools struct{}

func (noTools) ListTools() []*toolhost.ToolRegistryEntry { return nil }
func (noTools) CallTool(ctx context.Context, qualifiedName string, arguments json.RawMessage) (*tp.ToolCallResult, error) {
	return nil, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	identities := &fakeIdentities{personas: map[string]string{"alice@example.com": "a test persona"}}
	compiler := promptc.New("sandboxed", nil)

	newSession := func(sessionID, email, persona string) *orchestrator.Session {
		adapter := &scriptedAdapter{fragments: []string{"Hello, ", email, "."}}
		return orchestrator.NewSession(sessionID, "You are {persona_definition}. {filesystem_access_info}", persona, adapter, noTools{}, compiler, nil)
	}

	srv := NewServer(identities, newSession, nil)
	return httptest.NewServer(srv)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("invalid frame JSON: %v", err)
	}
	return f
}

func TestIdentifySuccessThenMessageRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	conn := dial(t, srv)
	defer conn.Close()

	conn.WriteJSON(Frame{Type: "identify", Payload: json.RawMessage(`{"email":"alice@example.com"}`)})
	if f := readFrame(t, conn); f.Type != "identify_success" {
		t.Fatalf("expected identify_success, got %q", f.Type)
	}

	conn.WriteJSON(Frame{Type: "message", Payload: json.RawMessage(`{"text":"hi"}`)})

	sawEnd := false
	for i := 0; i < 10 && !sawEnd; i++ {
		f := readFrame(t, conn)
		if f.Type == "end" {
			sawEnd = true
		}
	}
	if !sawEnd {
		t.Fatalf("expected an end frame to eventually arrive")
	}
}

func TestIdentifyFailClosesWithPolicyViolation(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	conn := dial(t, srv)
	defer conn.Close()

	conn.WriteJSON(Frame{Type: "identify", Payload: json.RawMessage(`{"email":"unknown@example.com"}`)})
	if f := readFrame(t, conn); f.Type != "identify_fail" {
		t.Fatalf("expected identify_fail, got %q", f.Type)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error, got %v", err)
	}
	if closeErr.Code != closePolicyViolation {
		t.Fatalf("expected close code %d, got %d", closePolicyViolation, closeErr.Code)
	}
}

type countingObserver struct {
	connected    int
	disconnected int
}

func (o *countingObserver) SessionConnected()    { o.connected++ }
func (o *countingObserver) SessionDisconnected() { o.disconnected++ }

func TestSessionObserverNotifiedOnConnectAndDisconnect(t *testing.T) {
	identities := &fakeIdentities{personas: map[string]string{"alice@example.com": "a test persona"}}
	compiler := promptc.New("sandboxed", nil)
	newSession := func(sessionID, email, persona string) *orchestrator.Session {
		adapter := &scriptedAdapter{fragments: []string{"hi"}}
		return orchestrator.NewSession(sessionID, "You are {persona_definition}. {filesystem_access_info}", persona, adapter, noTools{}, compiler, nil)
	}

	srv := NewServer(identities, newSession, nil)
	observer := &countingObserver{}
	srv.SetSessionObserver(observer)
	httpSrv := httptest.NewServer(srv)
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	conn.WriteJSON(Frame{Type: "identify", Payload: json.RawMessage(`{"email":"alice@example.com"}`)})
	if f := readFrame(t, conn); f.Type != "identify_success" {
		t.Fatalf("expected identify_success, got %q", f.Type)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if observer.connected == 1 && observer.disconnected == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if observer.connected != 1 {
		t.Errorf("expected SessionConnected to fire once, got %d", observer.connected)
	}
	if observer.disconnected != 1 {
		t.Errorf("expected SessionDisconnected to fire once, got %d", observer.disconnected)
	}
}

func TestUnidentifiedNonIdentifyFrameIsRejected(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	conn := dial(t, srv)
	defer conn.Close()

	conn.WriteJSON(Frame{Type: "message", Payload: json.RawMessage(`{"text":"hi"}`)})

	if f := readFrame(t, conn); f.Type != "identify_fail" {
		t.Fatalf("expected identify_fail, got %q", f.Type)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if _, ok := err.(*websocket.CloseError); !ok {
		t.Fatalf("expected connection closed after non-identify first frame, got %v", err)
	}
}
