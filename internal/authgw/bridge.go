package authgw

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/conduit/internal/gateway"
)

const (
	closePolicyViolation = 1008
	closeInternalError   = 1011
)

type authPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

type authSuccessPayload struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// Server is the Auth Gateway: it terminates the client connection,
// verifies credentials, then opens a trusted inner connection to the
// Session Gateway and bridges traffic bidirectionally, verbatim.
type Server struct {
	identities IdentityStore
	tokens     *TokenService
	innerURL   string
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewServer builds an Auth Gateway in front of a Session Gateway reachable
// at innerURL (e.g. "ws://127.0.0.1:8081/ws").
func NewServer(identities IdentityStore, tokens *TokenService, innerURL string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		identities: identities,
		tokens:     tokens,
		innerURL:   innerURL,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	client, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("auth gateway upgrade failed", "error", err)
		return
	}
	defer client.Close()

	email, ok := s.authenticate(client)
	if !ok {
		return
	}

	inner, _, err := websocket.DefaultDialer.Dial(s.innerURL, nil)
	if err != nil {
		s.logger.Error("failed to connect to session gateway", "error", err)
		closeWith(client, closeInternalError, "backend connection failed")
		return
	}
	defer inner.Close()

	identify := gateway.Frame{Type: "identify", Payload: rawJSON(map[string]string{"email": email})}
	if err := inner.WriteJSON(identify); err != nil {
		s.logger.Error("failed to forward identify to session gateway", "error", err)
		closeWith(client, closeInternalError, "backend identify failed")
		return
	}

	var innerResp gateway.Frame
	if err := inner.ReadJSON(&innerResp); err != nil || innerResp.Type != "identify_success" {
		s.logger.Error("session gateway rejected synthesized identify", "error", err)
		closeWith(client, closeInternalError, "backend identify rejected")
		return
	}

	var success identifySuccess
	json.Unmarshal(innerResp.Payload, &success)

	token, err := s.tokens.Issue(email)
	if err != nil {
		s.logger.Warn("failed to issue session token", "error", err)
	}
	client.WriteJSON(gateway.Frame{
		Type:    "auth_success",
		Payload: rawJSON(authSuccessPayload{SessionID: success.SessionID, Token: token}),
	})

	bridge(client, inner, s.logger)
}

type identifySuccess struct {
	SessionID string `json:"sessionId"`
}

// authenticate waits for one inbound auth frame (password or reconnect
// token) and verifies it. On failure it sends auth_fail and closes the
// client connection with policy-violation code 1008.
func (s *Server) authenticate(client *websocket.Conn) (email string, ok bool) {
	var f gateway.Frame
	if err := client.ReadJSON(&f); err != nil {
		return "", false
	}

	switch f.Type {
	case "auth":
		var payload authPayload
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			s.fail(client, "malformed auth payload")
			return "", false
		}
		id, found := s.identities.Lookup(payload.Email)
		if !found || !VerifyPassword(id, payload.Password) {
			s.fail(client, "invalid credentials")
			return "", false
		}
		return payload.Email, true

	case "token":
		var payload tokenPayload
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			s.fail(client, "malformed token payload")
			return "", false
		}
		verifiedEmail, err := s.tokens.Verify(payload.Token)
		if err != nil {
			s.fail(client, "invalid or expired token")
			return "", false
		}
		return verifiedEmail, true

	default:
		s.fail(client, "expected an auth or token frame")
		return "", false
	}
}

func (s *Server) fail(client *websocket.Conn, reason string) {
	client.WriteJSON(gateway.Frame{Type: "auth_fail", Payload: rawJSON(map[string]string{"message": reason})})
	closeWith(client, closePolicyViolation, reason)
}

// bridge forwards every message between client and inner verbatim in both
// directions until either side closes.
func bridge(client, inner *websocket.Conn, logger *slog.Logger) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		for {
			msgType, data, err := client.ReadMessage()
			if err != nil {
				return
			}
			if err := inner.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		for {
			msgType, data, err := inner.ReadMessage()
			if err != nil {
				return
			}
			if err := client.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}()

	<-done
	logger.Info("bridge session ended")
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func rawJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
