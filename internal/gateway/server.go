// Package gateway implements the Session Gateway: the authenticating
// WebSocket front door that multiplexes client connections onto per-client
// Orchestrator sessions.
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/conduit/internal/orchestrator"
)

// IdentityStore resolves an authenticated email to its persona string
// (substituted into the compiled system prompt's {persona_definition}
// placeholder). A false second return means the email isn't authorized.
type IdentityStore interface {
	Persona(email string) (string, bool)
}

// SessionFactory builds a fresh Orchestrator session for a newly
// identified client. Called at most once per connection, right after a
// successful identify.
type SessionFactory func(sessionID, email, persona string) *orchestrator.Session

// SessionObserver is notified as connections identify and close, so the
// active-sessions gauge stays accurate without the gateway needing to know
// anything about Prometheus.
type SessionObserver interface {
	SessionConnected()
	SessionDisconnected()
}

// Server is the Session Gateway: it upgrades HTTP connections to
// WebSocket, runs the identify handshake, and bridges each session's
// Orchestrator event stream to the wire.
type Server struct {
	identities IdentityStore
	newSession SessionFactory
	observer   SessionObserver
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewServer builds a Server. A nil logger falls back to slog.Default().
func NewServer(identities IdentityStore, newSession SessionFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		identities: identities,
		newSession: newSession,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetSessionObserver installs o to be notified of session lifecycle
// events. Passing nil disables notification. Must be called before
// ServeHTTP starts handling connections to avoid a data race.
func (s *Server) SetSessionObserver(o SessionObserver) {
	s.observer = o
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection's
// lifecycle to completion before returning.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	c := &clientConn{
		id:     sessionID,
		conn:   conn,
		server: s,
		logger: s.logger.With("session_id", sessionID),
	}
	c.run()
}
