package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/haasonsaas/conduit/internal/tp"
)

// supervisor drives one tool server through its state machine:
//
//	Starting -> Handshaking -> Discovering -> Ready -> Draining -> Stopped
//
// with FailedStart and Crashed as terminal error states reachable from any
// point before or after Ready respectively. Modeled on the per-server task
// lifecycle of the coordinator's original Python implementation, which runs
// one task per server inside a structured-concurrency task group; here each
// supervisor is a goroutine owning a context cancelable independently of
// its siblings.
type supervisor struct {
	id     string
	config *tp.ServerConfig
	logger *slog.Logger
	reg    *registry

	mu      sync.RWMutex
	state   ServerState
	client  *tp.Client
	failure error

	cancel context.CancelFunc
	done   chan struct{}
}

func newSupervisor(cfg *tp.ServerConfig, reg *registry, logger *slog.Logger) *supervisor {
	return &supervisor{
		id:     cfg.ID,
		config: cfg,
		logger: logger.With("tool_server", cfg.ID),
		reg:    reg,
		state:  StateStarting,
		done:   make(chan struct{}),
	}
}

func (s *supervisor) State() ServerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *supervisor) setState(st ServerState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *supervisor) setFailure(st ServerState, err error) {
	s.mu.Lock()
	s.state = st
	s.failure = err
	s.mu.Unlock()
}

func (s *supervisor) Failure() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

func (s *supervisor) Client() *tp.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// run executes the full lifecycle and signals setupDone once the server is
// either Ready or has reached a terminal error state. It blocks afterward
// until ctx is canceled (Draining), then tears the subprocess down
// (Stopped). run is meant to be launched as its own goroutine.
func (s *supervisor) run(parent context.Context, setupDone chan<- struct{}) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	defer close(s.done)
	defer cancel()

	signaled := false
	signal := func() {
		if !signaled {
			signaled = true
			close(setupDone)
		}
	}

	if s.config.Transport != tp.TransportStdio {
		s.setFailure(StateFailedStart, fmt.Errorf("unsupported transport %q", s.config.Transport))
		s.logger.Warn("tool server uses unsupported transport, skipping", "transport", s.config.Transport)
		signal()
		return
	}

	s.setState(StateStarting)
	resolvedArgs, unresolved := tp.SubstituteArgs(s.config.Args, func(name string) (string, bool) {
		return os.LookupEnv(name)
	})
	for _, name := range unresolved {
		s.logger.Warn("substitution variable unset, using empty string", "variable", name)
	}

	client := tp.NewClient(s.config, s.logger)

	s.setState(StateHandshaking)
	if err := client.Connect(ctx, resolvedArgs); err != nil {
		s.setFailure(StateFailedStart, err)
		s.logger.Error("failed to start tool server", "error", err)
		signal()
		return
	}

	s.setState(StateDiscovering)
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	s.reg.replaceServerTools(s.id, client.Tools())

	s.setState(StateReady)
	s.logger.Info("tool server ready", "tools", len(client.Tools()))
	signal()

	<-ctx.Done()

	s.setState(StateDraining)
	s.reg.removeServer(s.id)
	if err := client.Close(); err != nil {
		s.logger.Warn("error closing tool server", "error", err)
	}
	s.setState(StateStopped)
}

// stop requests a graceful shutdown and waits for it to complete.
func (s *supervisor) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// CallTool invokes a tool on this server directly by its unqualified name.
func (s *supervisor) CallTool(ctx context.Context, name string, args json.RawMessage) (*tp.ToolCallResult, error) {
	client := s.Client()
	if client == nil || s.State() != StateReady {
		return nil, fmt.Errorf("server %s is not ready (state=%s)", s.id, s.State())
	}
	return client.CallTool(ctx, name, args)
}

// timeSince is a small seam kept for test determinism in latency assertions.
var timeSince = time.Since
