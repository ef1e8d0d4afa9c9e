package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/conduit/internal/tp"
)

// setupTimeout bounds how long Initialize waits for every configured
// server's handshake+discovery to finish before giving up on the
// stragglers and marking them failed. Mirrors the coordinator's original
// 120-second setup window.
const setupTimeout = 120 * time.Second

// FileConfig is the on-disk shape of the tool-server configuration file.
type FileConfig struct {
	Servers map[string]*tp.ServerConfig `yaml:"servers" json:"servers"`
}

// LoadFileConfig parses a tool-server configuration file. Each map key
// becomes the server's ID if the nested object doesn't already set one,
// matching the original's "pop id before constructing ServerConfig" loader
// behavior while tolerating an explicit id field too.
func LoadFileConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse tool-server config: %w", err)
	}
	for id, cfg := range fc.Servers {
		if cfg.ID == "" {
			cfg.ID = id
		}
	}
	return &fc, nil
}

// NativeTool is a host-implemented tool that does not require a subprocess.
// Native tools are registered under the reserved server id "host".
type NativeTool struct {
	Definition *tp.Tool
	Call       func(ctx context.Context, args json.RawMessage) (*tp.ToolCallResult, error)
}

// NativeServerID is the reserved server id for in-process tools.
const NativeServerID = "host"

// Coordinator owns every tool server's supervisor and the merged live
// registry of tools they expose. It is the Go realization of the Tool
// Coordinator: initialize() brings every AutoStart server up concurrently
// and waits (bounded) for them all to settle; call_tool routes by
// qualified name; shutdown() drains every server in parallel.
type Coordinator struct {
	logger *slog.Logger
	reg    *registry

	mu          sync.RWMutex
	supervisors map[string]*supervisor
	native      map[string]*NativeTool

	watcher    *fsnotify.Watcher
	watchStop  chan struct{}
	configPath string
}

// New creates an empty Coordinator. Call Initialize to bring servers up.
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:      logger.With("component", "tool_coordinator"),
		reg:         newRegistry(),
		supervisors: make(map[string]*supervisor),
		native:      make(map[string]*NativeTool),
	}
}

// RegisterNative installs an in-process tool, exposed as "host:<name>".
func (c *Coordinator) RegisterNative(t *NativeTool) {
	c.mu.Lock()
	c.native[t.Definition.Name] = t
	c.mu.Unlock()

	qn := QualifiedName(NativeServerID, t.Definition.Name)
	c.reg.mu.Lock()
	c.reg.entries[qn] = &ToolRegistryEntry{
		QualifiedName: qn,
		ServerID:      NativeServerID,
		Definition:    t.Definition,
	}
	c.reg.mu.Unlock()
}

// Initialize starts every server in cfg concurrently and waits, up to
// setupTimeout, for each one to reach Ready or a terminal error state.
// Servers still pending when the timeout fires are canceled and marked
// FailedStart; Initialize itself never returns an error for a single
// server's failure, since a partially-available tool catalog is still
// useful — failures are visible via Status().
func (c *Coordinator) Initialize(ctx context.Context, cfg *FileConfig) error {
	type setup struct {
		id   string
		done chan struct{}
	}
	var setups []setup

	for id, serverCfg := range cfg.Servers {
		if serverCfg.ID == "" {
			serverCfg.ID = id
		}
		if !serverCfg.AutoStart {
			continue
		}
		if err := serverCfg.Validate(); err != nil {
			c.logger.Error("invalid tool server config, skipping", "server", id, "error", err)
			continue
		}

		sv := newSupervisor(serverCfg, c.reg, c.logger)
		c.mu.Lock()
		c.supervisors[serverCfg.ID] = sv
		c.mu.Unlock()

		done := make(chan struct{})
		go sv.run(ctx, done)
		setups = append(setups, setup{id: serverCfg.ID, done: done})
	}

	deadline := time.NewTimer(setupTimeout)
	defer deadline.Stop()

	settled := make(chan string, len(setups))
	for _, s := range setups {
		go func(s setup) {
			<-s.done
			settled <- s.id
		}(s)
	}

	remaining := len(setups)
waitLoop:
	for remaining > 0 {
		select {
		case <-settled:
			remaining--
		case <-deadline.C:
			break waitLoop
		}
	}

	c.mu.RLock()
	stragglers := make([]*supervisor, 0)
	for _, s := range setups {
		if sv := c.supervisors[s.id]; sv != nil && sv.State() != StateReady &&
			sv.State() != StateFailedStart && sv.State() != StateCrashed {
			stragglers = append(stragglers, sv)
		}
	}
	c.mu.RUnlock()
	for _, sv := range stragglers {
		c.logger.Warn("tool server setup timed out", "server", sv.id)
		sv.setFailure(StateFailedStart, fmt.Errorf("setup timed out after %v", setupTimeout))
		sv.stop()
	}

	ready, failed := 0, 0
	for _, s := range setups {
		c.mu.RLock()
		sv := c.supervisors[s.id]
		c.mu.RUnlock()
		if sv.State() == StateReady {
			ready++
		} else {
			failed++
		}
	}
	c.logger.Info("tool coordinator initialized", "ready", ready, "failed", failed)
	return nil
}

// Shutdown drains every running server concurrently.
func (c *Coordinator) Shutdown() {
	c.StopWatch()

	c.mu.RLock()
	svs := make([]*supervisor, 0, len(c.supervisors))
	for _, sv := range c.supervisors {
		svs = append(svs, sv)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sv := range svs {
		wg.Add(1)
		go func(sv *supervisor) {
			defer wg.Done()
			sv.stop()
		}(sv)
	}
	wg.Wait()
}

// ListTools returns a snapshot of the merged, live tool catalog.
func (c *Coordinator) ListTools() []*ToolRegistryEntry {
	return c.reg.list()
}

// CallTool routes a call by qualified name ("server_id:tool_name") to the
// owning server or native handler, recording the outcome in the registry's
// advisory reliability/performance counters.
func (c *Coordinator) CallTool(ctx context.Context, qualifiedName string, arguments json.RawMessage) (*tp.ToolCallResult, error) {
	entry := c.reg.lookup(qualifiedName)
	if entry == nil {
		return nil, &ToolNotFoundError{QualifiedName: qualifiedName}
	}

	serverID, toolName, ok := splitQualified(qualifiedName)
	if !ok {
		return nil, &ToolNotFoundError{QualifiedName: qualifiedName}
	}

	start := time.Now()

	if serverID == NativeServerID {
		c.mu.RLock()
		nt, ok := c.native[toolName]
		c.mu.RUnlock()
		if !ok {
			return nil, &ToolNotFoundError{QualifiedName: qualifiedName}
		}
		result, err := nt.Call(ctx, arguments)
		c.reg.recordOutcome(qualifiedName, timeSince(start), err)
		return result, err
	}

	c.mu.RLock()
	sv, ok := c.supervisors[serverID]
	c.mu.RUnlock()
	if !ok {
		return nil, &ToolNotFoundError{QualifiedName: qualifiedName}
	}
	if sv.State() != StateReady {
		err := &ToolUnavailableError{ServerID: serverID, State: sv.State()}
		c.reg.recordOutcome(qualifiedName, timeSince(start), err)
		return nil, err
	}

	result, err := sv.CallTool(ctx, toolName, arguments)
	c.reg.recordOutcome(qualifiedName, timeSince(start), err)
	if err != nil {
		return nil, &ToolExecutionError{QualifiedName: qualifiedName, Cause: err}
	}
	return result, nil
}

// ServerStatus is a point-in-time view of one server's supervisor state,
// surfaced for the operator CLI and health checks.
type ServerStatus struct {
	ID        string
	State     ServerState
	ToolCount int
	Error     string
}

// Status returns a snapshot of every managed server's state.
func (c *Coordinator) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ServerStatus, 0, len(c.supervisors))
	for id, sv := range c.supervisors {
		st := ServerStatus{ID: id, State: sv.State()}
		if client := sv.Client(); client != nil {
			st.ToolCount = len(client.Tools())
		}
		if err := sv.Failure(); err != nil {
			st.Error = err.Error()
		}
		out = append(out, st)
	}
	return out
}

func splitQualified(qualifiedName string) (serverID, toolName string, ok bool) {
	idx := strings.Index(qualifiedName, ":")
	if idx < 0 {
		return "", "", false
	}
	return qualifiedName[:idx], qualifiedName[idx+1:], true
}

// ToolNotFoundError indicates the qualified name has no live registry entry.
type ToolNotFoundError struct{ QualifiedName string }

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.QualifiedName)
}

// ToolUnavailableError indicates the owning server exists but isn't Ready.
type ToolUnavailableError struct {
	ServerID string
	State    ServerState
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("tool server %s is unavailable (state=%s)", e.ServerID, e.State)
}

// ToolExecutionError wraps a failure returned by a reachable tool server.
type ToolExecutionError struct {
	QualifiedName string
	Cause         error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s execution failed: %v", e.QualifiedName, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }
