// Package toolhost implements the Tool Coordinator: it launches, supervises,
// and routes calls to the subprocess tool servers named in a tool-server
// configuration file, and maintains the merged catalog of every tool they
// expose under its globally-unique qualified name.
package toolhost

import (
	"sync"
	"time"

	"github.com/haasonsaas/conduit/internal/tp"
)

// ServerState is a position in the per-server supervisor state machine.
type ServerState string

const (
	StateStarting    ServerState = "starting"
	StateHandshaking ServerState = "handshaking"
	StateDiscovering ServerState = "discovering"
	StateReady       ServerState = "ready"
	StateDraining    ServerState = "draining"
	StateStopped     ServerState = "stopped"
	StateFailedStart ServerState = "failed_start"
	StateCrashed     ServerState = "crashed"
)

// QualifiedName builds the registry key "<server_id>:<tool_name>".
func QualifiedName(serverID, toolName string) string {
	return serverID + ":" + toolName
}

// ToolRegistryEntry is one row of the merged, live tool catalog. The
// reliability and performance fields are advisory counters updated on every
// call_tool completion; nothing in this host currently acts on them (no
// circuit breaker), they exist to be read by an operator or exported as
// metrics.
type ToolRegistryEntry struct {
	QualifiedName string
	ServerID      string
	Definition    *tp.Tool

	SuccessCount int64
	FailureCount int64
	CircuitOpen  bool
	LastFailure  time.Time

	AvgResponseTimeMS float64
	CallCount         int64
	LastUsed          time.Time
}

func (e *ToolRegistryEntry) recordSuccess(elapsed time.Duration) {
	e.SuccessCount++
	e.CallCount++
	e.LastUsed = time.Now()
	ms := float64(elapsed.Milliseconds())
	if e.CallCount == 1 {
		e.AvgResponseTimeMS = ms
	} else {
		e.AvgResponseTimeMS += (ms - e.AvgResponseTimeMS) / float64(e.CallCount)
	}
}

func (e *ToolRegistryEntry) recordFailure() {
	e.FailureCount++
	e.LastFailure = time.Now()
}

// registry is the coordinator's merged, concurrency-safe tool catalog.
type registry struct {
	mu      sync.RWMutex
	entries map[string]*ToolRegistryEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*ToolRegistryEntry)}
}

// replaceServerTools atomically drops every entry owned by serverID and
// installs fresh entries for its current tool list.
func (r *registry) replaceServerTools(serverID string, tools []*tp.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := serverID + ":"
	for k := range r.entries {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(r.entries, k)
		}
	}
	for _, t := range tools {
		qn := QualifiedName(serverID, t.Name)
		r.entries[qn] = &ToolRegistryEntry{
			QualifiedName: qn,
			ServerID:      serverID,
			Definition:    t,
		}
	}
}

// removeServer drops every entry owned by serverID.
func (r *registry) removeServer(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := serverID + ":"
	for k := range r.entries {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(r.entries, k)
		}
	}
}

// lookup returns a copy-safe pointer to the live entry, or nil.
func (r *registry) lookup(qualifiedName string) *ToolRegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[qualifiedName]
}

// list returns every entry's qualified name and definition, snapshot order
// unspecified.
func (r *registry) list() []*ToolRegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ToolRegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *registry) recordOutcome(qualifiedName string, elapsed time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[qualifiedName]
	if !ok {
		return
	}
	if err != nil {
		e.recordFailure()
		return
	}
	e.recordSuccess(elapsed)
}
