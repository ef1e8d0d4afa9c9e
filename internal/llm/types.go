// Package llm implements the LLM Adapter: a thin, provider-specific
// translation layer between the orchestrator's compiled prompt + bounded
// history and a lazy, cancelable sequence of raw text fragments. Adapters
// never parse ```tool blocks themselves — that's the stream parser's job
// one layer up — they only stream the model's output verbatim.
package llm

import (
	"context"

	"github.com/haasonsaas/conduit/internal/convo"
)

// PromptBundle is everything an adapter needs to start a completion: the
// fully compiled system prompt (already carrying tool-usage instructions
// and the tool catalog) and the session's bounded message history.
type PromptBundle struct {
	System  string
	History []convo.ChatMessage
}

// GenerateConfig carries optional per-turn sampling overrides. A zero value
// means "use the adapter's defaults."
type GenerateConfig struct {
	Temperature     *float64
	MaxOutputTokens int
	ModelName       string
}

// Fragment is one piece of a streaming completion. Exactly one of Text or
// Err is meaningful; Done marks the end of the stream (with or without an
// error).
type Fragment struct {
	Text string
	Err  error
	Done bool
}

// Adapter is the LLM Adapter contract. Implementations wrap one provider's
// native streaming completion API.
type Adapter interface {
	// Name identifies the adapter, e.g. "anthropic", "openai".
	Name() string

	// StreamGenerate starts a completion and returns a channel of
	// fragments. The channel is closed after a Fragment with Done=true is
	// sent (or the context is canceled). Implementations must respect
	// ctx cancellation promptly.
	StreamGenerate(ctx context.Context, bundle PromptBundle, cfg GenerateConfig) (<-chan Fragment, error)
}

// Registry selects an Adapter by provider name, configured at startup.
// Selecting an unregistered name is a ConfigError-class failure: it must
// be caught before the gateway starts accepting sessions, not mid-turn.
type Registry struct {
	adapters map[string]Adapter
	def      string
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its Name(). The first adapter registered
// becomes the default.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
	if r.def == "" {
		r.def = a.Name()
	}
}

// SetDefault overrides which adapter Default() resolves to.
func (r *Registry) SetDefault(name string) error {
	if _, ok := r.adapters[name]; !ok {
		return &UnknownProviderError{Name: name}
	}
	r.def = name
	return nil
}

// Get resolves an adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, &UnknownProviderError{Name: name}
	}
	return a, nil
}

// Default resolves the registry's default adapter.
func (r *Registry) Default() (Adapter, error) {
	if r.def == "" {
		return nil, &UnknownProviderError{Name: "(none registered)"}
	}
	return r.Get(r.def)
}

// UnknownProviderError is returned when a configured provider name has no
// matching adapter registered.
type UnknownProviderError struct{ Name string }

func (e *UnknownProviderError) Error() string {
	return "unknown LLM provider: " + e.Name
}
