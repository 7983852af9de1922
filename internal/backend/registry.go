package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentcore/agentcore/internal/turn"
)

// Target is a parsed "model@backend" selector (spec §4.3: "Backend: an
// external language-model HTTP endpoint; selected by target string
// model@backend").
type Target struct {
	Model   string
	Backend string
}

// ParseTarget splits "claude-opus-4-20250514@anthropic" into its model and
// backend parts. A target with no "@" is rejected: callers must always
// name the backend explicitly, there is no implicit default.
func ParseTarget(s string) (Target, error) {
	model, backendName, ok := strings.Cut(s, "@")
	if !ok || model == "" || backendName == "" {
		return Target{}, fmt.Errorf("backend: invalid target %q, want model@backend", s)
	}
	return Target{Model: model, Backend: backendName}, nil
}

// Registry resolves a backend name (the part after "@" in a target string)
// to a turn.Backend implementation. One Registry is shared by the daemon
// across all sessions; individual adapters are stateless aside from their
// vendor client, so concurrent Complete calls across sessions are safe.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]turn.Backend
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]turn.Backend)}
}

// Register adds or replaces the adapter for name (e.g. "anthropic").
func (r *Registry) Register(name string, b turn.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
}

// Resolve looks up the adapter named by target's Backend field.
func (r *Registry) Resolve(target Target) (turn.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[target.Backend]
	if !ok {
		return nil, fmt.Errorf("backend: unknown backend %q", target.Backend)
	}
	return b, nil
}

// RoutingBackend is the turn.Backend a Runner is actually constructed
// with when a daemon serves more than one model@backend target. It
// expects CompletionRequest.Model to carry the full "model@backend"
// target string (Session.Target, copied in verbatim by the runner),
// resolves the right adapter from the Registry, and rewrites Model to the
// bare model name before delegating — so an individual adapter (e.g.
// AnthropicBackend) never has to know about target-string syntax.
type RoutingBackend struct {
	registry *Registry
}

// NewRoutingBackend builds a RoutingBackend over registry.
func NewRoutingBackend(registry *Registry) *RoutingBackend {
	return &RoutingBackend{registry: registry}
}

func (rb *RoutingBackend) Complete(ctx context.Context, req turn.CompletionRequest) (<-chan turn.CompletionChunk, error) {
	target, err := ParseTarget(req.Model)
	if err != nil {
		return nil, err
	}
	adapter, err := rb.registry.Resolve(target)
	if err != nil {
		return nil, err
	}
	req.Model = target.Model
	return adapter.Complete(ctx, req)
}
