package transport

import (
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
)

// Registry maps transport kinds to their builders and capabilities.
// Transport packages add themselves through their Register function.
type Registry struct {
	mu           sync.RWMutex
	builders     map[Kind]Builder
	capabilities map[Kind]Capabilities
}

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[Kind]Builder),
		capabilities: make(map[Kind]Capabilities),
	}
}

// Register adds a transport builder to the registry.
func (r *Registry) Register(kind Kind, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = builder
}

// RegisterWithCapabilities adds a transport builder and its capabilities.
func (r *Registry) RegisterWithCapabilities(kind Kind, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = builder
	r.capabilities[kind] = caps
}

// GetCapabilities returns the capabilities for a registered transport.
// Returns a zero Capabilities value naming the kind if it is unknown.
func (r *Registry) GetCapabilities(kind Kind) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[kind]; ok {
		return caps
	}
	return Capabilities{Name: string(kind)}
}

// Build creates a transport using the builder registered for the config's kind.
func (r *Registry) Build(cfg Config, opts Options) (Transport, error) {
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}

	kind := ParseKind(cfg.GetTransport())

	r.mu.RLock()
	builder, ok := r.builders[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", errspkg.ErrUnknownTransport, kind, r.Names())
	}

	return builder(cfg, opts.WithDefaults(cfg))
}

// Names returns the registered kinds in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for kind := range r.builders {
		names = append(names, string(kind))
	}
	sort.Strings(names)
	return names
}

// Has returns true if a transport is registered under kind.
func (r *Registry) Has(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[kind]
	return ok
}
