package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
)

// DefaultStreamName is the alias under which the first pushed stream is stored.
const DefaultStreamName = "default"

// Registry holds named streams. The first stream pushed is also reachable as
// DefaultStreamName.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// Push stores stream under name, replacing any stream already there.
func (r *Registry) Push(name string, stream *Stream) error {
	if stream == nil {
		return errspkg.ErrStreamRequired
	}
	if name == "" {
		name = stream.Name()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streams[DefaultStreamName]; !ok {
		r.streams[DefaultStreamName] = stream
	}
	if _, ok := r.streams[name]; !ok && name != DefaultStreamName {
		r.order = append(r.order, name)
	}
	r.streams[name] = stream
	return nil
}

// Get returns the stream stored under name. An empty name means the default.
func (r *Registry) Get(name string) (*Stream, error) {
	if name == "" {
		name = DefaultStreamName
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, ok := r.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownStream, name)
	}
	return stream, nil
}

func (r *Registry) Default() (*Stream, error) {
	return r.Get(DefaultStreamName)
}

// Names lists pushed names in push order, without the default alias.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// CloseAll closes every distinct stream once and empties the registry.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	streams := r.streams
	r.streams = make(map[string]*Stream)
	r.order = nil
	r.mu.Unlock()

	seen := make(map[*Stream]struct{}, len(streams))
	var errs []error
	for _, stream := range streams {
		if _, ok := seen[stream]; ok {
			continue
		}
		seen[stream] = struct{}{}
		if err := stream.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close stream %q: %w", stream.Name(), err))
		}
	}
	return errors.Join(errs...)
}
