package runtime

import (
	"context"
	"fmt"

	configpkg "github.com/drblury/eventstream/internal/runtime/config"
	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
	"github.com/drblury/eventstream/transport"
	"github.com/drblury/eventstream/transport/transports"
)

// Dependencies holds the optional collaborators used when building streams.
// Leave fields nil to get the defaults.
type Dependencies struct {
	Logger loggingpkg.ServiceLogger
	// Transports resolves the configured transport kind. Nil uses the
	// built-in transports.
	Transports *transport.Registry
	// Serializer overrides the JSON serializer built from the stream config.
	Serializer transport.Serializer
	Metrics    *Metrics
	Hooks      DeliveryHooks
}

// InitFromSettings builds the active stream described by cfg, connects it and
// pushes it onto registry under its configured name. A nil registry skips the
// push.
func InitFromSettings(ctx context.Context, registry *Registry, cfg *configpkg.Config, deps Dependencies) (*Stream, error) {
	name, streamCfg, err := cfg.Active()
	if err != nil {
		return nil, err
	}
	if err := streamCfg.Validate(); err != nil {
		return nil, fmt.Errorf("stream %q: %w", name, err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	builders := deps.Transports
	if builders == nil {
		builders = transports.NewRegistry()
	}

	logger.Info("Creating stream", loggingpkg.LogFields{
		"stream":    name,
		"transport": streamCfg.GetTransport(),
		"config":    streamCfg.String(),
	})

	tr, err := builders.Build(streamCfg, transport.Options{Logger: logger, Serializer: deps.Serializer})
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", name, err)
	}

	if deps.Metrics != nil {
		if err := deps.Metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	stream := NewStream(name, tr, StreamOptions{
		Logger:            logger,
		ReconnectInterval: streamCfg.GetReconnectInterval(),
		Metrics:           deps.Metrics,
		Hooks:             deps.Hooks,
	})
	if err := stream.Connect(ctx); err != nil {
		return nil, err
	}

	if registry != nil {
		if err := registry.Push(name, stream); err != nil {
			return nil, err
		}
	}
	return stream, nil
}
