// Package transports bundles the built-in transports.
package transports

import (
	"github.com/drblury/eventstream/transport"
	"github.com/drblury/eventstream/transport/channel"
	"github.com/drblury/eventstream/transport/nats"
	"github.com/drblury/eventstream/transport/rabbitmq"
)

// RegisterAll adds every built-in transport to registry.
func RegisterAll(registry *transport.Registry) {
	rabbitmq.Register(registry)
	channel.Register(registry)
	nats.Register(registry)
}

// NewRegistry returns a registry holding every built-in transport.
func NewRegistry() *transport.Registry {
	registry := transport.NewRegistry()
	RegisterAll(registry)
	return registry
}
