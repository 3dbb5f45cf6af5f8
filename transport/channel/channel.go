// Package channel provides an in-memory Go channel transport for eventstream.
// It emulates a topic exchange inside the process, which makes it useful for
// tests and local development.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
	"github.com/drblury/eventstream/transport"
)

// TransportName is the kind used to register this transport.
const TransportName = transport.KindChannel

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

// Register adds the channel transport to registry.
func Register(registry *transport.Registry) {
	registry.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport.
func Build(cfg transport.Config, opts transport.Options) (transport.Transport, error) {
	opts = opts.WithDefaults(cfg)
	return transport.NewBridge(transport.BridgeConfig{
		Kind:     TransportName,
		Exchange: cfg.GetExchangeName(),
		Backend:  &backend{logger: loggingpkg.NewWatermillAdapter(opts.Logger)},
		Options:  opts,
	}), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// backend shares one GoChannel between the publisher and every queue. Each
// Subscribe call on a GoChannel receives its own copy of every message.
type backend struct {
	logger watermill.LoggerAdapter
	pubSub *gochannel.GoChannel
}

func (b *backend) OpenPublisher(context.Context) (message.Publisher, error) {
	b.pubSub = Factory(gochannel.Config{}, b.logger)
	return b.pubSub, nil
}

func (b *backend) OpenQueue(context.Context, string) (message.Subscriber, error) {
	return b.pubSub, nil
}
