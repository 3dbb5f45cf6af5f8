// Package nats provides a NATS Core transport for eventstream.
//
// Every message is published on one subject named after the configured
// exchange; the routing key travels in a header. Each consumed queue is a
// NATS queue group, so several processes sharing a queue name split its
// messages between them.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
	"github.com/drblury/eventstream/transport"
)

// TransportName is the kind used to register this transport.
const TransportName = transport.KindNATS

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Register adds the NATS transport to registry.
func Register(registry *transport.Registry) {
	registry.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS transport. Nothing is dialled until Connect.
func Build(cfg transport.Config, opts transport.Options) (transport.Transport, error) {
	opts = opts.WithDefaults(cfg)
	return transport.NewBridge(transport.BridgeConfig{
		Kind:     TransportName,
		Exchange: cfg.GetExchangeName(),
		Backend: &backend{
			url:        cfg.GetNATSURL(),
			clientName: cfg.GetExchangeName(),
			logger:     loggingpkg.NewWatermillAdapter(opts.Logger),
		},
		Options: opts,
	}), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

type backend struct {
	url        string
	clientName string
	logger     watermill.LoggerAdapter
}

func (b *backend) natsOptions() []natsgo.Option {
	return []natsgo.Option{natsgo.Name(b.clientName)}
}

func (b *backend) OpenPublisher(context.Context) (message.Publisher, error) {
	return PublisherFactory(nats.PublisherConfig{
		URL:         b.url,
		NatsOptions: b.natsOptions(),
		Marshaler:   &nats.NATSMarshaler{},
		JetStream:   nats.JetStreamConfig{Disabled: true},
	}, b.logger)
}

func (b *backend) OpenQueue(_ context.Context, queue string) (message.Subscriber, error) {
	return SubscriberFactory(nats.SubscriberConfig{
		URL:              b.url,
		QueueGroupPrefix: queue,
		NatsOptions:      b.natsOptions(),
		Unmarshaler:      &nats.NATSMarshaler{},
		JetStream:        nats.JetStreamConfig{Disabled: true},
	}, b.logger)
}
