// Package transport defines the contract every eventstream transport honours.
// Each transport implementation (rabbitmq, channel, nats) lives in its own
// sub-package and is registered with a Registry under its Kind.
package transport

import (
	"context"
	"strings"

	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
	"github.com/drblury/eventstream/internal/runtime/routing"
	"github.com/drblury/eventstream/internal/runtime/serializer"
)

// Kind names a transport implementation in configuration.
type Kind string

const (
	KindAMQP    Kind = "amqp"
	KindChannel Kind = "channel"
	KindNATS    Kind = "nats"
)

// ParseKind normalises a configured transport name.
func ParseKind(name string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(name)))
}

// Subscriber receives decoded messages for its topic patterns. Its name is
// also the name of the queue it consumes.
type Subscriber = routing.Subscriber

// Serializer converts message bodies to and from wire bytes.
type Serializer interface {
	Serialize(data any) ([]byte, error)
	Deserialize(wire []byte) (any, error)
}

// Transport is a connection to a message broker.
//
// Connect and Close are safe to call repeatedly. Publish on a transport that
// is not connected logs a warning and drops the message.
type Transport interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Connected() bool
	Connecting() bool
	Publish(ctx context.Context, data any, topic string) error
	ConsumeQueue(ctx context.Context, sub Subscriber) error
}

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetTransport returns the transport kind name.
	GetTransport() string

	// AMQP
	GetLogin() string
	GetPassword() string
	GetHost() string
	GetPort() int
	GetVirtualHost() string
	GetExchangeName() string
	GetExchangeType() string
	GetGlobalQoS() *int

	// NATS
	GetNATSURL() string

	GetGraceful() bool
}

// Options carries the collaborators a Builder wires into a transport.
type Options struct {
	Logger     loggingpkg.ServiceLogger
	Serializer Serializer
}

// WithDefaults fills in a nop logger and a JSON serializer honouring the
// configured graceful flag.
func (o Options) WithDefaults(cfg Config) Options {
	if o.Logger == nil {
		o.Logger = loggingpkg.NewNopLogger()
	}
	if o.Serializer == nil {
		graceful := cfg != nil && cfg.GetGraceful()
		o.Serializer = serializer.NewJSON(serializer.WithGraceful(graceful), serializer.WithLogger(o.Logger))
	}
	return o
}

// Builder is the function signature for creating a transport from config.
// Each transport package provides one that can be registered.
type Builder func(cfg Config, opts Options) (Transport, error)

// HandlerFunc handles one decoded message.
type HandlerFunc func(ctx context.Context, data any, topic string) error

type funcSubscriber struct {
	name   string
	topics []string
	fn     HandlerFunc
}

// NewSubscriber builds a Subscriber from a function.
func NewSubscriber(name string, topics []string, fn HandlerFunc) Subscriber {
	return &funcSubscriber{name: name, topics: append([]string(nil), topics...), fn: fn}
}

func (s *funcSubscriber) Name() string { return s.name }

func (s *funcSubscriber) Topics() []string { return append([]string(nil), s.topics...) }

func (s *funcSubscriber) OnMessage(ctx context.Context, data any, topic string) error {
	return s.fn(ctx, data, topic)
}
