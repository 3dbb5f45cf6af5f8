package transport

// Capabilities describes the features supported by a transport backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// SupportsTopicRouting indicates the broker routes by binding patterns
	// itself. When false the transport filters routing keys in process.
	SupportsTopicRouting bool

	// SupportsOrdering indicates deliveries on one queue arrive in publish order.
	SupportsOrdering bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// SupportsQoS indicates a prefetch limit can be applied.
	SupportsQoS bool

	// Durable indicates messages survive a process restart.
	Durable bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in transports.
var (
	// AMQPCapabilities for the RabbitMQ/AMQP transport.
	AMQPCapabilities = Capabilities{
		Name:                 string(KindAMQP),
		SupportsTopicRouting: true,
		SupportsOrdering:     true,
		SupportsAck:          true,
		SupportsNack:         true,
		SupportsQoS:          true,
		Durable:              true,
	}

	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             string(KindChannel),
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// NATSCapabilities for the NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:           string(KindNATS),
		MaxMessageSize: 1048576, // Default 1MB
	}
)
