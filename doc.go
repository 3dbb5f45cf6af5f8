// Package eventstream is a small topic-routed publish/subscribe layer for
// services that exchange JSON events over a message broker.
//
// A Stream wraps one broker connection. It publishes a value to one or more
// routing keys and starts a queue consumer for each Subscriber, whose topic
// patterns are globs such as "orders.*". Incoming messages are decoded once
// and handed to the subscribers bound to the first pattern that matches the
// routing key; the message is acknowledged only after they all return.
// A Stream that cannot reach its broker keeps retrying in the background.
//
// Streams are described in YAML (LoadConfig) and built with InitFromSettings,
// which resolves the active stream block, builds its transport and stores the
// stream in a Registry. The first stream stored becomes the default one.
//
// # Transports
//
//   - amqp: RabbitMQ topic exchange, one durable queue per subscriber
//   - nats: NATS Core, one queue group per subscriber, routing done in process
//   - channel: in-memory Go channels for tests and single-process setups
//
// # Observability
//
// Publish and delivery are wrapped in OpenTelemetry spans and counted in
// Prometheus metrics when Dependencies.Metrics is set. DeliveryHooks receive
// start, done and error callbacks around every subscriber call.
//
// Worker runs a configured stream for a set of subscribers until its context
// is cancelled; cmd/eventstream exposes the same flow on the command line.
package eventstream
