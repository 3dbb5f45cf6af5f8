/*
Package runtime provides the stream layer of eventstream.

# Architecture Overview

A Stream is the application-facing handle on one broker connection. It owns a
transport.Transport, keeps it connected with a background reconnection loop,
publishes to one or more topics and starts queue consumers for subscribers.
Streams are kept in a Registry and are normally built from configuration with
InitFromSettings.

# Package Structure

## Stream (stream.go)

Connect is idempotent. A broker that cannot be reached is logged and retried
every reconnect interval; ReconnectAttempts counts failures since the last
success. Publish sends to each topic in turn and stops at the first error.
Dequeue starts a consumer for the subscriber's queue. Close stops the loop and
the transport and only acts once.

## Registry (registry.go)

Named streams. The first stream pushed is also stored as "default".

## Settings (settings.go)

InitFromSettings resolves the active stream block, builds its transport from a
transport.Registry keyed by kind, connects the stream and registers it.

## Worker (worker.go)

Worker runs a stream for a set of subscribers until its context ends, with
optional extensions initialised after connect and shut down before close.

## Observability (metrics.go, instrument.go, hooks.go)

Prometheus counters on a caller-supplied registerer, OpenTelemetry spans around
publish and delivery, and delivery lifecycle hooks.

# Sub-packages

  - config/: YAML stream settings with validation
  - errors/: Sentinel errors and error types
  - ids/: ULID message ids and connection ids
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - routing/: Glob routing table
  - serializer/: Message body serializer

# Usage Example

	cfg, err := config.Load("stream.yaml")
	if err != nil {
		return err
	}

	registry := runtime.NewRegistry()
	stream, err := runtime.InitFromSettings(ctx, registry, cfg, runtime.Dependencies{Logger: logger})
	if err != nil {
		return err
	}
	defer registry.CloseAll(ctx)

	err = stream.Dequeue(ctx, transport.NewSubscriber("billing", []string{"orders.*"}, handleOrder))
*/
package runtime
