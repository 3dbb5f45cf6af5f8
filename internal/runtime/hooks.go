package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
)

// DeliveryContext describes one message handed to a subscriber.
type DeliveryContext struct {
	// Stream is the name of the stream that received the message.
	Stream string
	// Subscriber is the name of the subscriber handling it.
	Subscriber string
	// Topic is the routing key the message was published with.
	Topic string
	// Context is the context associated with the delivery.
	Context context.Context
	// StartedAt is when the subscriber started processing.
	StartedAt time.Time
	// Duration is how long the subscriber took (only set in OnDone and OnError).
	Duration time.Duration
}

// DeliveryHooks defines callbacks for delivery lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type DeliveryHooks struct {
	// OnStart is called before the subscriber is invoked.
	OnStart func(ctx DeliveryContext)

	// OnDone is called when the subscriber returns without error.
	OnDone func(ctx DeliveryContext)

	// OnError is called when the subscriber returns an error.
	OnError func(ctx DeliveryContext, err error)
}

// Merge combines two DeliveryHooks. The hooks from other run after those of h.
func (h DeliveryHooks) Merge(other DeliveryHooks) DeliveryHooks {
	return DeliveryHooks{
		OnStart: chainHooks(h.OnStart, other.OnStart),
		OnDone:  chainHooks(h.OnDone, other.OnDone),
		OnError: chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainHooks(a, b func(DeliveryContext)) func(DeliveryContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DeliveryContext, error)) func(DeliveryContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks returns hooks that log delivery lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) DeliveryHooks {
	fields := func(ctx DeliveryContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"stream":      ctx.Stream,
			"subscriber":  ctx.Subscriber,
			"topic":       ctx.Topic,
			"duration_ms": ctx.Duration.Milliseconds(),
		}
	}
	return DeliveryHooks{
		OnStart: func(ctx DeliveryContext) {
			logger.Debug("Delivery started", fields(ctx))
		},
		OnDone: func(ctx DeliveryContext) {
			logger.Debug("Delivery completed", fields(ctx))
		},
		OnError: func(ctx DeliveryContext, err error) {
			logger.Error("Delivery failed", err, fields(ctx))
		},
	}
}

// AlertingHooks returns hooks that trigger alerts on delivery errors.
func AlertingHooks(alertFunc func(ctx DeliveryContext, err error)) DeliveryHooks {
	return DeliveryHooks{
		OnError: alertFunc,
	}
}
