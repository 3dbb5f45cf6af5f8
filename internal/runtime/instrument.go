package runtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventstream/transport"
)

const tracerName = "github.com/drblury/eventstream"

const (
	spanPublish = "eventstream.publish"
	spanDeliver = "eventstream.deliver"
)

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// instrumentedSubscriber wraps a subscriber with tracing, metrics and hooks.
// Name and topics pass through untouched so queue naming is unaffected.
type instrumentedSubscriber struct {
	transport.Subscriber
	stream  string
	metrics *Metrics
	hooks   DeliveryHooks
}

func (s *instrumentedSubscriber) OnMessage(ctx context.Context, data any, topic string) error {
	ctx, span := tracer().Start(ctx, spanDeliver, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("eventstream.stream", s.stream),
		attribute.String("eventstream.subscriber", s.Name()),
		attribute.String("messaging.destination.name", topic),
	)

	delivery := DeliveryContext{
		Stream:     s.stream,
		Subscriber: s.Name(),
		Topic:      topic,
		Context:    ctx,
		StartedAt:  time.Now(),
	}
	if s.hooks.OnStart != nil {
		s.hooks.OnStart(delivery)
	}

	err := s.Subscriber.OnMessage(ctx, data, topic)

	delivery.Duration = time.Since(delivery.StartedAt)
	s.metrics.RecordDelivery(s.stream, s.Name(), delivery.Duration, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if s.hooks.OnError != nil {
			s.hooks.OnError(delivery, err)
		}
		return err
	}
	if s.hooks.OnDone != nil {
		s.hooks.OnDone(delivery)
	}
	return nil
}
