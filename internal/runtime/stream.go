package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/eventstream/internal/runtime/config"
	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
	"github.com/drblury/eventstream/transport"
)

// StreamOptions holds the optional collaborators of a Stream.
type StreamOptions struct {
	Logger loggingpkg.ServiceLogger
	// ReconnectInterval is the period of the reconnection loop. Zero uses
	// config.DefaultReconnectInterval.
	ReconnectInterval time.Duration
	Metrics           *Metrics
	Hooks             DeliveryHooks
}

// Stream is the application-facing handle on one broker connection. It owns
// its transport and keeps it connected in the background.
type Stream struct {
	name      string
	transport transport.Transport
	logger    loggingpkg.ServiceLogger
	metrics   *Metrics
	hooks     DeliveryHooks
	interval  time.Duration

	attempts atomic.Int64

	mu         sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	closed     bool
}

// NewStream wraps tr. The stream is idle until Connect.
func NewStream(name string, tr transport.Transport, opts StreamOptions) *Stream {
	logger := opts.Logger
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	interval := opts.ReconnectInterval
	if interval <= 0 {
		interval = configpkg.DefaultReconnectInterval
	}
	return &Stream{
		name:      name,
		transport: tr,
		logger:    logger.With(loggingpkg.LogFields{"stream": name}),
		metrics:   opts.Metrics,
		hooks:     opts.Hooks,
		interval:  interval,
	}
}

func (s *Stream) Name() string { return s.name }

// Transport returns the transport owned by the stream.
func (s *Stream) Transport() transport.Transport { return s.transport }

func (s *Stream) Connected() bool { return s.transport.Connected() }

// ReconnectAttempts is the number of failed reconnection attempts since the
// last successful connection.
func (s *Stream) ReconnectAttempts() int64 { return s.attempts.Load() }

// Connect connects the transport and arms the reconnection loop. A broker
// that cannot be reached is logged, not returned: the loop keeps retrying.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errspkg.ErrStreamClosed
	}

	if err := s.transport.Connect(ctx); err != nil {
		if !errors.Is(err, errspkg.ErrStreamConnection) {
			return err
		}
		s.logger.Error("Stream connection failed, will retry", err, loggingpkg.LogFields{"retry_in": s.interval.String()})
	}
	s.metrics.SetConnected(s.name, s.transport.Connected())

	s.armReconnect()
	return nil
}

func (s *Stream) armReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	go s.reconnectLoop(ctx, s.loopDone)
}

func (s *Stream) reconnectLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconnect(ctx)
		}
	}
}

// reconnect runs one tick of the reconnection loop.
func (s *Stream) reconnect(ctx context.Context) {
	if s.transport.Connected() || s.transport.Connecting() {
		return
	}

	attempt := s.attempts.Add(1)
	s.metrics.RecordReconnectAttempt(s.name)

	if err := s.transport.Connect(ctx); err != nil {
		s.logger.Info("Reconnection attempt failed", loggingpkg.LogFields{"attempt": attempt, "error": err.Error()})
		s.metrics.SetConnected(s.name, false)
		return
	}

	s.attempts.Store(0)
	s.metrics.SetConnected(s.name, true)
	s.logger.Info("Stream reconnected", loggingpkg.LogFields{"attempts": attempt})
}

// Publish sends data to each topic in turn and stops at the first failure.
func (s *Stream) Publish(ctx context.Context, data any, topics ...string) error {
	for _, topic := range topics {
		if err := s.publishOne(ctx, data, topic); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) publishOne(ctx context.Context, data any, topic string) error {
	ctx, span := tracer().Start(ctx, spanPublish, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("eventstream.stream", s.name),
		attribute.String("messaging.destination.name", topic),
	)

	err := s.transport.Publish(ctx, data, topic)
	s.metrics.RecordPublish(s.name, topic, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Subscribe is reserved for transient subscriptions and is not supported.
func (s *Stream) Subscribe(ctx context.Context, sub transport.Subscriber) error {
	return errspkg.ErrNotImplemented
}

// Dequeue starts consuming the subscriber's queue.
func (s *Stream) Dequeue(ctx context.Context, sub transport.Subscriber) error {
	if sub == nil {
		return errspkg.ErrSubscriberRequired
	}
	return s.transport.ConsumeQueue(ctx, &instrumentedSubscriber{
		Subscriber: sub,
		stream:     s.name,
		metrics:    s.metrics,
		hooks:      s.hooks,
	})
}

// Close stops the reconnection loop and closes the transport. Only the first
// call has any effect.
func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.loopCancel, s.loopDone
	s.mu.Unlock()

	s.logger.Info("Closing stream", nil)

	if cancel != nil {
		cancel()
		<-done
	}

	err := s.transport.Close(ctx)
	s.metrics.SetConnected(s.name, false)
	return err
}
