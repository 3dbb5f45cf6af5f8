package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
	idspkg "github.com/drblury/eventstream/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
	"github.com/drblury/eventstream/internal/runtime/routing"
)

// Message metadata keys set by bridged transports.
const (
	MetadataRoutingKey  = "routing_key"
	MetadataContentType = "content_type"
	MetadataAppID       = "app_id"

	ContentTypeJSON = "application/json"
)

// ConsumeTimeout bounds how long a queue subscription may take to register.
const ConsumeTimeout = 10 * time.Second

// Backend opens the watermill publisher and per-queue subscribers a Bridge
// runs over.
type Backend interface {
	OpenPublisher(ctx context.Context) (message.Publisher, error)
	OpenQueue(ctx context.Context, queue string) (message.Subscriber, error)
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// Kind names the transport in log fields.
	Kind Kind
	// Exchange is the watermill topic every message travels on. The routing
	// key rides in message metadata.
	Exchange string
	Backend  Backend
	Options  Options
}

// Bridge implements Transport over a watermill pub/sub backend. Brokers
// without native topic-exchange routing get it emulated here: each queue only
// sees messages whose routing key matches one of its bindings.
type Bridge struct {
	kind     Kind
	exchange string
	backend  Backend

	logger     loggingpkg.ServiceLogger
	serializer Serializer
	table      *routing.Table

	connectionID string
	connecting   atomic.Bool

	mu          sync.RWMutex
	publisher   message.Publisher
	subscribers []message.Subscriber
	bindings    map[string][]string
	pending     map[string]struct{}
	cancel      context.CancelFunc
	consumeCtx  context.Context
	wg          sync.WaitGroup
}

// NewBridge returns a disconnected Bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	opts := cfg.Options.WithDefaults(nil)
	logger := opts.Logger.With(loggingpkg.LogFields{"transport": string(cfg.Kind)})
	return &Bridge{
		kind:         cfg.Kind,
		exchange:     cfg.Exchange,
		backend:      cfg.Backend,
		logger:       logger,
		serializer:   opts.Serializer,
		table:        routing.NewTable(logger),
		connectionID: idspkg.NewConnectionID(),
		bindings:     make(map[string][]string),
		pending:      make(map[string]struct{}),
	}
}

// ConnectionID identifies this transport instance as the sender of messages.
func (b *Bridge) ConnectionID() string { return b.connectionID }

// Table exposes the routing table for inspection.
func (b *Bridge) Table() *routing.Table { return b.table }

func (b *Bridge) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.publisher != nil
}

func (b *Bridge) Connecting() bool { return b.connecting.Load() }

func (b *Bridge) Connect(ctx context.Context) error {
	if !b.connecting.CompareAndSwap(false, true) {
		return nil
	}
	defer b.connecting.Store(false)
	if b.Connected() {
		return nil
	}

	publisher, err := b.backend.OpenPublisher(ctx)
	if err != nil {
		connErr := &errspkg.StreamConnectionError{Stage: "dial", Err: err}
		b.logger.Error("Failed to connect to broker", connErr, nil)
		return connErr
	}

	consumeCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.publisher = publisher
	b.consumeCtx = consumeCtx
	b.cancel = cancel
	b.mu.Unlock()

	b.logger.Info("Connected to broker", loggingpkg.LogFields{"exchange": b.exchange})
	return nil
}

func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.publisher == nil {
		b.mu.Unlock()
		b.logger.Debug("Close called on a transport that is not connected", nil)
		return nil
	}
	publisher := b.publisher
	subscribers := b.subscribers
	cancel := b.cancel
	b.publisher = nil
	b.subscribers = nil
	b.bindings = make(map[string][]string)
	b.mu.Unlock()
	b.table.Reset()

	cancel()

	var errs []error
	for _, sub := range subscribers {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	b.wg.Wait()

	b.logger.Info("Disconnected from broker", nil)
	return errors.Join(errs...)
}

func (b *Bridge) Publish(ctx context.Context, data any, topic string) error {
	b.mu.RLock()
	publisher := b.publisher
	b.mu.RUnlock()

	if publisher == nil {
		b.logger.Warn("Transport not connected, message dropped", loggingpkg.LogFields{"topic": topic})
		return nil
	}

	body, err := b.serializer.Serialize(data)
	if err != nil {
		return err
	}

	msg := message.NewMessage(idspkg.CreateULID(), body)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataRoutingKey, topic)
	msg.Metadata.Set(MetadataContentType, ContentTypeJSON)
	msg.Metadata.Set(MetadataAppID, b.connectionID)

	if err := publisher.Publish(b.exchange, msg); err != nil {
		return &errspkg.PublisherError{Topic: topic, Err: err}
	}
	return nil
}

func (b *Bridge) ConsumeQueue(ctx context.Context, sub Subscriber) error {
	if sub == nil {
		return errspkg.ErrSubscriberRequired
	}
	queue := sub.Name()

	consumeCtx, err := b.reserve(queue)
	if err != nil {
		return err
	}
	registered := false
	defer func() {
		if !registered {
			b.release(queue)
		}
	}()

	subscriber, err := b.backend.OpenQueue(ctx, queue)
	if err != nil {
		return &errspkg.ConsumerError{Queue: queue, Err: err}
	}

	var patterns []string
	for _, topic := range sub.Topics() {
		added, err := b.table.Add(topic, sub)
		if err != nil {
			b.logger.Warn("Skipping invalid topic pattern", loggingpkg.LogFields{"queue": queue, "pattern": topic, "error": err.Error()})
			continue
		}
		patterns = append(patterns, topic)
		if added {
			b.logger.Debug("Queue bound", loggingpkg.LogFields{"queue": queue, "pattern": topic})
		}
	}

	messages, err := subscribeWithTimeout(ctx, consumeCtx, subscriber, b.exchange)
	if err != nil {
		_ = subscriber.Close()
		return &errspkg.ConsumerError{Queue: queue, Err: err}
	}

	b.mu.Lock()
	delete(b.pending, queue)
	if b.consumeCtx != consumeCtx {
		// closed or reconnected while the subscription was being set up
		b.mu.Unlock()
		registered = true
		_ = subscriber.Close()
		return &errspkg.ConsumerError{Queue: queue, Err: errspkg.ErrNotConnected}
	}
	b.bindings[queue] = patterns
	b.subscribers = append(b.subscribers, subscriber)
	b.wg.Add(1)
	b.mu.Unlock()
	registered = true

	go b.deliver(queue, patterns, messages)

	b.logger.Info("Consuming queue", loggingpkg.LogFields{"queue": queue, "topics": patterns})
	return nil
}

// reserve claims queue under the lock so overlapping registrations of the
// same name fail before opening a second subscription.
func (b *Bridge) reserve(queue string) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, known := b.bindings[queue]
	_, inFlight := b.pending[queue]
	if known || inFlight {
		return nil, &errspkg.ConsumerError{Queue: queue, Err: fmt.Errorf("queue %q is already being consumed", queue)}
	}
	if b.publisher == nil {
		return nil, &errspkg.ConsumerError{Queue: queue, Err: errspkg.ErrNotConnected}
	}
	b.pending[queue] = struct{}{}
	return b.consumeCtx, nil
}

func (b *Bridge) release(queue string) {
	b.mu.Lock()
	delete(b.pending, queue)
	b.mu.Unlock()
}

// subscribeWithTimeout subscribes for the lifetime of consumeCtx but gives up
// waiting when ctx is done or ConsumeTimeout passes.
func subscribeWithTimeout(ctx, consumeCtx context.Context, sub message.Subscriber, topic string) (<-chan *message.Message, error) {
	type result struct {
		messages <-chan *message.Message
		err      error
	}
	done := make(chan result, 1)
	go func() {
		messages, err := sub.Subscribe(consumeCtx, topic)
		done <- result{messages: messages, err: err}
	}()

	timer := time.NewTimer(ConsumeTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.messages, r.err
	case <-timer.C:
		return nil, errspkg.ErrConsumeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) deliver(queue string, patterns []string, messages <-chan *message.Message) {
	defer b.wg.Done()
	for msg := range messages {
		b.handle(queue, patterns, msg)
	}
}

func (b *Bridge) handle(queue string, patterns []string, msg *message.Message) {
	key := msg.Metadata.Get(MetadataRoutingKey)
	if !boundTo(patterns, key) {
		msg.Ack()
		return
	}

	fields := loggingpkg.LogFields{"queue": queue, "routing_key": key, "message_uuid": msg.UUID}

	handled, err := b.table.Dispatch(msg.Context(), key, msg.Payload, b.serializer)
	var decodeErr *routing.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		b.logger.Error("Dropping undecodable message", err, fields)
		msg.Ack()
	case err != nil:
		b.logger.Error("Subscriber failed, message will be redelivered", err, fields)
		msg.Nack()
	case !handled:
		b.logger.Debug("No subscriber for routing key, message dropped", fields)
		msg.Ack()
	default:
		msg.Ack()
	}
}

func boundTo(patterns []string, key string) bool {
	for _, p := range patterns {
		if routing.Match(p, key) {
			return true
		}
	}
	return false
}
