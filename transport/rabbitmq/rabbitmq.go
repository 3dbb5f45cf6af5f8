// Package rabbitmq provides the AMQP 0-9-1 transport for eventstream.
//
// The transport holds one connection and one channel. It declares a single
// exchange, one queue per subscriber named after it, and binds each of the
// subscriber's topic patterns to that queue. Inbound deliveries are routed by
// an in-process routing table and acknowledged only after every matched
// subscriber has handled them.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
	idspkg "github.com/drblury/eventstream/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
	"github.com/drblury/eventstream/internal/runtime/routing"
	"github.com/drblury/eventstream/transport"
)

// TransportName is the kind used to register this transport.
const TransportName = transport.KindAMQP

// ConsumeTimeout bounds how long the broker may take to confirm a consumer.
var ConsumeTimeout = transport.ConsumeTimeout

// Connection is the subset of *amqp.Connection the transport uses.
type Connection interface {
	Channel() (Channel, error)
	Close() error
	IsClosed() bool
}

// Channel is the subset of *amqp.Channel the transport uses.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Close() error
	IsClosed() bool
}

// Dial allows overriding the connection creation for testing.
var Dial = func(uri string) (Connection, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, err
	}
	return &connection{conn: conn}, nil
}

type connection struct {
	conn *amqp.Connection
}

func (c *connection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *connection) Close() error   { return c.conn.Close() }
func (c *connection) IsClosed() bool { return c.conn.IsClosed() }

// Register adds the AMQP transport to registry.
func Register(registry *transport.Registry) {
	registry.RegisterWithCapabilities(TransportName, Build, transport.AMQPCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AMQPCapabilities
}

// Build creates a new, disconnected AMQP transport.
func Build(cfg transport.Config, opts transport.Options) (transport.Transport, error) {
	return New(cfg, opts), nil
}

// Transport is the AMQP implementation of transport.Transport.
type Transport struct {
	login        string
	password     string
	host         string
	port         int
	virtualHost  string
	exchangeName string
	exchangeType string
	globalQoS    *int

	logger     loggingpkg.ServiceLogger
	serializer transport.Serializer
	table      *routing.Table

	connectionID string
	connecting   atomic.Bool

	mu         sync.RWMutex
	conn       Connection
	channel    Channel
	knownQueue map[string]transport.Subscriber
	pending    map[string]struct{}
	wg         sync.WaitGroup
}

// New returns a disconnected transport configured from cfg.
func New(cfg transport.Config, opts transport.Options) *Transport {
	opts = opts.WithDefaults(cfg)
	logger := opts.Logger.With(loggingpkg.LogFields{"transport": string(TransportName)})
	return &Transport{
		login:        cfg.GetLogin(),
		password:     cfg.GetPassword(),
		host:         cfg.GetHost(),
		port:         cfg.GetPort(),
		virtualHost:  cfg.GetVirtualHost(),
		exchangeName: cfg.GetExchangeName(),
		exchangeType: cfg.GetExchangeType(),
		globalQoS:    cfg.GetGlobalQoS(),
		logger:       logger,
		serializer:   opts.Serializer,
		table:        routing.NewTable(logger),
		connectionID: idspkg.NewConnectionID(),
		knownQueue:   make(map[string]transport.Subscriber),
		pending:      make(map[string]struct{}),
	}
}

// ConnectionID is sent as the AMQP app id of every published message.
func (t *Transport) ConnectionID() string { return t.connectionID }

// Table exposes the routing table for inspection.
func (t *Transport) Table() *routing.Table { return t.table }

// URI renders the broker address. An empty password is left out.
func (t *Transport) URI() string {
	u := url.URL{Scheme: "amqp", Host: net.JoinHostPort(t.host, strconv.Itoa(t.port))}
	switch {
	case t.login != "" && t.password != "":
		u.User = url.UserPassword(t.login, t.password)
	case t.login != "":
		u.User = url.User(t.login)
	}
	if t.virtualHost != "" {
		u.Path = "/" + t.virtualHost
		u.RawPath = "/" + url.PathEscape(t.virtualHost)
	}
	return u.String()
}

func (t *Transport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.channel != nil && !t.channel.IsClosed()
}

func (t *Transport) Connecting() bool { return t.connecting.Load() }

func (t *Transport) Connect(ctx context.Context) error {
	if !t.connecting.CompareAndSwap(false, true) {
		return nil
	}
	defer t.connecting.Store(false)
	if t.Connected() {
		return nil
	}
	t.dropStale()

	fields := loggingpkg.LogFields{"host": t.host, "port": t.port, "virtualhost": t.virtualHost}

	conn, err := Dial(t.URI())
	if err != nil {
		return t.connectFailed("dial", err, fields)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return t.connectFailed("channel", err, fields)
	}

	if t.globalQoS != nil {
		if err := ch.Qos(*t.globalQoS, 0, true); err != nil {
			closeQuietly(ch, conn)
			return t.connectFailed("qos", err, fields)
		}
	}

	if err := ch.ExchangeDeclare(t.exchangeName, t.exchangeType, false, false, false, false, nil); err != nil {
		closeQuietly(ch, conn)
		return t.connectFailed("exchange", err, fields)
	}

	t.mu.Lock()
	t.conn = conn
	t.channel = ch
	t.mu.Unlock()

	t.logger.Info("Connected to broker", loggingpkg.LogFields{"exchange": t.exchangeName, "exchange_type": t.exchangeType})
	t.resume(ctx, ch)
	return nil
}

// dropStale releases what is left of a previous connection. A channel-level
// exception closes the channel but keeps the connection open.
func (t *Transport) dropStale() {
	t.mu.Lock()
	conn, ch := t.conn, t.channel
	t.conn, t.channel = nil, nil
	t.mu.Unlock()

	if ch != nil && !ch.IsClosed() {
		_ = ch.Close()
	}
	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil {
			t.logger.Warn("Failed to close stale connection", loggingpkg.LogFields{"error": err.Error()})
		}
	}
}

// resume restarts consumers that were running when the previous connection
// dropped. Queues and bindings are declared again since the broker may have
// lost them.
func (t *Transport) resume(ctx context.Context, ch Channel) {
	t.mu.RLock()
	subs := make([]transport.Subscriber, 0, len(t.knownQueue))
	for _, sub := range t.knownQueue {
		subs = append(subs, sub)
	}
	t.mu.RUnlock()

	for _, sub := range subs {
		queue := sub.Name()
		if err := t.restore(ctx, ch, sub); err != nil {
			t.logger.Error("Failed to resume consumer", err, loggingpkg.LogFields{"queue": queue})
			continue
		}
		t.logger.Info("Resumed consumer", loggingpkg.LogFields{"queue": queue})
	}
}

func (t *Transport) restore(ctx context.Context, ch Channel, sub transport.Subscriber) error {
	queue := sub.Name()
	if _, err := ch.QueueDeclare(queue, false, false, false, false, nil); err != nil {
		return err
	}
	for _, pattern := range sub.Topics() {
		if !t.table.Contains(pattern, queue) {
			continue
		}
		if err := ch.QueueBind(queue, pattern, t.exchangeName, false, nil); err != nil {
			return err
		}
	}
	deliveries, err := consumeWithTimeout(ctx, ch, queue)
	if err != nil {
		return err
	}
	t.wg.Add(1)
	go t.deliver(ch, queue, deliveries)
	return nil
}

func (t *Transport) connectFailed(stage string, err error, fields loggingpkg.LogFields) error {
	connErr := &errspkg.StreamConnectionError{Stage: stage, Err: err}
	t.logger.Error("Failed to connect to broker", connErr, fields)
	return connErr
}

func closeQuietly(ch Channel, conn Connection) {
	_ = ch.Close()
	_ = conn.Close()
}

func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	conn, ch := t.conn, t.channel
	t.conn, t.channel = nil, nil
	t.knownQueue = make(map[string]transport.Subscriber)
	t.mu.Unlock()
	t.table.Reset()

	if conn == nil {
		t.logger.Debug("Close called on a transport that is not connected", nil)
		return nil
	}

	var errs []error
	if ch != nil && !ch.IsClosed() {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if !conn.IsClosed() {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.wg.Wait()

	t.logger.Info("Disconnected from broker", nil)
	return errors.Join(errs...)
}

func (t *Transport) Publish(ctx context.Context, data any, topic string) error {
	if !t.Connected() {
		t.logger.Warn("Transport not connected, message dropped", loggingpkg.LogFields{"topic": topic})
		return nil
	}

	body, err := t.serializer.Serialize(data)
	if err != nil {
		return err
	}

	t.mu.RLock()
	ch := t.channel
	t.mu.RUnlock()
	if ch == nil {
		return &errspkg.PublisherError{Topic: topic, Err: errspkg.ErrNotConnected}
	}

	msg := amqp.Publishing{
		ContentType: transport.ContentTypeJSON,
		MessageId:   idspkg.CreateULID(),
		AppId:       t.connectionID,
		Timestamp:   time.Now().UTC(),
		Body:        body,
	}
	if err := ch.PublishWithContext(ctx, t.exchangeName, topic, false, false, msg); err != nil {
		return &errspkg.PublisherError{Topic: topic, Err: err}
	}
	return nil
}

func (t *Transport) ConsumeQueue(ctx context.Context, sub transport.Subscriber) error {
	if sub == nil {
		return errspkg.ErrSubscriberRequired
	}
	queue := sub.Name()

	ch, err := t.reserve(queue)
	if err != nil {
		return err
	}
	registered := false
	defer func() {
		if !registered {
			t.release(queue)
		}
	}()

	if _, err := ch.QueueDeclare(queue, false, false, false, false, nil); err != nil {
		return &errspkg.ConsumerError{Queue: queue, Err: err}
	}

	for _, pattern := range sub.Topics() {
		if t.table.Contains(pattern, queue) {
			t.logger.Warn("Subscriber already receiving routing key", loggingpkg.LogFields{"queue": queue, "routing_key": pattern})
			continue
		}
		if err := routing.ValidatePattern(pattern); err != nil {
			t.logger.Warn("Skipping invalid topic pattern", loggingpkg.LogFields{"queue": queue, "routing_key": pattern, "error": err.Error()})
			continue
		}
		if err := ch.QueueBind(queue, pattern, t.exchangeName, false, nil); err != nil {
			return &errspkg.ConsumerError{Queue: queue, Err: err}
		}
		if _, err := t.table.Add(pattern, sub); err != nil {
			return &errspkg.ConsumerError{Queue: queue, Err: err}
		}
	}

	deliveries, err := consumeWithTimeout(ctx, ch, queue)
	if err != nil {
		return &errspkg.ConsumerError{Queue: queue, Err: err}
	}

	t.mu.Lock()
	delete(t.pending, queue)
	if t.channel != ch {
		// closed or replaced while the consumer was being set up
		t.mu.Unlock()
		registered = true
		return &errspkg.ConsumerError{Queue: queue, Err: errspkg.ErrNotConnected}
	}
	t.knownQueue[queue] = sub
	t.wg.Add(1)
	t.mu.Unlock()
	registered = true

	go t.deliver(ch, queue, deliveries)

	t.logger.Info("Consuming queue", loggingpkg.LogFields{"queue": queue, "topics": sub.Topics()})
	return nil
}

// reserve claims queue before any broker call so overlapping registrations
// of the same name fail instead of declaring it twice.
func (t *Transport) reserve(queue string) (Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, known := t.knownQueue[queue]
	_, inFlight := t.pending[queue]
	if known || inFlight {
		return nil, &errspkg.ConsumerError{Queue: queue, Err: fmt.Errorf("queue %q is already being consumed", queue)}
	}
	if t.channel == nil || t.channel.IsClosed() {
		return nil, &errspkg.ConsumerError{Queue: queue, Err: errspkg.ErrNotConnected}
	}
	t.pending[queue] = struct{}{}
	return t.channel, nil
}

func (t *Transport) release(queue string) {
	t.mu.Lock()
	delete(t.pending, queue)
	t.mu.Unlock()
}

func consumeWithTimeout(ctx context.Context, ch Channel, queue string) (<-chan amqp.Delivery, error) {
	type result struct {
		deliveries <-chan amqp.Delivery
		err        error
	}
	done := make(chan result, 1)
	go func() {
		deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
		done <- result{deliveries: deliveries, err: err}
	}()

	timer := time.NewTimer(ConsumeTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.deliveries, r.err
	case <-timer.C:
		return nil, errspkg.ErrConsumeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) deliver(ch Channel, queue string, deliveries <-chan amqp.Delivery) {
	defer t.wg.Done()
	for d := range deliveries {
		t.handle(ch, queue, d)
	}
}

func (t *Transport) handle(ch Channel, queue string, d amqp.Delivery) {
	fields := loggingpkg.LogFields{"queue": queue, "routing_key": d.RoutingKey, "message_id": d.MessageId}

	handled, err := t.table.Dispatch(context.Background(), d.RoutingKey, d.Body, t.serializer)
	var decodeErr *routing.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		t.logger.Error("Rejecting undecodable message", err, fields)
		if nackErr := ch.Nack(d.DeliveryTag, false, false); nackErr != nil {
			t.logger.Error("Failed to reject message", nackErr, fields)
		}
	case err != nil:
		t.logger.Error("Subscriber failed, message requeued", err, fields)
		if nackErr := ch.Nack(d.DeliveryTag, false, true); nackErr != nil {
			t.logger.Error("Failed to requeue message", nackErr, fields)
		}
	case !handled:
		// Left unacknowledged; the broker redelivers it on the next connection.
		t.logger.Debug("No subscriber for routing key", fields)
	default:
		if ackErr := ch.Ack(d.DeliveryTag, false); ackErr != nil {
			t.logger.Error("Failed to ack message", ackErr, fields)
		}
	}
}
