package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
	"github.com/drblury/eventstream/transport"
)

func newTestStream(tr transport.Transport, opts StreamOptions) *Stream {
	if opts.Logger == nil {
		opts.Logger = newTestLogger()
	}
	return NewStream("test", tr, opts)
}

func TestConnectIsIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestStream(tr, StreamOptions{ReconnectInterval: time.Hour})
	defer s.Close(context.Background())

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))

	assert.True(t, s.Connected())
	connects, _ := tr.calls()
	assert.Equal(t, 2, connects, "transport connect is a no-op when connected")

	s.mu.Lock()
	armed := s.loopCancel != nil
	s.mu.Unlock()
	assert.True(t, armed)
}

func TestConnectFailureIsLoggedNotReturned(t *testing.T) {
	tr := &fakeTransport{connectErrs: []error{connectionRefused()}}
	s := newTestStream(tr, StreamOptions{ReconnectInterval: time.Hour})
	defer s.Close(context.Background())

	assert.NoError(t, s.Connect(context.Background()))
	assert.False(t, s.Connected())
}

func TestConnectReturnsOtherErrors(t *testing.T) {
	boom := errors.New("misconfigured")
	tr := &fakeTransport{connectErrs: []error{boom}}
	s := newTestStream(tr, StreamOptions{ReconnectInterval: time.Hour})
	defer s.Close(context.Background())

	assert.ErrorIs(t, s.Connect(context.Background()), boom)
}

func TestReconnectCounter(t *testing.T) {
	tr := &fakeTransport{connectErrs: []error{connectionRefused(), connectionRefused(), connectionRefused()}}
	metrics := NewMetrics(nil)
	s := newTestStream(tr, StreamOptions{ReconnectInterval: time.Hour, Metrics: metrics})
	defer s.Close(context.Background())

	require.NoError(t, s.Connect(context.Background()))
	assert.Zero(t, s.ReconnectAttempts())

	s.reconnect(context.Background())
	assert.Equal(t, int64(1), s.ReconnectAttempts())
	s.reconnect(context.Background())
	assert.Equal(t, int64(2), s.ReconnectAttempts())

	s.reconnect(context.Background())
	assert.Zero(t, s.ReconnectAttempts(), "success resets the counter")
	assert.True(t, s.Connected())

	stats := metrics.Stream("test")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(3), stats.ReconnectAttempts)
	assert.True(t, stats.Connected)
}

func TestReconnectSkipsWhenConnectedOrConnecting(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestStream(tr, StreamOptions{ReconnectInterval: time.Hour})
	defer s.Close(context.Background())
	require.NoError(t, s.Connect(context.Background()))

	before, _ := tr.calls()
	s.reconnect(context.Background())
	after, _ := tr.calls()
	assert.Equal(t, before, after)

	tr.mu.Lock()
	tr.connected = false
	tr.connecting = true
	tr.mu.Unlock()

	s.reconnect(context.Background())
	after, _ = tr.calls()
	assert.Equal(t, before, after)
	assert.Zero(t, s.ReconnectAttempts())
}

func TestReconnectLoopRestoresConnection(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestStream(tr, StreamOptions{ReconnectInterval: 5 * time.Millisecond})
	defer s.Close(context.Background())
	require.NoError(t, s.Connect(context.Background()))

	tr.setConnected(false)
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)
}

func TestPublishStopsAtFirstError(t *testing.T) {
	boom := errors.New("broker nack")
	tr := &fakeTransport{connected: true, publishErrs: map[string]error{"b": boom}}
	metrics := NewMetrics(nil)
	s := newTestStream(tr, StreamOptions{Metrics: metrics})

	err := s.Publish(context.Background(), "payload", "a", "b", "c")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []publishCall{{data: "payload", topic: "a"}}, tr.published)

	stats := metrics.Stream("test")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.PublishFailures)
}

func TestPublishEachTopicInOrder(t *testing.T) {
	tr := &fakeTransport{connected: true}
	s := newTestStream(tr, StreamOptions{})

	require.NoError(t, s.Publish(context.Background(), 1, "a", "b"))
	assert.Equal(t, []publishCall{{data: 1, topic: "a"}, {data: 1, topic: "b"}}, tr.published)
}

func TestSubscribeIsNotImplemented(t *testing.T) {
	s := newTestStream(&fakeTransport{}, StreamOptions{})
	err := s.Subscribe(context.Background(), transport.NewSubscriber("x", []string{"a"}, nil))
	assert.ErrorIs(t, err, errspkg.ErrNotImplemented)
}

func TestDequeueWrapsSubscriber(t *testing.T) {
	tr := &fakeTransport{connected: true}
	metrics := NewMetrics(nil)
	var started, done int
	hooks := DeliveryHooks{
		OnStart: func(DeliveryContext) { started++ },
		OnDone:  func(DeliveryContext) { done++ },
	}
	s := newTestStream(tr, StreamOptions{Metrics: metrics, Hooks: hooks})

	var got any
	sub := transport.NewSubscriber("billing", []string{"orders.*"}, func(_ context.Context, data any, _ string) error {
		got = data
		return nil
	})
	require.NoError(t, s.Dequeue(context.Background(), sub))
	require.Len(t, tr.consumed, 1)

	wrapped := tr.consumed[0]
	assert.Equal(t, "billing", wrapped.Name())
	assert.Equal(t, []string{"orders.*"}, wrapped.Topics())

	require.NoError(t, wrapped.OnMessage(context.Background(), "hello", "orders.created"))
	assert.Equal(t, "hello", got)
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, done)
	assert.Equal(t, uint64(1), metrics.Stream("test").Delivered)

	assert.ErrorIs(t, s.Dequeue(context.Background(), nil), errspkg.ErrSubscriberRequired)
}

func TestDequeueReportsSubscriberErrors(t *testing.T) {
	tr := &fakeTransport{connected: true}
	metrics := NewMetrics(nil)
	var hookErr error
	s := newTestStream(tr, StreamOptions{Metrics: metrics, Hooks: AlertingHooks(func(_ DeliveryContext, err error) { hookErr = err })})

	boom := errors.New("boom")
	require.NoError(t, s.Dequeue(context.Background(), transport.NewSubscriber("billing", nil, func(context.Context, any, string) error { return boom })))

	err := tr.consumed[0].OnMessage(context.Background(), nil, "orders.created")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, hookErr, boom)
	assert.Equal(t, uint64(1), metrics.Stream("test").DeliveryFailures)
}

func TestCloseIsEffectiveOnce(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestStream(tr, StreamOptions{ReconnectInterval: time.Hour})
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	_, closes := tr.calls()
	assert.Equal(t, 1, closes)
	assert.False(t, s.Connected())
	assert.ErrorIs(t, s.Connect(context.Background()), errspkg.ErrStreamClosed)
}
