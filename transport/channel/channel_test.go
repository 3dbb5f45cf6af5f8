package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventstream/internal/runtime/config"
	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
	"github.com/drblury/eventstream/transport"
)

type delivery struct {
	data  any
	topic string
}

type collector struct {
	mu  sync.Mutex
	got []delivery
}

func (c *collector) handle(_ context.Context, data any, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, delivery{data: data, topic: topic})
	return nil
}

func (c *collector) snapshot() []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery(nil), c.got...)
}

func newConnected(t *testing.T) transport.Transport {
	t.Helper()
	tr, err := Build(config.StreamConfig{Transport: "channel"}, transport.Options{})
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr
}

func TestRegister(t *testing.T) {
	registry := transport.NewRegistry()
	Register(registry)

	assert.True(t, registry.Has(TransportName))
	caps := registry.GetCapabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.False(t, caps.SupportsTopicRouting)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestBuildUsesFactory(t *testing.T) {
	original := Factory
	defer func() { Factory = original }()

	var calls atomic.Int32
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
		calls.Add(1)
		return original(cfg, logger)
	}

	tr, err := Build(config.StreamConfig{}, transport.Options{})
	require.NoError(t, err)
	assert.Zero(t, calls.Load(), "nothing is opened before Connect")

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, int32(1), calls.Load(), "second Connect is a no-op")
	assert.True(t, tr.Connected())
	assert.False(t, tr.Connecting())
	require.NoError(t, tr.Close(context.Background()))
	assert.False(t, tr.Connected())
}

func TestOrdersScenario(t *testing.T) {
	tr := newConnected(t)
	billing := &collector{}

	require.NoError(t, tr.ConsumeQueue(context.Background(), transport.NewSubscriber("billing", []string{"orders.*"}, billing.handle)))

	require.NoError(t, tr.Publish(context.Background(), map[string]any{"id": 1}, "orders.created"))
	require.NoError(t, tr.Publish(context.Background(), map[string]any{"id": 2}, "users.created"))

	require.Eventually(t, func() bool { return len(billing.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	// users.created is not bound to the billing queue.
	time.Sleep(20 * time.Millisecond)
	got := billing.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"id": float64(1)}, got[0].data)
	assert.Equal(t, "orders.created", got[0].topic)
}

func TestEachQueueReceivesItsOwnCopy(t *testing.T) {
	tr := newConnected(t)
	billing := &collector{}
	audit := &collector{}

	require.NoError(t, tr.ConsumeQueue(context.Background(), transport.NewSubscriber("billing", []string{"orders.*"}, billing.handle)))
	require.NoError(t, tr.ConsumeQueue(context.Background(), transport.NewSubscriber("audit", []string{"payments.*"}, audit.handle)))

	require.NoError(t, tr.Publish(context.Background(), "paid", "payments.settled"))

	require.Eventually(t, func() bool { return len(audit.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, billing.snapshot())
}

func TestSubscriberErrorRedelivers(t *testing.T) {
	tr := newConnected(t)

	var attempts atomic.Int32
	sub := transport.NewSubscriber("flaky", []string{"jobs.*"}, func(context.Context, any, string) error {
		if attempts.Add(1) == 1 {
			return errors.New("temporary")
		}
		return nil
	})
	require.NoError(t, tr.ConsumeQueue(context.Background(), sub))
	require.NoError(t, tr.Publish(context.Background(), "work", "jobs.run"))

	require.Eventually(t, func() bool { return attempts.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestConsumeQueueErrors(t *testing.T) {
	t.Run("duplicate queue", func(t *testing.T) {
		tr := newConnected(t)
		sub := transport.NewSubscriber("billing", []string{"orders.*"}, (&collector{}).handle)
		require.NoError(t, tr.ConsumeQueue(context.Background(), sub))

		err := tr.ConsumeQueue(context.Background(), sub)
		var consumerErr *errspkg.ConsumerError
		require.ErrorAs(t, err, &consumerErr)
		assert.Equal(t, "billing", consumerErr.Queue)
		assert.ErrorIs(t, err, errspkg.ErrStreamConnection)
	})

	t.Run("not connected", func(t *testing.T) {
		tr, err := Build(config.StreamConfig{}, transport.Options{})
		require.NoError(t, err)

		err = tr.ConsumeQueue(context.Background(), transport.NewSubscriber("billing", []string{"orders.*"}, (&collector{}).handle))
		var consumerErr *errspkg.ConsumerError
		require.ErrorAs(t, err, &consumerErr)
		assert.ErrorIs(t, err, errspkg.ErrNotConnected)
	})
}

func TestPublishAndCloseWhileDisconnected(t *testing.T) {
	tr, err := Build(config.StreamConfig{}, transport.Options{})
	require.NoError(t, err)

	assert.NoError(t, tr.Publish(context.Background(), "dropped", "orders.created"))
	assert.NoError(t, tr.Close(context.Background()))
	assert.NoError(t, tr.Close(context.Background()))
}

func TestPublishSerializationFailure(t *testing.T) {
	tr := newConnected(t)
	err := tr.Publish(context.Background(), func() {}, "orders.created")
	var serErr *errspkg.SerializationError
	assert.ErrorAs(t, err, &serErr)
}
