package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// Metrics tracks publish, delivery and reconnection statistics per stream.
// Collectors are registered on the supplied Registerer; nothing is exported
// over HTTP.
type Metrics struct {
	mu sync.RWMutex

	// Per-stream counts
	streams map[string]*StreamStats

	// Prometheus collectors
	publishedTotal    *prometheus.CounterVec
	deliveriesTotal   *prometheus.CounterVec
	deliveryDuration  *prometheus.HistogramVec
	reconnectAttempts *prometheus.CounterVec
	connected         *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

// StreamStats holds counters for one stream.
type StreamStats struct {
	Published         uint64    `json:"published"`
	PublishFailures   uint64    `json:"publish_failures"`
	Delivered         uint64    `json:"delivered"`
	DeliveryFailures  uint64    `json:"delivery_failures"`
	ReconnectAttempts uint64    `json:"reconnect_attempts"`
	Connected         bool      `json:"connected"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`
}

// MetricsSnapshot provides a point-in-time view of all stream metrics.
type MetricsSnapshot struct {
	Streams     map[string]*StreamStats `json:"streams"`
	CollectedAt time.Time               `json:"collected_at"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventstream",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates a metrics collector. A nil registerer gets a private
// registry so nothing leaks into the process-wide default.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	return &Metrics{
		streams:           make(map[string]*StreamStats),
		registerer:        registerer,
		publishedTotal:    newCounterVec("published_total", "Messages handed to the broker", []string{"stream", "topic", "outcome"}),
		deliveriesTotal:   newCounterVec("deliveries_total", "Messages handled by subscribers", []string{"stream", "subscriber", "outcome"}),
		reconnectAttempts: newCounterVec("reconnect_attempts_total", "Reconnection attempts made by the stream", []string{"stream"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventstream",
			Name:      "connected",
			Help:      "1 while the stream's transport is connected",
		}, []string{"stream"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eventstream",
			Name:      "delivery_duration_seconds",
			Help:      "Time a subscriber spent on one message",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stream", "subscriber"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.publishedTotal,
		m.deliveriesTotal,
		m.deliveryDuration,
		m.reconnectAttempts,
		m.connected,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordPublish records one publish attempt.
func (m *Metrics) RecordPublish(stream, topic string, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(stream)
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
		stats.PublishFailures++
	} else {
		stats.Published++
	}
	stats.LastUpdatedAt = time.Now()

	m.publishedTotal.WithLabelValues(stream, topic, outcome).Inc()
}

// RecordDelivery records one message handled by a subscriber.
func (m *Metrics) RecordDelivery(stream, subscriber string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(stream)
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
		stats.DeliveryFailures++
	} else {
		stats.Delivered++
	}
	stats.LastUpdatedAt = time.Now()

	m.deliveriesTotal.WithLabelValues(stream, subscriber, outcome).Inc()
	m.deliveryDuration.WithLabelValues(stream, subscriber).Observe(took.Seconds())
}

// RecordReconnectAttempt records one reconnection attempt.
func (m *Metrics) RecordReconnectAttempt(stream string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(stream)
	stats.ReconnectAttempts++
	stats.LastUpdatedAt = time.Now()

	m.reconnectAttempts.WithLabelValues(stream).Inc()
}

// SetConnected records the stream's connection state.
func (m *Metrics) SetConnected(stream string, connected bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(stream)
	stats.Connected = connected
	stats.LastUpdatedAt = time.Now()

	value := 0.0
	if connected {
		value = 1
	}
	m.connected.WithLabelValues(stream).Set(value)
}

// Snapshot returns a point-in-time copy of all stream metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Streams:     make(map[string]*StreamStats, len(m.streams)),
		CollectedAt: time.Now(),
	}
	for name, stats := range m.streams {
		statsCopy := *stats
		snapshot.Streams[name] = &statsCopy
	}
	return snapshot
}

// Stream returns a copy of one stream's counters, or nil if none were recorded.
func (m *Metrics) Stream(name string) *StreamStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if stats, ok := m.streams[name]; ok {
		statsCopy := *stats
		return &statsCopy
	}
	return nil
}

func (m *Metrics) getOrCreate(stream string) *StreamStats {
	if stats, ok := m.streams[stream]; ok {
		return stats
	}
	stats := &StreamStats{}
	m.streams[stream] = stats
	return stats
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.streams = make(map[string]*StreamStats)
	m.publishedTotal.Reset()
	m.deliveriesTotal.Reset()
	m.deliveryDuration.Reset()
	m.reconnectAttempts.Reset()
	m.connected.Reset()
}
