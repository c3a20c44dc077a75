// Package metrics exposes engagement activity as Prometheus metrics. The
// collectors are fed by bus subscriptions, so nothing in the engagement core
// depends on this package.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"grove/internal/bus"
	"grove/internal/engagement"
	"grove/internal/logging"
	"grove/internal/triggers"
)

// Metrics holds the grove collectors.
type Metrics struct {
	// Engagement
	Events      *prometheus.CounterVec
	Stage       prometheus.Gauge
	RevealQueue prometheus.Gauge

	// Entropy
	EntropyScore      prometheus.Histogram
	EntropyInjections prometheus.Counter

	// Storage
	PersistFailures *prometheus.CounterVec

	mu             sync.Mutex
	lastInjections int
}

// New registers the grove collectors with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grove_engagement_events_total",
			Help: "Total number of engagement events by type",
		}, []string{"type"}),

		Stage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "grove_engagement_stage",
			Help: "Current session stage (0 ARRIVAL .. 3 ENGAGED)",
		}),

		RevealQueue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "grove_reveal_queue_length",
			Help: "Number of reveals currently eligible",
		}),

		EntropyScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "grove_entropy_score",
			Help:    "Entropy score of visitor messages",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),

		EntropyInjections: factory.NewCounter(prometheus.CounterOpts{
			Name: "grove_entropy_injections_total",
			Help: "Total number of journey injections offered",
		}),

		PersistFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grove_persist_failures_total",
			Help: "Total number of failed storage writes by key",
		}, []string{"key"}),
	}
	logging.Get(logging.CategoryMetrics).Debug("metrics registered")
	return m
}

// Attach subscribes m to b and returns a function that detaches it.
// The gauges are primed from the bus's current state.
func (m *Metrics) Attach(b *bus.Bus) func() {
	m.observeState(b.State())
	m.RevealQueue.Set(float64(len(b.RevealQueue())))

	m.mu.Lock()
	m.lastInjections = b.EntropyState().InjectionCount
	m.mu.Unlock()

	offEvent := b.OnEvent(m.RecordEvent)
	offState := b.OnStateChange(func(s engagement.Snapshot) {
		m.observeState(s)
		m.observeInjections(b.EntropyState().InjectionCount)
	})
	offQueue := b.OnRevealQueueChange(func(q []triggers.QueueItem) {
		m.RevealQueue.Set(float64(len(q)))
	})

	return func() {
		offEvent()
		offState()
		offQueue()
	}
}

// RecordEvent counts ev by type.
func (m *Metrics) RecordEvent(ev engagement.Event) {
	m.Events.WithLabelValues(string(ev.Type)).Inc()
}

// RecordEntropy observes one scored message.
func (m *Metrics) RecordEntropy(score float64) {
	m.EntropyScore.Observe(score)
}

// RecordPersistFailure counts a failed write. Its signature matches
// bus.Options.PersistErrorHook.
func (m *Metrics) RecordPersistFailure(key string, err error) {
	m.PersistFailures.WithLabelValues(key).Inc()
}

func (m *Metrics) observeState(s engagement.Snapshot) {
	m.Stage.Set(float64(s.Stage))
}

// observeInjections turns the detector's running injection count into
// counter increments. A drop in the count (reset, new session) re-bases.
func (m *Metrics) observeInjections(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if count > m.lastInjections {
		m.EntropyInjections.Add(float64(count - m.lastInjections))
	}
	m.lastInjections = count
}
