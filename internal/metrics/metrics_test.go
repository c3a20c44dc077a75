package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grove/internal/bus"
	"grove/internal/engagement"
	"grove/internal/entropy"
	"grove/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type readOnlyStore struct {
	*storage.Memory
}

func (readOnlyStore) Put(string, []byte) error { return errors.New("read-only") }

func newBus(t *testing.T, m *Metrics, st storage.Store) *bus.Bus {
	t.Helper()
	opts := bus.Options{
		Store:        st,
		Clock:        func() time.Time { return t0 },
		NewSessionID: func() string { return "s-1" },
	}
	if m != nil {
		opts.PersistErrorHook = m.RecordPersistFailure
	}
	b := bus.Open(opts)
	t.Cleanup(b.Close)
	return b
}

func exchange() engagement.Payload {
	return engagement.ExchangeSent{Query: "ratchet?", ResponseLength: 80}
}

func TestAttachCountsEventsAndTracksGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())
	b := newBus(t, nil, storage.NewMemory())
	detach := m.Attach(b)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.Stage))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RevealQueue))

	for range 5 {
		b.Emit(exchange())
	}
	b.Emit(engagement.TopicExplored{TopicID: "ratchet"})

	assert.Equal(t, 5.0, testutil.ToFloat64(m.Events.WithLabelValues(string(engagement.EventExchangeSent))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues(string(engagement.EventTopicExplored))))
	assert.Equal(t, float64(b.State().Stage), testutil.ToFloat64(m.Stage))
	assert.Equal(t, float64(len(b.RevealQueue())), testutil.ToFloat64(m.RevealQueue))
	assert.Positive(t, testutil.ToFloat64(m.RevealQueue))

	detach()
	b.Emit(exchange())
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Events.WithLabelValues(string(engagement.EventExchangeSent))))
}

func TestInjectionsFollowEntropyState(t *testing.T) {
	m := New(prometheus.NewRegistry())
	b := newBus(t, nil, storage.NewMemory())
	defer m.Attach(b)()

	es := entropy.DefaultState()
	es.InjectionCount = 1
	b.ApplyEntropy(es, 0.8)
	b.ApplyEntropy(es, 0.8)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntropyInjections))

	es.InjectionCount = 2
	b.ApplyEntropy(es, 0.9)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EntropyInjections))

	b.Reset()
	es.InjectionCount = 1
	b.ApplyEntropy(es, 0.9)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EntropyInjections))
}

func TestRecordEntropy(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordEntropy(0.25)
	m.RecordEntropy(0.75)

	expected := `
# HELP grove_entropy_score Entropy score of visitor messages
# TYPE grove_entropy_score histogram
grove_entropy_score_bucket{le="0.1"} 0
grove_entropy_score_bucket{le="0.2"} 0
grove_entropy_score_bucket{le="0.3"} 1
grove_entropy_score_bucket{le="0.4"} 1
grove_entropy_score_bucket{le="0.5"} 1
grove_entropy_score_bucket{le="0.6"} 1
grove_entropy_score_bucket{le="0.7"} 1
grove_entropy_score_bucket{le="0.8"} 2
grove_entropy_score_bucket{le="0.9"} 2
grove_entropy_score_bucket{le="1"} 2
grove_entropy_score_bucket{le="+Inf"} 2
grove_entropy_score_sum 1
grove_entropy_score_count 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "grove_entropy_score"))
}

func TestPersistFailuresAreCountedByKey(t *testing.T) {
	m := New(prometheus.NewRegistry())
	b := newBus(t, m, readOnlyStore{storage.NewMemory()})
	m.PersistFailures.Reset()

	b.Emit(exchange())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures.WithLabelValues(bus.KeyState)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures.WithLabelValues(bus.KeyHistory)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PersistFailures.WithLabelValues(bus.KeyEntropy)))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
