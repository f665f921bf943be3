package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ricirt/offline-sync/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ReplaysTotal      *prometheus.CounterVec
	ReplayLatency     *prometheus.HistogramVec
	ExhaustedTotal    *prometheus.CounterVec
	DrainCycles       prometheus.Counter
	QueueDepth        *prometheus.GaugeVec
	Connected         prometheus.Gauge
	JournalRecords    *prometheus.CounterVec
	EnqueueRejections prometheus.Counter
	Evictions         prometheus.Counter
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReplaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_replays_total",
			Help: "Replay attempts by kind and outcome (success, duplicate, retryable, permanent).",
		}, []string{"kind", "outcome"}),

		ReplayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sync_replay_seconds",
			Help:    "Latency of a single replay from claim to backend answer.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),

		ExhaustedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_exhausted_total",
			Help: "Operations dropped after exhausting their retry budget.",
		}, []string{"kind"}),

		DrainCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_drain_cycles_total",
			Help: "Number of drain cycles started.",
		}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Current number of queued operations per priority.",
		}, []string{"priority"}),

		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_connected",
			Help: "1 when the debounced connectivity state is online.",
		}),

		JournalRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_journal_records_total",
			Help: "Error journal records written by category and severity.",
		}, []string{"category", "severity"}),

		EnqueueRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_enqueue_rejected_total",
			Help: "Enqueues rejected because the queue was full.",
		}),

		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_evictions_total",
			Help: "Lower-priority operations evicted to admit a new one.",
		}),
	}

	reg.MustRegister(
		m.ReplaysTotal,
		m.ReplayLatency,
		m.ExhaustedTotal,
		m.DrainCycles,
		m.QueueDepth,
		m.Connected,
		m.JournalRecords,
		m.EnqueueRejections,
		m.Evictions,
	)

	return m
}

// DispatcherHooks returns the callbacks expected by dispatcher.MetricHooks.
// Centralises the prometheus calls so the dispatcher stays import-free.
func (m *Metrics) DispatcherHooks() (
	onReplay func(kind domain.Kind, outcome string, latency time.Duration),
	onExhausted func(kind domain.Kind),
	onDrain func(),
) {
	onReplay = func(kind domain.Kind, outcome string, latency time.Duration) {
		m.ReplaysTotal.WithLabelValues(string(kind), outcome).Inc()
		m.ReplayLatency.WithLabelValues(string(kind)).Observe(latency.Seconds())
	}
	onExhausted = func(kind domain.Kind) {
		m.ExhaustedTotal.WithLabelValues(string(kind)).Inc()
	}
	onDrain = func() {
		m.DrainCycles.Inc()
	}
	return
}

// ObserveQueue records the current per-priority depth.
func (m *Metrics) ObserveQueue(high, normal, low int) {
	m.QueueDepth.WithLabelValues(string(domain.PriorityHigh)).Set(float64(high))
	m.QueueDepth.WithLabelValues(string(domain.PriorityNormal)).Set(float64(normal))
	m.QueueDepth.WithLabelValues(string(domain.PriorityLow)).Set(float64(low))
}

// ObserveConnectivity is a connectivity.Options.OnChange callback.
func (m *Metrics) ObserveConnectivity(st domain.ConnectivityState) {
	if st.Connected {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}

// ObserveRecord is a journal.Options.OnRecord callback.
func (m *Metrics) ObserveRecord(rec domain.ErrorRecord) {
	m.JournalRecords.WithLabelValues(string(rec.Category), string(rec.Severity)).Inc()
}
