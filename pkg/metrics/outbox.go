package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks the publisher's per-event outcomes.
type OutboxMetrics struct {
	outcomes *prometheus.CounterVec
	batches  prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox rows handled by the publisher, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_batch_size",
			Help:      "Rows claimed per publisher batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}
	reg.MustRegister(m.outcomes, m.batches)
	return m
}

func (m *OutboxMetrics) IncPublished(eventType string) { m.inc(eventType, "published") }

func (m *OutboxMetrics) IncFailed(eventType string) { m.inc(eventType, "failed") }

func (m *OutboxMetrics) IncDeadLettered(eventType string) { m.inc(eventType, "dead_lettered") }

func (m *OutboxMetrics) ObserveBatch(n int) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Observe(float64(n))
}

func (m *OutboxMetrics) inc(eventType, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}
