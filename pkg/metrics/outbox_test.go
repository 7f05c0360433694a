package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.IncPublished("tier_changed")
	m.IncPublished("tier_changed")
	m.IncDeadLettered("usage_drift_detected")
	m.ObserveBatch(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "loyalty_outbox_events_total", "outcome", "published"); err != nil || got != 2 {
		t.Fatalf("expected 2 published, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "loyalty_outbox_events_total", "outcome", "dead_lettered"); err != nil || got != 1 {
		t.Fatalf("expected 1 dead lettered, got %f (%v)", got, err)
	}
}

func TestOutboxMetricsNilSafe(t *testing.T) {
	var m *OutboxMetrics
	m.IncFailed("tier_changed")
	m.ObserveBatch(1)
	NewOutboxMetrics(nil).IncPublished("tier_changed")
}
