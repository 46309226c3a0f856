package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestEngineMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.ObserveTransition("advance", nil)
	m.ObserveTransition("advance", errors.New("boom"))
	m.ObserveTransition("advance", nil)
	m.ObserveDrips("scheduled", 2)
	m.ObserveDrips("cancelled", 0)
	m.ObserveTagMutation("add_tag")
	m.ObserveOutbound("twilio", "sent")
	m.ObserveDispatchLag(-3)

	if got := testutil.ToFloat64(m.transitionsTotal.WithLabelValues("advance", "ok")); got != 2 {
		t.Fatalf("expected 2 ok advances, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitionsTotal.WithLabelValues("advance", "error")); got != 1 {
		t.Fatalf("expected 1 failed advance, got %v", got)
	}
	if got := testutil.ToFloat64(m.dripsTotal.WithLabelValues("scheduled")); got != 2 {
		t.Fatalf("expected 2 scheduled drips, got %v", got)
	}
	if got := testutil.CollectAndCount(m.dripsTotal); got != 1 {
		t.Fatalf("zero-count events must not create series, got %d", got)
	}
}

func TestDispatchLagClampsNegative(t *testing.T) {
	m := NewEngineMetrics(prometheus.NewRegistry())
	m.ObserveDispatchLag(-3)
	m.ObserveDispatchLag(2.5)

	var out dto.Metric
	if err := m.dripLag.Write(&out); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	h := out.GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Fatalf("expected 2 samples, got %d", h.GetSampleCount())
	}
	if h.GetSampleSum() != 2.5 {
		t.Fatalf("negative lag must be clamped to zero, sum=%v", h.GetSampleSum())
	}
}

func TestEngineMetricsNilSafe(t *testing.T) {
	var m *EngineMetrics
	m.ObserveTransition("advance", nil)
	m.ObserveDrips("sent", 1)
	m.ObserveDispatchLag(1)
	m.ObserveTagMutation("add_tag")
	m.ObserveOutbound("twilio", "sent")
}
