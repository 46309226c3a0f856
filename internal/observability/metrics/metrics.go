package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for session transitions, drip
// scheduling and dispatch, auto-tagging and outbound SMS.
type EngineMetrics struct {
	transitionsTotal *prometheus.CounterVec
	dripsTotal       *prometheus.CounterVec
	dripLag          prometheus.Histogram
	tagMutations     *prometheus.CounterVec
	outboundTotal    *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nurture",
			Subsystem: "sessions",
			Name:      "transitions_total",
			Help:      "Session operations by operation and result",
		}, []string{"op", "result"}),
		dripsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nurture",
			Subsystem: "drips",
			Name:      "events_total",
			Help:      "Drip lifecycle events (scheduled, cancelled, sent, failed, stale_claim)",
		}, []string{"event"}),
		dripLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nurture",
			Subsystem: "drips",
			Name:      "dispatch_lag_seconds",
			Help:      "Delay between a drip's scheduled time and its dispatch",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900},
		}),
		tagMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nurture",
			Subsystem: "autotag",
			Name:      "mutations_total",
			Help:      "Tag mutations produced by auto-tagging rules",
		}, []string{"action"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nurture",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Outbound SMS sends by provider and status",
		}, []string{"provider", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.dripsTotal, m.dripLag, m.tagMutations, m.outboundTotal)
	return m
}

// ObserveTransition counts a session operation; err decides the result label.
func (m *EngineMetrics) ObserveTransition(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.transitionsTotal.WithLabelValues(op, result).Inc()
}

func (m *EngineMetrics) ObserveDrips(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dripsTotal.WithLabelValues(event).Add(float64(n))
}

func (m *EngineMetrics) ObserveDispatchLag(seconds float64) {
	if m == nil {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	m.dripLag.Observe(seconds)
}

func (m *EngineMetrics) ObserveTagMutation(action string) {
	if m == nil {
		return
	}
	m.tagMutations.WithLabelValues(action).Inc()
}

func (m *EngineMetrics) ObserveOutbound(provider, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(provider, status).Inc()
}
