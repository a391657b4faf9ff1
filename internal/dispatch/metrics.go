package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters and histograms for dispatch runs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	sends         *prometheus.CounterVec
	sendLatency   *prometheus.HistogramVec
	auditFailures prometheus.Counter
	runs          *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wabulk",
			Subsystem: "dispatch",
			Name:      "sends_total",
			Help:      "Messages attempted, by kind and outcome",
		}, []string{"kind", "status"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wabulk",
			Subsystem: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Time spent on one recipient including retries",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"kind"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wabulk",
			Subsystem: "dispatch",
			Name:      "audit_failures_total",
			Help:      "Audit records that could not be persisted",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wabulk",
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Completed runs by classification",
		}, []string{"classification"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sends, m.sendLatency, m.auditFailures, m.runs)
	return m
}

func (m *Metrics) ObserveSend(kind string, status OutcomeStatus, seconds float64) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind, string(status)).Inc()
	m.sendLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) ObserveAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) ObserveRun(c Classification) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(c)).Inc()
}
