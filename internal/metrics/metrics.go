// Package metrics exposes Prometheus collectors for the escalation pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the service records.
type Metrics struct {
	outcomes        *prometheus.CounterVec
	gateRejections  *prometheus.CounterVec
	policyRefusals  prometheus.Counter
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chattia",
			Subsystem: "turn",
			Name:      "outcomes_total",
			Help:      "Terminal turn outcomes by path and kind",
		}, []string{"path", "kind"}),
		gateRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chattia",
			Subsystem: "gate",
			Name:      "rejections_total",
			Help:      "Requests rejected by the request gate by error code",
		}, []string{"code"}),
		policyRefusals: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chattia",
			Subsystem: "gate",
			Name:      "policy_refusals_total",
			Help:      "Messages refused by the content policy",
		}),
		providerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chattia",
			Subsystem: "chain",
			Name:      "provider_calls_total",
			Help:      "Provider attempts by provider and result (ok, error, skipped_cap, skipped_budget)",
		}, []string{"provider", "result"}),
		providerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chattia",
			Subsystem: "chain",
			Name:      "provider_latency_seconds",
			Help:      "Provider call latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chattia",
			Subsystem: "budget",
			Name:      "tokens_granted_total",
			Help:      "Tokens granted by the budget ledger per provider",
		}, []string{"provider"}),
	}
}

func (m *Metrics) Outcome(path, kind string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(path, kind).Inc()
}

func (m *Metrics) GateRejected(code string) {
	if m == nil {
		return
	}
	m.gateRejections.WithLabelValues(code).Inc()
}

func (m *Metrics) PolicyRefused() {
	if m == nil {
		return
	}
	m.policyRefusals.Inc()
}

func (m *Metrics) ProviderCall(provider, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, result).Inc()
	if elapsed > 0 {
		m.providerLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) TokensGranted(provider string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokens.WithLabelValues(provider).Add(float64(n))
}
