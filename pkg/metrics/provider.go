package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderMetrics records outbound payment-provider calls, one observation per attempt.
type ProviderMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewProviderMetrics(reg prometheus.Registerer) *ProviderMetrics {
	if reg == nil {
		return &ProviderMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_requests_total",
		Help: "Payment provider request attempts by outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_request_duration_seconds",
		Help:    "Payment provider request attempt latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(requests, duration)
	return &ProviderMetrics{requests: requests, duration: duration}
}

// ObserveAttempt records one attempt. outcome is "success", "retryable",
// "terminal" or "timeout".
func (p *ProviderMetrics) ObserveAttempt(operation, outcome string, duration time.Duration) {
	if p == nil || p.requests == nil {
		return
	}
	p.requests.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
	p.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}
