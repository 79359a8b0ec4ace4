package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SubscriptionMetrics covers webhook ingestion and state transitions.
type SubscriptionMetrics struct {
	webhooks    *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

func NewSubscriptionMetrics(reg prometheus.Registerer) *SubscriptionMetrics {
	if reg == nil {
		return &SubscriptionMetrics{}
	}
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound provider webhooks by result (received, duplicate, rejected, processed, failed, ignored).",
	}, []string{"result"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_transitions_total",
		Help: "Subscription status transitions by origin state, target state and reason.",
	}, []string{"from", "to", "reason"})
	reg.MustRegister(webhooks, transitions)
	return &SubscriptionMetrics{webhooks: webhooks, transitions: transitions}
}

func (s *SubscriptionMetrics) IncWebhook(result string) {
	if s == nil || s.webhooks == nil {
		return
	}
	s.webhooks.WithLabelValues(normalizeLabel(result)).Inc()
}

func (s *SubscriptionMetrics) IncTransition(from, to, reason string) {
	if s == nil || s.transitions == nil {
		return
	}
	s.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to), normalizeLabel(reason)).Inc()
}
