package events

import (
	"context"

	"github.com/angelmondragon/puttlab-backend/pkg/metrics"
)

// MetricsSink counts transitions by from/to/reason.
type MetricsSink struct {
	metrics *metrics.SubscriptionMetrics
}

func NewMetricsSink(m *metrics.SubscriptionMetrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

func (s *MetricsSink) Emit(_ context.Context, evt Event) {
	if s == nil || evt.Name != NameTransition {
		return
	}
	s.metrics.IncTransition(evt.OldStatus, evt.NewStatus, evt.Reason)
}
