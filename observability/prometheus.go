package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver counts events by type, level and source.
type PrometheusObserver struct {
	events *prometheus.CounterVec
}

// NewPrometheusObserver registers the event counter with reg. A nil reg
// leaves the counter unregistered.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	return &PrometheusObserver{
		events: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "labkernel_observed_events_total",
			Help: "Total observability events by type, level and source",
		}, []string{"type", "level", "source"}),
	}
}

func (o *PrometheusObserver) OnEvent(_ context.Context, event Event) {
	o.events.WithLabelValues(string(event.Type), event.Level.String(), event.Source).Inc()
}
