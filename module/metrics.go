package module

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tickTotal counts procedure ticks by module and result
	tickTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labkernel_module_ticks_total",
		Help: "Total procedure ticks by module and result",
	}, []string{"module", "result"})

	// tickDuration tracks the time spent in one tick, event handlers included
	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "labkernel_module_tick_duration_seconds",
		Help:    "Procedure tick duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
	}, []string{"module"})

	// warningTotal counts escalated transient failures
	warningTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labkernel_module_warnings_total",
		Help: "Total warnings raised after exhausting lock retries",
	}, []string{"module"})

	// eventTotal counts event handlers executed on the loop
	eventTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labkernel_module_events_total",
		Help: "Total event handlers executed by module and result",
	}, []string{"module", "result"})
)
