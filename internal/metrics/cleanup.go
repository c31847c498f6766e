package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cleanup Metrics
//
// These metrics track the background sweeper. A rising eviction count means
// the byte budget is too small for the traffic.

var (
	// SweepDuration tracks how long one cleanup tick takes.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beam_cleanup_sweep_duration_seconds",
			Help:    "Duration of one cleanup tick",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)

	// PressureEvictions counts sessions evicted under memory pressure.
	PressureEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beam_pressure_evictions_total",
			Help: "Sessions evicted because usage crossed the critical threshold",
		},
	)

	// MemoryUsageRatio tracks stored bytes over the configured budget.
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beam_memory_usage_ratio",
			Help: "Stored bytes as a fraction of the global byte budget",
		},
	)
)
