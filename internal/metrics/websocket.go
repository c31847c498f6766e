package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebSocket Metrics
//
// These metrics track the realtime transport: connections, frames in each
// direction, and operation latency as observed by the dispatcher.

var (
	// ActiveConnections tracks open websocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beam_ws_connections",
			Help: "Number of open websocket connections",
		},
	)

	// FramesTotal counts processed frames.
	// Labels: direction (in, out)
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beam_ws_frames_total",
			Help: "Total websocket frames by direction",
		},
		[]string{"direction"},
	)

	// OperationDuration tracks server-side handling time per operation.
	// Labels: op (session:join, file:upload, ...)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beam_operation_duration_seconds",
			Help:    "Server-side handling time per operation",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8), // 0.5ms to ~8s
		},
		[]string{"op"},
	)

	// OperationErrors counts failed operations by op and code.
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beam_operation_errors_total",
			Help: "Failed operations by operation and error code",
		},
		[]string{"op", "code"},
	)

	// BroadcastsTotal counts events fanned out to session rooms.
	// Labels: event
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beam_broadcasts_total",
			Help: "Events broadcast to session rooms",
		},
		[]string{"event"},
	)
)
