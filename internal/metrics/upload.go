package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload Metrics
//
// These metrics track chunked uploads. Stale drops and size mismatches are
// the interesting failure signals; duplicates are normal retry traffic.

var (
	// ActiveUploads tracks uploads currently receiving chunks.
	ActiveUploads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beam_active_uploads",
			Help: "Number of chunked uploads in progress",
		},
	)

	// ChunksTotal counts received chunks.
	// Labels: status (accepted, duplicate, rejected)
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beam_upload_chunks_total",
			Help: "Total received chunks by status",
		},
		[]string{"status"},
	)

	// UploadDuration tracks time from Start to a successful Complete.
	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beam_upload_duration_seconds",
			Help:    "Chunked upload duration from start to completion",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~7min
		},
	)

	// UploadsAbandoned counts uploads dropped without completing.
	// Labels: reason (stale, cancelled)
	UploadsAbandoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beam_uploads_abandoned_total",
			Help: "Uploads dropped before completion by reason",
		},
		[]string{"reason"},
	)
)
