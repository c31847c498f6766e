package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// File Metrics
//
// These metrics track stored files and the global byte budget. BytesStored
// against the configured budget is the number that matters for capacity.

var (
	// FilesTotal counts accepted files by upload path.
	// Labels: path (single, chunked, share)
	FilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beam_files_total",
			Help: "Total number of stored files by upload path",
		},
		[]string{"path"},
	)

	// FileSize tracks the size distribution of stored files.
	FileSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beam_file_size_bytes",
			Help:    "Stored file size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
		},
	)

	// BytesStored tracks the sum of all stored payload bytes.
	BytesStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beam_bytes_stored",
			Help: "Total payload bytes currently held in memory",
		},
	)

	// StoreRejections counts AddFile/AddMessage rejections by code.
	// Labels: code (OutOfMemory, FileTooLarge, ...)
	StoreRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beam_store_rejections_total",
			Help: "Store rejections by error code",
		},
		[]string{"code"},
	)

	// Downloads counts file payload reads by surface.
	// Labels: surface (rpc, http, zip)
	Downloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beam_downloads_total",
			Help: "File downloads by surface",
		},
		[]string{"surface"},
	)
)
