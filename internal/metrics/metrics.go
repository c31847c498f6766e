// Package metrics provides Prometheus metrics for the beam exchange.
//
// The metrics package is organized into logical modules:
//
//   - session.go: session lifecycle, membership, and expiry tracking
//   - file.go: stored files and global byte accounting
//   - upload.go: chunked upload progress and failures
//   - websocket.go: realtime connection and frame metrics
//   - cleanup.go: sweep timing and pressure evictions
//
// All metrics are registered via promauto and exposed at /metrics when the
// server starts.
package metrics
