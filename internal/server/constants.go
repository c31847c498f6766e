package server

import "time"

// WebSocket configuration
const (
	WebSocketReadBuffer  = 32 * 1024
	WebSocketWriteBuffer = 32 * 1024

	// writeQueueDepth is the per-connection outbound frame queue. A slow
	// reader that falls this far behind is disconnected.
	writeQueueDepth = 64

	// writeDeadline bounds one websocket write.
	writeDeadline = 10 * time.Second
)

// Timeouts
const (
	ShutdownTimeout   = 30 * time.Second
	ReadHeaderTimeout = 5 * time.Second
	IdleTimeout       = 5 * time.Minute
)
