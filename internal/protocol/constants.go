// Package protocol defines the wire protocol shared by the beam server and
// its clients: event names, frame encoding, error codes, and the limits both
// sides must agree on.
package protocol

import "time"

// Session identifiers
const (
	// SessionCodeAlphabet is the 32-symbol alphabet used for session codes.
	// 0, O, 1 and I are excluded because they are easy to confuse when a
	// code is read aloud or retyped from another screen.
	SessionCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// SessionCodeLength is the number of symbols in a session code.
	SessionCodeLength = 5
)

// Session limits
const (
	DefaultSessionTTL     = 5 * time.Hour
	MaxFilesPerSession    = 100
	MaxMessagesPerSession = 500
	MaxMessageRunes       = 10_000
)

// File and memory limits
const (
	DefaultMaxFileSize = 100 << 20 // 100MB per file
	DefaultMaxTotal    = 2 << 30   // 2GB across all sessions

	// MaxFilenameBytes is the longest stored filename (common filesystem limit).
	MaxFilenameBytes = 255
)

// Chunked upload parameters
const (
	// ChunkSize is the advertised chunk size for multi-part uploads.
	ChunkSize = 2 * 1024 * 1024 // 2MB

	MaxConcurrentUploadsPerSession = 5

	// StaleUploadThreshold is how long an upload may sit idle before the
	// sweeper drops it and frees its chunks.
	StaleUploadThreshold = 30 * time.Minute

	// DrainRetention is how long a completed upload remains addressable so
	// that late Complete retries get the same answer instead of NotFound.
	DrainRetention = 60 * time.Second
)

// Memory pressure thresholds, as fractions of the global byte budget.
const (
	WarningThreshold  = 0.80
	CriticalThreshold = 0.95

	// EvictBatch is how many of the oldest sessions are evicted when usage
	// crosses CriticalThreshold.
	EvictBatch = 5
)

// Timing
const (
	DefaultCleanupInterval = 5 * time.Minute
	DefaultRPCTimeout      = 30 * time.Second
)

// Framing
const (
	// FrameOverhead is the metadata headroom allowed on top of the largest
	// single-shot file payload. Anything bigger must use the chunked path.
	FrameOverhead = 1 << 20 // 1MB

	// MaxHeaderBytes bounds the JSON header of a single frame.
	MaxHeaderBytes = 1 << 20
)

// Client-originated operations.
const (
	EventSessionCreate  = "session:create"
	EventSessionJoin    = "session:join"
	EventSessionLeave   = "session:leave"
	EventFileUpload     = "file:upload"
	EventUploadStart    = "file:upload-start"
	EventUploadChunk    = "file:upload-chunk"
	EventUploadComplete = "file:upload-complete"
	EventFileRequest    = "file:request"
	EventFileDelete     = "file:delete"
	EventMessageSend    = "message:send"
	EventMessageDelete  = "message:delete"
)

// Server-originated events.
const (
	EventSessionCreated = "session:created"
	EventSessionJoined  = "session:joined"
	EventSessionExpired = "session:expired"
	EventFileAdded      = "file:added"
	EventFileDeleted    = "file:deleted"
	EventMessageAdded   = "message:added"
	EventMessageDeleted = "message:deleted"
	EventMemberJoined   = "member:joined"
	EventMemberLeft     = "member:left"
	EventChunkReceived  = "file:chunk-received"

	// EventAck carries the reply to a client operation.
	EventAck = "ack"
)

// HTTP surface paths.
const (
	WebSocketPath = "/ws"
	DownloadPath  = "/d/"
	SharePath     = "/share/"
	HealthPath    = "/healthz"
	MetricsPath   = "/metrics"
)

// MaxFramePayload returns the largest frame this server accepts given the
// configured per-file cap. Larger transfers go through the chunked path.
func MaxFramePayload(maxFileSize int64) int64 {
	return maxFileSize + FrameOverhead
}
