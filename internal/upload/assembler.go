// Package upload assembles chunked uploads in memory. Each upload is a
// small state machine: opened by Start, fed by Chunk in any order, folded
// into one contiguous payload by Complete.
package upload

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zulfikawr/beam/internal/clock"
	"github.com/zulfikawr/beam/internal/code"
	"github.com/zulfikawr/beam/internal/logging"
	"github.com/zulfikawr/beam/internal/metrics"
	"github.com/zulfikawr/beam/internal/protocol"
)

// state is one in-progress upload.
type state struct {
	mu sync.Mutex

	id          string
	sessionID   string
	filename    string
	mimeType    string
	size        int64
	totalChunks int

	chunks        map[int][]byte
	receivedCount int
	storedBytes   int64

	startedAt    time.Time
	lastActivity time.Time
	completed    bool

	// result survives the first Complete so late retries get the same
	// answer while the drain window is open.
	result *Result

	cancelDrain func()
}

// Result is a fully assembled upload, ready for the store.
type Result struct {
	UploadID  string
	SessionID string
	Filename  string
	MimeType  string
	Payload   []byte
	Elapsed   time.Duration

	finalizeOnce sync.Once
	finalMeta    protocol.FileMetadata
	finalErr     error
}

// Finalize runs fn exactly once for this result; a Complete retry inside
// the drain window observes the first call's outcome instead of storing
// the file again.
func (r *Result) Finalize(fn func() (protocol.FileMetadata, error)) (protocol.FileMetadata, error) {
	r.finalizeOnce.Do(func() {
		r.finalMeta, r.finalErr = fn()
	})
	return r.finalMeta, r.finalErr
}

// ChunkReceipt reports the upload's progress after one chunk.
type ChunkReceipt struct {
	Received   int
	Total      int
	Duplicate  bool
	IsComplete bool
}

// Assembler owns every open chunked upload.
type Assembler struct {
	clk         clock.Clock
	maxFileSize int64

	mu      sync.Mutex
	uploads map[string]*state

	// receiving counts uploads still accepting chunks; kept atomic so the
	// gauge can move without the registry lock.
	receiving atomic.Int64
}

// New builds an empty assembler.
func New(clk clock.Clock, maxFileSize int64) *Assembler {
	if maxFileSize <= 0 {
		maxFileSize = protocol.DefaultMaxFileSize
	}
	return &Assembler{
		clk:         clk,
		maxFileSize: maxFileSize,
		uploads:     make(map[string]*state),
	}
}

// Start opens a new upload for the session. At most
// MaxConcurrentUploadsPerSession uploads may be receiving chunks per
// session at once.
func (a *Assembler) Start(sessionID, filename, mimeType string, size int64, totalChunks int) (string, error) {
	if size <= 0 {
		return "", protocol.ErrEmptyFile
	}
	if size > a.maxFileSize {
		return "", protocol.ErrFileTooLarge
	}
	if totalChunks <= 0 {
		return "", protocol.ErrInvalidChunkIndex
	}

	id, err := code.NewUploadID()
	if err != nil {
		return "", protocol.ErrInternal
	}
	now := a.clk.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	var open int
	for _, u := range a.uploads {
		u.mu.Lock()
		if u.sessionID == sessionID && !u.completed {
			open++
		}
		u.mu.Unlock()
	}
	if open >= protocol.MaxConcurrentUploadsPerSession {
		return "", protocol.ErrTooManyUploads
	}

	a.uploads[id] = &state{
		id:           id,
		sessionID:    sessionID,
		filename:     filename,
		mimeType:     mimeType,
		size:         size,
		totalChunks:  totalChunks,
		chunks:       make(map[int][]byte),
		startedAt:    now,
		lastActivity: now,
	}
	metrics.ActiveUploads.Set(float64(a.receiving.Add(1)))
	logging.Debug("upload started",
		zap.String("upload_id", id),
		zap.String("session_id", sessionID),
		zap.Int64("size", size),
		zap.Int("total_chunks", totalChunks))
	return id, nil
}

// Chunk stores one chunk. Delivering the same index twice is harmless; the
// receipt marks it as a duplicate and the first bytes win.
func (a *Assembler) Chunk(uploadID string, index int, data []byte) (ChunkReceipt, error) {
	u, err := a.lookup(uploadID)
	if err != nil {
		return ChunkReceipt{}, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.completed {
		return ChunkReceipt{}, protocol.ErrUploadCompleted
	}
	if index < 0 || index >= u.totalChunks {
		metrics.ChunksTotal.WithLabelValues("rejected").Inc()
		return ChunkReceipt{}, protocol.ErrInvalidChunkIndex
	}

	if _, dup := u.chunks[index]; dup {
		metrics.ChunksTotal.WithLabelValues("duplicate").Inc()
		return ChunkReceipt{
			Received:   u.receivedCount,
			Total:      u.totalChunks,
			Duplicate:  true,
			IsComplete: u.receivedCount == u.totalChunks,
		}, nil
	}

	// Reject oversized deliveries as they arrive instead of buffering
	// everything and failing at Complete.
	if u.storedBytes+int64(len(data)) > u.size {
		metrics.ChunksTotal.WithLabelValues("rejected").Inc()
		return ChunkReceipt{}, protocol.ErrUploadSizeMismatch
	}

	u.chunks[index] = data
	u.storedBytes += int64(len(data))
	u.receivedCount++
	u.lastActivity = a.clk.Now()
	metrics.ChunksTotal.WithLabelValues("accepted").Inc()

	return ChunkReceipt{
		Received:   u.receivedCount,
		Total:      u.totalChunks,
		IsComplete: u.receivedCount == u.totalChunks,
	}, nil
}

// Complete concatenates the chunks by ascending index into one payload,
// frees the per-chunk memory, and keeps the upload addressable for the
// drain window so retried Complete calls get the same result back.
func (a *Assembler) Complete(uploadID string) (*Result, error) {
	u, err := a.lookup(uploadID)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.completed {
		if u.result != nil {
			return u.result, nil
		}
		return nil, protocol.ErrUploadCompleted
	}
	if u.receivedCount != u.totalChunks {
		return nil, protocol.ErrUploadIncomplete
	}

	payload := make([]byte, 0, u.size)
	for i := 0; i < u.totalChunks; i++ {
		chunk, ok := u.chunks[i]
		if !ok {
			return nil, protocol.MissingChunkError(i)
		}
		payload = append(payload, chunk...)
	}
	if int64(len(payload)) != u.size {
		return nil, protocol.ErrUploadSizeMismatch
	}

	elapsed := a.clk.Now().Sub(u.startedAt)
	u.completed = true
	u.chunks = nil // free per-chunk memory eagerly
	u.result = &Result{
		UploadID:  u.id,
		SessionID: u.sessionID,
		Filename:  u.filename,
		MimeType:  u.mimeType,
		Payload:   payload,
		Elapsed:   elapsed,
	}
	u.cancelDrain = a.clk.After(protocol.DrainRetention, func() {
		a.remove(uploadID)
	})

	metrics.UploadDuration.Observe(elapsed.Seconds())
	metrics.ActiveUploads.Set(float64(a.receiving.Add(-1)))
	logging.Debug("upload assembled",
		zap.String("upload_id", uploadID),
		zap.Int64("size", u.size),
		zap.Duration("elapsed", elapsed))
	return u.result, nil
}

// Cancel drops an upload and its chunks. Unknown ids are ignored.
func (a *Assembler) Cancel(uploadID string) {
	if _, err := a.lookup(uploadID); err != nil {
		return
	}
	metrics.UploadsAbandoned.WithLabelValues("cancelled").Inc()
	a.remove(uploadID)
}

// SweepStale drops every upload idle past the stale threshold. Called from
// the cleanup scheduler tick.
func (a *Assembler) SweepStale(now time.Time) int {
	a.mu.Lock()
	var stale []string
	for id, u := range a.uploads {
		u.mu.Lock()
		if !u.completed && now.Sub(u.lastActivity) > protocol.StaleUploadThreshold {
			stale = append(stale, id)
		}
		u.mu.Unlock()
	}
	a.mu.Unlock()

	for _, id := range stale {
		metrics.UploadsAbandoned.WithLabelValues("stale").Inc()
		logging.Info("dropping stale upload", zap.String("upload_id", id))
		a.remove(id)
	}
	return len(stale)
}

// CancelSession drops every still-receiving upload of a session. Completed
// uploads keep their drain window.
func (a *Assembler) CancelSession(sessionID string) {
	a.mu.Lock()
	var doomed []string
	for id, u := range a.uploads {
		u.mu.Lock()
		if u.sessionID == sessionID && !u.completed {
			doomed = append(doomed, id)
		}
		u.mu.Unlock()
	}
	a.mu.Unlock()

	for _, id := range doomed {
		metrics.UploadsAbandoned.WithLabelValues("cancelled").Inc()
		a.remove(id)
	}
}

// OpenUploads returns how many uploads are still receiving chunks.
func (a *Assembler) OpenUploads() int {
	return int(a.receiving.Load())
}

func (a *Assembler) lookup(uploadID string) (*state, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.uploads[uploadID]
	if !ok {
		return nil, protocol.ErrUploadNotFound
	}
	return u, nil
}

func (a *Assembler) remove(uploadID string) {
	a.mu.Lock()
	u, ok := a.uploads[uploadID]
	if ok {
		delete(a.uploads, uploadID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	u.mu.Lock()
	if !u.completed {
		metrics.ActiveUploads.Set(float64(a.receiving.Add(-1)))
	}
	u.chunks = nil
	u.result = nil
	if u.cancelDrain != nil {
		u.cancelDrain()
		u.cancelDrain = nil
	}
	u.mu.Unlock()
}
