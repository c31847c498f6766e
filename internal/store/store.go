// Package store is the single in-RAM owner of all session state: sessions,
// their files and messages, member bindings, and the global byte account.
// Every mutation goes through it.
package store

import (
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/zulfikawr/beam/internal/clock"
	"github.com/zulfikawr/beam/internal/code"
	"github.com/zulfikawr/beam/internal/logging"
	"github.com/zulfikawr/beam/internal/metrics"
	"github.com/zulfikawr/beam/internal/protocol"
)

// Session is one ephemeral room. Content is guarded by the session's own
// lock; registry membership and the byte account are guarded by the store.
type Session struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time

	mu        sync.RWMutex
	creator   string // connection that created the session; cleared when it leaves
	files     map[string]*FileRecord
	fileOrder []string
	messages  []*MessageRecord
	members   map[string]struct{}
}

// expired reports whether the session's TTL has elapsed at now.
func (s *Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Snapshot renders the full session view sent on create and join.
func (s *Session) Snapshot() protocol.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := protocol.SessionSnapshot{
		ID:          s.ID,
		CreatedAt:   s.CreatedAt.UnixMilli(),
		ExpiresAt:   s.ExpiresAt.UnixMilli(),
		Files:       make([]protocol.FileMetadata, 0, len(s.fileOrder)),
		Messages:    make([]protocol.MessageInfo, 0, len(s.messages)),
		MemberCount: len(s.members),
	}
	for _, id := range s.fileOrder {
		snap.Files = append(snap.Files, s.files[id].Metadata())
	}
	for _, m := range s.messages {
		snap.Messages = append(snap.Messages, m.Info())
	}
	return snap
}

// MemberCount returns the number of bound connections.
func (s *Session) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Options configure a Store.
type Options struct {
	TTL           time.Duration
	MaxFileSize   int64
	MaxTotalBytes int64
}

// Store is the authoritative in-memory registry.
type Store struct {
	clk  clock.Clock
	opts Options

	mu          sync.RWMutex
	sessions    map[string]*Session
	connSession map[string]string // connection id -> session id
	totalBytes  int64
}

// New builds an empty store. Zero option fields fall back to the defaults.
func New(clk clock.Clock, opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = protocol.DefaultSessionTTL
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = protocol.DefaultMaxFileSize
	}
	if opts.MaxTotalBytes <= 0 {
		opts.MaxTotalBytes = protocol.DefaultMaxTotal
	}
	return &Store{
		clk:         clk,
		opts:        opts,
		sessions:    make(map[string]*Session),
		connSession: make(map[string]string),
	}
}

// MaxFileSize returns the per-file byte cap.
func (st *Store) MaxFileSize() int64 { return st.opts.MaxFileSize }

// MaxTotalBytes returns the global byte budget.
func (st *Store) MaxTotalBytes() int64 { return st.opts.MaxTotalBytes }

// CreateSession registers a fresh session owned by creatorConn.
func (st *Store) CreateSession(creatorConn string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var id string
	for {
		var err error
		id, err = code.NewSessionCode()
		if err != nil {
			return nil, protocol.ErrInternal
		}
		if _, taken := st.sessions[id]; !taken {
			break
		}
	}

	now := st.clk.Now()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(st.opts.TTL),
		creator:   creatorConn,
		files:     make(map[string]*FileRecord),
		members:   make(map[string]struct{}),
	}
	st.sessions[id] = s

	metrics.SessionsTotal.Inc()
	metrics.ActiveSessions.Set(float64(len(st.sessions)))
	logging.Info("session created",
		zap.String("session_id", id),
		zap.Time("expires_at", s.ExpiresAt))
	return s, nil
}

// GetSession looks a session up case-insensitively. A session past its TTL
// is deleted on the spot and reported as expired.
func (st *Store) GetSession(id string) (*Session, error) {
	canonical := code.CanonicalSessionCode(id)

	st.mu.RLock()
	s, ok := st.sessions[canonical]
	if ok && !s.expired(st.clk.Now()) {
		st.mu.RUnlock()
		return s, nil
	}
	st.mu.RUnlock()

	if !ok {
		return nil, protocol.ErrSessionNotFound
	}
	st.deleteSession(canonical, protocol.ExpireReasonTTL)
	return nil, protocol.ErrSessionExpired
}

// AddMember binds connID to the session. A connection can be in only one
// session; any earlier binding is replaced. Idempotent.
func (st *Store) AddMember(sessionID, connID string) (int, error) {
	s, err := st.GetSession(sessionID)
	if err != nil {
		return 0, err
	}

	st.mu.Lock()
	if st.sessions[s.ID] != s {
		st.mu.Unlock()
		return 0, protocol.ErrSessionExpired
	}
	if prev, ok := st.connSession[connID]; ok && prev != s.ID {
		if prevSession, ok := st.sessions[prev]; ok {
			prevSession.mu.Lock()
			delete(prevSession.members, connID)
			if prevSession.creator == connID {
				prevSession.creator = ""
			}
			prevSession.mu.Unlock()
		}
	}
	st.connSession[connID] = s.ID
	st.mu.Unlock()

	s.mu.Lock()
	s.members[connID] = struct{}{}
	count := len(s.members)
	s.mu.Unlock()

	st.setMemberGauge()
	return count, nil
}

// RemoveMember drops connID's binding. It returns the session the
// connection was in and the remaining member count, for broadcast purposes.
// Safe to call for unknown connections.
func (st *Store) RemoveMember(connID string) (sessionID string, remaining int, ok bool) {
	st.mu.Lock()
	sessionID, ok = st.connSession[connID]
	if !ok {
		st.mu.Unlock()
		return "", 0, false
	}
	delete(st.connSession, connID)
	s := st.sessions[sessionID]
	st.mu.Unlock()

	if s != nil {
		s.mu.Lock()
		delete(s.members, connID)
		if s.creator == connID {
			// Creator identity does not survive disconnects; from here on
			// only senders may delete their own messages.
			s.creator = ""
		}
		remaining = len(s.members)
		s.mu.Unlock()
	}

	st.setMemberGauge()
	return sessionID, remaining, true
}

// SessionOf returns the session a connection is bound to.
func (st *Store) SessionOf(connID string) (string, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.connSession[connID]
	return id, ok
}

// AddFile stores a file in the session. The record becomes observable only
// after every check has passed; on success the global byte account grows by
// exactly the payload size.
func (st *Store) AddFile(sessionID string, f *FileRecord) error {
	size := int64(len(f.Payload))
	if size == 0 {
		metrics.StoreRejections.WithLabelValues(string(protocol.CodeEmptyFile)).Inc()
		return protocol.ErrEmptyFile
	}
	if size > st.opts.MaxFileSize {
		metrics.StoreRejections.WithLabelValues(string(protocol.CodeFileTooLarge)).Inc()
		return protocol.ErrFileTooLarge
	}

	s, err := st.GetSession(sessionID)
	if err != nil {
		return err
	}

	// Registry lock first, then the session lock: byte accounting and the
	// file table move together or not at all.
	st.mu.Lock()
	if st.sessions[s.ID] != s {
		// Session was evicted between the liveness check and here.
		st.mu.Unlock()
		return protocol.ErrSessionExpired
	}
	if st.totalBytes+size > st.opts.MaxTotalBytes {
		total := st.totalBytes
		st.mu.Unlock()
		metrics.StoreRejections.WithLabelValues(string(protocol.CodeOutOfMemory)).Inc()
		logging.Warn("global byte budget exhausted",
			zap.Int64("total_bytes", total),
			zap.Int64("requested", size))
		return protocol.ErrOutOfMemory
	}

	s.mu.Lock()
	if len(s.files) >= protocol.MaxFilesPerSession {
		s.mu.Unlock()
		st.mu.Unlock()
		metrics.StoreRejections.WithLabelValues(string(protocol.CodeSessionFileCapReached)).Inc()
		return protocol.ErrFileCapReached
	}

	if f.MimeType == "" {
		f.MimeType = "application/octet-stream"
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = st.clk.Now()
	}
	sum := blake2b.Sum256(f.Payload)
	f.Digest = hex.EncodeToString(sum[:])

	s.files[f.ID] = f
	s.fileOrder = append(s.fileOrder, f.ID)
	s.mu.Unlock()

	st.totalBytes += size
	metrics.BytesStored.Set(float64(st.totalBytes))
	st.mu.Unlock()

	metrics.FileSize.Observe(float64(size))
	logging.Debug("file stored",
		zap.String("session_id", s.ID),
		zap.String("file_id", f.ID),
		zap.Int64("size", size))
	return nil
}

// GetFileMetadata returns a file's metadata.
func (st *Store) GetFileMetadata(sessionID, fileID string) (protocol.FileMetadata, error) {
	f, err := st.getFile(sessionID, fileID)
	if err != nil {
		return protocol.FileMetadata{}, err
	}
	return f.Metadata(), nil
}

// GetFilePayload returns the stored record including its payload bytes. The
// slice is shared with the store; callers serialize it without mutating and
// must not retain it past the reply.
func (st *Store) GetFilePayload(sessionID, fileID string) (*FileRecord, error) {
	return st.getFile(sessionID, fileID)
}

func (st *Store) getFile(sessionID, fileID string) (*FileRecord, error) {
	s, err := st.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[strings.ToLower(fileID)]
	if !ok {
		return nil, protocol.ErrFileNotFound
	}
	return f, nil
}

// ListFiles enumerates the session's files in insertion order.
func (st *Store) ListFiles(sessionID string) ([]protocol.FileMetadata, error) {
	s, err := st.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.FileMetadata, 0, len(s.fileOrder))
	for _, id := range s.fileOrder {
		out = append(out, s.files[id].Metadata())
	}
	return out, nil
}

// DeleteFile removes a file and returns the freed bytes to the account.
func (st *Store) DeleteFile(sessionID, fileID string) error {
	s, err := st.GetSession(sessionID)
	if err != nil {
		return err
	}

	fileID = strings.ToLower(fileID)

	st.mu.Lock()
	s.mu.Lock()
	f, ok := s.files[fileID]
	if !ok {
		s.mu.Unlock()
		st.mu.Unlock()
		return protocol.ErrFileNotFound
	}
	delete(s.files, fileID)
	for i, id := range s.fileOrder {
		if id == fileID {
			s.fileOrder = append(s.fileOrder[:i], s.fileOrder[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	st.totalBytes -= int64(len(f.Payload))
	metrics.BytesStored.Set(float64(st.totalBytes))
	st.mu.Unlock()
	return nil
}

// AddMessage validates and appends a message. Content is trimmed first;
// whitespace-only messages count as empty.
func (st *Store) AddMessage(sessionID string, m *MessageRecord) error {
	m.Content = strings.TrimSpace(m.Content)
	if m.Content == "" {
		metrics.StoreRejections.WithLabelValues(string(protocol.CodeEmpty)).Inc()
		return protocol.ErrEmptyMessage
	}
	if len([]rune(m.Content)) > protocol.MaxMessageRunes {
		metrics.StoreRejections.WithLabelValues(string(protocol.CodeTooLong)).Inc()
		return protocol.ErrMessageTooLong
	}

	s, err := st.GetSession(sessionID)
	if err != nil {
		return err
	}

	if m.SentByName == "" {
		m.SentByName = "Anonymous"
	}
	if m.SentAt.IsZero() {
		m.SentAt = st.clk.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) >= protocol.MaxMessagesPerSession {
		metrics.StoreRejections.WithLabelValues(string(protocol.CodeMessageCapReached)).Inc()
		return protocol.ErrMessageCapReached
	}
	s.messages = append(s.messages, m)
	metrics.MessagesTotal.Inc()
	return nil
}

// DeleteMessage removes a message if the caller is its sender or the
// session creator.
func (st *Store) DeleteMessage(sessionID, messageID, caller string) error {
	s, err := st.GetSession(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.ID != messageID {
			continue
		}
		if m.SentBy != caller && s.creator != caller {
			return protocol.ErrForbidden
		}
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
		return nil
	}
	return protocol.ErrMessageNotFound
}

// DeleteSession frees all of a session's bytes, drops its messages and
// unbinds every member. Reason feeds the eviction metrics.
func (st *Store) DeleteSession(sessionID, reason string) bool {
	return st.deleteSession(code.CanonicalSessionCode(sessionID), reason)
}

func (st *Store) deleteSession(canonical, reason string) bool {
	st.mu.Lock()
	s, ok := st.sessions[canonical]
	if !ok {
		st.mu.Unlock()
		return false
	}
	delete(st.sessions, canonical)

	s.mu.Lock()
	var freed int64
	for _, f := range s.files {
		freed += int64(len(f.Payload))
	}
	s.files = make(map[string]*FileRecord)
	s.fileOrder = nil
	s.messages = nil
	for connID := range s.members {
		delete(st.connSession, connID)
	}
	s.members = make(map[string]struct{})
	s.mu.Unlock()

	st.totalBytes -= freed
	metrics.BytesStored.Set(float64(st.totalBytes))
	metrics.ActiveSessions.Set(float64(len(st.sessions)))
	metrics.SessionsEnded.WithLabelValues(reason).Inc()
	st.mu.Unlock()

	st.setMemberGauge()
	logging.Info("session deleted",
		zap.String("session_id", canonical),
		zap.String("reason", reason),
		zap.Int64("freed_bytes", freed))
	return true
}

// ExpiredSessionIDs lists every session whose TTL elapsed at now.
func (st *Store) ExpiredSessionIDs(now time.Time) []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var out []string
	for id, s := range st.sessions {
		if s.expired(now) {
			out = append(out, id)
		}
	}
	return out
}

// OldestSessions returns up to n live session ids, oldest first by creation
// time. Used for emergency eviction under memory pressure.
func (st *Store) OldestSessions(n int) []string {
	st.mu.RLock()
	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.RUnlock()

	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].CreatedAt.Before(all[j-1].CreatedAt); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	if n > len(all) {
		n = len(all)
	}
	out := make([]string, 0, n)
	for _, s := range all[:n] {
		out = append(out, s.ID)
	}
	return out
}

// TotalBytes returns the current global byte account.
func (st *Store) TotalBytes() int64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.totalBytes
}

// SessionCount returns the number of registered sessions, expired or not.
func (st *Store) SessionCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// FileCount returns the number of stored files across all sessions.
func (st *Store) FileCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var n int
	for _, s := range st.sessions {
		s.mu.RLock()
		n += len(s.files)
		s.mu.RUnlock()
	}
	return n
}

func (st *Store) setMemberGauge() {
	st.mu.RLock()
	metrics.ActiveMembers.Set(float64(len(st.connSession)))
	st.mu.RUnlock()
}
