package server

import (
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zulfikawr/beam/internal/code"
	"github.com/zulfikawr/beam/internal/logging"
	"github.com/zulfikawr/beam/internal/protocol"
)

// handleShareTarget accepts POST /share/{code} multipart form uploads so a
// phone's share sheet can drop files into a session without speaking the
// socket protocol.
func (s *Server) handleShareTarget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionCode := code.CanonicalSessionCode(strings.TrimPrefix(r.URL.Path, protocol.SharePath))
	if !code.ValidSessionCode(sessionCode) {
		http.Error(w, "invalid session code", http.StatusNotFound)
		return
	}
	if _, err := s.Store.GetSession(sessionCode); err != nil {
		writeStoreError(w, err)
		return
	}

	maxSize := s.Store.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+protocol.FrameOverhead)
	reader, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected multipart form data", http.StatusBadRequest)
		return
	}

	var stored int
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, "malformed multipart body", http.StatusBadRequest)
			return
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}

		payload, err := io.ReadAll(io.LimitReader(part, maxSize+1))
		_ = part.Close()
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}
		if int64(len(payload)) > maxSize {
			http.Error(w, protocol.ErrFileTooLarge.Message, http.StatusRequestEntityTooLarge)
			return
		}

		meta, announce, err := s.Dispatcher.storeFile(sessionCode, "", part.FileName(),
			part.Header.Get("Content-Type"), payload, "share")
		if err != nil {
			writeShareError(w, err)
			return
		}
		announce()
		stored++
		logging.Info("file shared over http",
			zap.String("session", sessionCode),
			zap.String("file", meta.ID),
			zap.Int64("size", meta.Size))
	}

	if stored == 0 {
		http.Error(w, "no files in request", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func writeShareError(w http.ResponseWriter, err error) {
	switch protocol.CodeOf(err) {
	case protocol.CodeFileTooLarge:
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case protocol.CodeEmptyFile:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case protocol.CodeSessionFileCapReached, protocol.CodeOutOfMemory:
		http.Error(w, err.Error(), http.StatusInsufficientStorage)
	case protocol.CodeNotFound, protocol.CodeSessionExpired:
		writeStoreError(w, err)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
