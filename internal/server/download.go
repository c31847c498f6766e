package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/zulfikawr/beam/internal/code"
	"github.com/zulfikawr/beam/internal/logging"
	"github.com/zulfikawr/beam/internal/metrics"
	"github.com/zulfikawr/beam/internal/protocol"
)

// handleDownload serves GET /d/{code}/{fileID} and GET /d/{code}/all.zip.
// The session code is the only credential, same as on the socket.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, protocol.DownloadPath)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.NotFound(w, r)
		return
	}
	sessionCode := code.CanonicalSessionCode(parts[0])
	target := parts[1]

	if !code.ValidSessionCode(sessionCode) {
		http.NotFound(w, r)
		return
	}

	if target == "all.zip" {
		s.serveSessionZip(w, r, sessionCode)
		return
	}
	if !code.ValidFileID(target) {
		http.NotFound(w, r)
		return
	}

	rec, err := s.Store.GetFilePayload(sessionCode, strings.ToLower(target))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	etag := `"` + rec.Digest + `"`
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(int64(len(rec.Payload)), 10))
	w.Header().Set("Content-Disposition", contentDisposition(rec.Filename))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, no-store")

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(rec.Payload); err != nil {
		logging.Debug("download write aborted",
			zap.String("session", sessionCode),
			zap.String("file", rec.ID),
			zap.Error(err))
		return
	}
	metrics.Downloads.WithLabelValues("http").Inc()
}

// contentDisposition builds an attachment header that survives non-ASCII
// filenames via the RFC 5987 filename* form.
func contentDisposition(filename string) string {
	ascii := true
	for _, r := range filename {
		if r > 0x7e || r < 0x20 || r == '"' || r == '\\' {
			ascii = false
			break
		}
	}
	if ascii {
		return fmt.Sprintf(`attachment; filename="%s"`, filename)
	}
	return fmt.Sprintf(`attachment; filename="file"; filename*=UTF-8''%s`,
		url.PathEscape(filename))
}

// writeStoreError maps store lookup failures onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch protocol.CodeOf(err) {
	case protocol.CodeNotFound, protocol.CodeInvalidFileID:
		http.Error(w, "not found", http.StatusNotFound)
	case protocol.CodeSessionExpired:
		http.Error(w, "session expired", http.StatusGone)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
