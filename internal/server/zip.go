package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/zulfikawr/beam/internal/logging"
	"github.com/zulfikawr/beam/internal/metrics"
)

// serveSessionZip streams every file in the session as a single archive.
// Payloads live in memory already, so this is one pass with no temp files.
func (s *Server) serveSessionZip(w http.ResponseWriter, r *http.Request, sessionCode string) {
	files, err := s.Store.ListFiles(sessionCode)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(files) == 0 {
		http.Error(w, "session has no files", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s.zip"`, strings.ToLower(sessionCode)))
	w.Header().Set("Cache-Control", "private, no-store")
	if r.Method == http.MethodHead {
		return
	}

	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(files))
	for _, meta := range files {
		rec, err := s.Store.GetFilePayload(sessionCode, meta.ID)
		if err != nil {
			// File deleted between the listing and this read; skip it.
			continue
		}
		fh := &zip.FileHeader{
			Name:               dedupeZipName(seen, rec.Filename),
			Method:             zipMethod(rec.MimeType),
			Modified:           rec.UploadedAt,
			UncompressedSize64: uint64(len(rec.Payload)),
		}
		f, err := zw.CreateHeader(fh)
		if err != nil {
			logging.Warn("zip entry failed",
				zap.String("session", sessionCode),
				zap.String("file", rec.ID),
				zap.Error(err))
			break
		}
		if _, err := f.Write(rec.Payload); err != nil {
			// Client went away mid-stream; nothing useful to send after this.
			logging.Debug("zip write aborted", zap.String("session", sessionCode), zap.Error(err))
			break
		}
	}
	if err := zw.Close(); err != nil {
		logging.Debug("zip close failed", zap.String("session", sessionCode), zap.Error(err))
		return
	}
	metrics.Downloads.WithLabelValues("zip").Inc()
}

// zipMethod stores already-compressed media as-is and deflates the rest.
func zipMethod(mimeType string) uint16 {
	switch {
	case strings.HasPrefix(mimeType, "video/"),
		strings.HasPrefix(mimeType, "audio/"),
		strings.HasPrefix(mimeType, "image/") && !strings.HasSuffix(mimeType, "/bmp") && !strings.HasSuffix(mimeType, "/tiff"),
		strings.Contains(mimeType, "zip"),
		strings.Contains(mimeType, "gzip"),
		strings.Contains(mimeType, "zstd"),
		strings.Contains(mimeType, "x-7z"),
		strings.Contains(mimeType, "x-rar"):
		return zip.Store
	default:
		return zip.Deflate
	}
}

// dedupeZipName keeps archive entry names unique when two uploads share a
// filename.
func dedupeZipName(seen map[string]int, name string) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	dot := strings.LastIndex(name, ".")
	if dot <= 0 {
		return fmt.Sprintf("%s (%d)", name, n)
	}
	return fmt.Sprintf("%s (%d)%s", name[:dot], n, name[dot:])
}
