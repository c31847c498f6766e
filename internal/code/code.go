// Package code generates and validates the identifiers used across beam:
// session codes, file ids, upload ids, and message ids.
package code

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zulfikawr/beam/internal/protocol"
)

var (
	sessionCodePattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{5}$`)
	fileIDPattern      = regexp.MustCompile(`^[0-9a-f]{32}$`)
)

// NewSessionCode draws a fresh 5-symbol session code. The alphabet has 32
// symbols, so mapping a random byte with a modulus is already uniform.
func NewSessionCode() (string, error) {
	buf := make([]byte, protocol.SessionCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	out := make([]byte, protocol.SessionCodeLength)
	for i, b := range buf {
		out[i] = protocol.SessionCodeAlphabet[int(b)%len(protocol.SessionCodeAlphabet)]
	}
	return string(out), nil
}

// NewFileID returns a 32-char lower-case hex identifier.
func NewFileID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewUploadID returns a fresh identifier for a chunked upload. Same shape
// as file ids.
func NewUploadID() (string, error) {
	return NewFileID()
}

// NewMessageID returns a message identifier of the form msg_<millis>_<8hex>.
func NewMessageID(now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return fmt.Sprintf("msg_%d_%s", now.UnixMilli(), hex.EncodeToString(buf)), nil
}

// CanonicalSessionCode upper-cases a session code. Codes compare
// case-insensitively; the canonical form is always upper-case.
func CanonicalSessionCode(s string) string {
	return strings.ToUpper(s)
}

// ValidSessionCode reports whether s is a well-formed session code in any
// case.
func ValidSessionCode(s string) bool {
	return sessionCodePattern.MatchString(CanonicalSessionCode(s))
}

// ValidFileID reports whether s is a well-formed file or upload id.
func ValidFileID(s string) bool {
	return fileIDPattern.MatchString(strings.ToLower(s))
}

// SanitizeFilename strips path separators, null bytes and traversal
// sequences from an uploader-supplied filename and truncates it to the
// filesystem-safe limit. The result is never empty.
func SanitizeFilename(name string) string {
	cleaned := strings.NewReplacer("/", "", "\\", "", "\x00", "").Replace(name)
	for strings.Contains(cleaned, "..") {
		cleaned = strings.ReplaceAll(cleaned, "..", "")
	}
	cleaned = strings.TrimSpace(cleaned)

	if len(cleaned) > protocol.MaxFilenameBytes {
		cleaned = truncateUTF8(cleaned, protocol.MaxFilenameBytes)
	}
	if cleaned == "" || cleaned == "." {
		return "unnamed"
	}
	return cleaned
}

// FallbackFilename names a file whose sanitized name came up unusable.
func FallbackFilename(fileID, ext string) string {
	return "file-" + fileID + ext
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
