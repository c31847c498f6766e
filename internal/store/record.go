package store

import (
	"time"

	"github.com/zulfikawr/beam/internal/protocol"
)

// FileRecord is one stored binary blob plus its metadata. The payload is
// owned by the session that holds the record; readers get the same slice
// and must not mutate it.
type FileRecord struct {
	ID         string
	Filename   string
	MimeType   string
	Payload    []byte
	Digest     string // blake2b-256 of the payload, lower-case hex
	UploadedAt time.Time
	UploadedBy string
}

// Metadata returns the wire representation without the payload bytes.
func (f *FileRecord) Metadata() protocol.FileMetadata {
	return protocol.FileMetadata{
		ID:         f.ID,
		Filename:   f.Filename,
		MimeType:   f.MimeType,
		Size:       int64(len(f.Payload)),
		Digest:     f.Digest,
		UploadedAt: f.UploadedAt.UnixMilli(),
		UploadedBy: f.UploadedBy,
	}
}

// MessageRecord is one chat message inside a session.
type MessageRecord struct {
	ID         string
	Content    string
	SentBy     string
	SentByName string
	SentAt     time.Time
}

// Info returns the wire representation of the message.
func (m *MessageRecord) Info() protocol.MessageInfo {
	return protocol.MessageInfo{
		ID:         m.ID,
		Content:    m.Content,
		SentBy:     m.SentBy,
		SentByName: m.SentByName,
		SentAt:     m.SentAt.UnixMilli(),
	}
}
