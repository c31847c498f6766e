package protocol

// Structured payloads exchanged between client and server. All keys are
// camelCase and all timestamps are milliseconds since the Unix epoch.

// FileMetadata describes a stored file without its bytes.
type FileMetadata struct {
	ID         string `json:"fileId"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest,omitempty"`
	UploadedAt int64  `json:"uploadedAt"`
	UploadedBy string `json:"uploadedBy"`
}

// MessageInfo describes one chat message.
type MessageInfo struct {
	ID         string `json:"messageId"`
	Content    string `json:"content"`
	SentBy     string `json:"sentBy"`
	SentByName string `json:"sentByName"`
	SentAt     int64  `json:"sentAt"`
}

// SessionSnapshot is the full session view returned on create and join.
type SessionSnapshot struct {
	ID          string         `json:"sessionId"`
	CreatedAt   int64          `json:"createdAt"`
	ExpiresAt   int64          `json:"expiresAt"`
	Files       []FileMetadata `json:"files"`
	Messages    []MessageInfo  `json:"messages"`
	MemberCount int            `json:"memberCount"`
}

// JoinRequest is the payload of session:join.
type JoinRequest struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName,omitempty"`
}

// UploadRequest is the payload of file:upload. The file bytes travel as the
// frame's binary part.
type UploadRequest struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// UploadStartRequest is the payload of file:upload-start.
type UploadStartRequest struct {
	Filename    string `json:"filename"`
	MimeType    string `json:"mimeType"`
	Size        int64  `json:"size"`
	TotalChunks int    `json:"totalChunks"`
}

// UploadChunkRequest is the payload of file:upload-chunk. The chunk bytes
// travel as the frame's binary part (the chunkData field).
type UploadChunkRequest struct {
	UploadID   string `json:"uploadId"`
	ChunkIndex int    `json:"chunkIndex"`
}

// UploadCompleteRequest is the payload of file:upload-complete.
type UploadCompleteRequest struct {
	UploadID string `json:"uploadId"`
}

// FileRef addresses one file within the caller's session.
type FileRef struct {
	FileID string `json:"fileId"`
}

// MessageSendRequest is the payload of message:send.
type MessageSendRequest struct {
	Content string `json:"content"`
}

// MessageRef addresses one message within the caller's session.
type MessageRef struct {
	MessageID string `json:"messageId"`
}

// ChunkProgress is sent back to the uploader after every accepted chunk.
type ChunkProgress struct {
	UploadID   string  `json:"uploadId"`
	ChunkIndex int     `json:"chunkIndex"`
	Received   int     `json:"received"`
	Total      int     `json:"total"`
	Progress   float64 `json:"progress"`
}

// MemberChange carries the new member count of a session room.
type MemberChange struct {
	MemberCount int `json:"memberCount"`
}

// SessionExpiredEvent tells members their session is going away.
type SessionExpiredEvent struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// Expiry reasons.
const (
	ExpireReasonTTL      = "ttl"
	ExpireReasonPressure = "memory-pressure"
)
