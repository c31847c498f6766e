package protocol

import (
	"errors"
	"fmt"
)

// Code is the machine-readable tag attached to every application error.
// Codes are stable wire contract; clients branch on them while the Message
// is shown to people as-is.
type Code string

const (
	CodeInvalidCode              Code = "InvalidCode"
	CodeNotFound                 Code = "NotFound"
	CodeSessionExpired           Code = "SessionExpired"
	CodeNotJoined                Code = "NotJoined"
	CodeForbidden                Code = "Forbidden"
	CodeEmpty                    Code = "Empty"
	CodeTooLong                  Code = "TooLong"
	CodeFileTooLarge             Code = "FileTooLarge"
	CodeEmptyFile                Code = "EmptyFile"
	CodeMessageCapReached        Code = "MessageCapReached"
	CodeSessionFileCapReached    Code = "SessionFileCapReached"
	CodeOutOfMemory              Code = "OutOfMemory"
	CodeTooManyConcurrentUploads Code = "TooManyConcurrentUploads"
	CodeUploadNotFound           Code = "UploadNotFound"
	CodeAlreadyCompleted         Code = "AlreadyCompleted"
	CodeInvalidChunkIndex        Code = "InvalidChunkIndex"
	CodeIncomplete               Code = "Incomplete"
	CodeMissingChunk             Code = "MissingChunk"
	CodeSizeMismatch             Code = "SizeMismatch"
	CodeInvalidFileID            Code = "InvalidFileID"
	CodeTimeout                  Code = "Timeout"
	CodeInternal                 Code = "Internal"
)

// Error is a tagged application error. The core packages return *Error for
// every user-visible failure; the dispatcher turns it into a structured ack
// and nothing else. Broadcasts never carry errors.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is allows errors.Is comparisons against another *Error by code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// CodeOf extracts the protocol code from err, or CodeInternal when err is
// not a tagged application error.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Stable user-facing errors, one per code. The strings are part of the
// product surface; UIs display them verbatim.
var (
	ErrInvalidCode           = newError(CodeInvalidCode, "That session code is not valid")
	ErrSessionNotFound       = newError(CodeNotFound, "Session not found or already expired")
	ErrFileNotFound          = newError(CodeNotFound, "File not found")
	ErrMessageNotFound       = newError(CodeNotFound, "Message not found")
	ErrSessionExpired        = newError(CodeSessionExpired, "This session has expired")
	ErrNotJoined             = newError(CodeNotJoined, "Join a session first")
	ErrForbidden             = newError(CodeForbidden, "Only the sender or the session creator can delete this")
	ErrEmptyMessage          = newError(CodeEmpty, "Message is empty")
	ErrMessageTooLong        = newError(CodeTooLong, "Message is too long")
	ErrFileTooLarge          = newError(CodeFileTooLarge, "File exceeds the maximum allowed size")
	ErrEmptyFile             = newError(CodeEmptyFile, "File is empty")
	ErrMessageCapReached     = newError(CodeMessageCapReached, "This session has reached its message limit")
	ErrFileCapReached        = newError(CodeSessionFileCapReached, "This session has reached its file limit")
	ErrOutOfMemory           = newError(CodeOutOfMemory, "The server is out of storage space, try again later")
	ErrTooManyUploads        = newError(CodeTooManyConcurrentUploads, "Too many uploads in progress for this session")
	ErrUploadNotFound        = newError(CodeUploadNotFound, "Upload not found or already cleaned up")
	ErrUploadCompleted       = newError(CodeAlreadyCompleted, "Upload already completed")
	ErrInvalidChunkIndex     = newError(CodeInvalidChunkIndex, "Chunk index out of range")
	ErrUploadIncomplete      = newError(CodeIncomplete, "Not all chunks have been received")
	ErrUploadSizeMismatch    = newError(CodeSizeMismatch, "Assembled size does not match the declared size")
	ErrInvalidFileID         = newError(CodeInvalidFileID, "That file id is not valid")
	ErrRPCTimeout            = newError(CodeTimeout, "The server did not respond in time")
	ErrInternal              = newError(CodeInternal, "Something went wrong, try again")
)

// MissingChunkError reports the first gap found while assembling an upload.
func MissingChunkError(index int) *Error {
	return &Error{Code: CodeMissingChunk, Message: fmt.Sprintf("Chunk %d is missing from this upload", index)}
}
