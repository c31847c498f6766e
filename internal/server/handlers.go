package server

import (
	"encoding/json"
	"path"

	"github.com/zulfikawr/beam/internal/code"
	"github.com/zulfikawr/beam/internal/metrics"
	"github.com/zulfikawr/beam/internal/protocol"
	"github.com/zulfikawr/beam/internal/store"
)

// sessionOf resolves the caller's binding or fails NotJoined.
func (d *Dispatcher) sessionOf(c *conn) (string, error) {
	sessionID, ok := d.store.SessionOf(c.id)
	if !ok {
		return "", protocol.ErrNotJoined
	}
	return sessionID, nil
}

func decodePayload[T any](f *protocol.Frame) (T, error) {
	var req T
	if len(f.Payload) == 0 {
		return req, protocol.ErrInternal
	}
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return req, protocol.ErrInternal
	}
	return req, nil
}

func (d *Dispatcher) handleSessionCreate(c *conn, f *protocol.Frame) (map[string]any, []byte, func(), error) {
	s, err := d.store.CreateSession(c.id)
	if err != nil {
		return nil, nil, nil, err
	}
	// The creator is a member from the start.
	if _, err := d.store.AddMember(s.ID, c.id); err != nil {
		return nil, nil, nil, err
	}
	d.hub.joinRoom(s.ID, c)

	snap := s.Snapshot()
	fanout := func() {
		if ev, err := protocol.EventFrame(protocol.EventSessionCreated, snap, nil); err == nil {
			d.hub.SendTo(c.id, ev)
		}
	}
	return map[string]any{
		"sessionId": snap.ID,
		"createdAt": snap.CreatedAt,
		"expiresAt": snap.ExpiresAt,
	}, nil, fanout, nil
}

func (d *Dispatcher) handleSessionJoin(c *conn, f *protocol.Frame) (map[string]any, []byte, func(), error) {
	req, err := decodePayload[protocol.JoinRequest](f)
	if err != nil {
		return nil, nil, nil, err
	}
	if !code.ValidSessionCode(req.SessionID) {
		return nil, nil, nil, protocol.ErrInvalidCode
	}
	sessionID := code.CanonicalSessionCode(req.SessionID)

	count, err := d.store.AddMember(sessionID, c.id)
	if err != nil {
		return nil, nil, nil, err
	}
	c.displayName = req.DisplayName
	d.hub.joinRoom(sessionID, c)

	s, err := d.store.GetSession(sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	snap := s.Snapshot()

	fanout := func() {
		if ev, err := protocol.EventFrame(protocol.EventSessionJoined, snap, nil); err == nil {
			d.hub.SendTo(c.id, ev)
		}
		d.hub.Broadcast(sessionID, protocol.EventMemberJoined,
			protocol.MemberChange{MemberCount: count}, c.id)
	}

	return map[string]any{
		"sessionId":   snap.ID,
		"createdAt":   snap.CreatedAt,
		"expiresAt":   snap.ExpiresAt,
		"files":       snap.Files,
		"messages":    snap.Messages,
		"memberCount": snap.MemberCount,
	}, nil, fanout, nil
}

func (d *Dispatcher) handleSessionLeave(c *conn, f *protocol.Frame) (map[string]any, []byte, func(), error) {
	sessionID, remaining, ok := d.store.RemoveMember(c.id)
	if !ok {
		return map[string]any{"ok": true}, nil, nil, nil
	}
	d.hub.leaveRoom(sessionID, c.id)
	fanout := func() {
		d.hub.Broadcast(sessionID, protocol.EventMemberLeft,
			protocol.MemberChange{MemberCount: remaining}, "")
	}
	return map[string]any{"ok": true}, nil, fanout, nil
}

// storeFile builds the record and stores it. The returned announce step
// broadcasts file:added to the room; callers run it after their own reply is
// on its way.
func (d *Dispatcher) storeFile(sessionID, uploadedBy, filename, mimeType string, payload []byte, uploadPath string) (protocol.FileMetadata, func(), error) {
	fileID, err := code.NewFileID()
	if err != nil {
		return protocol.FileMetadata{}, nil, protocol.ErrInternal
	}
	name := code.SanitizeFilename(filename)
	if name == "unnamed" {
		name = code.FallbackFilename(fileID, path.Ext(filename))
	}

	rec := &store.FileRecord{
		ID:         fileID,
		Filename:   name,
		MimeType:   mimeType,
		Payload:    payload,
		UploadedBy: uploadedBy,
		UploadedAt: d.clk.Now(),
	}
	if err := d.store.AddFile(sessionID, rec); err != nil {
		return protocol.FileMetadata{}, nil, err
	}

	meta := rec.Metadata()
	metrics.FilesTotal.WithLabelValues(uploadPath).Inc()
	announce := func() {
		d.hub.Broadcast(sessionID, protocol.EventFileAdded, map[string]any{"file": meta}, "")
	}
	return meta, announce, nil
}

func (d *Dispatcher) handleFileUpload(c *conn, f *protocol.Frame) (map[string]any, []byte, func(), error) {
	sessionID, err := d.sessionOf(c)
	if err != nil {
		return nil, nil, nil, err
	}
	req, err := decodePayload[protocol.UploadRequest](f)
	if err != nil {
		return nil, nil, nil, err
	}

	// The frame owns f.Binary only for the duration of the read; the
	// stored payload must not alias the read buffer.
	payload := make([]byte, len(f.Binary))
	copy(payload, f.Binary)

	meta, announce, err := d.storeFile(sessionID, c.id, req.Filename, req.MimeType, payload, "single")
	if err != nil {
		return nil, nil, nil, err
	}
	return map[string]any{"file": meta}, nil, announce, nil
}

func (d *Dispatcher) handleUploadStart(c *conn, f *protocol.Frame) (map[string]any, []byte, func(), error) {
	sessionID, err := d.sessionOf(c)
	if err != nil {
		return nil, nil, nil, err
	}
	req, err := decodePayload[protocol.UploadStartRequest](f)
	if err != nil {
		return nil, nil, nil, err
	}
	uploadID, err := d.assembler.Start(sessionID, req.Filename, req.MimeType, req.Size, req.TotalChunks)
	if err != nil {
		return nil, nil, nil, err
	}
	return map[string]any{"uploadId": uploadID}, nil, nil, nil
}

func (d *Dispatcher) handleUploadChunk(c *conn, f *protocol.Frame) (map[string]any, []byte, func(), error) {
	req, err := decodePayload[protocol.UploadChunkRequest](f)
	if err != nil {
		return nil, nil, nil, err
	}

	chunk := make([]byte, len(f.Binary))
	copy(chunk, f.Binary)

	rcpt, err := d.assembler.Chunk(req.UploadID, req.ChunkIndex, chunk)
	if err != nil {
		return nil, nil, nil, err
	}

	progress := protocol.ChunkProgress{
		UploadID:   req.UploadID,
		ChunkIndex: req.ChunkIndex,
		Received:   rcpt.Received,
		Total:      rcpt.Total,
		Progress:   float64(rcpt.Received) / float64(rcpt.Total),
	}
	fanout := func() {
		if ev, evErr := protocol.EventFrame(protocol.EventChunkReceived, progress, nil); evErr == nil {
			d.hub.SendTo(c.id, ev)
		}
	}

	return map[string]any{
		"received":   rcpt.Received,
		"total":      rcpt.Total,
		"isComplete": rcpt.IsComplete,
		"duplicate":  rcpt.Duplicate,
	}, nil, fanout, nil
}

func (d *Dispatcher) handleUploadComplete(c *conn, f *protocol.Frame) (map[string]any, []byte, func(), error) {
	req, err := decodePayload[protocol.UploadCompleteRequest](f)
	if err != nil {
		return nil, nil, nil, err
	}
	res, err := d.assembler.Complete(req.UploadID)
	if err != nil {
		return nil, nil, nil, err
	}

	// A retried Complete must not store the file twice; the first call's
	// outcome is the answer for every retry in the drain window, and only
	// the first call announces the file to the room.
	var announce func()
	meta, err := res.Finalize(func() (protocol.FileMetadata, error) {
		m, a, storeErr := d.storeFile(res.SessionID, c.id, res.Filename, res.MimeType, res.Payload, "chunked")
		announce = a
		return m, storeErr
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return map[string]any{"file": meta}, nil, announce, nil
}

func (d *Dispatcher) handleFileRequest(c *conn, f *protocol.Frame) (map[string]any, []byte, func(), error) {
	sessionID, err := d.sessionOf(c)
	if err != nil {
		return nil, nil, nil, err
	}
	req, err := decodePayload[protocol.FileRef](f)
	if err != nil {
		return nil, nil, nil, err
	}
	if !code.ValidFileID(req.FileID) {
		return nil, nil, nil, protocol.ErrInvalidFileID
	}

	rec, err := d.store.GetFilePayload(sessionID, req.FileID)
	if err != nil {
		return nil, nil, nil, err
	}
	metrics.Downloads.WithLabelValues("rpc").Inc()

	// The payload goes out as the frame's binary part; encoding copies it
	// at the egress edge, so a concurrent delete cannot pull the bytes out
	// from under the serializer.
	return map[string]any{"file": rec.Metadata()}, rec.Payload, nil, nil
}

func (d *Dispatcher) handleFileDelete(c *conn, f *protocol.Frame) (map[string]any, []byte, func(), error) {
	sessionID, err := d.sessionOf(c)
	if err != nil {
		return nil, nil, nil, err
	}
	req, err := decodePayload[protocol.FileRef](f)
	if err != nil {
		return nil, nil, nil, err
	}
	if !code.ValidFileID(req.FileID) {
		return nil, nil, nil, protocol.ErrInvalidFileID
	}
	if err := d.store.DeleteFile(sessionID, req.FileID); err != nil {
		return nil, nil, nil, err
	}
	fanout := func() {
		d.hub.Broadcast(sessionID, protocol.EventFileDeleted, protocol.FileRef{FileID: req.FileID}, "")
	}
	return map[string]any{"ok": true}, nil, fanout, nil
}

func (d *Dispatcher) handleMessageSend(c *conn, f *protocol.Frame) (map[string]any, []byte, func(), error) {
	sessionID, err := d.sessionOf(c)
	if err != nil {
		return nil, nil, nil, err
	}
	req, err := decodePayload[protocol.MessageSendRequest](f)
	if err != nil {
		return nil, nil, nil, err
	}

	msgID, err := code.NewMessageID(d.clk.Now())
	if err != nil {
		return nil, nil, nil, protocol.ErrInternal
	}
	rec := &store.MessageRecord{
		ID:         msgID,
		Content:    req.Content,
		SentBy:     c.id,
		SentByName: c.displayName,
		SentAt:     d.clk.Now(),
	}
	if err := d.store.AddMessage(sessionID, rec); err != nil {
		return nil, nil, nil, err
	}

	info := rec.Info()
	fanout := func() {
		d.hub.Broadcast(sessionID, protocol.EventMessageAdded, map[string]any{"message": info}, "")
	}
	return map[string]any{"message": info}, nil, fanout, nil
}

func (d *Dispatcher) handleMessageDelete(c *conn, f *protocol.Frame) (map[string]any, []byte, func(), error) {
	sessionID, err := d.sessionOf(c)
	if err != nil {
		return nil, nil, nil, err
	}
	req, err := decodePayload[protocol.MessageRef](f)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := d.store.DeleteMessage(sessionID, req.MessageID, c.id); err != nil {
		return nil, nil, nil, err
	}
	fanout := func() {
		d.hub.Broadcast(sessionID, protocol.EventMessageDeleted, protocol.MessageRef{MessageID: req.MessageID}, "")
	}
	return map[string]any{"ok": true}, nil, fanout, nil
}
