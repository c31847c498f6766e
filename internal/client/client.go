// Package client provides a Go handle on a beam server: a websocket
// connection with request/ack correlation, typed helpers for every
// operation, and a channel of server-pushed events.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zulfikawr/beam/internal/protocol"
)

// Event is a server-initiated frame: a broadcast or a directed push.
type Event struct {
	Name    string
	Payload json.RawMessage
	Binary  []byte
}

// Ack is the structured reply to one call.
type Ack struct {
	Payload json.RawMessage
	Binary  []byte
}

type ackPending struct {
	ch chan ackResult
}

type ackResult struct {
	ack *Ack
	err error
}

// Client is one live connection. All methods are safe for concurrent use,
// though the server processes calls from one connection strictly in order.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	nextAck uint64
	pending map[uint64]ackPending
	closed  bool

	events chan Event
	done   chan struct{}
}

// Options tunes a Dial.
type Options struct {
	// Timeout bounds each call. Zero means DefaultRPCTimeout.
	Timeout time.Duration
	// EventBuffer sizes the pushed-event channel. Zero means 64.
	EventBuffer int
}

// Dial connects to a beam server websocket endpoint, e.g.
// "ws://192.168.1.10:3000/ws".
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = protocol.DefaultRPCTimeout
	}
	buf := opts.EventBuffer
	if buf <= 0 {
		buf = 64
	}

	c := &Client{
		conn:    wsConn,
		timeout: timeout,
		pending: make(map[uint64]ackPending),
		events:  make(chan Event, buf),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the channel of server pushes. The channel closes when the
// connection goes away. Slow consumers lose events rather than stalling the
// read loop.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close tears the connection down. In-flight calls fail.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		for id, p := range c.pending {
			p.ch <- ackResult{err: fmt.Errorf("connection closed")}
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.events)
		close(c.done)
	}()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		f, err := protocol.DecodeFrame(data)
		if err != nil {
			continue
		}

		if f.Event == protocol.EventAck {
			c.deliverAck(f)
			continue
		}

		ev := Event{Name: f.Event, Payload: f.Payload}
		if len(f.Binary) > 0 {
			ev.Binary = append([]byte(nil), f.Binary...)
		}
		select {
		case c.events <- ev:
		default:
			// Dropped; the consumer is not keeping up.
		}
	}
}

func (c *Client) deliverAck(f *protocol.Frame) {
	c.mu.Lock()
	p, ok := c.pending[f.AckID]
	if ok {
		delete(c.pending, f.AckID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	ack := &Ack{Payload: f.Payload}
	if len(f.Binary) > 0 {
		ack.Binary = append([]byte(nil), f.Binary...)
	}

	var status struct {
		Success bool          `json:"success"`
		Error   string        `json:"error"`
		Code    protocol.Code `json:"code"`
	}
	if err := json.Unmarshal(f.Payload, &status); err != nil {
		p.ch <- ackResult{err: fmt.Errorf("malformed ack: %w", err)}
		return
	}
	if !status.Success {
		p.ch <- ackResult{err: &protocol.Error{Code: status.Code, Message: status.Error}}
		return
	}
	p.ch <- ackResult{ack: ack}
}

// Call sends one request frame and waits for its ack. payload may be nil for
// operations that take none; bin carries the frame's binary part.
func (c *Client) Call(ctx context.Context, event string, payload any, bin []byte) (*Ack, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection closed")
	}
	c.nextAck++
	id := c.nextAck
	p := ackPending{ch: make(chan ackResult, 1)}
	c.pending[id] = p
	c.mu.Unlock()

	data, err := protocol.EncodeFrame(&protocol.Frame{
		Event:   event,
		AckID:   id,
		Payload: raw,
		Binary:  bin,
	})
	if err != nil {
		c.forget(id)
		return nil, err
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("write %s: %w", event, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case res := <-p.ch:
		return res.ack, res.err
	case <-ctx.Done():
		c.forget(id)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, protocol.ErrRPCTimeout
		}
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("connection closed")
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// SessionInfo is the ack of CreateSession.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// CreateSession makes a new session; the caller is its first member.
func (c *Client) CreateSession(ctx context.Context) (*SessionInfo, error) {
	ack, err := c.Call(ctx, protocol.EventSessionCreate, struct{}{}, nil)
	if err != nil {
		return nil, err
	}
	var info SessionInfo
	if err := json.Unmarshal(ack.Payload, &info); err != nil {
		return nil, fmt.Errorf("decode session info: %w", err)
	}
	return &info, nil
}

// Join enters an existing session by code and returns its current contents.
func (c *Client) Join(ctx context.Context, sessionCode, displayName string) (*protocol.SessionSnapshot, error) {
	ack, err := c.Call(ctx, protocol.EventSessionJoin, protocol.JoinRequest{
		SessionID:   sessionCode,
		DisplayName: displayName,
	}, nil)
	if err != nil {
		return nil, err
	}
	var snap protocol.SessionSnapshot
	if err := json.Unmarshal(ack.Payload, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Leave exits the current session.
func (c *Client) Leave(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.EventSessionLeave, struct{}{}, nil)
	return err
}

type fileAck struct {
	File protocol.FileMetadata `json:"file"`
}

// UploadFile sends a small file in a single frame.
func (c *Client) UploadFile(ctx context.Context, filename, mimeType string, payload []byte) (*protocol.FileMetadata, error) {
	ack, err := c.Call(ctx, protocol.EventFileUpload, protocol.UploadRequest{
		Filename: filename,
		MimeType: mimeType,
		Size:     int64(len(payload)),
	}, payload)
	if err != nil {
		return nil, err
	}
	var fa fileAck
	if err := json.Unmarshal(ack.Payload, &fa); err != nil {
		return nil, fmt.Errorf("decode file metadata: %w", err)
	}
	return &fa.File, nil
}

// UploadChunked streams a large payload in fixed-size chunks and finalizes
// the upload. The server reassembles regardless of chunk arrival order; this
// helper simply sends them sequentially.
func (c *Client) UploadChunked(ctx context.Context, filename, mimeType string, payload []byte) (*protocol.FileMetadata, error) {
	total := (len(payload) + protocol.ChunkSize - 1) / protocol.ChunkSize
	if total == 0 {
		total = 1
	}

	ack, err := c.Call(ctx, protocol.EventUploadStart, protocol.UploadStartRequest{
		Filename:    filename,
		MimeType:    mimeType,
		Size:        int64(len(payload)),
		TotalChunks: total,
	}, nil)
	if err != nil {
		return nil, err
	}
	var start struct {
		UploadID string `json:"uploadId"`
	}
	if err := json.Unmarshal(ack.Payload, &start); err != nil {
		return nil, fmt.Errorf("decode upload id: %w", err)
	}

	for i := 0; i < total; i++ {
		lo := i * protocol.ChunkSize
		hi := lo + protocol.ChunkSize
		if hi > len(payload) {
			hi = len(payload)
		}
		if _, err := c.Call(ctx, protocol.EventUploadChunk, protocol.UploadChunkRequest{
			UploadID:   start.UploadID,
			ChunkIndex: i,
		}, payload[lo:hi]); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	done, err := c.Call(ctx, protocol.EventUploadComplete, protocol.UploadCompleteRequest{
		UploadID: start.UploadID,
	}, nil)
	if err != nil {
		return nil, err
	}
	var fa fileAck
	if err := json.Unmarshal(done.Payload, &fa); err != nil {
		return nil, fmt.Errorf("decode file metadata: %w", err)
	}
	return &fa.File, nil
}

// DownloadFile fetches a file's bytes over the socket.
func (c *Client) DownloadFile(ctx context.Context, fileID string) (*protocol.FileMetadata, []byte, error) {
	ack, err := c.Call(ctx, protocol.EventFileRequest, protocol.FileRef{FileID: fileID}, nil)
	if err != nil {
		return nil, nil, err
	}
	var fa fileAck
	if err := json.Unmarshal(ack.Payload, &fa); err != nil {
		return nil, nil, fmt.Errorf("decode file metadata: %w", err)
	}
	return &fa.File, ack.Binary, nil
}

// DeleteFile removes a file from the current session.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	_, err := c.Call(ctx, protocol.EventFileDelete, protocol.FileRef{FileID: fileID}, nil)
	return err
}

// SendMessage posts a text message to the current session.
func (c *Client) SendMessage(ctx context.Context, content string) (*protocol.MessageInfo, error) {
	ack, err := c.Call(ctx, protocol.EventMessageSend, protocol.MessageSendRequest{Content: content}, nil)
	if err != nil {
		return nil, err
	}
	var ma struct {
		Message protocol.MessageInfo `json:"message"`
	}
	if err := json.Unmarshal(ack.Payload, &ma); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &ma.Message, nil
}

// DeleteMessage removes a message the caller is allowed to delete.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := c.Call(ctx, protocol.EventMessageDelete, protocol.MessageRef{MessageID: messageID}, nil)
	return err
}
