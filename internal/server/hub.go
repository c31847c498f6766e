package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/zulfikawr/beam/internal/logging"
	"github.com/zulfikawr/beam/internal/metrics"
	"github.com/zulfikawr/beam/internal/protocol"
)

// conn is one websocket connection as the hub sees it. Outbound frames go
// through the send queue; the connection's write pump drains it in order,
// which is what keeps a caller's ack ahead of the broadcast describing the
// same mutation.
type conn struct {
	id   string
	send chan []byte

	// displayName labels this connection's messages. Written only by the
	// connection's own read loop.
	displayName string

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string) *conn {
	return &conn{
		id:   id,
		send: make(chan []byte, writeQueueDepth),
		done: make(chan struct{}),
	}
}

// enqueue hands an encoded frame to the write pump. A connection whose
// queue is full is dropped rather than allowed to stall the room.
func (c *conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- data:
		return true
	default:
		logging.Warn("dropping slow connection", zap.String("conn_id", c.id))
		c.close()
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub tracks live connections and session rooms and fans events out.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
	rooms map[string]map[string]*conn // session id -> conn id -> conn
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*conn),
		rooms: make(map[string]map[string]*conn),
	}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	metrics.ActiveConnections.Inc()
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; ok {
		delete(h.conns, c.id)
		metrics.ActiveConnections.Dec()
	}
	for sessionID, room := range h.rooms {
		if _, ok := room[c.id]; ok {
			delete(room, c.id)
			if len(room) == 0 {
				delete(h.rooms, sessionID)
			}
		}
	}
	h.mu.Unlock()
	c.close()
}

// joinRoom puts a connection in a session room, leaving any previous room.
func (h *Hub) joinRoom(sessionID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sid, room := range h.rooms {
		if sid == sessionID {
			continue
		}
		if _, ok := room[c.id]; ok {
			delete(room, c.id)
			if len(room) == 0 {
				delete(h.rooms, sid)
			}
		}
	}
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[string]*conn)
		h.rooms[sessionID] = room
	}
	room[c.id] = c
}

// leaveRoom removes a connection from a session room.
func (h *Hub) leaveRoom(sessionID string, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
}

// Broadcast delivers an event to every member of a session room. except
// names a connection to skip (usually the one whose ack already carries the
// result); empty means everyone.
func (h *Hub) Broadcast(sessionID, event string, payload any, except string) {
	frame, err := protocol.EventFrame(event, payload, nil)
	if err != nil {
		logging.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	data, err := protocol.EncodeFrame(frame)
	if err != nil {
		logging.Error("encode broadcast frame", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, 4)
	for id, c := range h.rooms[sessionID] {
		if id == except {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	metrics.BroadcastsTotal.WithLabelValues(event).Inc()
	for _, c := range targets {
		if c.enqueue(data) {
			metrics.FramesTotal.WithLabelValues("out").Inc()
		}
	}
}

// SendTo delivers a frame to a single connection.
func (h *Hub) SendTo(connID string, frame *protocol.Frame) {
	data, err := protocol.EncodeFrame(frame)
	if err != nil {
		logging.Error("encode frame", zap.String("event", frame.Event), zap.Error(err))
		return
	}
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok && c.enqueue(data) {
		metrics.FramesTotal.WithLabelValues("out").Inc()
	}
}

// NotifySessionExpired tells every member their session is gone and empties
// the room. Implements the cleanup scheduler's Notifier.
func (h *Hub) NotifySessionExpired(sessionID, reason string) {
	h.Broadcast(sessionID, protocol.EventSessionExpired, protocol.SessionExpiredEvent{
		SessionID: sessionID,
		Reason:    reason,
	}, "")

	h.mu.Lock()
	delete(h.rooms, sessionID)
	h.mu.Unlock()
}

// RoomSize returns the number of connections in a session room.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}
