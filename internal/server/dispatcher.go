package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zulfikawr/beam/internal/clock"
	"github.com/zulfikawr/beam/internal/code"
	"github.com/zulfikawr/beam/internal/logging"
	"github.com/zulfikawr/beam/internal/metrics"
	"github.com/zulfikawr/beam/internal/protocol"
	"github.com/zulfikawr/beam/internal/store"
	"github.com/zulfikawr/beam/internal/upload"
)

// Dispatcher is the realtime request/reply and broadcast layer. It owns the
// websocket lifecycle: one read goroutine and one write goroutine per
// connection, a handler per named operation, and exactly one ack per
// request.
type Dispatcher struct {
	clk       clock.Clock
	store     *store.Store
	assembler *upload.Assembler
	hub       *Hub

	framesPerSecond float64 // 0 = unlimited
	maxFrameBytes   int64

	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
}

// handlerFunc services one operation. It returns the ack payload fields
// (success is added by the dispatcher), optional binary reply bytes, and an
// optional fan-out step. The dispatcher runs the fan-out only after the ack
// is queued, so on the caller's connection the ack always precedes any event
// describing the same mutation.
type handlerFunc func(c *conn, f *protocol.Frame) (map[string]any, []byte, func(), error)

// NewDispatcher wires the realtime layer over the store and assembler.
func NewDispatcher(clk clock.Clock, st *store.Store, asm *upload.Assembler, hub *Hub, framesPerSecond float64) *Dispatcher {
	d := &Dispatcher{
		clk:             clk,
		store:           st,
		assembler:       asm,
		hub:             hub,
		framesPerSecond: framesPerSecond,
		maxFrameBytes:   protocol.MaxFramePayload(st.MaxFileSize()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  WebSocketReadBuffer,
			WriteBufferSize: WebSocketWriteBuffer,
			CheckOrigin: func(r *http.Request) bool {
				// Session codes are the access control; origin checks add
				// nothing for non-browser clients.
				return true
			},
		},
	}
	d.handlers = map[string]handlerFunc{
		protocol.EventSessionCreate:  d.handleSessionCreate,
		protocol.EventSessionJoin:    d.handleSessionJoin,
		protocol.EventSessionLeave:   d.handleSessionLeave,
		protocol.EventFileUpload:     d.handleFileUpload,
		protocol.EventUploadStart:    d.handleUploadStart,
		protocol.EventUploadChunk:    d.handleUploadChunk,
		protocol.EventUploadComplete: d.handleUploadComplete,
		protocol.EventFileRequest:    d.handleFileRequest,
		protocol.EventFileDelete:     d.handleFileDelete,
		protocol.EventMessageSend:    d.handleMessageSend,
		protocol.EventMessageDelete:  d.handleMessageDelete,
	}
	return d
}

// HandleWS upgrades the request and runs the connection until it drops.
func (d *Dispatcher) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	connID, err := code.NewFileID()
	if err != nil {
		_ = ws.Close()
		return
	}
	c := newConn(connID)
	d.hub.register(c)
	logging.Debug("connection opened", zap.String("conn_id", connID))

	go d.writePump(c, ws)
	d.readLoop(c, ws, r)
}

// writePump drains the connection's send queue in order. It is the only
// goroutine that writes to the socket.
func (d *Dispatcher) writePump(c *conn, ws *websocket.Conn) {
	defer func() { _ = ws.Close() }()
	for {
		select {
		case data := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop processes inbound frames one at a time, which gives each
// connection program-order request handling.
func (d *Dispatcher) readLoop(c *conn, ws *websocket.Conn, r *http.Request) {
	defer d.teardown(c)

	ws.SetReadLimit(d.maxFrameBytes + protocol.MaxHeaderBytes)

	var limiter *rate.Limiter
	if d.framesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.framesPerSecond), int(d.framesPerSecond)+1)
	}

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue // pings and text frames are not part of the protocol
		}
		if limiter != nil {
			if err := limiter.Wait(r.Context()); err != nil {
				return
			}
		}
		metrics.FramesTotal.WithLabelValues("in").Inc()

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			logging.Warn("malformed frame, closing connection",
				zap.String("conn_id", c.id), zap.Error(err))
			return
		}
		if !d.dispatch(c, frame) {
			return
		}
	}
}

// dispatch routes one frame. A false return means the connection violated
// the protocol and must go away; application errors are acked, never fatal.
func (d *Dispatcher) dispatch(c *conn, f *protocol.Frame) bool {
	handler, ok := d.handlers[f.Event]
	if !ok {
		logging.Warn("unknown event, closing connection",
			zap.String("conn_id", c.id), zap.String("event", f.Event))
		return false
	}

	started := time.Now()
	payload, bin, fanout, err := handler(c, f)
	metrics.OperationDuration.WithLabelValues(f.Event).Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.OperationErrors.WithLabelValues(f.Event, string(protocol.CodeOf(err))).Inc()
		if f.AckID != 0 {
			d.hub.SendTo(c.id, protocol.ErrorAck(f.AckID, err))
		}
		return true
	}

	if f.AckID != 0 {
		if payload == nil {
			payload = map[string]any{}
		}
		payload["success"] = true
		ack, ackErr := protocol.Ack(f.AckID, payload, bin)
		if ackErr != nil {
			logging.Error("encode ack", zap.String("event", f.Event), zap.Error(ackErr))
			d.hub.SendTo(c.id, protocol.ErrorAck(f.AckID, protocol.ErrInternal))
			return true
		}
		d.hub.SendTo(c.id, ack)
	}

	// Events describing the mutation go out only after the ack is queued;
	// the per-connection write pump then preserves that order on the wire.
	if fanout != nil {
		fanout()
	}
	return true
}

// teardown runs when the read loop exits for any reason: unbind the
// member, tell the room, drop the connection.
func (d *Dispatcher) teardown(c *conn) {
	if sessionID, remaining, ok := d.store.RemoveMember(c.id); ok {
		d.hub.leaveRoom(sessionID, c.id)
		d.hub.Broadcast(sessionID, protocol.EventMemberLeft,
			protocol.MemberChange{MemberCount: remaining}, "")
	}
	d.hub.unregister(c)
	logging.Debug("connection closed", zap.String("conn_id", c.id))
}
