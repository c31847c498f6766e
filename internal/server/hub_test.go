package server

import (
	"encoding/json"
	"testing"

	"github.com/zulfikawr/beam/internal/protocol"
)

func drainFrame(t *testing.T, c *conn) *protocol.Frame {
	t.Helper()
	select {
	case data := <-c.send:
		f, err := protocol.DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode queued frame: %v", err)
		}
		return f
	default:
		t.Fatalf("no frame queued for %s", c.id)
		return nil
	}
}

func TestBroadcastSkipsExcept(t *testing.T) {
	h := NewHub()
	a := newConn("conn-a")
	b := newConn("conn-b")
	h.register(a)
	h.register(b)
	h.joinRoom("ROOM1", a)
	h.joinRoom("ROOM1", b)

	h.Broadcast("ROOM1", protocol.EventMessageAdded, map[string]any{"x": 1}, "conn-a")

	if len(a.send) != 0 {
		t.Fatalf("excepted connection received a frame")
	}
	f := drainFrame(t, b)
	if f.Event != protocol.EventMessageAdded {
		t.Fatalf("event=%q", f.Event)
	}
}

func TestBroadcastReachesOnlyRoomMembers(t *testing.T) {
	h := NewHub()
	a := newConn("conn-a")
	b := newConn("conn-b")
	h.register(a)
	h.register(b)
	h.joinRoom("ROOM1", a)
	h.joinRoom("ROOM2", b)

	h.Broadcast("ROOM1", protocol.EventFileAdded, map[string]any{}, "")

	drainFrame(t, a)
	if len(b.send) != 0 {
		t.Fatalf("connection in another room received the frame")
	}
}

func TestJoinRoomLeavesPreviousRoom(t *testing.T) {
	h := NewHub()
	c := newConn("conn-a")
	h.register(c)
	h.joinRoom("ROOM1", c)
	h.joinRoom("ROOM2", c)

	if h.RoomSize("ROOM1") != 0 {
		t.Fatalf("still in previous room")
	}
	if h.RoomSize("ROOM2") != 1 {
		t.Fatalf("not in new room")
	}
}

func TestNotifySessionExpiredEmptiesRoom(t *testing.T) {
	h := NewHub()
	c := newConn("conn-a")
	h.register(c)
	h.joinRoom("ROOM1", c)

	h.NotifySessionExpired("ROOM1", protocol.ExpireReasonTTL)

	f := drainFrame(t, c)
	if f.Event != protocol.EventSessionExpired {
		t.Fatalf("event=%q", f.Event)
	}
	var ev protocol.SessionExpiredEvent
	if err := json.Unmarshal(f.Payload, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Reason != protocol.ExpireReasonTTL {
		t.Fatalf("reason=%q", ev.Reason)
	}
	if h.RoomSize("ROOM1") != 0 {
		t.Fatalf("room survived expiry")
	}
}

func TestSlowConnectionIsDropped(t *testing.T) {
	h := NewHub()
	c := newConn("conn-a")
	h.register(c)
	h.joinRoom("ROOM1", c)

	data := []byte("frame")
	for i := 0; i < writeQueueDepth; i++ {
		if !c.enqueue(data) {
			t.Fatalf("queue rejected frame %d below capacity", i)
		}
	}
	if c.enqueue(data) {
		t.Fatalf("over-capacity enqueue succeeded")
	}
	select {
	case <-c.done:
	default:
		t.Fatalf("slow connection was not closed")
	}
}
