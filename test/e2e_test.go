package test

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zulfikawr/beam/internal/client"
	"github.com/zulfikawr/beam/internal/clock"
	"github.com/zulfikawr/beam/internal/config"
	"github.com/zulfikawr/beam/internal/protocol"
	"github.com/zulfikawr/beam/internal/server"
)

// startServer runs a full server on a random loopback port with a fake
// clock, so the tests can both speak the real wire protocol and move time.
func startServer(t *testing.T) (*server.Server, *clock.Fake) {
	t.Helper()
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.EnableHTTP3 = false
	cfg.EnableMDNS = false

	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	srv := server.New(cfg, fake)
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv, fake
}

func dial(t *testing.T, srv *server.Server) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(),
		fmt.Sprintf("ws://%s%s", srv.Addr, protocol.WebSocketPath),
		client.Options{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func awaitEvent(t *testing.T, c *client.Client, name string) client.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatalf("connection closed waiting for %s", name)
			}
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

// TestFullExchangeLifecycle walks a two-party exchange end to end: create,
// join, share a file and a message, then watch the session age out.
func TestFullExchangeLifecycle(t *testing.T) {
	srv, fake := startServer(t)
	ctx := context.Background()

	host := dial(t, srv)
	info, err := host.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	payload := make([]byte, 128<<10)
	if _, err := rand.Read(payload); err != nil {
		t.Fatal(err)
	}
	meta, err := host.UploadFile(ctx, "report.pdf", "application/pdf", payload)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	guest := dial(t, srv)
	snap, err := guest.Join(ctx, info.SessionID, "Guest")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(snap.Files) != 1 || snap.Files[0].ID != meta.ID {
		t.Fatalf("snapshot missing uploaded file: %+v", snap.Files)
	}

	_, body, err := guest.DownloadFile(ctx, meta.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("downloaded bytes differ")
	}

	if _, err := guest.SendMessage(ctx, "got it, thanks"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	ev := awaitEvent(t, host, protocol.EventMessageAdded)
	var added struct {
		Message protocol.MessageInfo `json:"message"`
	}
	if err := json.Unmarshal(ev.Payload, &added); err != nil {
		t.Fatal(err)
	}
	if added.Message.SentByName != "Guest" {
		t.Fatalf("sentByName=%q", added.Message.SentByName)
	}

	// Age the session past its TTL; the next sweep evicts it and both
	// members hear about it before it disappears.
	fake.Advance(protocol.DefaultSessionTTL + time.Minute)

	expired := awaitEvent(t, guest, protocol.EventSessionExpired)
	var gone protocol.SessionExpiredEvent
	if err := json.Unmarshal(expired.Payload, &gone); err != nil {
		t.Fatal(err)
	}
	if gone.SessionID != info.SessionID || gone.Reason != protocol.ExpireReasonTTL {
		t.Fatalf("expiry event=%+v", gone)
	}

	late := dial(t, srv)
	_, err = late.Join(ctx, info.SessionID, "TooLate")
	if !errors.Is(err, protocol.ErrSessionNotFound) {
		t.Fatalf("join after expiry: %v", err)
	}
	if srv.Store.TotalBytes() != 0 {
		t.Fatalf("bytes not released: %d", srv.Store.TotalBytes())
	}
}

// TestChunkedUploadAcrossConnections uploads a payload large enough to need
// chunking and verifies another member can read it back intact.
func TestChunkedUploadAcrossConnections(t *testing.T) {
	srv, _ := startServer(t)
	ctx := context.Background()

	host := dial(t, srv)
	info, err := host.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}

	payload := make([]byte, 2*protocol.ChunkSize+12345)
	if _, err := rand.Read(payload); err != nil {
		t.Fatal(err)
	}
	meta, err := host.UploadChunked(ctx, "video.mp4", "video/mp4", payload)
	if err != nil {
		t.Fatalf("chunked upload: %v", err)
	}

	guest := dial(t, srv)
	if _, err := guest.Join(ctx, info.SessionID, "Guest"); err != nil {
		t.Fatal(err)
	}
	got, body, err := guest.DownloadFile(ctx, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Size != int64(len(payload)) || !bytes.Equal(body, payload) {
		t.Fatalf("reassembled payload differs")
	}
}

// TestFileDeleteFreesBudgetForNewUploads exercises the global byte budget
// end to end: fill it, get rejected, delete, retry.
func TestFileDeleteFreesBudgetForNewUploads(t *testing.T) {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.EnableHTTP3 = false
	cfg.EnableMDNS = false
	cfg.MaxFileSizeBytes = 1 << 20
	cfg.MaxTotalBytes = 1 << 20

	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	srv := server.New(cfg, fake)
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = srv.Shutdown() })

	ctx := context.Background()
	c := dial(t, srv)
	if _, err := c.CreateSession(ctx); err != nil {
		t.Fatal(err)
	}

	first, err := c.UploadFile(ctx, "fill.bin", "", bytes.Repeat([]byte{1}, 1<<20))
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	_, err = c.UploadFile(ctx, "overflow.bin", "", []byte{2})
	if !errors.Is(err, protocol.ErrOutOfMemory) {
		t.Fatalf("over-budget upload: %v", err)
	}

	if err := c.DeleteFile(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.UploadFile(ctx, "retry.bin", "", []byte{3}); err != nil {
		t.Fatalf("upload after delete: %v", err)
	}
}
