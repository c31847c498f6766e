package cleanup

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulfikawr/beam/internal/clock"
	"github.com/zulfikawr/beam/internal/code"
	"github.com/zulfikawr/beam/internal/protocol"
	"github.com/zulfikawr/beam/internal/store"
	"github.com/zulfikawr/beam/internal/upload"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) NotifySessionExpired(sessionID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sessionID+"/"+reason)
}

func (r *recordingNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func addFile(t *testing.T, st *store.Store, sessionID, payload string) {
	t.Helper()
	id, err := code.NewFileID()
	if err != nil {
		t.Fatal(err)
	}
	if err := st.AddFile(sessionID, &store.FileRecord{ID: id, Filename: "f", Payload: []byte(payload)}); err != nil {
		t.Fatal(err)
	}
}

func TestTTLSweepEvictsAndNotifies(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	st := store.New(clk, store.Options{TTL: time.Minute})
	asm := upload.New(clk, 0)
	notifier := &recordingNotifier{}
	sched := New(clk, st, asm, notifier, 5*time.Minute)

	s, err := st.CreateSession("c")
	if err != nil {
		t.Fatal(err)
	}
	addFile(t, st, s.ID, "hello")

	sched.Start()
	defer sched.Stop()

	clk.Advance(5 * time.Minute) // one tick, well past the 1m TTL

	if st.SessionCount() != 0 {
		t.Fatalf("SessionCount = %d after sweep", st.SessionCount())
	}
	if st.TotalBytes() != 0 {
		t.Fatalf("TotalBytes = %d after sweep", st.TotalBytes())
	}
	events := notifier.all()
	if len(events) != 1 || events[0] != s.ID+"/"+protocol.ExpireReasonTTL {
		t.Fatalf("notifications = %v", events)
	}
}

func TestSweepDropsStaleUploads(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	st := store.New(clk, store.Options{})
	asm := upload.New(clk, 0)
	sched := New(clk, st, asm, nil, protocol.DefaultCleanupInterval)

	id, err := asm.Start("SOMES", "f", "", 10, 2)
	if err != nil {
		t.Fatal(err)
	}

	clk.Advance(protocol.StaleUploadThreshold + time.Minute)
	sched.Sweep(clk.Now())

	if _, err := asm.Chunk(id, 0, []byte("x")); !errors.Is(err, protocol.ErrUploadNotFound) {
		t.Fatalf("stale upload survived the sweep: err = %v", err)
	}
}

func TestPressureEvictsOldestFirst(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	// Budget 1000 bytes; critical at 950.
	st := store.New(clk, store.Options{MaxFileSize: 500, MaxTotalBytes: 1000})
	asm := upload.New(clk, 0)
	notifier := &recordingNotifier{}
	sched := New(clk, st, asm, notifier, protocol.DefaultCleanupInterval)

	var ids []string
	for i := 0; i < 7; i++ {
		s, err := st.CreateSession("c")
		if err != nil {
			t.Fatal(err)
		}
		addFile(t, st, s.ID, strings.Repeat("x", 140)) // 7*140 = 980 > 950
		ids = append(ids, s.ID)
		clk.Advance(time.Second)
	}

	sched.Sweep(clk.Now())

	// The 5 oldest sessions are gone, the 2 newest stay.
	for _, id := range ids[:protocol.EvictBatch] {
		if _, err := st.GetSession(id); err == nil {
			t.Fatalf("old session %s survived pressure eviction", id)
		}
	}
	for _, id := range ids[protocol.EvictBatch:] {
		if _, err := st.GetSession(id); err != nil {
			t.Fatalf("young session %s evicted: %v", id, err)
		}
	}
	events := notifier.all()
	if len(events) != protocol.EvictBatch {
		t.Fatalf("notified %d sessions, want %d", len(events), protocol.EvictBatch)
	}
	for _, ev := range events {
		if !strings.HasSuffix(ev, "/"+protocol.ExpireReasonPressure) {
			t.Fatalf("unexpected reason in %q", ev)
		}
	}
}

func TestWarningThresholdEvictsNothing(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	st := store.New(clk, store.Options{MaxFileSize: 500, MaxTotalBytes: 1000})
	asm := upload.New(clk, 0)
	sched := New(clk, st, asm, &recordingNotifier{}, protocol.DefaultCleanupInterval)

	s, err := st.CreateSession("c")
	if err != nil {
		t.Fatal(err)
	}
	addFile(t, st, s.ID, strings.Repeat("x", 420))
	addFile(t, st, s.ID, strings.Repeat("x", 420)) // 840 = 84%, warn but no evict

	sched.Sweep(clk.Now())

	if st.SessionCount() != 1 {
		t.Fatalf("SessionCount = %d, session evicted at warning level", st.SessionCount())
	}
	if st.TotalBytes() != 840 {
		t.Fatalf("TotalBytes = %d", st.TotalBytes())
	}
}
