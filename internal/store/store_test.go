package store

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulfikawr/beam/internal/clock"
	"github.com/zulfikawr/beam/internal/code"
	"github.com/zulfikawr/beam/internal/protocol"
)

func newTestStore(t *testing.T, opts Options) (*Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	return New(clk, opts), clk
}

func mustCreate(t *testing.T, st *Store, creator string) *Session {
	t.Helper()
	s, err := st.CreateSession(creator)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newFile(t *testing.T, payload string) *FileRecord {
	t.Helper()
	id, err := code.NewFileID()
	if err != nil {
		t.Fatal(err)
	}
	return &FileRecord{ID: id, Filename: "f.bin", Payload: []byte(payload)}
}

func TestCreateAndGetSessionCaseInsensitive(t *testing.T) {
	st, _ := newTestStore(t, Options{})
	s := mustCreate(t, st, "conn-a")

	if !code.ValidSessionCode(s.ID) {
		t.Fatalf("session id %q has the wrong shape", s.ID)
	}
	got, err := st.GetSession(strings.ToLower(s.ID))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != s.ID {
		t.Fatalf("lookup returned %q, want %q", got.ID, s.ID)
	}
	if _, err := st.GetSession("ZZZZZ"); !errors.Is(err, protocol.ErrSessionNotFound) {
		t.Fatalf("missing session: err = %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	st, clk := newTestStore(t, Options{TTL: 10 * time.Millisecond})
	s := mustCreate(t, st, "conn-a")
	if err := st.AddFile(s.ID, newFile(t, "hello")); err != nil {
		t.Fatal(err)
	}

	clk.Advance(50 * time.Millisecond)

	if _, err := st.GetSession(s.ID); !errors.Is(err, protocol.ErrSessionExpired) {
		t.Fatalf("expired session: err = %v", err)
	}
	// The transparent delete must release the bytes.
	if st.TotalBytes() != 0 {
		t.Fatalf("TotalBytes = %d after expiry", st.TotalBytes())
	}
	if st.SessionCount() != 0 {
		t.Fatalf("SessionCount = %d after expiry", st.SessionCount())
	}
	if err := st.AddFile(s.ID, newFile(t, "x")); !errors.Is(err, protocol.ErrSessionNotFound) {
		t.Fatalf("AddFile on gone session: err = %v", err)
	}
}

func TestByteConservation(t *testing.T) {
	st, _ := newTestStore(t, Options{})
	s := mustCreate(t, st, "c")

	f1 := newFile(t, "12345")
	f2 := newFile(t, "abcdefgh")
	if err := st.AddFile(s.ID, f1); err != nil {
		t.Fatal(err)
	}
	if err := st.AddFile(s.ID, f2); err != nil {
		t.Fatal(err)
	}
	if st.TotalBytes() != 13 {
		t.Fatalf("TotalBytes = %d, want 13", st.TotalBytes())
	}

	if err := st.DeleteFile(s.ID, f1.ID); err != nil {
		t.Fatal(err)
	}
	if st.TotalBytes() != 8 {
		t.Fatalf("TotalBytes = %d after delete, want 8", st.TotalBytes())
	}

	st.DeleteSession(s.ID, "explicit")
	if st.TotalBytes() != 0 {
		t.Fatalf("TotalBytes = %d after session delete, want 0", st.TotalBytes())
	}
}

func TestGlobalBudget(t *testing.T) {
	st, _ := newTestStore(t, Options{MaxFileSize: 100, MaxTotalBytes: 100})
	s := mustCreate(t, st, "c")

	big := newFile(t, strings.Repeat("x", 90))
	if err := st.AddFile(s.ID, big); err != nil {
		t.Fatal(err)
	}
	over := newFile(t, strings.Repeat("y", 20))
	if err := st.AddFile(s.ID, over); !errors.Is(err, protocol.ErrOutOfMemory) {
		t.Fatalf("budget overflow: err = %v", err)
	}
	if st.TotalBytes() != 90 {
		t.Fatalf("TotalBytes = %d after rejection, want 90", st.TotalBytes())
	}
}

func TestFileValidation(t *testing.T) {
	st, _ := newTestStore(t, Options{MaxFileSize: 10})
	s := mustCreate(t, st, "c")

	if err := st.AddFile(s.ID, newFile(t, "")); !errors.Is(err, protocol.ErrEmptyFile) {
		t.Fatalf("empty file: err = %v", err)
	}
	if err := st.AddFile(s.ID, newFile(t, "12345678901")); !errors.Is(err, protocol.ErrFileTooLarge) {
		t.Fatalf("oversize file: err = %v", err)
	}
}

func TestFileCap(t *testing.T) {
	st, _ := newTestStore(t, Options{})
	s := mustCreate(t, st, "c")

	for i := 0; i < protocol.MaxFilesPerSession; i++ {
		if err := st.AddFile(s.ID, newFile(t, "x")); err != nil {
			t.Fatalf("file %d rejected: %v", i, err)
		}
	}
	if err := st.AddFile(s.ID, newFile(t, "x")); !errors.Is(err, protocol.ErrFileCapReached) {
		t.Fatalf("cap overflow: err = %v", err)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	st, _ := newTestStore(t, Options{})
	s := mustCreate(t, st, "c")

	payload := []byte{0x00, 0x01, 0xfe, 0xff, 'h', 'i'}
	f := &FileRecord{ID: "00112233445566778899aabbccddeeff", Filename: "bin", Payload: payload}
	if err := st.AddFile(s.ID, f); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetFilePayload(s.ID, "00112233445566778899AABBCCDDEEFF")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload = %v, want %v", got.Payload, payload)
	}
	if got.Digest == "" || len(got.Digest) != 64 {
		t.Fatalf("digest = %q", got.Digest)
	}
	if got.MimeType != "application/octet-stream" {
		t.Fatalf("default mime = %q", got.MimeType)
	}
}

func TestListFilesInsertionOrder(t *testing.T) {
	st, _ := newTestStore(t, Options{})
	s := mustCreate(t, st, "c")

	var ids []string
	for i := 0; i < 5; i++ {
		f := newFile(t, "x")
		ids = append(ids, f.ID)
		if err := st.AddFile(s.ID, f); err != nil {
			t.Fatal(err)
		}
	}
	list, err := st.ListFiles(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	for i, meta := range list {
		if meta.ID != ids[i] {
			t.Fatalf("position %d: got %s, want %s", i, meta.ID, ids[i])
		}
	}
}

func TestMessageValidation(t *testing.T) {
	st, _ := newTestStore(t, Options{})
	s := mustCreate(t, st, "c")

	if err := st.AddMessage(s.ID, &MessageRecord{ID: "m1", Content: "   \t\n "}); !errors.Is(err, protocol.ErrEmptyMessage) {
		t.Fatalf("whitespace message: err = %v", err)
	}
	long := strings.Repeat("é", protocol.MaxMessageRunes+1)
	if err := st.AddMessage(s.ID, &MessageRecord{ID: "m2", Content: long}); !errors.Is(err, protocol.ErrMessageTooLong) {
		t.Fatalf("long message: err = %v", err)
	}
	// Exactly at the cap counts code points, not bytes.
	exact := strings.Repeat("é", protocol.MaxMessageRunes)
	if err := st.AddMessage(s.ID, &MessageRecord{ID: "m3", Content: exact, SentBy: "c"}); err != nil {
		t.Fatalf("message at cap rejected: %v", err)
	}

	m := &MessageRecord{ID: "m4", Content: "  hello  ", SentBy: "c"}
	if err := st.AddMessage(s.ID, m); err != nil {
		t.Fatal(err)
	}
	if m.Content != "hello" {
		t.Fatalf("content not trimmed: %q", m.Content)
	}
	if m.SentByName != "Anonymous" {
		t.Fatalf("default display name = %q", m.SentByName)
	}
}

func TestMessageCap(t *testing.T) {
	st, _ := newTestStore(t, Options{})
	s := mustCreate(t, st, "c")

	for i := 0; i < protocol.MaxMessagesPerSession; i++ {
		if err := st.AddMessage(s.ID, &MessageRecord{ID: "m", Content: "hi", SentBy: "c"}); err != nil {
			t.Fatalf("message %d rejected: %v", i, err)
		}
	}
	err := st.AddMessage(s.ID, &MessageRecord{ID: "m", Content: "hi", SentBy: "c"})
	if !errors.Is(err, protocol.ErrMessageCapReached) {
		t.Fatalf("cap overflow: err = %v", err)
	}
}

func TestDeleteMessageAuthorization(t *testing.T) {
	st, _ := newTestStore(t, Options{})
	s := mustCreate(t, st, "creator")
	if _, err := st.AddMember(s.ID, "creator"); err != nil {
		t.Fatal(err)
	}
	for _, conn := range []string{"sender", "other"} {
		if _, err := st.AddMember(s.ID, conn); err != nil {
			t.Fatal(err)
		}
	}

	m1 := &MessageRecord{ID: "m1", Content: "hello", SentBy: "sender"}
	if err := st.AddMessage(s.ID, m1); err != nil {
		t.Fatal(err)
	}

	// Creator may delete another member's message.
	if err := st.DeleteMessage(s.ID, "m1", "creator"); err != nil {
		t.Fatalf("creator delete failed: %v", err)
	}

	m2 := &MessageRecord{ID: "m2", Content: "again", SentBy: "sender"}
	if err := st.AddMessage(s.ID, m2); err != nil {
		t.Fatal(err)
	}
	// A third member may not.
	if err := st.DeleteMessage(s.ID, "m2", "other"); !errors.Is(err, protocol.ErrForbidden) {
		t.Fatalf("bystander delete: err = %v", err)
	}
	// The sender always may.
	if err := st.DeleteMessage(s.ID, "m2", "sender"); err != nil {
		t.Fatalf("sender delete failed: %v", err)
	}
	if err := st.DeleteMessage(s.ID, "m2", "sender"); !errors.Is(err, protocol.ErrMessageNotFound) {
		t.Fatalf("double delete: err = %v", err)
	}
}

func TestCreatorRightsEndWithDisconnect(t *testing.T) {
	st, _ := newTestStore(t, Options{})
	s := mustCreate(t, st, "creator")
	for _, conn := range []string{"creator", "sender"} {
		if _, err := st.AddMember(s.ID, conn); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.AddMessage(s.ID, &MessageRecord{ID: "m1", Content: "x", SentBy: "sender"}); err != nil {
		t.Fatal(err)
	}

	st.RemoveMember("creator")

	// Former creator reconnecting under the same id gets no special rights.
	if _, err := st.AddMember(s.ID, "creator"); err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteMessage(s.ID, "m1", "creator"); !errors.Is(err, protocol.ErrForbidden) {
		t.Fatalf("ex-creator delete: err = %v", err)
	}
}

func TestMembershipBindings(t *testing.T) {
	st, _ := newTestStore(t, Options{})
	s1 := mustCreate(t, st, "a")
	s2 := mustCreate(t, st, "b")

	if _, err := st.AddMember(s1.ID, "conn"); err != nil {
		t.Fatal(err)
	}
	// Idempotent.
	n, err := st.AddMember(s1.ID, "conn")
	if err != nil || n != 1 {
		t.Fatalf("re-add: n=%d err=%v", n, err)
	}

	// Joining another session replaces the binding.
	if _, err := st.AddMember(s2.ID, "conn"); err != nil {
		t.Fatal(err)
	}
	if s1.MemberCount() != 0 {
		t.Fatalf("s1 members = %d after move", s1.MemberCount())
	}
	if id, _ := st.SessionOf("conn"); id != s2.ID {
		t.Fatalf("SessionOf = %q, want %q", id, s2.ID)
	}

	gone, remaining, ok := st.RemoveMember("conn")
	if !ok || gone != s2.ID || remaining != 0 {
		t.Fatalf("RemoveMember = (%q,%d,%v)", gone, remaining, ok)
	}
	if _, _, ok := st.RemoveMember("conn"); ok {
		t.Fatal("second RemoveMember reported a binding")
	}
	if _, _, ok := st.RemoveMember("never-seen"); ok {
		t.Fatal("unknown connection reported a binding")
	}
}

func TestOldestSessions(t *testing.T) {
	st, clk := newTestStore(t, Options{})
	var ids []string
	for i := 0; i < 4; i++ {
		s := mustCreate(t, st, "c")
		ids = append(ids, s.ID)
		clk.Advance(time.Minute)
	}
	oldest := st.OldestSessions(2)
	if len(oldest) != 2 || oldest[0] != ids[0] || oldest[1] != ids[1] {
		t.Fatalf("OldestSessions = %v, want %v", oldest, ids[:2])
	}
	if n := len(st.OldestSessions(100)); n != 4 {
		t.Fatalf("OldestSessions(100) returned %d", n)
	}
}

func TestConcurrentAddFileAccounting(t *testing.T) {
	st, _ := newTestStore(t, Options{MaxFileSize: 1 << 20, MaxTotalBytes: 1 << 30})
	s1 := mustCreate(t, st, "a")
	s2 := mustCreate(t, st, "b")

	const perSession = 40
	var wg sync.WaitGroup
	for _, sid := range []string{s1.ID, s2.ID} {
		for i := 0; i < perSession; i++ {
			wg.Add(1)
			go func(sid string) {
				defer wg.Done()
				_ = st.AddFile(sid, newFileConcurrent("0123456789"))
			}(sid)
		}
	}
	wg.Wait()

	want := int64(2 * perSession * 10)
	if st.TotalBytes() != want {
		t.Fatalf("TotalBytes = %d, want %d", st.TotalBytes(), want)
	}
	if st.FileCount() != 2*perSession {
		t.Fatalf("FileCount = %d, want %d", st.FileCount(), 2*perSession)
	}
}

func newFileConcurrent(payload string) *FileRecord {
	id, _ := code.NewFileID()
	return &FileRecord{ID: id, Filename: "f", Payload: []byte(payload)}
}
