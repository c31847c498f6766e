package code

import (
	"strings"
	"testing"
	"time"
)

func TestNewSessionCodeShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		c, err := NewSessionCode()
		if err != nil {
			t.Fatal(err)
		}
		if !ValidSessionCode(c) {
			t.Fatalf("generated invalid code %q", c)
		}
		if strings.ContainsAny(c, "0O1I") {
			t.Fatalf("code %q contains a confusable symbol", c)
		}
		seen[c] = true
	}
	// 200 draws from 32^5 should essentially never collide into one bucket.
	if len(seen) < 190 {
		t.Fatalf("only %d distinct codes out of 200", len(seen))
	}
}

func TestValidSessionCodeCaseFolding(t *testing.T) {
	c, err := NewSessionCode()
	if err != nil {
		t.Fatal(err)
	}
	if !ValidSessionCode(strings.ToLower(c)) {
		t.Fatalf("lower-cased %q rejected", c)
	}
	if CanonicalSessionCode(strings.ToLower(c)) != c {
		t.Fatalf("canonical form of %q lost", c)
	}
	for _, bad := range []string{"", "ABCD", "ABCDEF", "AB0DE", "ABO1I", "AB DE"} {
		if ValidSessionCode(bad) {
			t.Fatalf("accepted malformed code %q", bad)
		}
	}
}

func TestNewFileIDShape(t *testing.T) {
	id, err := NewFileID()
	if err != nil {
		t.Fatal(err)
	}
	if !ValidFileID(id) {
		t.Fatalf("generated invalid file id %q", id)
	}
	if len(id) != 32 {
		t.Fatalf("file id length = %d, want 32", len(id))
	}
	if ValidFileID("zz" + id[2:]) {
		t.Fatal("accepted non-hex file id")
	}
}

func TestNewMessageIDShape(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	id, err := NewMessageID(now)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "msg_1700000000000_") {
		t.Fatalf("message id = %q", id)
	}
	if len(id) != len("msg_1700000000000_")+8 {
		t.Fatalf("message id suffix length wrong: %q", id)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"hello.txt", "hello.txt"},
		{"../../etc/passwd", "etcpasswd"},
		{"a/b\\c.txt", "abc.txt"},
		{"nul\x00byte", "nulbyte"},
		{"....x", "x"},
		{"", "unnamed"},
		{"..", "unnamed"},
		{"   ", "unnamed"},
	}
	for _, tc := range cases {
		if got := SanitizeFilename(tc.in); got != tc.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeFilenameTruncates(t *testing.T) {
	long := strings.Repeat("é", 200) // 400 bytes
	got := SanitizeFilename(long)
	if len(got) > 255 {
		t.Fatalf("sanitized name is %d bytes", len(got))
	}
	// Must not split the two-byte rune at the cut point.
	if !strings.HasSuffix(got, "é") {
		t.Fatalf("truncation split a rune: %q", got[len(got)-2:])
	}
}
