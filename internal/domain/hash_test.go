package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

func TestHashBytesMatchesHashReader(t *testing.T) {
	data := []byte("the same bytes from two origins")
	want := HashBytes(data)

	got, n, err := HashReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashReader: %v", err)
	}
	if n != int64(len(data)) {
		t.Fatalf("n = %d, want %d", n, len(data))
	}
	if got != want {
		t.Fatalf("hash mismatch: %s vs %s", got, want)
	}
}

func TestHashFileMissing(t *testing.T) {
	_, _, err := HashFile(filepath.Join(t.TempDir(), "nope.tex"))
	if !errors.Is(err, ErrSourceMissing) {
		t.Fatalf("err = %v, want ErrSourceMissing", err)
	}
}

func TestParseContentHash(t *testing.T) {
	h := HashBytes([]byte("x"))
	parsed, err := ParseContentHash(h.String())
	if err != nil {
		t.Fatalf("ParseContentHash: %v", err)
	}
	if parsed != h {
		t.Fatalf("parsed = %s, want %s", parsed, h)
	}

	for _, bad := range []string{"", "abc", h.String()[:63] + "z"} {
		if _, err := ParseContentHash(bad); err == nil {
			t.Errorf("ParseContentHash(%q) succeeded", bad)
		}
	}
}

func TestContentHashText(t *testing.T) {
	h := HashBytes([]byte("y"))
	if len(h.Short()) != 12 {
		t.Fatalf("Short() = %q", h.Short())
	}

	raw, err := json.Marshal(struct {
		H ContentHash `json:"h"`
	}{h})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(raw, []byte(h.String())) {
		t.Fatalf("json %s does not carry hex hash", raw)
	}

	var zero ContentHash
	if err := zero.UnmarshalText(nil); err != nil || !zero.IsZero() {
		t.Fatalf("empty text should decode to zero hash, err=%v", err)
	}
}
