package content

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"charasync/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// Layout
// ---------------------------------------------------------------------------

func TestOpenCreatesDirectories(t *testing.T) {
	s := openTestStore(t)
	for _, dir := range s.Dirs().all() {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("missing dir %s: %v", dir, err)
		}
	}
}

func TestFilePathIsCanonical(t *testing.T) {
	s := openTestStore(t)
	h := domain.HashBytes([]byte("abc"))
	got := filepath.Base(s.FilePath(h, "TEX"))
	if got != h.String()+".tex" {
		t.Fatalf("FilePath base = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Import / Ingest
// ---------------------------------------------------------------------------

func TestImportAndReadAt(t *testing.T) {
	s := openTestStore(t)
	data := []byte("hello content store")
	src := writeFile(t, t.TempDir(), "body.mdl", data)
	h := domain.HashBytes(data)

	if s.Has(h, ".mdl") {
		t.Fatalf("Has before import")
	}
	if err := s.Import(src, h, ".mdl"); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if !s.Has(h, ".mdl") {
		t.Fatalf("Has after import = false")
	}

	buf := make([]byte, 7)
	n, err := s.ReadAt(h, ".mdl", buf, 6)
	if err != nil || n != 7 || string(buf) != "content" {
		t.Fatalf("ReadAt = %d %q %v", n, buf, err)
	}
	size, err := s.Size(h, ".mdl")
	if err != nil || size != int64(len(data)) {
		t.Fatalf("Size = %d %v", size, err)
	}

	path, ext, ok := s.Lookup(h)
	if !ok || ext != ".mdl" || path != s.FilePath(h, ".mdl") {
		t.Fatalf("Lookup = %q %q %v", path, ext, ok)
	}
}

func TestImportMissingSource(t *testing.T) {
	s := openTestStore(t)
	err := s.Import(filepath.Join(t.TempDir(), "gone.tex"), domain.HashBytes([]byte("x")), ".tex")
	if !errors.Is(err, domain.ErrSourceMissing) {
		t.Fatalf("err = %v, want ErrSourceMissing", err)
	}
}

func TestIngestRejectsHashMismatch(t *testing.T) {
	s := openTestStore(t)
	want := domain.HashBytes([]byte("expected"))
	err := s.Ingest(bytes.NewReader([]byte("something else")), want, ".tex")
	if !errors.Is(err, domain.ErrHashMismatch) {
		t.Fatalf("err = %v, want ErrHashMismatch", err)
	}
	if s.Has(want, ".tex") {
		t.Fatalf("mismatched content was stored")
	}
	entries, _ := os.ReadDir(s.Dirs().Files)
	if len(entries) != 0 {
		t.Fatalf("temp files left behind: %d", len(entries))
	}
}

func TestReadMissingContent(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ReadAt(domain.HashBytes([]byte("nope")), ".tex", make([]byte, 1), 0)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Descriptors
// ---------------------------------------------------------------------------

func TestDescriptorSaveLoad(t *testing.T) {
	s := openTestStore(t)
	h := domain.HashBytes([]byte("d"))

	if _, ok, err := s.LoadDescriptor(h); ok || err != nil {
		t.Fatalf("LoadDescriptor before save = %v %v", ok, err)
	}
	if err := s.SaveDescriptor(h, []byte("d8:announce0:e")); err != nil {
		t.Fatalf("SaveDescriptor: %v", err)
	}
	data, ok, err := s.LoadDescriptor(h)
	if err != nil || !ok || string(data) != "d8:announce0:e" {
		t.Fatalf("LoadDescriptor = %q %v %v", data, ok, err)
	}
	if err := s.SaveDescriptor(h, nil); err == nil {
		t.Fatalf("empty descriptor accepted")
	}
}

// ---------------------------------------------------------------------------
// Keyed lock
// ---------------------------------------------------------------------------

func TestLockSerializesSameHash(t *testing.T) {
	s := openTestStore(t)
	h := domain.HashBytes([]byte("k"))

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock(h)
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxInside)
	}
	if n := s.locks.size(); n != 0 {
		t.Fatalf("lock entries leaked: %d", n)
	}
}

func TestLockDifferentHashesIndependent(t *testing.T) {
	s := openTestStore(t)
	unlockA := s.Lock(domain.HashBytes([]byte("a")))
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := s.Lock(domain.HashBytes([]byte("b")))
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on another hash blocked")
	}
}

func TestUsageCountsFiles(t *testing.T) {
	s := openTestStore(t)
	data := []byte("usage")
	h := domain.HashBytes(data)
	if err := s.Ingest(bytes.NewReader(data), h, ".tex"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	u := s.Usage()
	if u.Files.Files != 1 || u.Files.Bytes != int64(len(data)) {
		t.Fatalf("Usage.Files = %+v", u.Files)
	}
}

func TestUsageReportsAllocation(t *testing.T) {
	s := openTestStore(t)
	data := bytes.Repeat([]byte("a"), 8192)
	h := domain.HashBytes(data)
	if err := s.Ingest(bytes.NewReader(data), h, ".mdl"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	u := s.Usage()
	if u.Files.Allocated <= 0 {
		t.Fatalf("expected allocated bytes, got %+v", u.Files)
	}
	if u.TotalBytes() != int64(len(data)) {
		t.Fatalf("TotalBytes = %d, want %d", u.TotalBytes(), len(data))
	}
}
