package anacrolix

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"charasync/internal/domain"
	"charasync/internal/storage/content"
)

// ---------------------------------------------------------------------------
// Engine without a client
// ---------------------------------------------------------------------------

func TestEnsureSessionWithoutClientIsUnavailable(t *testing.T) {
	e := New(Config{}, nil, nil)
	defer e.Close()

	err := e.EnsureSession(context.Background(), domain.SwarmDescriptor{Data: []byte("d8:announce0:e")})
	if !errors.Is(err, domain.ErrSwarmUnavailable) {
		t.Fatalf("expected ErrSwarmUnavailable, got %v", err)
	}
	if e.HasSession(domain.ContentHash{}) {
		t.Fatal("no session expected")
	}
}

func TestListSessionsWithoutClientIsUnavailable(t *testing.T) {
	e := New(Config{}, nil, nil)
	defer e.Close()

	if _, err := e.ListSessions(context.Background()); !errors.Is(err, domain.ErrSwarmUnavailable) {
		t.Fatalf("expected ErrSwarmUnavailable, got %v", err)
	}
}

func TestStartRequiresDirectories(t *testing.T) {
	e := New(Config{}, nil, nil)
	defer e.Close()
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected error without directories")
	}
	if e.Available() {
		t.Fatal("engine must stay unavailable")
	}
}

func TestCloseWithoutStart(t *testing.T) {
	e := New(Config{}, nil, nil)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPauseResumeWithoutSessions(t *testing.T) {
	e := New(Config{}, nil, nil)
	defer e.Close()
	if n := e.PauseFetching(); n != 0 {
		t.Fatalf("paused %d, want 0", n)
	}
	if n := e.ResumeFetching(); n != 0 {
		t.Fatalf("resumed %d, want 0", n)
	}
}

// ---------------------------------------------------------------------------
// reserve
// ---------------------------------------------------------------------------

func TestReserveSingleWinner(t *testing.T) {
	e := New(Config{}, nil, nil)
	defer e.Close()
	hash := domain.HashBytes([]byte("contended"))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		entries = map[*session]struct{}{}
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, created := e.reserve(hash, ".tex")
			mu.Lock()
			defer mu.Unlock()
			if created {
				winners++
			}
			entries[s] = struct{}{}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
	if len(entries) != 1 {
		t.Fatalf("distinct sessions = %d, want 1", len(entries))
	}
	if !e.HasSession(hash) {
		t.Fatal("reserved hash must be registered")
	}
}

func TestReleaseOnlyRemovesOwnEntry(t *testing.T) {
	e := New(Config{}, nil, nil)
	defer e.Close()
	hash := domain.HashBytes([]byte("x"))

	s, _ := e.reserve(hash, "")
	e.release(hash, &session{})
	if !e.HasSession(hash) {
		t.Fatal("release with a foreign entry must not remove the session")
	}
	e.release(hash, s)
	if e.HasSession(hash) {
		t.Fatal("session should be removed")
	}
}

func TestSessionViewWithoutTorrent(t *testing.T) {
	s := &session{hash: domain.HashBytes([]byte("v")), name: "v"}
	v := s.view()
	if v.State != domain.SwarmUnknown {
		t.Fatalf("state = %s, want unknown", v.State)
	}
	if v.Name != "v" {
		t.Fatalf("name = %q", v.Name)
	}
}

// ---------------------------------------------------------------------------
// newLimiter
// ---------------------------------------------------------------------------

func TestNewLimiter(t *testing.T) {
	if l := newLimiter(0); l != nil {
		t.Fatal("zero limit must yield nil limiter")
	}
	if l := newLimiter(-5); l != nil {
		t.Fatal("negative limit must yield nil limiter")
	}
	l := newLimiter(1024)
	if l == nil {
		t.Fatal("expected limiter")
	}
	if l.Burst() != minLimiterBurst {
		t.Fatalf("burst = %d, want %d", l.Burst(), minLimiterBurst)
	}
	if l := newLimiter(10 << 20); l.Burst() != 10<<20 {
		t.Fatalf("burst = %d, want %d", l.Burst(), 10<<20)
	}
}

func TestTorrentInfoReadyNil(t *testing.T) {
	if torrentInfoReady(nil) {
		t.Fatal("nil torrent has no info")
	}
}

// ---------------------------------------------------------------------------
// Live client
// ---------------------------------------------------------------------------

func TestEngineSeedsLocalContent(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a network client")
	}

	store, err := content.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	src := filepath.Join(t.TempDir(), "body.tex")
	data := []byte("seeded content body")
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	hash := domain.HashBytes(data)
	if err := store.Import(src, hash, ".tex"); err != nil {
		t.Fatalf("import: %v", err)
	}

	dirs := store.Dirs()
	e := New(Config{
		FilesDir:     dirs.Files,
		PiecesDir:    dirs.Pieces,
		StateDir:     dirs.State,
		NoDHT:        true,
		DisableIPv6:  true,
		PollInterval: 20 * time.Millisecond,
	}, store, nil)
	defer e.Close()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	desc, err := e.CreateDescriptor(context.Background(), store.FilePath(hash, ".tex"), hash, ".tex")
	if err != nil {
		t.Fatalf("CreateDescriptor: %v", err)
	}
	if err := e.EnsureSession(context.Background(), desc); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if err := e.EnsureSession(context.Background(), desc); err != nil {
		t.Fatalf("second EnsureSession must be a no-op: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		sessions, err := e.ListSessions(context.Background())
		if err != nil {
			t.Fatalf("ListSessions: %v", err)
		}
		if len(sessions) != 1 {
			t.Fatalf("sessions = %d, want 1", len(sessions))
		}
		if sessions[0].State == domain.SwarmSeeding {
			if sessions[0].Name != domain.ObjectName(hash, ".tex") {
				t.Fatalf("name = %q", sessions[0].Name)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never reached seeding, last state %s", sessions[0].State)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
