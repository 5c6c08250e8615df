package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"charasync/internal/domain"
	"charasync/internal/domain/ports/portstest"
	"charasync/internal/services/pair"
	"charasync/internal/storage/content"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------- errors ----------

func TestWrapHelpers(t *testing.T) {
	tests := []struct {
		name   string
		wrap   func(error) error
		wantIs error
	}{
		{"swarm", wrapSwarm, ErrSwarm},
		{"build", wrapBuild, ErrBuild},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wrap(nil) != nil {
				t.Fatal("nil should stay nil")
			}
			got := tt.wrap(domain.ErrProvidersUnavailable)
			if !errors.Is(got, tt.wantIs) {
				t.Fatalf("errors.Is(%v, %v) = false", got, tt.wantIs)
			}
			if !errors.Is(got, domain.ErrProvidersUnavailable) {
				t.Fatalf("cause lost: %v", got)
			}
		})
	}
}

// ---------- disk pressure ----------

type fakeFetch struct {
	mu      sync.Mutex
	pauses  int
	resumes int
}

func (f *fakeFetch) PauseFetching() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return 3
}

func (f *fakeFetch) ResumeFetching() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return 3
}

func (f *fakeFetch) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauses, f.resumes
}

func fixedFree(values ...int64) func(string) (int64, error) {
	var mu sync.Mutex
	i := 0
	return func(string) (int64, error) {
		mu.Lock()
		defer mu.Unlock()
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v, nil
	}
}

func TestDiskPressureHysteresis(t *testing.T) {
	fetch := &fakeFetch{}
	events := &portstest.Events{}
	dp := DiskPressure{
		Swarm:        fetch,
		Events:       events,
		Logger:       discardLogger(),
		MinFreeBytes: 100,
		ResumeBytes:  200,
		FreeBytes:    fixedFree(50, 150, 40, 250, 250),
	}

	paused := false
	for i := 0; i < 5; i++ {
		paused = dp.check(paused)
	}
	if paused {
		t.Fatal("should have resumed")
	}
	pauses, resumes := fetch.counts()
	if pauses != 1 || resumes != 1 {
		t.Fatalf("pauses=%d resumes=%d, want 1/1", pauses, resumes)
	}
	if events.Count(domain.EventSwarmPaused) != 1 || events.Count(domain.EventSwarmResumed) != 1 {
		t.Fatalf("events = %+v", events.All())
	}
}

func TestDiskPressureProbeError(t *testing.T) {
	fetch := &fakeFetch{}
	dp := DiskPressure{
		Swarm:        fetch,
		Logger:       discardLogger(),
		MinFreeBytes: 100,
		FreeBytes:    func(string) (int64, error) { return 0, errors.New("statfs failed") },
	}
	if dp.check(false) {
		t.Fatal("probe error must not pause")
	}
	if dp.check(true) != true {
		t.Fatal("probe error must not resume")
	}
	if p, r := fetch.counts(); p != 0 || r != 0 {
		t.Fatalf("pauses=%d resumes=%d", p, r)
	}
}

func TestDiskPressureRunResumesOnExit(t *testing.T) {
	fetch := &fakeFetch{}
	dp := DiskPressure{
		Swarm:        fetch,
		Logger:       discardLogger(),
		MinFreeBytes: 100,
		Interval:     5 * time.Millisecond,
		FreeBytes:    fixedFree(10),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dp.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if p, _ := fetch.counts(); p > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("never paused")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if p, r := fetch.counts(); p != 1 || r != 1 {
		t.Fatalf("pauses=%d resumes=%d, want 1/1", p, r)
	}
}

// ---------- session monitor ----------

type fakeSwarm struct {
	sessions []domain.SwarmSession
	err      error
}

func (f fakeSwarm) CreateDescriptor(context.Context, string, domain.ContentHash, string) (domain.SwarmDescriptor, error) {
	return domain.SwarmDescriptor{}, errors.New("not implemented")
}
func (f fakeSwarm) DecodeDescriptor([]byte) (domain.SwarmDescriptor, error) {
	return domain.SwarmDescriptor{}, errors.New("not implemented")
}
func (f fakeSwarm) EnsureSession(context.Context, domain.SwarmDescriptor) error { return nil }
func (f fakeSwarm) HasSession(domain.ContentHash) bool                         { return false }
func (f fakeSwarm) ListSessions(context.Context) ([]domain.SwarmSession, error) {
	return f.sessions, f.err
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	msgs []string
}

func (b *fakeBroadcaster) Broadcast(msgType string, _ interface{}) {
	b.mu.Lock()
	b.msgs = append(b.msgs, msgType)
	b.mu.Unlock()
}

type fakeUsage struct{ calls int }

func (u *fakeUsage) Usage() content.Usage {
	u.calls++
	return content.Usage{Files: content.DirUsage{Bytes: 10}}
}

func TestSessionMonitorBroadcasts(t *testing.T) {
	b := &fakeBroadcaster{}
	m := SessionMonitor{
		Swarm:       fakeSwarm{sessions: []domain.SwarmSession{{Name: "a", State: domain.SwarmSeeding, Peers: 2}}},
		Broadcaster: b,
		Logger:      discardLogger(),
	}
	m.refreshSessions(context.Background())
	if len(b.msgs) != 1 || b.msgs[0] != "sessions" {
		t.Fatalf("broadcasts = %v", b.msgs)
	}
}

func TestSessionMonitorSkipsUnavailableSwarm(t *testing.T) {
	b := &fakeBroadcaster{}
	m := SessionMonitor{
		Swarm:       fakeSwarm{err: domain.ErrSwarmUnavailable},
		Broadcaster: b,
		Logger:      discardLogger(),
	}
	m.refreshSessions(context.Background())
	if len(b.msgs) != 0 {
		t.Fatalf("broadcasts = %v", b.msgs)
	}
}

func TestSessionMonitorScansStore(t *testing.T) {
	u := &fakeUsage{}
	SessionMonitor{Store: u, Logger: discardLogger()}.refreshStore()
	if u.calls != 1 {
		t.Fatalf("usage calls = %d", u.calls)
	}
}

func TestListSessionsWrapsError(t *testing.T) {
	_, err := ListSessions{Swarm: fakeSwarm{err: domain.ErrSwarmUnavailable}}.Execute(context.Background())
	if !errors.Is(err, ErrSwarm) || !errors.Is(err, domain.ErrSwarmUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

// ---------- visibility sync ----------

type fakePairs struct {
	visible  []string
	statuses []pair.Status
}

func (f fakePairs) VisiblePeers() []string    { return f.visible }
func (f fakePairs) Statuses() []pair.Status { return f.statuses }

type fakeObserver struct{ seen [][]string }

func (o *fakeObserver) ObserveVisible(peers []string) { o.seen = append(o.seen, peers) }

func TestVisibilitySyncForwardsPeers(t *testing.T) {
	obs := &fakeObserver{}
	v := VisibilitySync{
		Pairs: fakePairs{
			visible:  []string{"a", "b"},
			statuses: []pair.Status{{Peer: "a", State: domain.PairIdle}, {Peer: "b", State: domain.PairApplying}},
		},
		Observer: obs,
	}
	v.sync()
	if len(obs.seen) != 1 || len(obs.seen[0]) != 2 {
		t.Fatalf("observed = %v", obs.seen)
	}
}

// ---------- build and distribute ----------

type fakeBuilder struct {
	snap domain.Snapshot
	err  error
}

func (b fakeBuilder) Build(context.Context) (domain.Snapshot, error) { return b.snap, b.err }

type fakeDistributor struct{ last domain.SnapshotHash }

func (d *fakeDistributor) Distribute(snap domain.Snapshot) bool {
	if d.last == snap.Hash {
		return false
	}
	d.last = snap.Hash
	return true
}

func TestBuildAndDistribute(t *testing.T) {
	snap := domain.NewSnapshot(map[domain.ObjectKind]domain.Fragment{domain.KindPlayer: {Appearance: "x"}}, domain.PlayerData{})
	uc := BuildAndDistribute{Builder: fakeBuilder{snap: snap}, Distributor: &fakeDistributor{}}

	res, err := uc.Execute(context.Background())
	if err != nil || !res.Changed || res.Snapshot.Hash != snap.Hash {
		t.Fatalf("first Execute = %+v, %v", res, err)
	}
	res, err = uc.Execute(context.Background())
	if err != nil || res.Changed {
		t.Fatalf("second Execute = %+v, %v", res, err)
	}
}

func TestBuildAndDistributeBuildError(t *testing.T) {
	uc := BuildAndDistribute{Builder: fakeBuilder{err: domain.ErrEntityNotReady}, Distributor: &fakeDistributor{}}
	_, err := uc.Execute(context.Background())
	if !errors.Is(err, ErrBuild) || !errors.Is(err, domain.ErrEntityNotReady) {
		t.Fatalf("err = %v", err)
	}
}
