package pair

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"charasync/internal/domain"
	"charasync/internal/domain/ports/portstest"
)

func newTestManager(t *testing.T) (*Manager, *portstest.World, *portstest.Host) {
	t.Helper()
	host := portstest.NewHost()
	world := portstest.NewWorld()
	m := NewManager(Deps{World: world, Providers: host.Providers(), Resolver: &fakeResolver{}, Events: &portstest.Events{}}, testConfig())
	t.Cleanup(func() { m.Close(context.Background()) })
	return m, world, host
}

func TestManagerAddIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := m.Add("peer-a")
	if b := m.Add("peer-a"); a != b {
		t.Fatal("Add must return the existing handler")
	}
	if _, ok := m.Get("peer-a"); !ok {
		t.Fatal("Get should find the handler")
	}
}

func TestManagerUnknownPeer(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.ApplyIncoming("ghost", domain.Snapshot{}, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ApplyIncoming: %v", err)
	}
	if err := m.SetVisible(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetVisible: %v", err)
	}
	if err := m.SetInvisible("ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetInvisible: %v", err)
	}
	if err := m.RequestRedraw("ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("RequestRedraw: %v", err)
	}
	if err := m.Teardown(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Teardown: %v", err)
	}
}

func TestManagerSetVisibleRequiresEntity(t *testing.T) {
	m, world, _ := newTestManager(t)
	m.Add("peer-a")
	if err := m.SetVisible(context.Background(), "peer-a"); !errors.Is(err, domain.ErrEntityNotReady) {
		t.Fatalf("expected ErrEntityNotReady, got %v", err)
	}

	world.AddPeer("peer-a", 200, "A")
	if err := m.SetVisible(context.Background(), "peer-a"); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	if got := m.VisiblePeers(); !reflect.DeepEqual(got, []string{"peer-a"}) {
		t.Fatalf("visible = %v", got)
	}
}

func TestManagerApplyEndToEnd(t *testing.T) {
	m, world, host := newTestManager(t)
	world.AddPeer("peer-a", 200, "A")
	m.Add("peer-a")
	if err := m.SetVisible(context.Background(), "peer-a"); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	snap := playerSnapshot("e2e")
	if err := m.ApplyIncoming("peer-a", snap, false); err != nil {
		t.Fatalf("ApplyIncoming: %v", err)
	}
	h, _ := m.Get("peer-a")
	waitApplied(t, h, snap.Hash)

	if err := m.Teardown(context.Background(), "peer-a"); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if _, ok := m.Get("peer-a"); ok {
		t.Fatal("handler should be removed")
	}
	if host.Rec.Count("mods.remove_scope") != 1 {
		t.Fatal("teardown should remove the mod scope")
	}
}

func TestManagerStatusesSorted(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.Add("b")
	m.Add("a")
	m.Add("c")
	var peers []string
	for _, s := range m.Statuses() {
		peers = append(peers, s.Peer)
	}
	if !reflect.DeepEqual(peers, []string{"a", "b", "c"}) {
		t.Fatalf("peers = %v", peers)
	}
}

func TestManagerConditionEdges(t *testing.T) {
	m, world, _ := newTestManager(t)
	world.AddPeer("peer-a", 200, "A")
	h := m.Add("peer-a")
	_ = m.SetVisible(context.Background(), "peer-a")

	combat := domain.Conditions{InCombat: true}
	world.SetConditions(combat)
	m.UpdateConditions(combat)

	snap := playerSnapshot("edge")
	_ = m.ApplyIncoming("peer-a", snap, false)
	if h.Status().State != domain.PairBuffered {
		t.Fatal("expected buffered during combat")
	}

	world.SetConditions(domain.Conditions{})
	m.UpdateConditions(domain.Conditions{})
	waitApplied(t, h, snap.Hash)
}

func TestManagerZoneSwitchHidesEntities(t *testing.T) {
	m, world, _ := newTestManager(t)
	world.AddPeer("peer-a", 200, "A")
	m.Add("peer-a")
	_ = m.SetVisible(context.Background(), "peer-a")

	m.UpdateConditions(domain.Conditions{Zoning: true})
	if got := m.VisiblePeers(); len(got) != 0 {
		t.Fatalf("visible after zone switch = %v", got)
	}
}

func TestManagerProviderReadyReleasesHeld(t *testing.T) {
	m, world, host := newTestManager(t)
	world.AddPeer("peer-a", 200, "A")
	h := m.Add("peer-a")
	_ = m.SetVisible(context.Background(), "peer-a")

	host.Appearance.SetReady(false)
	snap := playerSnapshot("held")
	_ = m.ApplyIncoming("peer-a", snap, false)

	host.Appearance.SetReady(true)
	m.ProviderReady(ProviderAppearance)
	waitApplied(t, h, snap.Hash)
}
