package events

import (
	"fmt"
	"testing"

	"charasync/internal/domain"
)

func TestRecentKeepsOrder(t *testing.T) {
	b := NewBus(4, nil)
	for i := 0; i < 3; i++ {
		b.Publish(domain.Event{Kind: domain.EventSnapshotBuilt, Message: fmt.Sprint(i)})
	}
	got := b.Recent(0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, ev := range got {
		if ev.Message != fmt.Sprint(i) {
			t.Fatalf("event %d = %q", i, ev.Message)
		}
	}
}

func TestRecentWrapsAround(t *testing.T) {
	b := NewBus(3, nil)
	for i := 0; i < 5; i++ {
		b.Publish(domain.Event{Kind: domain.EventSnapshotPushed, Message: fmt.Sprint(i)})
	}
	got := b.Recent(0)
	want := []string{"2", "3", "4"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Message != want[i] {
			t.Fatalf("event %d = %q, want %q", i, got[i].Message, want[i])
		}
	}
	if last := b.Recent(1); len(last) != 1 || last[0].Message != "4" {
		t.Fatalf("Recent(1) = %+v", last)
	}
}

func TestPublishDefaultsAndSubscribers(t *testing.T) {
	b := NewBus(8, nil)
	var seen []domain.Event
	unsubscribe := b.Subscribe(func(ev domain.Event) { seen = append(seen, ev) })

	b.Publish(domain.Event{Kind: domain.EventSwarmPaused})
	if len(seen) != 1 {
		t.Fatalf("subscriber calls = %d, want 1", len(seen))
	}
	if seen[0].Time.IsZero() || seen[0].Severity != domain.SeverityInfo {
		t.Fatalf("defaults not applied: %+v", seen[0])
	}

	unsubscribe()
	b.Publish(domain.Event{Kind: domain.EventSwarmResumed})
	if len(seen) != 1 {
		t.Fatal("unsubscribed func must not be called")
	}
}
