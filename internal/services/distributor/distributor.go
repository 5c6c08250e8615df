// Package distributor pushes the local snapshot to visible peers.
package distributor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"charasync/internal/domain"
	"charasync/internal/domain/ports"
)

// Distributor remembers the newest snapshot and delivers it with at most one
// push in flight. Targets that arrive during a push are queued for the next.
type Distributor struct {
	pusher ports.SnapshotPusher
	events ports.EventSink
	logger *slog.Logger

	mu        sync.Mutex
	last      *domain.Snapshot
	visible   map[string]struct{} // as of the latest observation
	pending   map[string]struct{}
	connected bool

	pushSem *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(pusher ports.SnapshotPusher, events ports.EventSink, logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Distributor{
		pusher:  pusher,
		events:  events,
		logger:  logger,
		visible: make(map[string]struct{}),
		pending: make(map[string]struct{}),
		pushSem: semaphore.NewWeighted(1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Distribute stores snap and pushes it to every visible peer. It reports
// false when snap matches the stored snapshot.
func (d *Distributor) Distribute(snap domain.Snapshot) bool {
	d.mu.Lock()
	if d.last != nil && d.last.Hash == snap.Hash {
		d.mu.Unlock()
		return false
	}
	stored := snap.Clone()
	d.last = &stored
	queued := d.queueLocked(d.visibleLocked())
	d.mu.Unlock()

	if queued {
		d.schedule()
	}
	return true
}

// ObserveVisible replaces the visible set. Peers absent from the previous
// observation receive the stored snapshot; queued pushes to peers that left
// view are dropped.
func (d *Distributor) ObserveVisible(peers []string) {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return
	}
	current := make(map[string]struct{}, len(peers))
	var fresh []string
	for _, p := range peers {
		if _, dup := current[p]; dup {
			continue
		}
		current[p] = struct{}{}
		if _, ok := d.visible[p]; !ok {
			fresh = append(fresh, p)
		}
	}
	d.visible = current
	for p := range d.pending {
		if _, ok := current[p]; !ok {
			delete(d.pending, p)
		}
	}
	queued := d.last != nil && d.queueLocked(fresh)
	d.mu.Unlock()

	if queued {
		d.schedule()
	}
}

// OnConnected marks the coordination link up and pushes the stored snapshot
// to peers, the currently visible set.
func (d *Distributor) OnConnected(peers []string) {
	d.mu.Lock()
	d.connected = true
	d.visible = make(map[string]struct{}, len(peers))
	for _, p := range peers {
		d.visible[p] = struct{}{}
	}
	queued := d.last != nil && d.queueLocked(d.visibleLocked())
	d.mu.Unlock()

	if queued {
		d.schedule()
	}
}

func (d *Distributor) OnDisconnected() {
	d.mu.Lock()
	d.connected = false
	d.visible = make(map[string]struct{})
	d.pending = make(map[string]struct{})
	d.mu.Unlock()
}

// Last returns a copy of the stored snapshot.
func (d *Distributor) Last() (domain.Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return domain.Snapshot{}, false
	}
	return d.last.Clone(), true
}

func (d *Distributor) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Close cancels in-flight pushes and waits for them.
func (d *Distributor) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *Distributor) visibleLocked() []string {
	out := make([]string, 0, len(d.visible))
	for p := range d.visible {
		out = append(out, p)
	}
	return out
}

// queueLocked adds peers to the pending set. Reports whether anything is
// waiting.
func (d *Distributor) queueLocked(peers []string) bool {
	if !d.connected {
		return false
	}
	for _, p := range peers {
		d.pending[p] = struct{}{}
	}
	return len(d.pending) > 0
}

func (d *Distributor) schedule() {
	if d.ctx.Err() != nil {
		return
	}
	d.wg.Add(1)
	go d.push()
}

func (d *Distributor) push() {
	defer d.wg.Done()
	if err := d.pushSem.Acquire(d.ctx, 1); err != nil {
		return
	}
	defer d.pushSem.Release(1)

	d.mu.Lock()
	if len(d.pending) == 0 || d.last == nil || !d.connected {
		d.mu.Unlock()
		return
	}
	targets := make([]string, 0, len(d.pending))
	for p := range d.pending {
		targets = append(targets, p)
	}
	d.pending = make(map[string]struct{})
	snap := d.last.Clone()
	d.mu.Unlock()

	sort.Strings(targets)
	if err := d.pusher.Push(d.ctx, snap, targets); err != nil {
		if d.ctx.Err() == nil {
			d.logger.Warn("distributor: push failed",
				slog.String("hash", string(snap.Hash)),
				slog.Int("peers", len(targets)),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	d.logger.Debug("distributor: pushed snapshot",
		slog.String("hash", string(snap.Hash)),
		slog.Int("peers", len(targets)),
	)
	if d.events != nil {
		d.events.Publish(domain.Event{
			Time:     time.Now().UTC(),
			Kind:     domain.EventSnapshotPushed,
			Severity: domain.SeverityInfo,
			Message:  fmt.Sprintf("snapshot %s to %d peers", snap.Hash, len(targets)),
		})
	}
}
