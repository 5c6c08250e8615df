package usecase

import (
	"context"
	"time"

	"charasync/internal/domain"
	"charasync/internal/metrics"
	"charasync/internal/services/pair"
)

// PairSource reports pair handler state.
type PairSource interface {
	VisiblePeers() []string
	Statuses() []pair.Status
}

// VisibilityObserver is fed the set of visible peers.
type VisibilityObserver interface {
	ObserveVisible(peers []string)
}

// VisibilitySync feeds the distributor the visible peer set, which pushes the
// stored snapshot to peers it has not served since the last reconnect. It
// also refreshes the pair gauges.
type VisibilitySync struct {
	Pairs    PairSource
	Observer VisibilityObserver
	Interval time.Duration
}

func (v VisibilitySync) Run(ctx context.Context) {
	interval := v.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.sync()
		}
	}
}

func (v VisibilitySync) sync() {
	counts := make(map[domain.PairState]int, 5)
	for _, st := range []domain.PairState{domain.PairIdle, domain.PairBuffered, domain.PairDownloading, domain.PairApplying} {
		counts[st] = 0
	}
	for _, s := range v.Pairs.Statuses() {
		counts[s.State]++
	}
	for st, n := range counts {
		metrics.Pairs.WithLabelValues(string(st)).Set(float64(n))
	}

	v.Observer.ObserveVisible(v.Pairs.VisiblePeers())
}
