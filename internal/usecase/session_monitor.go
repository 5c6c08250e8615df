package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"charasync/internal/domain"
	"charasync/internal/domain/ports"
	"charasync/internal/metrics"
	"charasync/internal/storage/content"
)

// Broadcaster pushes a typed message to every websocket client.
type Broadcaster interface {
	Broadcast(msgType string, data interface{})
}

// UsageSource reports content store usage.
type UsageSource interface {
	Usage() content.Usage
}

// ListSessions returns every swarm session.
type ListSessions struct {
	Swarm ports.Swarm
}

func (uc ListSessions) Execute(ctx context.Context) ([]domain.SwarmSession, error) {
	sessions, err := uc.Swarm.ListSessions(ctx)
	if err != nil {
		return nil, wrapSwarm(err)
	}
	return sessions, nil
}

// SessionMonitor refreshes swarm and store gauges and broadcasts the session
// list to websocket clients.
type SessionMonitor struct {
	Swarm       ports.Swarm
	Store       UsageSource
	Broadcaster Broadcaster
	Logger      *slog.Logger
	Interval    time.Duration
	// StoreInterval is how often the store directories are scanned.
	StoreInterval time.Duration
}

func (m SessionMonitor) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	storeInterval := m.StoreInterval
	if storeInterval <= 0 {
		storeInterval = time.Minute
	}

	sessionTicker := time.NewTicker(interval)
	storeTicker := time.NewTicker(storeInterval)
	defer sessionTicker.Stop()
	defer storeTicker.Stop()

	m.refreshStore()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionTicker.C:
			m.refreshSessions(ctx)
		case <-storeTicker.C:
			m.refreshStore()
		}
	}
}

func (m SessionMonitor) refreshSessions(ctx context.Context) {
	sessions, err := m.Swarm.ListSessions(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrSwarmUnavailable) {
			m.Logger.Warn("session_monitor: list sessions failed", slog.String("error", err.Error()))
		}
		return
	}

	counts := map[domain.SwarmState]int{
		domain.SwarmFetching: 0,
		domain.SwarmSeeding:  0,
		domain.SwarmUnknown:  0,
	}
	peers := 0
	for _, s := range sessions {
		counts[s.State]++
		peers += s.Peers
	}
	for state, n := range counts {
		metrics.SwarmSessions.WithLabelValues(string(state)).Set(float64(n))
	}
	metrics.SwarmPeers.Set(float64(peers))

	if m.Broadcaster != nil {
		m.Broadcaster.Broadcast("sessions", sessions)
	}
}

func (m SessionMonitor) refreshStore() {
	if m.Store == nil {
		return
	}
	usage := m.Store.Usage()
	metrics.StoreBytes.WithLabelValues("files").Set(float64(usage.Files.Bytes))
	metrics.StoreBytes.WithLabelValues("torrents").Set(float64(usage.Torrents.Bytes))
	metrics.StoreBytes.WithLabelValues("pieces").Set(float64(usage.Pieces.Bytes))
}
