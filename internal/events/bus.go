// Package events fans status signals out to the UI layer.
package events

import (
	"log/slog"
	"sync"
	"time"

	"charasync/internal/domain"
	"charasync/internal/metrics"
)

const defaultCapacity = 256

// Bus keeps the most recent events and forwards each one to subscribers.
// Subscribers are called synchronously and must not block.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	ring   []domain.Event
	next   int
	full   bool
	subs   map[int]func(domain.Event)
	nextID int
}

func NewBus(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		ring:   make([]domain.Event, capacity),
		subs:   make(map[int]func(domain.Event)),
	}
}

func (b *Bus) Publish(ev domain.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = domain.SeverityInfo
	}
	metrics.EventsTotal.WithLabelValues(string(ev.Kind), string(ev.Severity)).Inc()

	attrs := []any{slog.String("kind", string(ev.Kind))}
	if ev.Peer != "" {
		attrs = append(attrs, slog.String("peer", ev.Peer))
	}
	if ev.Message != "" {
		attrs = append(attrs, slog.String("message", ev.Message))
	}
	switch ev.Severity {
	case domain.SeverityError:
		b.logger.Error("event", attrs...)
	case domain.SeverityWarning:
		b.logger.Warn("event", attrs...)
	default:
		b.logger.Debug("event", attrs...)
	}

	b.mu.Lock()
	b.ring[b.next] = ev
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.full = true
	}
	subs := make([]func(domain.Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// Subscribe registers fn and returns a func that removes it.
func (b *Bus) Subscribe(fn func(domain.Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Recent returns up to limit events, newest last. limit <= 0 returns all.
func (b *Bus) Recent(limit int) []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.Event
	if b.full {
		out = append(out, b.ring[b.next:]...)
	}
	out = append(out, b.ring[:b.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
