package pair

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"charasync/internal/domain"
)

// Provider names accepted by ProviderReady.
const (
	ProviderMods       = "mods"
	ProviderAppearance = "appearance"
	ProviderScale      = "scale"
	ProviderOffset     = "offset"
	ProviderTitle      = "title"
	ProviderOverlay    = "overlay"
	ProviderPetNames   = "pet_names"
)

// Manager owns every pair handler.
type Manager struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]*Handler
	cond     domain.Conditions
}

func NewManager(deps Deps, cfg Config) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deps.Logger = logger
	return &Manager{
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string]*Handler),
	}
}

// Add returns the handler for peer, creating it on first use.
func (m *Manager) Add(peer string) *Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handlers[peer]; ok {
		return h
	}
	h := NewHandler(peer, m.deps, m.cfg)
	m.handlers[peer] = h
	m.logger.Info("pair: added", slog.String("peer", peer))
	return h
}

func (m *Manager) Get(peer string) (*Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[peer]
	return h, ok
}

func (m *Manager) ApplyIncoming(peer string, snap domain.Snapshot, forceScalars bool) error {
	h, ok := m.Get(peer)
	if !ok {
		return domain.ErrNotFound
	}
	return h.ApplyIncoming(snap, forceScalars)
}

// SetVisible looks the peer's entity up in the world and marks it visible.
func (m *Manager) SetVisible(ctx context.Context, peer string) error {
	h, ok := m.Get(peer)
	if !ok {
		return domain.ErrNotFound
	}
	obj, found, err := m.deps.World.FindPeer(ctx, peer)
	if err != nil {
		return err
	}
	if !found || !obj.Valid() {
		return domain.ErrEntityNotReady
	}
	if obj.Name == "" {
		if name, err := m.deps.World.Name(ctx, obj); err == nil {
			obj.Name = name
		}
	}
	h.SetVisible(obj)
	return nil
}

func (m *Manager) SetInvisible(peer string) error {
	h, ok := m.Get(peer)
	if !ok {
		return domain.ErrNotFound
	}
	h.SetInvisible()
	return nil
}

func (m *Manager) RequestRedraw(peer string) error {
	h, ok := m.Get(peer)
	if !ok {
		return domain.ErrNotFound
	}
	h.RequestRedraw()
	return nil
}

// ProviderReady reacts to a provider coming up. Core providers release held
// snapshots; late optional providers trigger a forced re-apply.
func (m *Manager) ProviderReady(provider string) {
	for _, h := range m.all() {
		switch provider {
		case ProviderMods, ProviderAppearance:
			h.OnConditionsSafe()
		case ProviderTitle, ProviderPetNames, ProviderOffset, ProviderOverlay, ProviderScale:
			h.Reapply()
		}
	}
}

// Teardown removes peer and reverts its entity.
func (m *Manager) Teardown(ctx context.Context, peer string) error {
	m.mu.Lock()
	h, ok := m.handlers[peer]
	delete(m.handlers, peer)
	m.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	h.Teardown(ctx)
	m.logger.Info("pair: removed", slog.String("peer", peer))
	return nil
}

// UpdateConditions fans condition edges out to every handler.
func (m *Manager) UpdateConditions(c domain.Conditions) {
	m.mu.Lock()
	prev := m.cond
	m.cond = c
	m.mu.Unlock()

	handlers := m.all()
	switch {
	case !prev.CombatOrPerforming() && c.CombatOrPerforming():
		for _, h := range handlers {
			h.OnCombatStart()
		}
	case prev.CombatOrPerforming() && !c.CombatOrPerforming() && !c.Unsafe():
		for _, h := range handlers {
			h.OnCombatEnd()
		}
	}
	if !prev.Zoning && c.Zoning {
		for _, h := range handlers {
			h.OnZoneSwitch()
		}
	}
	if prev.Unsafe() && !c.Unsafe() && !prev.CombatOrPerforming() {
		for _, h := range handlers {
			h.OnConditionsSafe()
		}
	}
}

// VisiblePeers lists peers whose entity is currently visible.
func (m *Manager) VisiblePeers() []string {
	var out []string
	for _, h := range m.all() {
		if h.Status().Visible {
			out = append(out, h.Peer())
		}
	}
	sort.Strings(out)
	return out
}

func (m *Manager) Statuses() []Status {
	handlers := m.all()
	out := make([]Status, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// Close tears down every handler.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	handlers := make([]*Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.handlers = make(map[string]*Handler)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h *Handler) {
			defer wg.Done()
			h.Teardown(ctx)
		}(h)
	}
	wg.Wait()
}

func (m *Manager) all() []*Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		out = append(out, h)
	}
	return out
}
