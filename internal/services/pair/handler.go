// Package pair applies remote peers' snapshots to their in-world entities.
package pair

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"charasync/internal/domain"
	"charasync/internal/domain/ports"
)

const (
	DefaultDrawTimeout     = 30 * time.Second
	DefaultDownloadRetries = 10
	DefaultRetryDelay      = 2 * time.Second
	DefaultTeardownTimeout = 60 * time.Second
	DefaultPollInterval    = 50 * time.Millisecond
)

type Config struct {
	DrawTimeout     time.Duration
	DownloadRetries int // retries after the first poll
	RetryDelay      time.Duration
	TeardownTimeout time.Duration
	PollInterval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.DrawTimeout <= 0 {
		c.DrawTimeout = DefaultDrawTimeout
	}
	if c.DownloadRetries <= 0 {
		c.DownloadRetries = DefaultDownloadRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = DefaultTeardownTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Deps are the collaborators shared by every handler.
type Deps struct {
	World     ports.World
	Providers ports.Providers
	Resolver  ports.Resolver
	Events    ports.EventSink
	Logger    *slog.Logger
}

// Status is a read-only view of one handler.
type Status struct {
	Peer      string              `json:"peer"`
	State     domain.PairState    `json:"state"`
	Visible   bool                `json:"visible"`
	Name      string              `json:"name,omitempty"`
	LastHash  domain.SnapshotHash `json:"lastHash,omitempty"`
	Pending   bool                `json:"pending"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

type request struct {
	snap  domain.Snapshot
	force domain.Force
}

// Handler owns the application record of one peer. All provider mutation for
// the peer happens on its single worker goroutine.
type Handler struct {
	peer   string
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	state     domain.PairState
	visible   bool
	obj       domain.ObjectRef
	name      string
	cached    *domain.Snapshot // last fully applied
	pending   *domain.Snapshot // held while the entity is not materialised
	downtime  *domain.Snapshot // received while the host was busy, newer than pending
	forceMods bool
	redraw    bool
	scope     string
	scaleIDs  map[domain.ObjectKind]string
	updatedAt time.Time

	next           *request // one-slot mailbox
	wake           chan struct{}
	downloadCancel context.CancelFunc
	applyCancel    context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHandler(peer string, deps Deps, cfg Config) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		peer:      peer,
		deps:      deps,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("peer", peer)),
		state:     domain.PairIdle,
		scaleIDs:  make(map[domain.ObjectKind]string),
		updatedAt: time.Now().UTC(),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Handler) Peer() string { return h.peer }

// ---------------------------------------------------------------------------
// State machine
// ---------------------------------------------------------------------------

// transition validates and applies a state change. Caller must hold h.mu.
func (h *Handler) transition(to domain.PairState) error {
	if h.state == to {
		return nil
	}
	if !domain.CanPairTransition(h.state, to) {
		return fmt.Errorf("%w: %s -> %s for peer %s", domain.ErrInvalidTransition, h.state, to, h.peer)
	}
	h.state = to
	h.updatedAt = time.Now().UTC()
	return nil
}

func (h *Handler) setState(to domain.PairState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.transition(to); err != nil {
		h.logger.Debug("pair: transition skipped", slog.String("error", err.Error()))
	}
}

// ---------------------------------------------------------------------------
// Incoming data
// ---------------------------------------------------------------------------

// ApplyIncoming accepts a peer's snapshot. It never blocks on provider work.
func (h *Handler) ApplyIncoming(snap domain.Snapshot, forceScalars bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acceptLocked(snap, forceScalars)
}

func (h *Handler) acceptLocked(snap domain.Snapshot, forceScalars bool) error {
	if h.state == domain.PairDisposed {
		return domain.ErrDisposed
	}

	if h.deps.World.Conditions().Unsafe() {
		clone := snap.Clone()
		h.downtime = &clone
		h.markBufferedLocked()
		h.emit(domain.EventApplicationDeferred, domain.SeverityInfo, "host busy, holding %s", snap.Hash)
		return nil
	}
	if !h.visible || !h.obj.Valid() {
		h.bufferLocked(snap)
		h.emit(domain.EventApplicationDeferred, domain.SeverityInfo, "entity not visible, holding %s", snap.Hash)
		return nil
	}

	if h.cached != nil && h.cached.Hash == snap.Hash && !forceScalars && !h.forceMods && !h.redraw {
		h.logger.Debug("pair: snapshot already applied", slog.String("hash", string(snap.Hash)))
		return nil
	}

	if !h.deps.Providers.CoreReady() {
		h.bufferLocked(snap)
		h.emit(domain.EventProvidersUnavailable, domain.SeverityWarning, "providers not ready, holding %s", snap.Hash)
		return nil
	}

	h.next = &request{snap: snap.Clone(), force: domain.Force{Scalars: forceScalars, Mods: h.forceMods}}
	h.forceMods = false
	h.pending = nil
	h.downtime = nil
	if h.downloadCancel != nil {
		h.downloadCancel()
	}
	select {
	case h.wake <- struct{}{}:
	default:
	}
	return nil
}

// bufferLocked holds snap until the entity can take it. It supersedes any
// downtime value, which is older.
func (h *Handler) bufferLocked(snap domain.Snapshot) {
	clone := snap.Clone()
	h.pending = &clone
	h.downtime = nil
	h.markBufferedLocked()
}

func (h *Handler) markBufferedLocked() {
	if err := h.transition(domain.PairBuffered); err != nil {
		h.logger.Debug("pair: buffer transition skipped", slog.String("error", err.Error()))
	}
}

// heldLocked returns the newest held snapshot, if any.
func (h *Handler) heldLocked() *domain.Snapshot {
	if h.downtime != nil {
		return h.downtime
	}
	return h.pending
}

// redeliverLocked re-submits the newest held snapshot, falling back to the
// cached one. A newly materialised entity carries none of the peer's mods, so
// files and scalars are both forced.
func (h *Handler) redeliverLocked() {
	snap := h.heldLocked()
	if snap == nil {
		snap = h.cached
	}
	if snap == nil {
		return
	}
	h.forceMods = true
	_ = h.acceptLocked(*snap, true)
}

// ---------------------------------------------------------------------------
// Visibility and host conditions
// ---------------------------------------------------------------------------

// SetVisible records the peer's entity. The first visibility after being
// hidden re-applies held data.
func (h *Handler) SetVisible(obj domain.ObjectRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == domain.PairDisposed {
		return
	}
	wasVisible := h.visible && h.obj.Valid()
	h.visible = true
	h.obj = obj
	if obj.Name != "" {
		h.name = obj.Name
	}
	h.updatedAt = time.Now().UTC()
	if wasVisible {
		return
	}
	h.redeliverLocked()
}

// SetInvisible cancels downloads; held data stays pending.
func (h *Handler) SetInvisible() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.visible = false
	h.obj = domain.ObjectRef{}
	h.updatedAt = time.Now().UTC()
	if h.downloadCancel != nil {
		h.downloadCancel()
	}
}

// OnCombatStart drops data received while the host was busy and cancels
// in-flight work. Data held for an absent entity is kept.
func (h *Handler) OnCombatStart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.downtime = nil
	h.next = nil
	h.cancelScopesLocked()
}

// OnCombatEnd re-delivers whatever was held while the host was busy.
func (h *Handler) OnCombatEnd() {
	h.OnConditionsSafe()
}

func (h *Handler) OnConditionsSafe() {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := h.heldLocked()
	if h.state == domain.PairDisposed || snap == nil {
		return
	}
	_ = h.acceptLocked(*snap, true)
}

// OnZoneSwitch cancels downloads and marks the entity gone.
func (h *Handler) OnZoneSwitch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.visible = false
	h.obj = domain.ObjectRef{}
	if h.downloadCancel != nil {
		h.downloadCancel()
	}
}

// RequestRedraw forces a redraw of the player entity on the next application
// and re-applies the cached snapshot when visible.
func (h *Handler) RequestRedraw() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redraw = true
	if h.cached != nil && h.heldLocked() == nil && h.next == nil {
		_ = h.acceptLocked(*h.cached, false)
	}
}

// Reapply pushes the cached snapshot again with every scalar forced. Used
// when an optional provider comes up late.
func (h *Handler) Reapply() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cached == nil || h.state == domain.PairDisposed {
		return
	}
	_ = h.acceptLocked(*h.cached, true)
}

func (h *Handler) cancelScopesLocked() {
	if h.downloadCancel != nil {
		h.downloadCancel()
	}
	if h.applyCancel != nil {
		h.applyCancel()
	}
}

func (h *Handler) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Status{
		Peer:      h.peer,
		State:     h.state,
		Visible:   h.visible,
		Name:      h.name,
		Pending:   h.heldLocked() != nil,
		UpdatedAt: h.updatedAt,
	}
	if h.cached != nil {
		s.LastHash = h.cached.Hash
	}
	return s
}

// Cached returns a copy of the last fully applied snapshot.
func (h *Handler) Cached() (domain.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cached == nil {
		return domain.Snapshot{}, false
	}
	return h.cached.Clone(), true
}

func (h *Handler) emit(kind domain.EventKind, sev domain.Severity, format string, args ...any) {
	if h.deps.Events == nil {
		return
	}
	h.deps.Events.Publish(domain.Event{
		Time:     time.Now().UTC(),
		Kind:     kind,
		Severity: sev,
		Peer:     h.peer,
		Message:  fmt.Sprintf(format, args...),
	})
}
