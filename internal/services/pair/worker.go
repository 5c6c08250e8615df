package pair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"charasync/internal/domain"
	"charasync/internal/telemetry"
)

func (h *Handler) run() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.wake:
		}
		h.mu.Lock()
		req := h.next
		h.next = nil
		h.mu.Unlock()
		if req != nil {
			h.process(*req)
		}
	}
}

// process takes one snapshot through download and application.
func (h *Handler) process(req request) {
	ctx, span := telemetry.Tracer("pair").Start(h.ctx, "pair.process")
	defer span.End()
	span.SetAttributes(attribute.String("peer", h.peer), attribute.String("hash", string(req.snap.Hash)))

	h.mu.Lock()
	if h.state == domain.PairDisposed {
		h.mu.Unlock()
		return
	}
	downloadCtx, downloadCancel := context.WithCancel(ctx)
	h.downloadCancel = downloadCancel
	var prev *domain.Snapshot
	if h.cached != nil {
		c := h.cached.Clone()
		prev = &c
	}
	redraw := h.redraw
	h.redraw = false
	h.mu.Unlock()
	defer func() {
		downloadCancel()
		h.mu.Lock()
		h.downloadCancel = nil
		h.applyCancel = nil
		h.mu.Unlock()
	}()

	changes := domain.Diff(req.snap, prev, req.force)
	if redraw {
		changes[domain.KindPlayer] = changes[domain.KindPlayer].With(domain.ChangeForcedRedraw)
	}
	if changes.Empty() {
		h.record(req.snap)
		return
	}
	h.logger.Debug("pair: applying changes", slog.Any("kinds", changes.Kinds()))

	var paths map[string]string
	if changes.Any(domain.ChangeModFiles) {
		h.setState(domain.PairDownloading)
		h.emit(domain.EventDownloadStarted, domain.SeverityInfo, "resolving %d files", len(req.snap.Files()))
		var err error
		paths, err = h.download(downloadCtx, req.snap)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, domain.ErrDownloadExhausted) {
				h.emit(domain.EventDownloadExhausted, domain.SeverityError, "%v", err)
				h.setState(domain.PairIdle)
				return
			}
			h.aborted(req.snap, err)
			return
		}
	}

	applyCtx, applyCancel := context.WithCancel(downloadCtx)
	defer applyCancel()
	h.mu.Lock()
	if h.state == domain.PairDisposed {
		h.mu.Unlock()
		return
	}
	h.applyCancel = applyCancel
	_ = h.transition(domain.PairApplying)
	h.mu.Unlock()
	h.emit(domain.EventApplicationStarted, domain.SeverityInfo, "applying %s", req.snap.Hash)

	if err := h.apply(applyCtx, req.snap, changes, paths); err != nil {
		span.SetStatus(codes.Error, err.Error())
		if applyCtx.Err() != nil {
			h.aborted(req.snap, err)
			return
		}
		h.logger.Warn("pair: application incomplete", slog.String("error", err.Error()))
		h.emit(domain.EventApplicationAborted, domain.SeverityWarning, "%v", err)
		h.setState(domain.PairIdle)
		return
	}
	h.record(req.snap)
	h.emit(domain.EventApplicationApplied, domain.SeverityInfo, "applied %s", req.snap.Hash)
}

// download polls the resolver until every file is local.
func (h *Handler) download(ctx context.Context, snap domain.Snapshot) (map[string]string, error) {
	var missing int
	for attempt := 0; attempt <= h.cfg.DownloadRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(h.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		paths, pending, err := h.deps.Resolver.ComputeMissing(ctx, snap)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			h.logger.Warn("pair: compute missing failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			continue
		}
		if len(pending) == 0 {
			return paths, nil
		}
		missing = len(pending)
		h.logger.Debug("pair: waiting for content", slog.Int("attempt", attempt), slog.Int("missing", missing))
	}
	return nil, fmt.Errorf("%w: %d files still missing after %d polls", domain.ErrDownloadExhausted, missing, h.cfg.DownloadRetries+1)
}

// record stores snap as the last fully applied snapshot.
func (h *Handler) record(snap domain.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == domain.PairDisposed {
		return
	}
	c := snap.Clone()
	h.cached = &c
	if h.pending != nil && h.pending.Hash == snap.Hash {
		h.pending = nil
	}
	if h.downtime != nil && h.downtime.Hash == snap.Hash {
		h.downtime = nil
	}
	next := domain.PairIdle
	if h.heldLocked() != nil {
		next = domain.PairBuffered
	}
	_ = h.transition(next)
}

// aborted keeps snap for the next visibility unless a newer request already
// superseded it.
func (h *Handler) aborted(snap domain.Snapshot, cause error) {
	h.mu.Lock()
	if h.state == domain.PairDisposed {
		h.mu.Unlock()
		return
	}
	if h.next != nil {
		h.mu.Unlock()
		h.logger.Debug("pair: superseded", slog.String("hash", string(snap.Hash)))
		return
	}
	if h.heldLocked() == nil {
		c := snap.Clone()
		h.pending = &c
	}
	h.forceMods = true
	_ = h.transition(domain.PairBuffered)
	h.mu.Unlock()
	h.emit(domain.EventApplicationAborted, domain.SeverityInfo, "cancelled: %v", cause)
}

// ---------------------------------------------------------------------------
// Application
// ---------------------------------------------------------------------------

func (h *Handler) apply(ctx context.Context, snap domain.Snapshot, changes domain.ChangeSet, paths map[string]string) error {
	appID := uuid.New()
	h.mu.Lock()
	player := h.obj
	h.mu.Unlock()
	if !player.Valid() {
		return fmt.Errorf("%w: entity gone", domain.ErrApplyAborted)
	}

	if changes.Any(domain.ChangeModFiles) || changes[domain.KindPlayer].Has(domain.ChangeModManip) {
		if err := h.applyMods(ctx, appID, player, snap, changes, paths); err != nil {
			return err
		}
	}

	var failed []error
	for _, kind := range changes.Kinds() {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj, ok, err := h.objectFor(ctx, player, kind)
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		if !ok {
			h.logger.Debug("pair: object absent", slog.String("kind", kind.String()))
			continue
		}
		if err := h.waitNotDrawing(ctx, obj); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed = append(failed, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		if err := h.applyKind(ctx, appID, kind, obj, snap, changes[kind]); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Warn("pair: category failed", slog.String("kind", kind.String()), slog.String("error", err.Error()))
			failed = append(failed, fmt.Errorf("%s: %w", kind, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %v", domain.ErrApplyAborted, errors.Join(failed...))
	}
	return nil
}

func (h *Handler) applyMods(ctx context.Context, appID uuid.UUID, player domain.ObjectRef, snap domain.Snapshot, changes domain.ChangeSet, paths map[string]string) error {
	mods := h.deps.Providers.Mods
	scope, err := h.ensureScope(ctx)
	if err != nil {
		return fmt.Errorf("create mod scope: %w", err)
	}
	if err := mods.AssignScope(ctx, scope, player); err != nil {
		return fmt.Errorf("assign mod scope: %w", err)
	}
	if changes.Any(domain.ChangeModFiles) {
		if err := mods.SetTemporaryMods(ctx, appID, scope, paths); err != nil {
			return fmt.Errorf("set temporary mods: %w", err)
		}
	}
	if changes[domain.KindPlayer].Has(domain.ChangeModManip) || changes.Any(domain.ChangeModFiles) {
		if err := mods.SetManipulations(ctx, appID, scope, snap.Player.Manipulation); err != nil {
			return fmt.Errorf("set manipulation: %w", err)
		}
	}
	return nil
}

func (h *Handler) ensureScope(ctx context.Context) (string, error) {
	h.mu.Lock()
	scope := h.scope
	h.mu.Unlock()
	if scope != "" {
		return scope, nil
	}
	scope, err := h.deps.Providers.Mods.CreateScope(ctx, h.peer)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	h.scope = scope
	h.mu.Unlock()
	return scope, nil
}

func (h *Handler) objectFor(ctx context.Context, player domain.ObjectRef, kind domain.ObjectKind) (domain.ObjectRef, bool, error) {
	if kind == domain.KindPlayer {
		return player, true, nil
	}
	obj, ok, err := h.deps.World.Related(ctx, player, kind)
	if err != nil || !ok || !obj.Valid() {
		return domain.ObjectRef{}, false, err
	}
	return obj, true, nil
}

// applyKind pushes one category's changes in priority order. The first error
// stops the category.
func (h *Handler) applyKind(ctx context.Context, appID uuid.UUID, kind domain.ObjectKind, obj domain.ObjectRef, snap domain.Snapshot, set domain.Changes) error {
	frag := snap.Fragments[kind]
	p := h.deps.Providers
	needsRedraw := false

	for _, change := range set.Sorted() {
		var err error
		switch change {
		case domain.ChangeModFiles, domain.ChangeModManip, domain.ChangeForcedRedraw:
			needsRedraw = true
		case domain.ChangeScale:
			err = h.applyScale(ctx, kind, obj, frag.Scale)
		case domain.ChangeOffset:
			if p.Offset != nil && p.Offset.Ready() {
				err = applyOrRevert(snap.Player.Offset,
					func() error { return p.Offset.Apply(ctx, obj, snap.Player.Offset) },
					func() error { return p.Offset.Revert(ctx, obj) })
			}
		case domain.ChangeTitle:
			if p.Title != nil && p.Title.Ready() {
				err = applyOrRevert(snap.Player.Title,
					func() error { return p.Title.Apply(ctx, obj, snap.Player.Title) },
					func() error { return p.Title.Revert(ctx, obj) })
			}
		case domain.ChangeAppearance:
			err = applyOrRevert(frag.Appearance,
				func() error { return p.Appearance.Apply(ctx, obj, frag.Appearance, appID) },
				func() error { return p.Appearance.Revert(ctx, obj, appID) })
		case domain.ChangeOverlay:
			if p.Overlay != nil && p.Overlay.Ready() {
				err = applyOrRevert(snap.Player.Overlay,
					func() error { return p.Overlay.Apply(ctx, obj, snap.Player.Overlay) },
					func() error { return p.Overlay.Revert(ctx, obj) })
			}
		case domain.ChangePetNames:
			if p.PetNames != nil && p.PetNames.Ready() {
				err = applyOrRevert(snap.Player.PetNames,
					func() error { return p.PetNames.Apply(ctx, obj, snap.Player.PetNames) },
					func() error { return p.PetNames.Revert(ctx, obj) })
			}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", change, err)
		}
	}
	if needsRedraw {
		if err := p.Mods.Redraw(ctx, obj, appID); err != nil {
			return fmt.Errorf("redraw: %w", err)
		}
	}
	return nil
}

func (h *Handler) applyScale(ctx context.Context, kind domain.ObjectKind, obj domain.ObjectRef, data string) error {
	scale := h.deps.Providers.Scale
	if scale == nil || !scale.Ready() {
		return nil
	}
	h.mu.Lock()
	prevID := h.scaleIDs[kind]
	h.mu.Unlock()

	if prevID != "" {
		if err := scale.Revert(ctx, prevID); err != nil {
			return err
		}
		h.mu.Lock()
		delete(h.scaleIDs, kind)
		h.mu.Unlock()
	}
	if data == "" {
		return nil
	}
	id, err := scale.Apply(ctx, obj, data)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.scaleIDs[kind] = id
	h.mu.Unlock()
	return nil
}

// applyOrRevert applies non-empty data and reverts to default otherwise.
func applyOrRevert(data string, apply, revert func() error) error {
	if data == "" {
		return revert()
	}
	return apply()
}

func (h *Handler) waitNotDrawing(ctx context.Context, obj domain.ObjectRef) error {
	deadline := time.NewTimer(h.cfg.DrawTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()
	for {
		drawing, err := h.deps.World.IsDrawing(ctx, obj)
		if err == nil && !drawing {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: still drawing", domain.ErrEntityNotReady)
		case <-ticker.C:
		}
	}
}
