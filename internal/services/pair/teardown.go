package pair

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"charasync/internal/domain"
)

// Teardown disposes the handler and restores the peer's entity. Reverts run
// on their own deadline so a cancelled caller still cleans up. Errors are
// reported as events and swallowed.
func (h *Handler) Teardown(ctx context.Context) {
	h.mu.Lock()
	if h.state == domain.PairDisposed {
		h.mu.Unlock()
		return
	}
	_ = h.transition(domain.PairDisposed)
	h.cancelScopesLocked()
	h.cancel()
	h.next = nil
	h.pending = nil
	h.downtime = nil
	var cached *domain.Snapshot
	if h.cached != nil {
		c := h.cached.Clone()
		cached = &c
	}
	visible := h.visible && h.obj.Valid()
	obj, name, scope := h.obj, h.name, h.scope
	scaleIDs := make(map[domain.ObjectKind]string, len(h.scaleIDs))
	for k, v := range h.scaleIDs {
		scaleIDs[k] = v
	}
	h.scaleIDs = make(map[domain.ObjectKind]string)
	h.scope = ""
	h.mu.Unlock()

	<-h.done

	if name == "" {
		h.logger.Debug("pair: teardown without a known entity, skipping reverts")
		return
	}
	if cond := h.deps.World.Conditions(); cond.Zoning || cond.InCutscene {
		h.logger.Info("pair: host zoning or in cutscene, skipping reverts")
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.TeardownTimeout)
	defer cancel()
	appID := uuid.New()
	p := h.deps.Providers

	if scope != "" && p.Mods != nil {
		h.revertStep("remove mod scope", p.Mods.RemoveScope(rctx, appID, scope))
	}

	if !visible {
		if p.Appearance != nil {
			h.revertStep("revert appearance by name", p.Appearance.RevertByName(rctx, name, appID))
		}
	} else if cached != nil {
		for _, kind := range cached.Kinds() {
			h.revertKind(rctx, appID, kind, obj, name, scaleIDs)
		}
	}

	for kind, id := range scaleIDs {
		if p.Scale == nil {
			break
		}
		h.revertStep("revert "+kind.String()+" scale", p.Scale.Revert(rctx, id))
	}
	h.logger.Info("pair: torn down", slog.String("name", name))
}

// revertKind restores one category. A failed identity check stops it.
// Reverted scale ids are removed from scaleIDs.
func (h *Handler) revertKind(ctx context.Context, appID uuid.UUID, kind domain.ObjectKind, player domain.ObjectRef, name string, scaleIDs map[domain.ObjectKind]string) {
	p := h.deps.Providers
	obj, ok, err := h.objectFor(ctx, player, kind)
	if err != nil {
		h.revertStep("find "+kind.String(), err)
		return
	}
	if !ok {
		return
	}

	type step struct {
		name string
		run  func() error
	}
	scaleStep := step{"scale", func() error {
		id, ok := scaleIDs[kind]
		if !ok || p.Scale == nil {
			return nil
		}
		delete(scaleIDs, kind)
		return p.Scale.Revert(ctx, id)
	}}
	appearanceStep := step{"appearance", func() error {
		if p.Appearance == nil {
			return nil
		}
		return p.Appearance.Revert(ctx, obj, appID)
	}}

	var steps []step
	if kind == domain.KindPlayer {
		steps = []step{
			appearanceStep,
			{"offset", func() error {
				if p.Offset == nil || !p.Offset.Ready() {
					return nil
				}
				return p.Offset.Revert(ctx, obj)
			}},
			scaleStep,
			{"title", func() error {
				if p.Title == nil || !p.Title.Ready() {
					return nil
				}
				return p.Title.Revert(ctx, obj)
			}},
			{"overlay", func() error {
				if p.Overlay == nil || !p.Overlay.Ready() {
					return nil
				}
				return p.Overlay.Revert(ctx, obj)
			}},
			{"pet names", func() error {
				if p.PetNames == nil || !p.PetNames.Ready() {
					return nil
				}
				return p.PetNames.Revert(ctx, obj)
			}},
		}
	} else {
		steps = []step{
			scaleStep,
			appearanceStep,
			{"redraw", func() error {
				if p.Mods == nil {
					return nil
				}
				return p.Mods.Redraw(ctx, obj, appID)
			}},
		}
	}

	for _, s := range steps {
		if err := h.checkIdentity(ctx, player, name); err != nil {
			h.revertStep("revert "+kind.String()+" "+s.name, err)
			return
		}
		h.revertStep("revert "+kind.String()+" "+s.name, s.run())
	}
}

// checkIdentity guards against reverting an entity that now belongs to
// someone else.
func (h *Handler) checkIdentity(ctx context.Context, player domain.ObjectRef, want string) error {
	got, err := h.deps.World.Name(ctx, player)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: expected %q, found %q", domain.ErrIdentityMismatch, want, got)
	}
	return nil
}

func (h *Handler) revertStep(step string, err error) {
	if err == nil {
		return
	}
	h.logger.Warn("pair: revert step failed", slog.String("step", step), slog.String("error", err.Error()))
	h.emit(domain.EventRevertFailed, domain.SeverityWarning, "%s: %v", step, fmt.Errorf("%w: %v", domain.ErrRevertFailed, err))
}
