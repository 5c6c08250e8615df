package ports

import (
	"context"

	"github.com/google/uuid"

	"charasync/internal/domain"
)

// Every provider reports readiness cheaply; a provider that is not ready must
// not be called.

// ModProvider resolves mod file paths and owns temporary mod scopes.
type ModProvider interface {
	Ready() bool
	// ResolvedPaths maps on-disk (or redirect target) paths to the game
	// paths they serve for obj.
	ResolvedPaths(ctx context.Context, obj domain.ObjectRef) (map[string][]string, error)
	Manipulations(ctx context.Context) (string, error)
	CreateScope(ctx context.Context, peer string) (string, error)
	AssignScope(ctx context.Context, scope string, obj domain.ObjectRef) error
	SetTemporaryMods(ctx context.Context, appID uuid.UUID, scope string, paths map[string]string) error
	SetManipulations(ctx context.Context, appID uuid.UUID, scope, manipulation string) error
	RemoveScope(ctx context.Context, appID uuid.UUID, scope string) error
	Redraw(ctx context.Context, obj domain.ObjectRef, appID uuid.UUID) error
}

type AppearanceProvider interface {
	Ready() bool
	Get(ctx context.Context, obj domain.ObjectRef) (string, error)
	Apply(ctx context.Context, obj domain.ObjectRef, data string, appID uuid.UUID) error
	Revert(ctx context.Context, obj domain.ObjectRef, appID uuid.UUID) error
	RevertByName(ctx context.Context, name string, appID uuid.UUID) error
}

// ScaleProvider hands out a session id per applied scale; the id is what
// gets reverted.
type ScaleProvider interface {
	Ready() bool
	Get(ctx context.Context, obj domain.ObjectRef) (string, error)
	Apply(ctx context.Context, obj domain.ObjectRef, data string) (string, error)
	Revert(ctx context.Context, id string) error
}

type OffsetProvider interface {
	Ready() bool
	Get(ctx context.Context) (string, error)
	Apply(ctx context.Context, obj domain.ObjectRef, data string) error
	Revert(ctx context.Context, obj domain.ObjectRef) error
}

type TitleProvider interface {
	Ready() bool
	Get(ctx context.Context) (string, error)
	Apply(ctx context.Context, obj domain.ObjectRef, data string) error
	Revert(ctx context.Context, obj domain.ObjectRef) error
}

type OverlayProvider interface {
	Ready() bool
	Get(ctx context.Context, obj domain.ObjectRef) (string, error)
	Apply(ctx context.Context, obj domain.ObjectRef, data string) error
	Revert(ctx context.Context, obj domain.ObjectRef) error
}

type PetNameProvider interface {
	Ready() bool
	Get(ctx context.Context) (string, error)
	Apply(ctx context.Context, obj domain.ObjectRef, data string) error
	Revert(ctx context.Context, obj domain.ObjectRef) error
}

// Providers groups every cosmetic-state capability.
type Providers struct {
	Mods       ModProvider
	Appearance AppearanceProvider
	Scale      ScaleProvider
	Offset     OffsetProvider
	Title      TitleProvider
	Overlay    OverlayProvider
	PetNames   PetNameProvider
}

// CoreReady reports whether the providers needed for any application are up.
func (p Providers) CoreReady() bool {
	return p.Mods != nil && p.Mods.Ready() && p.Appearance != nil && p.Appearance.Ready()
}
