package hostbridge

import (
	"context"

	"github.com/google/uuid"

	"charasync/internal/domain"
	"charasync/internal/domain/ports"
)

// Capability names, shared with the host's readiness reports.
const (
	CapabilityMods         = "mods"
	CapabilityAppearance   = "appearance"
	CapabilityScale        = "scale"
	CapabilityOffset       = "offset"
	CapabilityTitle        = "title"
	CapabilityOverlay      = "overlay"
	CapabilityPetNames     = "pet_names"
	CapabilityWorld        = "world"
	CapabilityCoordination = "coordination"
)

var ProviderCapabilities = []string{
	CapabilityMods,
	CapabilityAppearance,
	CapabilityScale,
	CapabilityOffset,
	CapabilityTitle,
	CapabilityOverlay,
	CapabilityPetNames,
}

// Providers returns every provider port backed by c. Readiness comes from st.
func Providers(c *Client, st *State) ports.Providers {
	return ports.Providers{
		Mods:       modProvider{capability{c, st, CapabilityMods}},
		Appearance: appearanceProvider{capability{c, st, CapabilityAppearance}},
		Scale:      scaleProvider{capability{c, st, CapabilityScale}},
		Offset:     scalarProvider{capability{c, st, CapabilityOffset}},
		Title:      scalarProvider{capability{c, st, CapabilityTitle}},
		Overlay:    overlayProvider{capability{c, st, CapabilityOverlay}},
		PetNames:   scalarProvider{capability{c, st, CapabilityPetNames}},
	}
}

type capability struct {
	c    *Client
	st   *State
	name string
}

func (p capability) Ready() bool { return p.st.Ready(p.name) }

func (p capability) call(ctx context.Context, method string, args, out any) error {
	return p.c.call(ctx, p.name, method, args, out)
}

type objectArgs struct {
	Object domain.ObjectRef `json:"object"`
}

type applyArgs struct {
	Object domain.ObjectRef `json:"object"`
	Data   string           `json:"data"`
	AppID  *uuid.UUID       `json:"appId,omitempty"`
}

type dataResult struct {
	Data string `json:"data"`
}

func (p capability) getFor(ctx context.Context, obj domain.ObjectRef) (string, error) {
	var res dataResult
	if err := p.call(ctx, "get", objectArgs{Object: obj}, &res); err != nil {
		return "", err
	}
	return res.Data, nil
}

func (p capability) getLocal(ctx context.Context) (string, error) {
	var res dataResult
	if err := p.call(ctx, "get", nil, &res); err != nil {
		return "", err
	}
	return res.Data, nil
}

// ---------------------------------------------------------------------------
// Mods
// ---------------------------------------------------------------------------

type modProvider struct{ capability }

type scopeArgs struct {
	AppID        uuid.UUID         `json:"appId"`
	Scope        string            `json:"scope"`
	Peer         string            `json:"peer,omitempty"`
	Object       *domain.ObjectRef `json:"object,omitempty"`
	Paths        map[string]string `json:"paths,omitempty"`
	Manipulation string            `json:"manipulation,omitempty"`
}

func (p modProvider) ResolvedPaths(ctx context.Context, obj domain.ObjectRef) (map[string][]string, error) {
	var res struct {
		Paths map[string][]string `json:"paths"`
	}
	if err := p.call(ctx, "resolved_paths", objectArgs{Object: obj}, &res); err != nil {
		return nil, err
	}
	return res.Paths, nil
}

func (p modProvider) Manipulations(ctx context.Context) (string, error) {
	var res dataResult
	if err := p.call(ctx, "manipulations", nil, &res); err != nil {
		return "", err
	}
	return res.Data, nil
}

func (p modProvider) CreateScope(ctx context.Context, peer string) (string, error) {
	var res struct {
		Scope string `json:"scope"`
	}
	if err := p.call(ctx, "create_scope", scopeArgs{Peer: peer}, &res); err != nil {
		return "", err
	}
	return res.Scope, nil
}

func (p modProvider) AssignScope(ctx context.Context, scope string, obj domain.ObjectRef) error {
	return p.call(ctx, "assign_scope", scopeArgs{Scope: scope, Object: &obj}, nil)
}

func (p modProvider) SetTemporaryMods(ctx context.Context, appID uuid.UUID, scope string, paths map[string]string) error {
	if paths == nil {
		paths = map[string]string{}
	}
	return p.call(ctx, "set_files", scopeArgs{AppID: appID, Scope: scope, Paths: paths}, nil)
}

func (p modProvider) SetManipulations(ctx context.Context, appID uuid.UUID, scope, manipulation string) error {
	return p.call(ctx, "set_manipulation", scopeArgs{AppID: appID, Scope: scope, Manipulation: manipulation}, nil)
}

func (p modProvider) RemoveScope(ctx context.Context, appID uuid.UUID, scope string) error {
	return p.call(ctx, "remove_scope", scopeArgs{AppID: appID, Scope: scope}, nil)
}

func (p modProvider) Redraw(ctx context.Context, obj domain.ObjectRef, appID uuid.UUID) error {
	return p.call(ctx, "redraw", applyArgs{Object: obj, AppID: &appID}, nil)
}

// ---------------------------------------------------------------------------
// Appearance
// ---------------------------------------------------------------------------

type appearanceProvider struct{ capability }

func (p appearanceProvider) Get(ctx context.Context, obj domain.ObjectRef) (string, error) {
	return p.getFor(ctx, obj)
}

func (p appearanceProvider) Apply(ctx context.Context, obj domain.ObjectRef, data string, appID uuid.UUID) error {
	return p.call(ctx, "apply", applyArgs{Object: obj, Data: data, AppID: &appID}, nil)
}

func (p appearanceProvider) Revert(ctx context.Context, obj domain.ObjectRef, appID uuid.UUID) error {
	return p.call(ctx, "revert", applyArgs{Object: obj, AppID: &appID}, nil)
}

func (p appearanceProvider) RevertByName(ctx context.Context, name string, appID uuid.UUID) error {
	args := struct {
		Name  string    `json:"name"`
		AppID uuid.UUID `json:"appId"`
	}{name, appID}
	return p.call(ctx, "revert_by_name", args, nil)
}

// ---------------------------------------------------------------------------
// Scale
// ---------------------------------------------------------------------------

type scaleProvider struct{ capability }

func (p scaleProvider) Get(ctx context.Context, obj domain.ObjectRef) (string, error) {
	return p.getFor(ctx, obj)
}

func (p scaleProvider) Apply(ctx context.Context, obj domain.ObjectRef, data string) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	if err := p.call(ctx, "apply", applyArgs{Object: obj, Data: data}, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (p scaleProvider) Revert(ctx context.Context, id string) error {
	args := struct {
		ID string `json:"id"`
	}{id}
	return p.call(ctx, "revert", args, nil)
}

// ---------------------------------------------------------------------------
// Offset, title, pet names and overlay
// ---------------------------------------------------------------------------

// scalarProvider serves the player-only scalars read from the local player.
type scalarProvider struct{ capability }

func (p scalarProvider) Get(ctx context.Context) (string, error) {
	return p.getLocal(ctx)
}

func (p scalarProvider) Apply(ctx context.Context, obj domain.ObjectRef, data string) error {
	return p.call(ctx, "apply", applyArgs{Object: obj, Data: data}, nil)
}

func (p scalarProvider) Revert(ctx context.Context, obj domain.ObjectRef) error {
	return p.call(ctx, "revert", objectArgs{Object: obj}, nil)
}

type overlayProvider struct{ capability }

func (p overlayProvider) Get(ctx context.Context, obj domain.ObjectRef) (string, error) {
	return p.getFor(ctx, obj)
}

func (p overlayProvider) Apply(ctx context.Context, obj domain.ObjectRef, data string) error {
	return p.call(ctx, "apply", applyArgs{Object: obj, Data: data}, nil)
}

func (p overlayProvider) Revert(ctx context.Context, obj domain.ObjectRef) error {
	return p.call(ctx, "revert", objectArgs{Object: obj}, nil)
}

var (
	_ ports.ModProvider        = modProvider{}
	_ ports.AppearanceProvider = appearanceProvider{}
	_ ports.ScaleProvider      = scaleProvider{}
	_ ports.OffsetProvider     = scalarProvider{}
	_ ports.TitleProvider      = scalarProvider{}
	_ ports.PetNameProvider    = scalarProvider{}
	_ ports.OverlayProvider    = overlayProvider{}
)
