package hostbridge

import (
	"context"

	"charasync/internal/domain"
	"charasync/internal/domain/ports"
)

// World resolves host objects through the world capability. Conditions are
// served from the cached State.
type World struct {
	c  *Client
	st *State
}

func NewWorld(c *Client, st *State) *World {
	return &World{c: c, st: st}
}

type lookupResult struct {
	Object domain.ObjectRef `json:"object"`
	Found  bool             `json:"found"`
}

func (w *World) LocalPlayer(ctx context.Context) (domain.ObjectRef, error) {
	var obj domain.ObjectRef
	if err := w.c.call(ctx, CapabilityWorld, "local_player", nil, &obj); err != nil {
		return domain.ObjectRef{}, err
	}
	obj.Kind = domain.KindPlayer
	return obj, nil
}

func (w *World) Related(ctx context.Context, owner domain.ObjectRef, kind domain.ObjectKind) (domain.ObjectRef, bool, error) {
	args := struct {
		Owner domain.ObjectRef  `json:"owner"`
		Kind  domain.ObjectKind `json:"kind"`
	}{owner, kind}
	var res lookupResult
	if err := w.c.call(ctx, CapabilityWorld, "related", args, &res); err != nil {
		return domain.ObjectRef{}, false, err
	}
	res.Object.Kind = kind
	return res.Object, res.Found && res.Object.Valid(), nil
}

func (w *World) FindPeer(ctx context.Context, peer string) (domain.ObjectRef, bool, error) {
	args := struct {
		Peer string `json:"peer"`
	}{peer}
	var res lookupResult
	if err := w.c.call(ctx, CapabilityWorld, "find_peer", args, &res); err != nil {
		return domain.ObjectRef{}, false, err
	}
	res.Object.Kind = domain.KindPlayer
	return res.Object, res.Found && res.Object.Valid(), nil
}

func (w *World) IsDrawing(ctx context.Context, obj domain.ObjectRef) (bool, error) {
	return w.flag(ctx, "is_drawing", obj)
}

func (w *World) IsPresent(ctx context.Context, obj domain.ObjectRef) (bool, error) {
	return w.flag(ctx, "is_present", obj)
}

func (w *World) Name(ctx context.Context, obj domain.ObjectRef) (string, error) {
	var res struct {
		Name string `json:"name"`
	}
	if err := w.c.call(ctx, CapabilityWorld, "name", objectArgs{Object: obj}, &res); err != nil {
		return "", err
	}
	return res.Name, nil
}

func (w *World) Conditions() domain.Conditions {
	return w.st.Conditions()
}

func (w *World) flag(ctx context.Context, method string, obj domain.ObjectRef) (bool, error) {
	var res struct {
		Value bool `json:"value"`
	}
	if err := w.c.call(ctx, CapabilityWorld, method, objectArgs{Object: obj}, &res); err != nil {
		return false, err
	}
	return res.Value, nil
}

// Pusher hands snapshots to the host's coordination layer.
type Pusher struct {
	c *Client
}

func NewPusher(c *Client) *Pusher {
	return &Pusher{c: c}
}

func (p *Pusher) Push(ctx context.Context, snap domain.Snapshot, peers []string) error {
	args := struct {
		Snapshot domain.Snapshot `json:"snapshot"`
		Peers    []string        `json:"peers"`
	}{snap, peers}
	return p.c.call(ctx, CapabilityCoordination, "push", args, nil)
}

var (
	_ ports.World          = (*World)(nil)
	_ ports.SnapshotPusher = (*Pusher)(nil)
)
