package ports

import (
	"context"

	"charasync/internal/domain"
)

// World looks up live host objects.
type World interface {
	LocalPlayer(ctx context.Context) (domain.ObjectRef, error)
	// Related returns the object of the given kind owned by owner.
	Related(ctx context.Context, owner domain.ObjectRef, kind domain.ObjectKind) (domain.ObjectRef, bool, error)
	FindPeer(ctx context.Context, peer string) (domain.ObjectRef, bool, error)
	IsDrawing(ctx context.Context, obj domain.ObjectRef) (bool, error)
	IsPresent(ctx context.Context, obj domain.ObjectRef) (bool, error)
	Name(ctx context.Context, obj domain.ObjectRef) (string, error)
	Conditions() domain.Conditions
}

// SnapshotPusher hands a snapshot to the coordination layer for delivery.
type SnapshotPusher interface {
	Push(ctx context.Context, snap domain.Snapshot, peers []string) error
}

// EventSink receives status signals. Publish must not block.
type EventSink interface {
	Publish(ev domain.Event)
}
