package usecase

import (
	"context"

	"charasync/internal/domain"
)

type SnapshotBuilder interface {
	Build(ctx context.Context) (domain.Snapshot, error)
}

type SnapshotDistributor interface {
	Distribute(snap domain.Snapshot) bool
}

// BuildAndDistribute assembles the local snapshot and hands it to the
// distributor. Changed is false when the snapshot hash matches the one
// already distributed.
type BuildAndDistribute struct {
	Builder     SnapshotBuilder
	Distributor SnapshotDistributor
}

type BuildResult struct {
	Snapshot domain.Snapshot `json:"snapshot"`
	Changed  bool            `json:"changed"`
}

func (uc BuildAndDistribute) Execute(ctx context.Context) (BuildResult, error) {
	snap, err := uc.Builder.Build(ctx)
	if err != nil {
		return BuildResult{}, wrapBuild(err)
	}
	return BuildResult{Snapshot: snap, Changed: uc.Distributor.Distribute(snap)}, nil
}
