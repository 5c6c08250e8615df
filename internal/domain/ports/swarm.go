package ports

import (
	"context"
	"io"

	"charasync/internal/domain"
)

// Swarm owns swarm sessions. Sessions are keyed by content hash; callers hold
// the hash, never a session handle.
type Swarm interface {
	CreateDescriptor(ctx context.Context, path string, hash domain.ContentHash, ext string) (domain.SwarmDescriptor, error)
	DecodeDescriptor(data []byte) (domain.SwarmDescriptor, error)
	// EnsureSession starts seeding or fetching. Calling it again for a
	// tracked hash is a no-op.
	EnsureSession(ctx context.Context, desc domain.SwarmDescriptor) error
	HasSession(hash domain.ContentHash) bool
	ListSessions(ctx context.Context) ([]domain.SwarmSession, error)
}

// FetchController suspends data download without dropping sessions.
type FetchController interface {
	PauseFetching() int
	ResumeFetching() int
}

// ContentStore is byte storage keyed by content hash.
type ContentStore interface {
	FilePath(hash domain.ContentHash, ext string) string
	Has(hash domain.ContentHash, ext string) bool
	Lookup(hash domain.ContentHash) (path, ext string, ok bool)
	Import(src string, hash domain.ContentHash, ext string) error
	Ingest(r io.Reader, hash domain.ContentHash, ext string) error
	SaveDescriptor(hash domain.ContentHash, data []byte) error
	LoadDescriptor(hash domain.ContentHash) ([]byte, bool, error)
	// Lock serializes registration work for one hash.
	Lock(hash domain.ContentHash) (unlock func())
}

// DescriptorCatalog is a shared directory of descriptors.
type DescriptorCatalog interface {
	Get(ctx context.Context, hash domain.ContentHash) (domain.SwarmDescriptor, bool, error)
	Put(ctx context.Context, desc domain.SwarmDescriptor) error
}

// Resolver maps between local files and hash-identified objects.
type Resolver interface {
	Publish(ctx context.Context, localPath string) (domain.FileReference, error)
	Resolve(ctx context.Context, ref domain.FileReference) (domain.Resolution, error)
	// ComputeMissing returns the game path to local path map for everything
	// already present, plus the references that still need a download.
	ComputeMissing(ctx context.Context, snap domain.Snapshot) (map[string]string, []domain.FileReference, error)
}
