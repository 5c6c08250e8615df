// Package resolver maps local files to hash-identified swarm objects and back.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"charasync/internal/domain"
	"charasync/internal/domain/ports"
	"charasync/internal/telemetry"
)

// DefaultParallelism bounds concurrent hashing and resolution.
const DefaultParallelism = 4

type Resolver struct {
	store       ports.ContentStore
	swarm       ports.Swarm
	catalog     ports.DescriptorCatalog // optional
	logger      *slog.Logger
	parallelism int64
}

type Option func(*Resolver)

func WithCatalog(c ports.DescriptorCatalog) Option {
	return func(r *Resolver) { r.catalog = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithParallelism(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.parallelism = int64(n)
		}
	}
}

func New(store ports.ContentStore, swarm ports.Swarm, opts ...Option) *Resolver {
	r := &Resolver{
		store:       store,
		swarm:       swarm,
		logger:      slog.Default(),
		parallelism: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish makes a local file available to peers and returns its reference
// without a game path.
func (r *Resolver) Publish(ctx context.Context, localPath string) (domain.FileReference, error) {
	ctx, span := telemetry.Tracer("resolver").Start(ctx, "resolver.Publish")
	defer span.End()

	if _, err := os.Stat(localPath); err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("%w: %s", domain.ErrSourceMissing, localPath)
		}
		span.SetStatus(codes.Error, err.Error())
		return domain.FileReference{}, err
	}
	hash, _, err := domain.HashFile(localPath)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.FileReference{}, err
	}
	ext := domain.NormalizeExtension(filepath.Ext(localPath))
	span.SetAttributes(attribute.String("hash", hash.Short()), attribute.String("ext", ext))

	unlock := r.store.Lock(hash)
	defer unlock()

	if !r.store.Has(hash, ext) {
		if err := r.store.Import(localPath, hash, ext); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return domain.FileReference{}, err
		}
	}

	desc, err := r.descriptorFor(ctx, hash, ext)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.FileReference{}, err
	}

	if err := r.swarm.EnsureSession(ctx, desc); err != nil {
		if !errors.Is(err, domain.ErrSwarmUnavailable) {
			span.SetStatus(codes.Error, err.Error())
			return domain.FileReference{}, err
		}
		r.logger.Warn("resolver: published without seeding",
			slog.String("hash", hash.Short()),
			slog.String("error", err.Error()),
		)
	}

	return domain.FileReference{Hash: hash, Extension: ext, Descriptor: &desc}, nil
}

// descriptorFor reuses a known descriptor or creates one. Caller holds the
// hash lock.
func (r *Resolver) descriptorFor(ctx context.Context, hash domain.ContentHash, ext string) (domain.SwarmDescriptor, error) {
	if desc, ok := r.storedDescriptor(hash); ok && desc.Extension == ext {
		return desc, nil
	}
	if desc, ok := r.catalogDescriptor(ctx, hash); ok && desc.Extension == ext {
		if err := r.store.SaveDescriptor(hash, desc.Data); err != nil {
			return domain.SwarmDescriptor{}, err
		}
		return desc, nil
	}

	desc, err := r.swarm.CreateDescriptor(ctx, r.store.FilePath(hash, ext), hash, ext)
	if err != nil {
		return domain.SwarmDescriptor{}, fmt.Errorf("create descriptor: %w", err)
	}
	if err := r.store.SaveDescriptor(hash, desc.Data); err != nil {
		return domain.SwarmDescriptor{}, err
	}
	if r.catalog != nil {
		if err := r.catalog.Put(ctx, desc); err != nil {
			r.logger.Warn("resolver: catalog put failed",
				slog.String("hash", hash.Short()),
				slog.String("error", err.Error()),
			)
		}
	}
	return desc, nil
}

func (r *Resolver) storedDescriptor(hash domain.ContentHash) (domain.SwarmDescriptor, bool) {
	data, ok, err := r.store.LoadDescriptor(hash)
	if err != nil {
		r.logger.Warn("resolver: load descriptor failed",
			slog.String("hash", hash.Short()),
			slog.String("error", err.Error()),
		)
		return domain.SwarmDescriptor{}, false
	}
	if !ok {
		return domain.SwarmDescriptor{}, false
	}
	desc, err := r.swarm.DecodeDescriptor(data)
	if err != nil || desc.Hash != hash {
		r.logger.Warn("resolver: stored descriptor unusable", slog.String("hash", hash.Short()))
		return domain.SwarmDescriptor{}, false
	}
	return desc, true
}

func (r *Resolver) catalogDescriptor(ctx context.Context, hash domain.ContentHash) (domain.SwarmDescriptor, bool) {
	if r.catalog == nil {
		return domain.SwarmDescriptor{}, false
	}
	desc, ok, err := r.catalog.Get(ctx, hash)
	if err != nil {
		r.logger.Warn("resolver: catalog lookup failed",
			slog.String("hash", hash.Short()),
			slog.String("error", err.Error()),
		)
		return domain.SwarmDescriptor{}, false
	}
	if !ok || desc.Hash != hash || len(desc.Data) == 0 {
		return domain.SwarmDescriptor{}, false
	}
	return desc, true
}

// Resolve reports where the bytes for ref are. It never waits on a transfer.
func (r *Resolver) Resolve(ctx context.Context, ref domain.FileReference) (domain.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return domain.Resolution{}, err
	}
	ext := domain.NormalizeExtension(ref.Extension)

	if r.store.Has(ref.Hash, ext) || r.adoptOtherExtension(ref.Hash, ext) {
		r.seedBestEffort(ctx, ref.Hash, ext)
		return domain.Resolution{Status: domain.ResolutionLocal, LocalPath: r.store.FilePath(ref.Hash, ext)}, nil
	}

	desc, ok := r.remoteDescriptor(ctx, ref)
	if !ok {
		return domain.Resolution{Status: domain.ResolutionMissing}, nil
	}
	if err := r.swarm.EnsureSession(ctx, desc); err != nil {
		return domain.Resolution{}, err
	}
	return domain.Resolution{Status: domain.ResolutionPending}, nil
}

// adoptOtherExtension imports bytes already stored under a different
// extension. The hash covers the bytes only, so the content is the same.
func (r *Resolver) adoptOtherExtension(hash domain.ContentHash, ext string) bool {
	path, other, ok := r.store.Lookup(hash)
	if !ok || other == ext {
		return false
	}
	if err := r.store.Import(path, hash, ext); err != nil {
		r.logger.Debug("resolver: adopt stored content failed",
			slog.String("hash", hash.Short()),
			slog.String("from", other),
			slog.String("ext", ext),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (r *Resolver) remoteDescriptor(ctx context.Context, ref domain.FileReference) (domain.SwarmDescriptor, bool) {
	if ref.Descriptor != nil && ref.Descriptor.Hash == ref.Hash && len(ref.Descriptor.Data) > 0 {
		desc := *ref.Descriptor
		if err := r.store.SaveDescriptor(ref.Hash, desc.Data); err != nil {
			r.logger.Warn("resolver: cache descriptor failed",
				slog.String("hash", ref.Hash.Short()),
				slog.String("error", err.Error()),
			)
		}
		return desc, true
	}
	if desc, ok := r.storedDescriptor(ref.Hash); ok {
		return desc, true
	}
	return r.catalogDescriptor(ctx, ref.Hash)
}

func (r *Resolver) seedBestEffort(ctx context.Context, hash domain.ContentHash, ext string) {
	if r.swarm.HasSession(hash) {
		return
	}
	desc, ok := r.storedDescriptor(hash)
	if !ok {
		return
	}
	if err := r.swarm.EnsureSession(ctx, desc); err != nil && !errors.Is(err, domain.ErrSwarmUnavailable) {
		r.logger.Debug("resolver: seed local content failed",
			slog.String("hash", hash.Short()),
			slog.String("ext", ext),
			slog.String("error", err.Error()),
		)
	}
}

// ComputeMissing resolves every file reference of snap. Static redirects are
// copied into the path map unchanged.
func (r *Resolver) ComputeMissing(ctx context.Context, snap domain.Snapshot) (map[string]string, []domain.FileReference, error) {
	ctx, span := telemetry.Tracer("resolver").Start(ctx, "resolver.ComputeMissing")
	defer span.End()

	paths := make(map[string]string)
	for _, kind := range snap.Kinds() {
		for _, redirect := range snap.Fragments[kind].Redirects {
			paths[redirect.GamePath] = redirect.SwapPath
		}
	}

	refs := snap.Files()
	span.SetAttributes(attribute.Int("files", len(refs)))
	results := make([]domain.Resolution, len(refs))
	errs := make([]error, len(refs))

	sem := semaphore.NewWeighted(r.parallelism)
	var wg sync.WaitGroup
	for i := range refs {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			results[i], errs[i] = r.Resolve(ctx, refs[i])
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var missing []domain.FileReference
	for i, ref := range refs {
		if errs[i] != nil {
			// Resolution failures leave the file missing; the caller retries.
			r.logger.Debug("resolver: resolve failed",
				slog.String("hash", ref.Hash.Short()),
				slog.String("error", errs[i].Error()),
			)
			missing = append(missing, ref)
			continue
		}
		switch results[i].Status {
		case domain.ResolutionLocal:
			paths[ref.GamePath] = results[i].LocalPath
		default:
			missing = append(missing, ref)
		}
	}
	span.SetAttributes(attribute.Int("missing", len(missing)))
	return paths, missing, nil
}

var _ ports.Resolver = (*Resolver)(nil)
