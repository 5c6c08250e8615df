// Package snapshot assembles the local player's cosmetic state into a
// distributable snapshot.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"charasync/internal/domain"
	"charasync/internal/domain/ports"
	"charasync/internal/metrics"
	"charasync/internal/telemetry"
)

const (
	DefaultDrawTimeout     = 30 * time.Second
	DefaultPresenceTimeout = 10 * time.Second
	DefaultPollInterval    = 50 * time.Millisecond
	DefaultParallelism     = 4
)

// Publisher turns a local file into a file reference.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (domain.FileReference, error)
}

type Config struct {
	DrawTimeout     time.Duration
	PresenceTimeout time.Duration
	PollInterval    time.Duration
	Parallelism     int
}

func (c Config) withDefaults() Config {
	if c.DrawTimeout <= 0 {
		c.DrawTimeout = DefaultDrawTimeout
	}
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = DefaultPresenceTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	return c
}

type Builder struct {
	world     ports.World
	providers ports.Providers
	publisher Publisher
	events    ports.EventSink
	cfg       Config
	logger    *slog.Logger
}

func NewBuilder(world ports.World, providers ports.Providers, publisher Publisher, events ports.EventSink, cfg Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		world:     world,
		providers: providers,
		publisher: publisher,
		events:    events,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Build captures the current state of the local player and its related
// objects. A failed or cancelled build returns no snapshot.
func (b *Builder) Build(ctx context.Context) (domain.Snapshot, error) {
	ctx, span := telemetry.Tracer("snapshot").Start(ctx, "snapshot.Build")
	defer span.End()

	start := time.Now()
	snap, err := b.build(ctx)
	metrics.SnapshotBuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.Snapshot{}, err
	}
	span.SetAttributes(
		attribute.String("hash", string(snap.Hash)),
		attribute.Int("files", len(snap.Files())),
	)
	b.emit(domain.Event{
		Kind:     domain.EventSnapshotBuilt,
		Severity: domain.SeverityInfo,
		Message:  fmt.Sprintf("snapshot %s with %d files", snap.Hash, len(snap.Files())),
	})
	return snap, nil
}

func (b *Builder) build(ctx context.Context) (domain.Snapshot, error) {
	if !b.providers.CoreReady() {
		return domain.Snapshot{}, domain.ErrProvidersUnavailable
	}

	player, err := b.world.LocalPlayer(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("local player: %w", err)
	}
	if !player.Valid() {
		return domain.Snapshot{}, fmt.Errorf("%w: local player", domain.ErrEntityNotReady)
	}

	objects := map[domain.ObjectKind]domain.ObjectRef{domain.KindPlayer: player}
	for _, kind := range domain.AllKinds[1:] {
		obj, ok, err := b.world.Related(ctx, player, kind)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("related %s: %w", kind, err)
		}
		if ok && obj.Valid() {
			objects[kind] = obj
		}
	}

	fragments := make(map[domain.ObjectKind]domain.Fragment, len(objects))
	for _, kind := range domain.AllKinds {
		obj, ok := objects[kind]
		if !ok {
			continue
		}
		frag, err := b.buildFragment(ctx, kind, obj)
		if err != nil {
			return domain.Snapshot{}, err
		}
		fragments[kind] = frag
	}

	playerData, err := b.playerData(ctx, player)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	return domain.NewSnapshot(fragments, playerData), nil
}

func (b *Builder) buildFragment(ctx context.Context, kind domain.ObjectKind, obj domain.ObjectRef) (domain.Fragment, error) {
	if err := b.waitReady(ctx, obj); err != nil {
		return domain.Fragment{}, err
	}

	resolved, err := b.providers.Mods.ResolvedPaths(ctx, obj)
	if err != nil {
		return domain.Fragment{}, fmt.Errorf("resolve %s paths: %w", kind, err)
	}
	files, redirects, err := b.collectFiles(ctx, resolved)
	if err != nil {
		return domain.Fragment{}, err
	}
	if kind.KeepsRedirectsResident() {
		redirects = nil
	}

	frag := domain.Fragment{Files: files, Redirects: redirects}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		frag.Appearance = b.scalar(gctx, "appearance", b.providers.Appearance != nil && b.providers.Appearance.Ready(), func(ctx context.Context) (string, error) {
			return b.providers.Appearance.Get(ctx, obj)
		})
		return nil
	})
	g.Go(func() error {
		frag.Scale = b.scalar(gctx, "scale", b.providers.Scale != nil && b.providers.Scale.Ready(), func(ctx context.Context) (string, error) {
			return b.providers.Scale.Get(ctx, obj)
		})
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return domain.Fragment{}, err
	}
	return frag, nil
}

func (b *Builder) playerData(ctx context.Context, player domain.ObjectRef) (domain.PlayerData, error) {
	var data domain.PlayerData
	p := b.providers
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data.Manipulation = b.scalar(gctx, "manipulation", p.Mods != nil && p.Mods.Ready(), func(ctx context.Context) (string, error) {
			return p.Mods.Manipulations(ctx)
		})
		return nil
	})
	g.Go(func() error {
		data.Offset = b.scalar(gctx, "offset", p.Offset != nil && p.Offset.Ready(), func(ctx context.Context) (string, error) {
			return p.Offset.Get(ctx)
		})
		return nil
	})
	g.Go(func() error {
		data.Title = b.scalar(gctx, "title", p.Title != nil && p.Title.Ready(), func(ctx context.Context) (string, error) {
			return p.Title.Get(ctx)
		})
		return nil
	})
	g.Go(func() error {
		data.Overlay = b.scalar(gctx, "overlay", p.Overlay != nil && p.Overlay.Ready(), func(ctx context.Context) (string, error) {
			return p.Overlay.Get(ctx, player)
		})
		return nil
	})
	g.Go(func() error {
		data.PetNames = b.scalar(gctx, "pet_names", p.PetNames != nil && p.PetNames.Ready(), func(ctx context.Context) (string, error) {
			return p.PetNames.Get(ctx)
		})
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return domain.PlayerData{}, err
	}
	return data, nil
}

// scalar queries one optional provider. Errors and unready providers yield "".
func (b *Builder) scalar(ctx context.Context, name string, ready bool, get func(context.Context) (string, error)) string {
	if !ready {
		return ""
	}
	v, err := get(ctx)
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Warn("snapshot: provider query failed",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
		}
		return ""
	}
	return v
}

// collectFiles publishes every on-disk path once and fans the reference out
// to each game path it serves. Paths not on disk are static redirects.
func (b *Builder) collectFiles(ctx context.Context, resolved map[string][]string) ([]domain.FileReference, []domain.FileRedirect, error) {
	var (
		onDisk    []string
		redirects []domain.FileRedirect
	)
	for local, gamePaths := range resolved {
		if info, err := os.Stat(local); err == nil && info.Mode().IsRegular() {
			onDisk = append(onDisk, local)
			continue
		}
		for _, gp := range gamePaths {
			if gp == local {
				continue
			}
			redirects = append(redirects, domain.FileRedirect{GamePath: gp, SwapPath: local})
		}
	}
	sort.Strings(onDisk)

	refs := make([]domain.FileReference, len(onDisk))
	errs := make([]error, len(onDisk))
	sem := semaphore.NewWeighted(int64(b.cfg.Parallelism))
	var wg sync.WaitGroup
	for i, local := range onDisk {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, nil, err
		}
		wg.Add(1)
		go func(i int, local string) {
			defer wg.Done()
			defer sem.Release(1)
			refs[i], errs[i] = b.publisher.Publish(ctx, local)
		}(i, local)
	}
	wg.Wait()

	var files []domain.FileReference
	for i, local := range onDisk {
		if errs[i] != nil {
			return nil, nil, fmt.Errorf("publish %s: %w", local, errs[i])
		}
		gamePaths := append([]string(nil), resolved[local]...)
		sort.Strings(gamePaths)
		for _, gp := range gamePaths {
			ref := refs[i]
			ref.GamePath = gp
			files = append(files, ref)
		}
	}
	sort.Slice(redirects, func(i, j int) bool {
		if redirects[i].GamePath != redirects[j].GamePath {
			return redirects[i].GamePath < redirects[j].GamePath
		}
		return redirects[i].SwapPath < redirects[j].SwapPath
	})
	return files, redirects, nil
}

// waitReady blocks until obj is not drawing and present.
func (b *Builder) waitReady(ctx context.Context, obj domain.ObjectRef) error {
	if err := pollUntil(ctx, b.cfg.DrawTimeout, b.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		drawing, err := b.world.IsDrawing(ctx, obj)
		return !drawing, err
	}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s still drawing: %v", domain.ErrEntityNotReady, obj.Kind, err)
	}
	if err := pollUntil(ctx, b.cfg.PresenceTimeout, b.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		return b.world.IsPresent(ctx, obj)
	}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s not present: %v", domain.ErrEntityNotReady, obj.Kind, err)
	}
	return nil
}

// pollUntil calls cond every interval until it reports true, the timeout
// elapses, or ctx ends.
func pollUntil(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) (bool, error)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ok, err := cond(ctx)
		if err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if err != nil {
				return err
			}
			return context.DeadlineExceeded
		case <-ticker.C:
		}
	}
}

func (b *Builder) emit(ev domain.Event) {
	if b.events == nil {
		return
	}
	ev.Time = time.Now().UTC()
	b.events.Publish(ev)
}
