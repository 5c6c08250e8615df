package anacrolix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"

	"charasync/internal/domain"
	"charasync/internal/domain/ports"
)

// minLimiterBurst keeps the limiter burst above the client's largest single
// read so a low limit slows transfers instead of stalling them.
const minLimiterBurst = 256 << 10

const defaultPollInterval = time.Second

type Config struct {
	FilesDir  string // verified content, seeded in place
	PiecesDir string // partial downloads
	StateDir  string // piece completion database

	ListenPort        int
	UploadRateLimit   int64 // bytes/sec; 0 = unlimited
	DownloadRateLimit int64 // bytes/sec; 0 = unlimited
	PortForwarding    bool
	LocalDiscovery    bool
	DisableIPv6       bool
	NoDHT             bool
	Trackers          []string
	PollInterval      time.Duration
}

// Engine owns every swarm session. Sessions live in an arena keyed by content
// hash; consumers only ever hold the hash.
type Engine struct {
	cfg    Config
	store  ports.ContentStore
	logger *slog.Logger

	client       *torrent.Client
	completion   storage.PieceCompletion
	seedStorage  storage.ClientImpl
	fetchStorage storage.ClientImpl

	mu       sync.RWMutex
	sessions map[domain.ContentHash]*session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, store ports.ContentStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		sessions: make(map[domain.ContentHash]*session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the client. Settings are read once; a failure leaves the engine
// unavailable and is reported to the caller, which is expected to carry on.
func (e *Engine) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, dir := range []string{e.cfg.FilesDir, e.cfg.PiecesDir, e.cfg.StateDir} {
		if dir == "" {
			return errors.New("swarm: storage directories not configured")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("swarm: create %s: %w", dir, err)
		}
	}

	completion, err := storage.NewDefaultPieceCompletionForDir(e.cfg.StateDir)
	if err != nil {
		e.logger.Warn("swarm: persistent piece completion unavailable, using memory",
			slog.String("dir", e.cfg.StateDir),
			slog.String("error", err.Error()),
		)
		completion = storage.NewMapPieceCompletion()
	}
	seedStorage := storage.NewFileWithCompletion(e.cfg.FilesDir, completion)
	fetchStorage := storage.NewFileWithCompletion(e.cfg.PiecesDir, completion)

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = e.cfg.PiecesDir
	clientConfig.DefaultStorage = fetchStorage
	clientConfig.Seed = true
	clientConfig.ListenPort = e.cfg.ListenPort
	clientConfig.NoDHT = e.cfg.NoDHT
	clientConfig.DisableIPv6 = e.cfg.DisableIPv6
	clientConfig.NoDefaultPortForwarding = !e.cfg.PortForwarding
	if l := newLimiter(e.cfg.UploadRateLimit); l != nil {
		clientConfig.UploadRateLimiter = l
	}
	if l := newLimiter(e.cfg.DownloadRateLimit); l != nil {
		clientConfig.DownloadRateLimiter = l
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		_ = completion.Close()
		return fmt.Errorf("%w: %v", domain.ErrSwarmUnavailable, err)
	}

	e.mu.Lock()
	e.client = client
	e.completion = completion
	e.seedStorage = seedStorage
	e.fetchStorage = fetchStorage
	e.mu.Unlock()

	addrs := make([]string, 0, len(client.ListenAddrs()))
	for _, a := range client.ListenAddrs() {
		addrs = append(addrs, a.String())
	}
	e.logger.Info("swarm: engine started",
		slog.Any("listen", addrs),
		slog.Bool("portForwarding", e.cfg.PortForwarding),
		slog.Bool("dht", !e.cfg.NoDHT),
		slog.Int64("uploadLimit", e.cfg.UploadRateLimit),
		slog.Int64("downloadLimit", e.cfg.DownloadRateLimit),
	)
	if e.cfg.LocalDiscovery {
		e.logger.Info("swarm: local peer discovery relies on dht and pex")
	}
	return nil
}

func newLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < minLimiterBurst {
		burst = minLimiterBurst
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// Available reports whether the client started.
func (e *Engine) Available() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client != nil
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

// reserve claims the arena slot for hash. Only the first caller gets
// created == true; everyone else converges on the same entry.
func (e *Engine) reserve(hash domain.ContentHash, ext string) (*session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[hash]; ok {
		return s, false
	}
	s := &session{hash: hash, ext: ext, name: domain.ObjectName(hash, ext), addedAt: time.Now().UTC()}
	e.sessions[hash] = s
	return s, true
}

func (e *Engine) release(hash domain.ContentHash, s *session) {
	e.mu.Lock()
	if e.sessions[hash] == s {
		delete(e.sessions, hash)
	}
	e.mu.Unlock()
}

func (e *Engine) EnsureSession(ctx context.Context, desc domain.SwarmDescriptor) error {
	e.mu.RLock()
	client := e.client
	e.mu.RUnlock()
	if client == nil {
		return domain.ErrSwarmUnavailable
	}
	if len(desc.Data) == 0 {
		return errors.New("swarm: descriptor has no data")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s, created := e.reserve(desc.Hash, desc.Extension)
	if !created {
		return nil
	}

	mi, err := metainfo.Load(bytes.NewReader(desc.Data))
	if err != nil {
		e.release(desc.Hash, s)
		return fmt.Errorf("swarm: load descriptor: %w", err)
	}
	spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
	if err != nil {
		e.release(desc.Hash, s)
		return fmt.Errorf("swarm: descriptor spec: %w", err)
	}

	local := e.store != nil && e.store.Has(desc.Hash, desc.Extension)
	if local {
		spec.Storage = e.seedStorage
	} else {
		spec.Storage = e.fetchStorage
	}

	t, _, err := client.AddTorrentSpec(spec)
	if err != nil {
		e.release(desc.Hash, s)
		return fmt.Errorf("swarm: add torrent: %w", err)
	}

	s.mu.Lock()
	s.t = t
	s.local = local
	s.mu.Unlock()

	e.logger.Debug("swarm: session registered",
		slog.String("hash", desc.Hash.Short()),
		slog.Bool("seeding", local),
	)

	e.wg.Add(1)
	go e.watch(s)
	return nil
}

// watch drives one session: verify what is on disk, download the rest, and
// hand completed content to the store.
func (e *Engine) watch(s *session) {
	defer e.wg.Done()
	t := s.torrent()

	select {
	case <-e.ctx.Done():
		return
	case <-t.Closed():
		e.release(s.hash, s)
		return
	case <-t.GotInfo():
	}

	t.VerifyData()
	t.DownloadAll()

	if s.isLocal() {
		return
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.Closed():
			e.release(s.hash, s)
			return
		case <-ticker.C:
			if t.Length() <= 0 || t.BytesCompleted() < t.Length() {
				continue
			}
			if err := e.promote(s); err != nil {
				e.logger.Error("swarm: promote completed content failed",
					slog.String("hash", s.hash.Short()),
					slog.String("error", err.Error()),
				)
				continue
			}
			e.logger.Info("swarm: content fetched",
				slog.String("hash", s.hash.Short()),
				slog.Int64("bytes", t.Length()),
			)
			return
		}
	}
}

// promote copies completed bytes into the content store, verifying the hash.
func (e *Engine) promote(s *session) error {
	if e.store == nil {
		return errors.New("swarm: no content store")
	}
	unlock := e.store.Lock(s.hash)
	defer unlock()

	r := s.torrent().NewReader()
	defer r.Close()
	if err := e.store.Ingest(r, s.hash, s.ext); err != nil {
		return err
	}
	s.mu.Lock()
	s.local = true
	s.mu.Unlock()
	return nil
}

func (e *Engine) HasSession(hash domain.ContentHash) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.sessions[hash]
	return ok
}

// ListSessions returns a point-in-time view sorted by name.
func (e *Engine) ListSessions(ctx context.Context) ([]domain.SwarmSession, error) {
	if !e.Available() {
		return nil, domain.ErrSwarmUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessions := e.snapshotSessions()
	out := make([]domain.SwarmSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.view())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ---------------------------------------------------------------------------
// Forced pause
// ---------------------------------------------------------------------------

// PauseFetching stops data download on every incomplete session and returns
// how many were paused.
func (e *Engine) PauseFetching() int {
	n := 0
	for _, s := range e.snapshotSessions() {
		if s.pause() {
			n++
		}
	}
	return n
}

func (e *Engine) ResumeFetching() int {
	n := 0
	for _, s := range e.snapshotSessions() {
		if s.resume() {
			n++
		}
	}
	return n
}

func (e *Engine) snapshotSessions() []*session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// Close stops watchers and the client. Safe to call when Start failed.
func (e *Engine) Close() error {
	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	client, completion := e.client, e.completion
	e.client = nil
	e.mu.Unlock()

	var errs []error
	if client != nil {
		errs = append(errs, client.Close()...)
	}
	if completion != nil {
		if err := completion.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

var _ ports.Swarm = (*Engine)(nil)
var _ ports.FetchController = (*Engine)(nil)
