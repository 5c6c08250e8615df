package apihttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"charasync/internal/domain"
	"charasync/internal/services/pair"
	"charasync/internal/storage/content"
	"charasync/internal/usecase"
)

type BuildSnapshotUseCase interface {
	Execute(ctx context.Context) (usecase.BuildResult, error)
}

type ListSessionsUseCase interface {
	Execute(ctx context.Context) ([]domain.SwarmSession, error)
}

// SnapshotDistributor holds the last distributed snapshot and tracks the
// coordination link.
type SnapshotDistributor interface {
	Last() (domain.Snapshot, bool)
	Connected() bool
	OnConnected(peers []string)
	OnDisconnected()
}

type PairController interface {
	Add(peer string) *pair.Handler
	ApplyIncoming(peer string, snap domain.Snapshot, forceScalars bool) error
	SetVisible(ctx context.Context, peer string) error
	SetInvisible(peer string) error
	RequestRedraw(peer string) error
	ProviderReady(provider string)
	Teardown(ctx context.Context, peer string) error
	UpdateConditions(c domain.Conditions)
	VisiblePeers() []string
	Statuses() []pair.Status
}

type FilePublisher interface {
	Publish(ctx context.Context, localPath string) (domain.FileReference, error)
}

// HostState caches what the host pushes.
type HostState interface {
	SetReady(provider string, ready bool) bool
	Readiness() map[string]bool
	SetConditions(c domain.Conditions)
	Conditions() domain.Conditions
}

type EventFeed interface {
	Recent(limit int) []domain.Event
	Subscribe(fn func(domain.Event)) (unsubscribe func())
}

type StorageUsage interface {
	Usage() content.Usage
}

type SwarmStatus interface {
	Available() bool
}

// CatalogHealth reports whether the optional descriptor catalog is reachable.
type CatalogHealth interface {
	Ping(ctx context.Context) error
}

type Server struct {
	buildSnapshot  BuildSnapshotUseCase
	listSessions   ListSessionsUseCase
	distributor    SnapshotDistributor
	pairs          PairController
	publisher      FilePublisher
	host           HostState
	events         EventFeed
	storage        StorageUsage
	swarm          SwarmStatus
	catalog        CatalogHealth
	apiToken       string
	allowedOrigins []string
	rateLimit      float64
	rateBurst      int
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
	upgrader       *websocket.Upgrader
	unsubscribe    func()
}

type ServerOption func(*Server)

func WithListSessions(uc ListSessionsUseCase) ServerOption {
	return func(s *Server) {
		s.listSessions = uc
	}
}

func WithDistributor(d SnapshotDistributor) ServerOption {
	return func(s *Server) {
		s.distributor = d
	}
}

func WithPairs(p PairController) ServerOption {
	return func(s *Server) {
		s.pairs = p
	}
}

func WithPublisher(p FilePublisher) ServerOption {
	return func(s *Server) {
		s.publisher = p
	}
}

func WithHostState(h HostState) ServerOption {
	return func(s *Server) {
		s.host = h
	}
}

func WithEvents(e EventFeed) ServerOption {
	return func(s *Server) {
		s.events = e
	}
}

func WithStorage(u StorageUsage) ServerOption {
	return func(s *Server) {
		s.storage = u
	}
}

func WithSwarm(sw SwarmStatus) ServerOption {
	return func(s *Server) {
		s.swarm = sw
	}
}

func WithCatalog(c CatalogHealth) ServerOption {
	return func(s *Server) {
		s.catalog = c
	}
}

func WithAPIToken(token string) ServerOption {
	return func(s *Server) {
		s.apiToken = token
	}
}

func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateLimit = rps
			s.rateBurst = burst
		}
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewServer(build BuildSnapshotUseCase, opts ...ServerOption) *Server {
	s := &Server{
		buildSnapshot: build,
		rateLimit:     100,
		rateBurst:     200,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = newWSHub(s.logger)
	s.upgrader = newWSUpgrader(s.allowedOrigins)
	go s.wsHub.run()
	if s.events != nil {
		s.unsubscribe = s.events.Subscribe(s.wsHub.BroadcastEvent)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/storage", s.handleStorage)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/snapshot/build", s.handleBuildSnapshot)
	mux.HandleFunc("/publish", s.handlePublish)
	mux.HandleFunc("/peers", s.handlePeers)
	mux.HandleFunc("/peers/", s.handlePeerByID)
	mux.HandleFunc("/host/conditions", s.handleHostConditions)
	mux.HandleFunc("/host/providers", s.handleHostProviders)
	mux.HandleFunc("/host/connection", s.handleHostConnection)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "charasync",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return !isProbePath(p) && p != "/ws" && p != "/host/conditions"
		}),
	)
	s.handler = recoveryMiddleware(s.logger,
		rateLimitMiddleware(s.rateLimit, s.rateBurst,
			metricsMiddleware(corsMiddleware(s.allowedOrigins, authMiddleware(s.apiToken, traced)))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Broadcast sends a typed message to every websocket client.
func (s *Server) Broadcast(msgType string, data interface{}) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msgType, data)
	}
}

// Close detaches from the event feed and disconnects websocket clients.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil || s.upgrader == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}
