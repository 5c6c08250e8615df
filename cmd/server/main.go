package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "charasync/internal/api/http"
	"charasync/internal/app"
	"charasync/internal/domain/ports"
	"charasync/internal/events"
	"charasync/internal/hostbridge"
	"charasync/internal/metrics"
	mongorepo "charasync/internal/repository/mongo"
	redisrepo "charasync/internal/repository/redis"
	"charasync/internal/services/distributor"
	"charasync/internal/services/pair"
	"charasync/internal/services/resolver"
	"charasync/internal/services/snapshot"
	"charasync/internal/services/swarm/anacrolix"
	"charasync/internal/storage/content"
	"charasync/internal/telemetry"
	"charasync/internal/usecase"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "charasync")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "charasync"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("cacheDir", cfg.CacheDir),
		slog.Int("listenPort", cfg.ListenPort),
		slog.String("hostURL", cfg.HostURL),
		slog.Bool("catalog", cfg.MongoURI != ""),
		slog.Bool("descriptorCache", cfg.RedisURL != ""),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := content.Open(cfg.CacheDir, logger)
	if err != nil {
		logger.Error("content store open failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	dirs := store.Dirs()

	engine := anacrolix.New(anacrolix.Config{
		FilesDir:          dirs.Files,
		PiecesDir:         dirs.Pieces,
		StateDir:          dirs.State,
		ListenPort:        cfg.ListenPort,
		UploadRateLimit:   cfg.UploadRateLimit,
		DownloadRateLimit: cfg.DownloadRateLimit,
		PortForwarding:    cfg.PortForwarding,
		LocalDiscovery:    cfg.LocalDiscovery,
		DisableIPv6:       cfg.DisableIPv6,
		NoDHT:             cfg.NoDHT,
		Trackers:          cfg.Trackers,
		PollInterval:      cfg.SessionPollInterval,
	}, store, logger)
	if err := engine.Start(rootCtx); err != nil {
		// Keep serving: files already on disk still resolve.
		logger.Error("swarm engine start failed", slog.String("error", err.Error()))
	}

	catalog, mongoClient, redisClient := openCatalog(rootCtx, cfg, logger)

	bridge := hostbridge.NewClient(cfg.HostURL, cfg.HostToken, hostbridge.WithLogger(logger))
	hostState := hostbridge.NewState()
	providers := hostbridge.Providers(bridge, hostState)
	world := hostbridge.NewWorld(bridge, hostState)

	bus := events.NewBus(cfg.EventBufferSize, logger)

	resolverOpts := []resolver.Option{
		resolver.WithLogger(logger),
		resolver.WithParallelism(cfg.ResolveParallelism),
	}
	if catalog != nil {
		resolverOpts = append(resolverOpts, resolver.WithCatalog(catalog))
	}
	res := resolver.New(store, engine, resolverOpts...)

	dist := distributor.New(hostbridge.NewPusher(bridge), bus, logger)
	builder := snapshot.NewBuilder(world, providers, res, bus, snapshot.Config{
		DrawTimeout:     cfg.DrawTimeout,
		PresenceTimeout: cfg.PresenceTimeout,
		PollInterval:    cfg.RenderPollInterval,
		Parallelism:     cfg.ResolveParallelism,
	}, logger)

	pairs := pair.NewManager(pair.Deps{
		World:     world,
		Providers: providers,
		Resolver:  res,
		Events:    bus,
		Logger:    logger,
	}, pair.Config{
		DrawTimeout:     cfg.DrawTimeout,
		DownloadRetries: cfg.DownloadRetries,
		RetryDelay:      cfg.RetryDelay,
		TeardownTimeout: cfg.TeardownTimeout,
		PollInterval:    cfg.RenderPollInterval,
	})

	buildUC := usecase.BuildAndDistribute{Builder: builder, Distributor: dist}
	listUC := usecase.ListSessions{Swarm: engine}

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithListSessions(listUC),
		apihttp.WithDistributor(dist),
		apihttp.WithPairs(pairs),
		apihttp.WithPublisher(res),
		apihttp.WithHostState(hostState),
		apihttp.WithEvents(bus),
		apihttp.WithStorage(store),
		apihttp.WithSwarm(engine),
		apihttp.WithAPIToken(cfg.APIToken),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
	}
	if pinger, ok := catalog.(apihttp.CatalogHealth); ok {
		serverOpts = append(serverOpts, apihttp.WithCatalog(pinger))
	}
	handler := apihttp.NewServer(buildUC, serverOpts...)

	monitor := usecase.SessionMonitor{
		Swarm:       engine,
		Store:       store,
		Broadcaster: handler,
		Logger:      logger,
		Interval:    cfg.SessionPollInterval,
	}
	go monitor.Run(rootCtx)

	visibility := usecase.VisibilitySync{Pairs: pairs, Observer: dist, Interval: cfg.VisibilityInterval}
	go visibility.Run(rootCtx)

	if cfg.MinDiskSpaceBytes > 0 {
		diskUC := usecase.DiskPressure{
			Swarm:        engine,
			Events:       bus,
			Logger:       logger,
			DataDir:      cfg.CacheDir,
			MinFreeBytes: cfg.MinDiskSpaceBytes,
			ResumeBytes:  cfg.MinDiskSpaceBytes * 2,
		}
		go diskUC.Run(rootCtx)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.TeardownTimeout+10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	// Revert every applied peer before the swarm goes away.
	pairs.Close(shutdownCtx)
	dist.Close()
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

// openCatalog wires the optional shared descriptor catalog. Both backends are
// best effort: a failure is logged and the resolver runs on the local store.
func openCatalog(ctx context.Context, cfg app.Config, logger *slog.Logger) (ports.DescriptorCatalog, *mongo.Client, *redis.Client) {
	var catalog ports.DescriptorCatalog
	var mongoClient *mongo.Client

	if uri := strings.TrimSpace(cfg.MongoURI); uri != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongorepo.Connect(connectCtx, uri, options.Client().SetMonitor(otelmongo.NewMonitor()))
		switch {
		case err != nil:
			logger.Warn("mongo connect failed, catalog disabled", slog.String("error", err.Error()))
		default:
			if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
				logger.Warn("mongo ping failed, catalog disabled", slog.String("error", err.Error()))
				_ = client.Disconnect(context.Background())
				break
			}
			mongoCatalog := mongorepo.NewCatalog(client, cfg.MongoDatabase, cfg.MongoCollection)
			if err := mongoCatalog.EnsureIndexes(connectCtx); err != nil {
				logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
			}
			mongoClient = client
			catalog = mongoCatalog
		}
	}

	url := strings.TrimSpace(cfg.RedisURL)
	if url == "" {
		return catalog, mongoClient, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("invalid redis url, descriptor cache disabled", slog.String("error", err.Error()))
		return catalog, mongoClient, nil
	}
	redisClient := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, descriptor cache disabled", slog.String("error", err.Error()))
		_ = redisClient.Close()
		return catalog, mongoClient, nil
	}
	logger.Info("descriptor cache enabled", slog.String("addr", opts.Addr))
	return redisrepo.NewCachedCatalog(redisClient, catalog, cfg.DescriptorCacheTTL, logger), mongoClient, redisClient
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
