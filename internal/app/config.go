package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	HTTPAddr           string   `toml:"http_addr"`
	LogLevel           string   `toml:"log_level"`
	LogFormat          string   `toml:"log_format"`
	APIToken           string   `toml:"api_token"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`

	CacheDir          string   `toml:"cache_dir"`
	ListenPort        int      `toml:"listen_port"`
	UploadRateLimit   int64    `toml:"upload_rate_limit"`   // bytes/sec; 0 = unlimited
	DownloadRateLimit int64    `toml:"download_rate_limit"` // bytes/sec; 0 = unlimited
	PortForwarding    bool     `toml:"port_forwarding"`
	LocalDiscovery    bool     `toml:"local_discovery"`
	DisableIPv6       bool     `toml:"disable_ipv6"`
	NoDHT             bool     `toml:"no_dht"`
	Trackers          []string `toml:"trackers"`
	MinDiskSpaceBytes int64    `toml:"min_disk_space_bytes"` // 0 = disabled

	HostURL   string `toml:"host_url"`
	HostToken string `toml:"host_token"`

	MongoURI           string        `toml:"mongo_uri"` // empty = no catalog
	MongoDatabase      string        `toml:"mongo_db"`
	MongoCollection    string        `toml:"mongo_collection"`
	RedisURL           string        `toml:"redis_url"` // empty = no cache
	DescriptorCacheTTL time.Duration `toml:"descriptor_cache_ttl"`

	DrawTimeout         time.Duration `toml:"draw_timeout"`
	PresenceTimeout     time.Duration `toml:"presence_timeout"`
	RenderPollInterval  time.Duration `toml:"render_poll_interval"`
	TeardownTimeout     time.Duration `toml:"teardown_timeout"`
	DownloadRetries     int           `toml:"download_retries"`
	RetryDelay          time.Duration `toml:"retry_delay"`
	ResolveParallelism  int           `toml:"resolve_parallelism"`
	SessionPollInterval time.Duration `toml:"session_poll_interval"`
	VisibilityInterval  time.Duration `toml:"visibility_interval"`
	EventBufferSize     int           `toml:"event_buffer_size"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:            "127.0.0.1:8090",
		LogLevel:            "info",
		LogFormat:           "text",
		CacheDir:            "data",
		ListenPort:          42069,
		PortForwarding:      true,
		LocalDiscovery:      true,
		MinDiskSpaceBytes:   1 << 30,
		HostURL:             "http://127.0.0.1:8091",
		MongoDatabase:       "charasync",
		MongoCollection:     "descriptors",
		DescriptorCacheTTL:  24 * time.Hour,
		DrawTimeout:         30 * time.Second,
		PresenceTimeout:     10 * time.Second,
		RenderPollInterval:  50 * time.Millisecond,
		TeardownTimeout:     60 * time.Second,
		DownloadRetries:     10,
		RetryDelay:          2 * time.Second,
		ResolveParallelism:  4,
		SessionPollInterval: 2 * time.Second,
		VisibilityInterval:  time.Second,
		EventBufferSize:     256,
	}
}

// LoadConfig layers defaults, the optional TOML file named by
// CHARASYNC_CONFIG and then environment variables.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()
	if path := strings.TrimSpace(os.Getenv("CHARASYNC_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", cfg.LogFormat))
	cfg.APIToken = getEnv("CHARASYNC_API_TOKEN", cfg.APIToken)
	if origins := getEnvList("CORS_ALLOWED_ORIGINS"); origins != nil {
		cfg.CORSAllowedOrigins = origins
	}

	cfg.CacheDir = getEnv("CHARASYNC_CACHE_DIR", cfg.CacheDir)
	cfg.ListenPort = int(getEnvInt64("CHARASYNC_LISTEN_PORT", int64(cfg.ListenPort)))
	cfg.UploadRateLimit = getEnvInt64("CHARASYNC_UPLOAD_RATE_LIMIT", cfg.UploadRateLimit)
	cfg.DownloadRateLimit = getEnvInt64("CHARASYNC_DOWNLOAD_RATE_LIMIT", cfg.DownloadRateLimit)
	cfg.PortForwarding = getEnvBool("CHARASYNC_PORT_FORWARDING", cfg.PortForwarding)
	cfg.LocalDiscovery = getEnvBool("CHARASYNC_LOCAL_DISCOVERY", cfg.LocalDiscovery)
	cfg.DisableIPv6 = getEnvBool("CHARASYNC_DISABLE_IPV6", cfg.DisableIPv6)
	cfg.NoDHT = getEnvBool("CHARASYNC_NO_DHT", cfg.NoDHT)
	if trackers := getEnvList("CHARASYNC_TRACKERS"); trackers != nil {
		cfg.Trackers = trackers
	}
	cfg.MinDiskSpaceBytes = getEnvInt64("CHARASYNC_MIN_DISK_SPACE_BYTES", cfg.MinDiskSpaceBytes)

	cfg.HostURL = getEnv("CHARASYNC_HOST_URL", cfg.HostURL)
	cfg.HostToken = getEnv("CHARASYNC_HOST_TOKEN", cfg.HostToken)

	cfg.MongoURI = getEnv("MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = getEnv("MONGO_DB", cfg.MongoDatabase)
	cfg.MongoCollection = getEnv("MONGO_COLLECTION", cfg.MongoCollection)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.DescriptorCacheTTL = getEnvDuration("CHARASYNC_DESCRIPTOR_CACHE_TTL", cfg.DescriptorCacheTTL)

	cfg.DrawTimeout = getEnvDuration("CHARASYNC_DRAW_TIMEOUT", cfg.DrawTimeout)
	cfg.PresenceTimeout = getEnvDuration("CHARASYNC_PRESENCE_TIMEOUT", cfg.PresenceTimeout)
	cfg.RenderPollInterval = getEnvDuration("CHARASYNC_RENDER_POLL_INTERVAL", cfg.RenderPollInterval)
	cfg.TeardownTimeout = getEnvDuration("CHARASYNC_TEARDOWN_TIMEOUT", cfg.TeardownTimeout)
	cfg.DownloadRetries = int(getEnvInt64("CHARASYNC_DOWNLOAD_RETRIES", int64(cfg.DownloadRetries)))
	cfg.RetryDelay = getEnvDuration("CHARASYNC_RETRY_DELAY", cfg.RetryDelay)
	cfg.ResolveParallelism = int(getEnvInt64("CHARASYNC_RESOLVE_PARALLELISM", int64(cfg.ResolveParallelism)))
	cfg.SessionPollInterval = getEnvDuration("CHARASYNC_SESSION_POLL_INTERVAL", cfg.SessionPollInterval)
	cfg.VisibilityInterval = getEnvDuration("CHARASYNC_VISIBILITY_INTERVAL", cfg.VisibilityInterval)
	cfg.EventBufferSize = int(getEnvInt64("CHARASYNC_EVENT_BUFFER_SIZE", int64(cfg.EventBufferSize)))

	if cfg.ListenPort < 0 || cfg.ListenPort > 65535 {
		return Config{}, fmt.Errorf("listen port %d out of range", cfg.ListenPort)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma-separated variable. Unset yields nil.
func getEnvList(key string) []string {
	return parseCSV(os.Getenv(key))
}

func parseCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
