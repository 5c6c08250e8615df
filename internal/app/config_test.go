package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnvVars = []string{
	"CHARASYNC_CONFIG", "HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT", "CHARASYNC_API_TOKEN",
	"CORS_ALLOWED_ORIGINS", "CHARASYNC_CACHE_DIR", "CHARASYNC_LISTEN_PORT",
	"CHARASYNC_UPLOAD_RATE_LIMIT", "CHARASYNC_DOWNLOAD_RATE_LIMIT",
	"CHARASYNC_PORT_FORWARDING", "CHARASYNC_LOCAL_DISCOVERY", "CHARASYNC_DISABLE_IPV6",
	"CHARASYNC_NO_DHT", "CHARASYNC_TRACKERS", "CHARASYNC_MIN_DISK_SPACE_BYTES",
	"CHARASYNC_HOST_URL", "CHARASYNC_HOST_TOKEN", "MONGO_URI", "MONGO_DB",
	"MONGO_COLLECTION", "REDIS_URL", "CHARASYNC_DESCRIPTOR_CACHE_TTL",
	"CHARASYNC_DRAW_TIMEOUT", "CHARASYNC_PRESENCE_TIMEOUT", "CHARASYNC_RENDER_POLL_INTERVAL",
	"CHARASYNC_TEARDOWN_TIMEOUT", "CHARASYNC_DOWNLOAD_RETRIES",
	"CHARASYNC_RETRY_DELAY", "CHARASYNC_RESOLVE_PARALLELISM",
	"CHARASYNC_SESSION_POLL_INTERVAL", "CHARASYNC_VISIBILITY_INTERVAL",
	"CHARASYNC_EVENT_BUFFER_SIZE",
}

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// clearEnv unsets every variable LoadConfig reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func mustLoad(t *testing.T) Config {
	t.Helper()
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	return cfg
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg := mustLoad(t)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, "127.0.0.1:8090"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"APIToken", cfg.APIToken, ""},
		{"CacheDir", cfg.CacheDir, "data"},
		{"ListenPort", cfg.ListenPort, 42069},
		{"UploadRateLimit", cfg.UploadRateLimit, int64(0)},
		{"PortForwarding", cfg.PortForwarding, true},
		{"LocalDiscovery", cfg.LocalDiscovery, true},
		{"NoDHT", cfg.NoDHT, false},
		{"MinDiskSpaceBytes", cfg.MinDiskSpaceBytes, int64(1 << 30)},
		{"HostURL", cfg.HostURL, "http://127.0.0.1:8091"},
		{"MongoURI", cfg.MongoURI, ""},
		{"MongoDatabase", cfg.MongoDatabase, "charasync"},
		{"MongoCollection", cfg.MongoCollection, "descriptors"},
		{"RedisURL", cfg.RedisURL, ""},
		{"DescriptorCacheTTL", cfg.DescriptorCacheTTL, 24 * time.Hour},
		{"DrawTimeout", cfg.DrawTimeout, 30 * time.Second},
		{"PresenceTimeout", cfg.PresenceTimeout, 10 * time.Second},
		{"RenderPollInterval", cfg.RenderPollInterval, 50 * time.Millisecond},
		{"TeardownTimeout", cfg.TeardownTimeout, 60 * time.Second},
		{"DownloadRetries", cfg.DownloadRetries, 10},
		{"RetryDelay", cfg.RetryDelay, 2 * time.Second},
		{"ResolveParallelism", cfg.ResolveParallelism, 4},
		{"EventBufferSize", cfg.EventBufferSize, 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	if len(cfg.CORSAllowedOrigins) != 0 || len(cfg.Trackers) != 0 {
		t.Errorf("expected empty lists, got origins=%v trackers=%v", cfg.CORSAllowedOrigins, cfg.Trackers)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnv(t)
	setEnvs(t, map[string]string{
		"HTTP_ADDR":                       ":9090",
		"LOG_LEVEL":                       "DEBUG",
		"LOG_FORMAT":                      "JSON",
		"CHARASYNC_API_TOKEN":             "tok",
		"CHARASYNC_CACHE_DIR":             "/mnt/cache",
		"CHARASYNC_LISTEN_PORT":           "6881",
		"CHARASYNC_DOWNLOAD_RATE_LIMIT":   "1048576",
		"CHARASYNC_PORT_FORWARDING":       "false",
		"CHARASYNC_NO_DHT":                "1",
		"CHARASYNC_TRACKERS":              "udp://a:1, udp://b:2",
		"CHARASYNC_HOST_URL":              "http://host:1",
		"MONGO_URI":                       "mongodb://remote:27017",
		"REDIS_URL":                       "redis://cache:6379/0",
		"CHARASYNC_DESCRIPTOR_CACHE_TTL":  "1h",
		"CHARASYNC_DRAW_TIMEOUT":          "5s",
		"CHARASYNC_PRESENCE_TIMEOUT":      "3s",
		"CHARASYNC_RENDER_POLL_INTERVAL":  "20ms",
		"CHARASYNC_DOWNLOAD_RETRIES":      "3",
		"CHARASYNC_SESSION_POLL_INTERVAL": "500ms",
		"CORS_ALLOWED_ORIGINS":            "http://localhost:3000, https://example.com",
	})

	cfg := mustLoad(t)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":9090"},
		{"LogLevel", cfg.LogLevel, "debug"},
		{"LogFormat", cfg.LogFormat, "json"},
		{"APIToken", cfg.APIToken, "tok"},
		{"CacheDir", cfg.CacheDir, "/mnt/cache"},
		{"ListenPort", cfg.ListenPort, 6881},
		{"DownloadRateLimit", cfg.DownloadRateLimit, int64(1048576)},
		{"PortForwarding", cfg.PortForwarding, false},
		{"NoDHT", cfg.NoDHT, true},
		{"HostURL", cfg.HostURL, "http://host:1"},
		{"MongoURI", cfg.MongoURI, "mongodb://remote:27017"},
		{"RedisURL", cfg.RedisURL, "redis://cache:6379/0"},
		{"DescriptorCacheTTL", cfg.DescriptorCacheTTL, time.Hour},
		{"DrawTimeout", cfg.DrawTimeout, 5 * time.Second},
		{"PresenceTimeout", cfg.PresenceTimeout, 3 * time.Second},
		{"RenderPollInterval", cfg.RenderPollInterval, 20 * time.Millisecond},
		{"DownloadRetries", cfg.DownloadRetries, 3},
		{"SessionPollInterval", cfg.SessionPollInterval, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	wantOrigins := []string{"http://localhost:3000", "https://example.com"}
	if len(cfg.CORSAllowedOrigins) != len(wantOrigins) {
		t.Fatalf("CORSAllowedOrigins: got %d entries, want %d", len(cfg.CORSAllowedOrigins), len(wantOrigins))
	}
	for i, got := range cfg.CORSAllowedOrigins {
		if got != wantOrigins[i] {
			t.Errorf("CORSAllowedOrigins[%d]: got %q, want %q", i, got, wantOrigins[i])
		}
	}
	if len(cfg.Trackers) != 2 || cfg.Trackers[1] != "udp://b:2" {
		t.Errorf("Trackers: got %v", cfg.Trackers)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "charasync.toml")
	body := `
http_addr = ":7000"
cache_dir = "/srv/charasync"
trackers = ["udp://tracker:80"]
retry_delay = "750ms"
download_retries = 4
mongo_uri = "mongodb://file:27017"
presence_timeout = "4s"
render_poll_interval = "25ms"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHARASYNC_CONFIG", path)
	t.Setenv("HTTP_ADDR", ":7001")

	cfg := mustLoad(t)
	if cfg.HTTPAddr != ":7001" {
		t.Errorf("env must win over file, got %q", cfg.HTTPAddr)
	}
	if cfg.CacheDir != "/srv/charasync" || cfg.MongoURI != "mongodb://file:27017" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.RetryDelay != 750*time.Millisecond || cfg.DownloadRetries != 4 {
		t.Errorf("durations/ints not applied: %v %d", cfg.RetryDelay, cfg.DownloadRetries)
	}
	if len(cfg.Trackers) != 1 || cfg.Trackers[0] != "udp://tracker:80" {
		t.Errorf("Trackers: got %v", cfg.Trackers)
	}
	if cfg.PresenceTimeout != 4*time.Second || cfg.RenderPollInterval != 25*time.Millisecond {
		t.Errorf("render timings not applied: %v %v", cfg.PresenceTimeout, cfg.RenderPollInterval)
	}
	if cfg.DrawTimeout != 30*time.Second {
		t.Errorf("unset key must keep default, got %v", cfg.DrawTimeout)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHARASYNC_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config file")
	}

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("http_addr = "), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHARASYNC_CONFIG", path)
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestLoadConfigRejectsBadPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHARASYNC_LISTEN_PORT", "70000")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestGetEnvInt64InvalidFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		envVal   string
		fallback int64
		want     int64
	}{
		{"empty string", "", 42, 42},
		{"not a number", "abc", 42, 42},
		{"negative number", "-5", 42, 42},
		{"zero", "0", 42, 0},
		{"valid positive", "100", 42, 100},
		{"whitespace around number", "  50  ", 42, 50},
		{"float", "3.14", 42, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_VAR", tt.envVal)
			got := getEnvInt64("TEST_INT_VAR", tt.fallback)
			if got != tt.want {
				t.Errorf("getEnvInt64(%q, %d) = %d, want %d", tt.envVal, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestGetEnvBoolAndDuration(t *testing.T) {
	t.Setenv("TEST_BOOL", "nope")
	if !getEnvBool("TEST_BOOL", true) {
		t.Error("invalid bool must fall back")
	}
	t.Setenv("TEST_BOOL", "false")
	if getEnvBool("TEST_BOOL", true) {
		t.Error("expected false")
	}

	t.Setenv("TEST_DURATION", "-1s")
	if got := getEnvDuration("TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("negative duration must fall back, got %v", got)
	}
	t.Setenv("TEST_DURATION", "90s")
	if got := getEnvDuration("TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
}

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty string", "", nil},
		{"whitespace only", "   ", nil},
		{"single value", "http://localhost:3000", []string{"http://localhost:3000"}},
		{"multiple values", "a,b,c", []string{"a", "b", "c"}},
		{"values with spaces", " a , b , c ", []string{"a", "b", "c"}},
		{"trailing comma", "a,b,", []string{"a", "b"}},
		{"empty entries filtered", "a,,b,,c", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCSV(tt.input)
			if tt.want == nil {
				if got != nil {
					t.Errorf("parseCSV(%q) = %v, want nil", tt.input, got)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseCSV(%q) returned %d elements, want %d", tt.input, len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("parseCSV(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGetEnvFallback(t *testing.T) {
	t.Setenv("TEST_EXISTING", "hello")

	if got := getEnv("TEST_EXISTING", "default"); got != "hello" {
		t.Errorf("getEnv(existing) = %q, want %q", got, "hello")
	}

	t.Setenv("TEST_MISSING_XYZ", "")
	os.Unsetenv("TEST_MISSING_XYZ")
	if got := getEnv("TEST_MISSING_XYZ", "default"); got != "default" {
		t.Errorf("getEnv(missing) = %q, want %q", got, "default")
	}
}

func TestLogLevelCaseInsensitive(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	if cfg := mustLoad(t); cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.LogLevel, "debug")
	}

	t.Setenv("LOG_LEVEL", "Warn")
	if cfg := mustLoad(t); cfg.LogLevel != "warn" {
		t.Errorf("LogLevel: got %q, want %q", cfg.LogLevel, "warn")
	}
}
