// Package config handles loading and validating Sanduku configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Sanduku.
type Config struct {
	BaseDir       string               `json:"base_dir,omitempty" yaml:"base_dir,omitempty"` // Workspace base on the execution host. Empty = $HOME/sanduku on the host.
	Host          HostConfig           `json:"host" yaml:"host"`
	Deps          DepsConfig           `json:"deps" yaml:"deps"`
	Execution     ExecutionConfig      `json:"execution" yaml:"execution"`
	Gateway       *GatewayConfig       `json:"gateway,omitempty" yaml:"gateway,omitempty"`             // nil = gateway defaults
	Runner        *RunnerConfig        `json:"runner,omitempty" yaml:"runner,omitempty"`               // settings for the runner subcommand
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite default
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Reaper        *ReaperConfig        `json:"reaper,omitempty" yaml:"reaper,omitempty"`               // nil = idle-session reaping disabled
}

// HostConfig selects the execution substrate.
type HostConfig struct {
	Kind      string `json:"kind" yaml:"kind"`                                 // "runner" (default) or "docker".
	RunnerURL string `json:"runner_url,omitempty" yaml:"runner_url,omitempty"` // Runner daemon base URL. Override: SANDUKU_RUNNER_URL.
	Container string `json:"container,omitempty" yaml:"container,omitempty"`   // Docker container name for kind=docker. Override: SANDUKU_CONTAINER.
}

// HostKind returns the configured substrate kind, defaulting to "runner".
func (h *HostConfig) HostKind() string {
	if h != nil && h.Kind != "" {
		return h.Kind
	}
	return "runner"
}

// DepsConfig configures dependency management.
type DepsConfig struct {
	InstallPolicy      string   `json:"install_policy" yaml:"install_policy"`                               // "pip" (default) or "uv".
	Whitelist          []string `json:"whitelist" yaml:"whitelist"`                                         // Installable packages. "*" allows everything.
	CachedDependencies []string `json:"cached_dependencies,omitempty" yaml:"cached_dependencies,omitempty"` // Pre-installed at startup, never uninstalled.
}

// ExecutionConfig bounds code execution.
type ExecutionConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-execution wall clock. Default: 60.
}

// Timeout returns the execution timeout with a default of 60s.
func (e ExecutionConfig) Timeout() time.Duration {
	if e.TimeoutSeconds > 0 {
		return time.Duration(e.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// GatewayConfig configures the REST gateway.
type GatewayConfig struct {
	ListenAddr     string            `json:"listen_addr" yaml:"listen_addr"`                   // Default: ":8080". Override: SANDUKU_LISTEN_ADDR.
	APIKeys        map[string]string `json:"api_keys" yaml:"api_keys"`                         // API key -> user ID. SANDUKU_API_KEY adds a "default" user key.
	EnableDocs     bool              `json:"enable_docs" yaml:"enable_docs"`                   // Expose OpenAPI docs.
	MaxRequestSize int64             `json:"max_request_size" yaml:"max_request_size"`         // Bytes. 0 = 32 MB default.
	RateLimit      *RateLimitConfig  `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // nil = rate limiting disabled.
}

// Addr returns the listen address with a default of ":8080".
func (g *GatewayConfig) Addr() string {
	if g != nil && g.ListenAddr != "" {
		return g.ListenAddr
	}
	return ":8080"
}

// RequestSizeLimit returns the body limit with a default of 32 MB.
func (g *GatewayConfig) RequestSizeLimit() int64 {
	if g != nil && g.MaxRequestSize > 0 {
		return g.MaxRequestSize
	}
	return 32 << 20
}

// RateLimitConfig configures per-user token-bucket rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // Default: 60.
	Burst             int `json:"burst" yaml:"burst"`                             // Default: 10.
}

// Rate returns requests per minute with a default of 60.
func (r *RateLimitConfig) Rate() int {
	if r != nil && r.RequestsPerMinute > 0 {
		return r.RequestsPerMinute
	}
	return 60
}

// BurstSize returns the bucket burst with a default of 10.
func (r *RateLimitConfig) BurstSize() int {
	if r != nil && r.Burst > 0 {
		return r.Burst
	}
	return 10
}

// RunnerConfig configures the in-container runner daemon.
type RunnerConfig struct {
	ListenAddr     string `json:"listen_addr" yaml:"listen_addr"`         // Default: ":8222".
	RootDir        string `json:"root_dir" yaml:"root_dir"`               // Sandbox root. Empty = $HOME.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Default command timeout. Default: 60.
}

// Addr returns the daemon listen address with a default of ":8222".
func (r *RunnerConfig) Addr() string {
	if r != nil && r.ListenAddr != "" {
		return r.ListenAddr
	}
	return ":8222"
}

// Timeout returns the daemon command timeout with a default of 60s.
func (r *RunnerConfig) Timeout() time.Duration {
	if r != nil && r.TimeoutSeconds > 0 {
		return time.Duration(r.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// Root returns the configured sandbox root, possibly empty.
func (r *RunnerConfig) Root() string {
	if r != nil {
		return r.RootDir
	}
	return ""
}

// StorageConfig configures the execution-history backend.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: ~/.sanduku/sanduku.db.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: SANDUKU_DB_DSN.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "sanduku"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0-1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// ReaperConfig configures idle-session cleanup.
type ReaperConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Schedule       string `json:"schedule" yaml:"schedule"`                 // Cron expression. Default: "*/5 * * * *".
	IdleTTLSeconds int    `json:"idle_ttl_seconds" yaml:"idle_ttl_seconds"` // Default: 3600.
}

// CronSchedule returns the sweep schedule with a default of every 5 minutes.
func (r *ReaperConfig) CronSchedule() string {
	if r != nil && r.Schedule != "" {
		return r.Schedule
	}
	return "*/5 * * * *"
}

// IdleTTL returns the idle cutoff with a default of 1h.
func (r *ReaperConfig) IdleTTL() time.Duration {
	if r != nil && r.IdleTTLSeconds > 0 {
		return time.Duration(r.IdleTTLSeconds) * time.Second
	}
	return time.Hour
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnv layers environment variable overrides on top of file values.
func (c *Config) applyEnv() {
	if env := os.Getenv("SANDUKU_RUNNER_URL"); env != "" {
		c.Host.RunnerURL = env
	}
	if env := os.Getenv("SANDUKU_CONTAINER"); env != "" {
		c.Host.Container = env
	}
	if env := os.Getenv("SANDUKU_BASE_DIR"); env != "" {
		c.BaseDir = env
	}
	if env := os.Getenv("SANDUKU_LISTEN_ADDR"); env != "" {
		if c.Gateway == nil {
			c.Gateway = &GatewayConfig{}
		}
		c.Gateway.ListenAddr = env
	}
	if env := os.Getenv("SANDUKU_API_KEY"); env != "" {
		if c.Gateway == nil {
			c.Gateway = &GatewayConfig{}
		}
		if c.Gateway.APIKeys == nil {
			c.Gateway.APIKeys = make(map[string]string)
		}
		c.Gateway.APIKeys[env] = "default"
	}
	if env := os.Getenv("SANDUKU_DB_DSN"); env != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = env
	}
}

func (c *Config) validate() error {
	switch c.Host.HostKind() {
	case "runner":
		if c.Host.RunnerURL == "" {
			return fmt.Errorf("host.runner_url is required for host.kind=runner")
		}
	case "docker":
		if c.Host.Container == "" {
			return fmt.Errorf("host.container is required for host.kind=docker")
		}
	default:
		return fmt.Errorf("host.kind %q is not supported (use runner or docker)", c.Host.Kind)
	}

	switch c.Deps.InstallPolicy {
	case "", "pip", "uv":
	default:
		return fmt.Errorf("deps.install_policy %q is not supported (use pip or uv)", c.Deps.InstallPolicy)
	}
	if len(c.Deps.Whitelist) == 0 {
		return fmt.Errorf("deps.whitelist must not be empty (use [\"*\"] to allow everything)")
	}

	if c.Execution.TimeoutSeconds < 0 {
		return fmt.Errorf("execution.timeout_seconds must not be negative")
	}

	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Storage.StorageDriver() == "postgres" && (c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "") {
		return fmt.Errorf("storage.postgres.dsn is required for storage.driver=postgres")
	}

	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		t := c.Observability.Tracing
		if t.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch t.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", t.Protocol)
		}
	}

	return nil
}

// DatabasePath returns the default SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "sanduku.db"
	}
	return filepath.Join(home, ".sanduku", "sanduku.db")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".sanduku", "config.yaml")
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
