// Package config loads, defaults and validates the packserve configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PACKSERVE_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete packserve configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains the HTTP serving settings shared by all workers
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage specifies the storage backend and type-specific options
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Delivery holds the streaming and compression thresholds
	Delivery DeliveryConfig `mapstructure:"delivery" yaml:"delivery"`

	// Workers controls the worker fleet and its restart policy
	Workers WorkersConfig `mapstructure:"workers" yaml:"workers"`

	// Metrics controls the Prometheus endpoint and periodic count logging
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN or ERROR
	// (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains the HTTP surface settings.
type ServerConfig struct {
	// ListenAddr is the address the shared listener binds, e.g. ":8080".
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr" validate:"required"`

	// MountPrefix is the URL prefix files are served under, e.g. "/static".
	MountPrefix string `mapstructure:"mount_prefix" yaml:"mount_prefix" validate:"required,startswith=/"`

	// DefaultResource is the relative path served for the bare prefix.
	DefaultResource string `mapstructure:"default_resource" yaml:"default_resource" validate:"required"`

	// MaxConnections caps concurrent connections per worker (0 = unlimited).
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"gte=0"`

	// ReadTimeout bounds reading a request including its headers.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout bounds the whole response write.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`

	// IdleTimeout bounds keep-alive idle time between requests.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`

	// ShutdownTimeout is the grace period for in-flight transfers on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// RateLimit optionally bounds the request rate per worker.
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig bounds the per-worker request rate using a token bucket.
// A zero rate disables limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate (0 = unlimited).
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the bucket capacity.
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// StorageConfig specifies the storage backend.
//
// The Type field determines which backend is used; only the matching
// type-specific section is consulted.
type StorageConfig struct {
	// Type selects the backend: filesystem or memory.
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory"`

	// Filesystem options, used when Type = "filesystem":
	//   root:            primary root directory (absolute)
	//   fallback_subdir: subdirectory of root tried after it
	//   extra_roots:     additional roots tried in order
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// Memory options, used when Type = "memory":
	//   files: map of relative path -> file content
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`
}

// DeliveryConfig holds streaming and compression thresholds. Sizes are
// human-readable strings ("64KB", "10MB").
type DeliveryConfig struct {
	// ChunkSize is the default read chunk size.
	ChunkSize string `mapstructure:"chunk_size" yaml:"chunk_size" validate:"required"`

	// LargeFileSize is the size above which the chunk size is halved.
	LargeFileSize string `mapstructure:"large_file_size" yaml:"large_file_size" validate:"required"`

	// CompressMinSize is the minimum size for gzip to be considered.
	CompressMinSize string `mapstructure:"compress_min_size" yaml:"compress_min_size" validate:"required"`

	// CompressMaxSize is the size at which gzip is no longer applied.
	CompressMaxSize string `mapstructure:"compress_max_size" yaml:"compress_max_size" validate:"required"`

	// CacheMaxAge is the Cache-Control max-age in seconds.
	CacheMaxAge int `mapstructure:"cache_max_age" yaml:"cache_max_age" validate:"gte=0"`
}

// WorkersConfig controls the worker fleet.
type WorkersConfig struct {
	// Count is the number of worker processes (0 = derived from CPUs, min 2).
	Count int `mapstructure:"count" yaml:"count" validate:"gte=0"`

	// Restart configures the restart policy for exited workers.
	Restart RestartConfig `mapstructure:"restart" yaml:"restart"`
}

// RestartConfig selects how exited workers are respawned.
type RestartConfig struct {
	// Strategy is "always" (immediate, unconditional) or "backoff"
	// (exponential delay between consecutive failures).
	Strategy string `mapstructure:"strategy" yaml:"strategy" validate:"required,oneof=always backoff"`

	// InitialDelay is the first backoff delay (backoff strategy only).
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay" validate:"gte=0"`

	// MaxDelay caps the backoff delay (backoff strategy only).
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay" validate:"gte=0"`
}

// MetricsConfig controls observability surfaces.
type MetricsConfig struct {
	// Enabled turns on the Prometheus registry and the /metrics server.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the metrics HTTP server port.
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`

	// LogInterval is how often the supervisor logs the aggregate connection
	// count (0 disables).
	LogInterval time.Duration `mapstructure:"log_interval" yaml:"log_interval" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to a config file (empty uses the default location,
//     missing default file is not an error)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variables and config file lookup.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the PACKSERVE_ prefix with underscores,
	// e.g. PACKSERVE_LOGGING_LEVEL=DEBUG.
	v.SetEnvPrefix("PACKSERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface unknown keys to Unmarshal, so the
	// leaf keys are bound explicitly.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"server.listen_addr", "server.mount_prefix", "server.default_resource",
		"server.max_connections", "server.read_timeout", "server.write_timeout",
		"server.idle_timeout", "server.shutdown_timeout",
		"server.rate_limit.requests_per_second", "server.rate_limit.burst",
		"storage.type",
		"delivery.chunk_size", "delivery.large_file_size",
		"delivery.compress_min_size", "delivery.compress_max_size",
		"delivery.cache_max_age",
		"workers.count", "workers.restart.strategy",
		"workers.restart.initial_delay", "workers.restart.max_delay",
		"metrics.enabled", "metrics.port", "metrics.log_interval",
	} {
		_ = v.BindEnv(key)
	}

	// The primary file root is commonly set through the environment alone.
	_ = v.BindEnv("storage.filesystem.root", "PACKSERVE_STORAGE_FILESYSTEM_ROOT", "PACKSERVE_ROOT")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if present. A missing file is only an
// error when it was requested explicitly.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound && configPath == "" {
			return nil
		}
		if configPath == "" && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/packserve (or ~/.config/packserve).
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "packserve")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "packserve")
}
