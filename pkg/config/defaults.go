package config

import (
	"runtime"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Called after loading from file and environment so zero values pick up
// sensible defaults while explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyDeliveryDefaults(&cfg.Delivery)
	applyWorkersDefaults(&cfg.Workers)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.MountPrefix == "" {
		cfg.MountPrefix = "/static"
	}
	if cfg.DefaultResource == "" {
		cfg.DefaultResource = "dlc/DLCIndex.zip"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Large archives over slow links take a while; this bounds a single
		// response write, not per-chunk progress.
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerSecond
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["root"]; !ok {
		cfg.Filesystem["root"] = "/srv/packserve"
	}
	if _, ok := cfg.Filesystem["fallback_subdir"]; !ok {
		cfg.Filesystem["fallback_subdir"] = "fallback"
	}
}

func applyDeliveryDefaults(cfg *DeliveryConfig) {
	if cfg.ChunkSize == "" {
		cfg.ChunkSize = "64KB"
	}
	if cfg.LargeFileSize == "" {
		cfg.LargeFileSize = "16MB"
	}
	if cfg.CompressMinSize == "" {
		cfg.CompressMinSize = "1KB"
	}
	if cfg.CompressMaxSize == "" {
		cfg.CompressMaxSize = "10MB"
	}
	if cfg.CacheMaxAge == 0 {
		cfg.CacheMaxAge = 3600
	}
}

func applyWorkersDefaults(cfg *WorkersConfig) {
	if cfg.Count == 0 {
		cfg.Count = runtime.NumCPU()
		if cfg.Count < 2 {
			cfg.Count = 2
		}
	}
	if cfg.Restart.Strategy == "" {
		cfg.Restart.Strategy = "always"
	}
	if cfg.Restart.InitialDelay == 0 {
		cfg.Restart.InitialDelay = time.Second
	}
	if cfg.Restart.MaxDelay == 0 {
		cfg.Restart.MaxDelay = time.Minute
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = 30 * time.Second
	}
}
