// Package config provides configuration management for farmsight-analytics.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading for tunable detection parameters
//   - Establish reasonable defaults
//
// Configuration sources (priority order, high to low):
//   1. Environment variables (FARMSIGHT_* prefix)
//   2. YAML config file (default: /etc/farmsight/config.yaml)
//   3. Built-in defaults
//
// Main configuration sections:
//
//   1. Server
//      - host, port: listen address (default 0.0.0.0:8090)
//      - detect_timeout_seconds: caller-level deadline for one detection run
//
//   2. Detection
//      - z-score tiers, contamination, min series length, rolling window
//      - expected_ranges: cosmetic per-metric domain bounds for explanations
//      - workers: per-entity pipeline parallelism (0 = one per CPU)
//
//   3. Database
//      - path: SQLite file holding detection runs
//
//   4. Cache
//      - enabled, ttl_seconds, max_entries for the result cache
//
//   5. Logging
//      - level, format, optional rotating file output
package config

import "context"

// Range is a domain-expected metric range, used only in explanation text.
type Range struct {
	Low  float64 `mapstructure:"low"`
	High float64 `mapstructure:"high"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Host                 string `mapstructure:"host"`
	Port                 int    `mapstructure:"port"`
	DetectTimeoutSeconds int    `mapstructure:"detect_timeout_seconds"`
	// RateLimitPerMinute caps detect requests per client IP. Zero disables
	// the limiter.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
	// AllowedOrigins lists origins permitted to open WebSocket
	// connections. ["*"] allows any origin (development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Detection holds the tunable engine parameters.
type Detection struct {
	ZMedium         float64          `mapstructure:"z_medium"`
	ZHigh           float64          `mapstructure:"z_high"`
	ZCritical       float64          `mapstructure:"z_critical"`
	Contamination   float64          `mapstructure:"contamination"`
	MinSeriesLength int              `mapstructure:"min_series_length"`
	RollingWindow   int              `mapstructure:"rolling_window"`
	Workers         int              `mapstructure:"workers"`
	ExpectedRanges  map[string]Range `mapstructure:"expected_ranges"`
}

// Database holds the persistence configuration.
type Database struct {
	Path string `mapstructure:"path"`
}

// Cache holds the result cache configuration.
type Cache struct {
	Enabled    bool `mapstructure:"enabled"`
	TTLSeconds int  `mapstructure:"ttl_seconds"`
	MaxEntries int  `mapstructure:"max_entries"`
}

// Logging holds the logger configuration.
type Logging struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config contains all configuration fields.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Detection Detection `mapstructure:"detection"`
	Database  Database  `mapstructure:"database"`
	Cache     Cache     `mapstructure:"cache"`
	Logging   Logging   `mapstructure:"logging"`
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration file changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}
