package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8090
	cfg.Server.DetectTimeoutSeconds = 60
	cfg.Server.RateLimitPerMinute = 120
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// Detection defaults
	cfg.Detection.ZMedium = 2.5
	cfg.Detection.ZHigh = 3.5
	cfg.Detection.ZCritical = 4.0
	cfg.Detection.Contamination = 0.1
	cfg.Detection.MinSeriesLength = 10
	cfg.Detection.RollingWindow = 30
	cfg.Detection.Workers = 0
	cfg.Detection.ExpectedRanges = map[string]Range{
		"eggs_produced":      {Low: 150, High: 350},
		"mortality_rate":     {Low: 0, High: 2},
		"avg_weight_kg":      {Low: 1.5, High: 3.5},
		"feed_kg_total":      {Low: 50, High: 200},
		"water_liters_total": {Low: 100, High: 400},
		"temperature_c":      {Low: 18, High: 26},
		"humidity_pct":       {Low: 50, High: 70},
	}

	// Database defaults
	cfg.Database.Path = "/var/lib/farmsight/farmsight.db"

	// Cache defaults
	cfg.Cache.Enabled = true
	cfg.Cache.TTLSeconds = 300
	cfg.Cache.MaxEntries = 128

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.Path = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	return cfg
}
