package config

import "fmt"

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.DetectTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.detect_timeout_seconds",
			Message: "must be at least 1",
		})
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_minute",
			Message: "must not be negative, use 0 to disable",
		})
	}

	if c.Detection.Contamination <= 0 || c.Detection.Contamination >= 0.5 {
		errs = append(errs, &ValidationError{
			Field:   "detection.contamination",
			Message: fmt.Sprintf("must be in (0, 0.5), got %g", c.Detection.Contamination),
		})
	}
	if !(c.Detection.ZMedium < c.Detection.ZHigh && c.Detection.ZHigh < c.Detection.ZCritical) {
		errs = append(errs, &ValidationError{
			Field:   "detection.z_thresholds",
			Message: fmt.Sprintf("tiers must be strictly increasing, got %g/%g/%g",
				c.Detection.ZMedium, c.Detection.ZHigh, c.Detection.ZCritical),
		})
	}
	if c.Detection.MinSeriesLength < 3 {
		errs = append(errs, &ValidationError{
			Field:   "detection.min_series_length",
			Message: "must be at least 3",
		})
	}
	if c.Detection.RollingWindow < c.Detection.MinSeriesLength {
		errs = append(errs, &ValidationError{
			Field:   "detection.rolling_window",
			Message: "must be at least min_series_length",
		})
	}
	for metric, r := range c.Detection.ExpectedRanges {
		if r.Low > r.High {
			errs = append(errs, &ValidationError{
				Field:   "detection.expected_ranges." + metric,
				Message: fmt.Sprintf("low %g exceeds high %g", r.Low, r.High),
			})
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.path",
			Message: "database path is required",
		})
	}

	if c.Cache.Enabled {
		if c.Cache.TTLSeconds < 1 {
			errs = append(errs, &ValidationError{
				Field:   "cache.ttl_seconds",
				Message: "must be at least 1 when caching is enabled",
			})
		}
		if c.Cache.MaxEntries < 1 {
			errs = append(errs, &ValidationError{
				Field:   "cache.max_entries",
				Message: "must be at least 1 when caching is enabled",
			})
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", c.Logging.Level),
		})
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", c.Logging.Format),
		})
	}

	return errs
}
