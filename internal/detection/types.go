package detection

import (
	"sort"
	"time"
)

// Severity is the discrete, totally ordered classification attached to a
// confirmed anomaly: critical > high > medium.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the numeric order of a severity for sorting (higher = worse).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

// Direction indicates which side of the expected value a reading fell on.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Method identifies a detection strategy.
type Method string

const (
	MethodStatistical  Method = "statistical"
	MethodMultivariate Method = "multivariate"
)

// Row is one normalized input observation: an entity, a timestamp, and the
// named metric values recorded at that time. Metrics absent from the map were
// not measured (explicit "absent", never zero-filled by the caller).
type Row struct {
	EntityID  string             `json:"entity_id"`
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Point is a single (timestamp, value) observation within a series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSeries is an ordered, immutable per-(entity, metric) series built
// once per run. Timestamps are unique and strictly increasing.
type MetricSeries struct {
	EntityID   string
	MetricName string
	Points     []Point

	// Unscoreable annotations. A series carrying either flag is retained for
	// reporting but must be skipped by the statistical detector.
	TooShort     bool
	ZeroVariance bool
}

// Scoreable reports whether the statistical detector may score this series.
func (s *MetricSeries) Scoreable() bool {
	return !s.TooShort && !s.ZeroVariance
}

// Values returns the series values in chronological order.
func (s *MetricSeries) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// SamplingInterval estimates the series' sampling interval as the median gap
// between consecutive points. Zero when the series has fewer than two points.
func (s *MetricSeries) SamplingInterval() time.Duration {
	if len(s.Points) < 2 {
		return 0
	}
	gaps := make([]time.Duration, 0, len(s.Points)-1)
	for i := 1; i < len(s.Points); i++ {
		gaps = append(gaps, s.Points[i].Timestamp.Sub(s.Points[i-1].Timestamp))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

// AnomalyCandidate is a raw finding from a single detector. Candidates are an
// internal currency: they are merged, classified and enriched before anything
// reaches a caller. Raw scores are method specific and must not be compared
// across methods.
type AnomalyCandidate struct {
	EntityID   string
	MetricName string
	Timestamp  time.Time
	Value      float64
	RawScore   float64
	Method     Method
	Direction  Direction
}

// AnomalyRecord is the final, caller-visible finding. Immutable once built.
type AnomalyRecord struct {
	EntityID            string    `json:"entity_id"`
	MetricName          string    `json:"metric_name"`
	Timestamp           time.Time `json:"timestamp"`
	Value               float64   `json:"value"`
	Severity            Severity  `json:"severity"`
	ConfidenceScore     float64   `json:"confidence_score"`
	ContributingMethods []Method  `json:"contributing_methods"`
	Direction           Direction `json:"direction"`
	Explanation         string    `json:"explanation"`
	RecommendedActions  []string  `json:"recommended_actions"`
}

// Summary counts confirmed anomalies per severity tier.
type Summary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
}

// SkippedSeries reports a series that could not be analyzed. Not an error:
// the run still completes, the caller just learns what was left out.
type SkippedSeries struct {
	EntityID   string `json:"entity_id"`
	MetricName string `json:"metric_name"`
	Reason     string `json:"reason"`
}

// MethodFailure reports that one detection method failed for one entity and
// the run fell back to the remaining methods for that entity.
type MethodFailure struct {
	EntityID string `json:"entity_id"`
	Method   Method `json:"method"`
	Reason   string `json:"reason"`
}

// DetectionResult is the complete output of one detection run. It carries no
// wall-clock timestamps or generated IDs: identical inputs produce
// byte-identical results. Callers attach run metadata when persisting.
type DetectionResult struct {
	Records        []AnomalyRecord `json:"records"`
	Summary        Summary         `json:"summary"`
	Skipped        []SkippedSeries `json:"skipped,omitempty"`
	MethodFailures []MethodFailure `json:"method_failures,omitempty"`
}

// Range is a domain-expected value range for a metric. Used only to enrich
// explanation text, never for detection.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// ZThresholds are the z-score tiers. Medium is the emission cutoff for the
// statistical detector; the tiers must be strictly increasing.
type ZThresholds struct {
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// Config carries the per-run detection parameters. It is read-only during a
// run and shared across all entity pipelines.
type Config struct {
	ZThresholds     ZThresholds      `json:"z_thresholds"`
	Contamination   float64          `json:"contamination"`
	MinSeriesLength int              `json:"min_series_length"`
	RollingWindow   int              `json:"rolling_window"`
	ExpectedRanges  map[string]Range `json:"expected_ranges,omitempty"`

	// Workers bounds the per-entity pipeline pool. Zero means one worker per
	// logical CPU.
	Workers int `json:"workers,omitempty"`
}

// DefaultConfig returns the default detection parameters.
func DefaultConfig() Config {
	return Config{
		ZThresholds: ZThresholds{
			Medium:   2.5,
			High:     3.5,
			Critical: 4.0,
		},
		Contamination:   0.1,
		MinSeriesLength: 10,
		RollingWindow:   30,
	}
}

// Validate rejects configurations no run should start with.
func (c Config) Validate() error {
	if c.Contamination <= 0 || c.Contamination >= 0.5 {
		return &ConfigurationError{
			Field:   "contamination",
			Message: "must be in the open interval (0, 0.5)",
		}
	}
	if !(c.ZThresholds.Medium < c.ZThresholds.High && c.ZThresholds.High < c.ZThresholds.Critical) {
		return &ConfigurationError{
			Field:   "z_thresholds",
			Message: "tiers must be strictly increasing (medium < high < critical)",
		}
	}
	if c.ZThresholds.Medium <= 0 {
		return &ConfigurationError{
			Field:   "z_thresholds.medium",
			Message: "must be positive",
		}
	}
	if c.MinSeriesLength < 3 {
		return &ConfigurationError{
			Field:   "min_series_length",
			Message: "must be at least 3",
		}
	}
	if c.RollingWindow < c.MinSeriesLength {
		return &ConfigurationError{
			Field:   "rolling_window",
			Message: "must be at least min_series_length",
		}
	}
	if c.Workers < 0 {
		return &ConfigurationError{
			Field:   "workers",
			Message: "must not be negative",
		}
	}
	return nil
}
