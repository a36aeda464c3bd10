package db

import (
	"context"
	"time"

	"github.com/farmsight/farmsight-analytics/internal/detection"
)

// Store is the persistence interface for detection runs. The engine never
// persists anything itself; the service layer owns a Store and writes each
// completed run through it.
type Store interface {
	// SaveRun persists one detection run and all of its anomaly records.
	SaveRun(ctx context.Context, run *RunRecord) error

	// GetRun retrieves a run with its records. Returns nil, nil when the
	// run does not exist.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns recent runs, newest first, without their records.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// QueryAnomalies retrieves persisted anomaly records across runs.
	QueryAnomalies(ctx context.Context, q AnomalyQuery) ([]*StoredAnomaly, error)

	// LatestSummary returns the severity summary of the most recent run.
	// Returns nil, nil when no run has been saved yet.
	LatestSummary(ctx context.Context) (*detection.Summary, error)

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close releases database resources.
	Close() error
}

// RunRecord is one persisted detection run.
type RunRecord struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Summary   detection.Summary `json:"summary"`
	Skipped   int               `json:"skipped"`
	Failures  int               `json:"failures"`

	// Records is populated by SaveRun/GetRun, empty in ListRuns.
	Records []detection.AnomalyRecord `json:"records,omitempty"`
}

// StoredAnomaly is an anomaly record joined with the run that produced it.
type StoredAnomaly struct {
	RunID  string                  `json:"run_id"`
	Record detection.AnomalyRecord `json:"record"`
}

// AnomalyQuery filters QueryAnomalies. Zero values mean "any".
type AnomalyQuery struct {
	EntityID   string
	MetricName string
	Severity   detection.Severity
	From       time.Time
	To         time.Time
	Limit      int
}
