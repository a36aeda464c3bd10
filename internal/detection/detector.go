// Package detection implements the anomaly detection and alerting engine for
// farm operations metrics.
//
// Responsibilities:
//   - Group normalized per-entity rows into ordered metric series
//   - Flag abnormal readings with independent detection strategies
//   - Reconcile overlapping findings into a single ranked alert list
//   - Attach severity and actionable recommendations to every alert
//   - Degrade gracefully on short, constant, or partially missing data
//
// Philosophy: deterministic and explainable
//   - No training data, no hidden model state, no background learning
//   - Every run is a pure function of (dataset, config)
//   - Random partitioning inside the multivariate scorer is seeded from the
//     input data, so identical inputs always produce identical results
//   - Every alert carries a human-readable explanation and the methods that
//     contributed to it
//
// Detection strategies:
//
//	1. Statistical (z-score)
//	   - Per-series deviation from the rolling mean in standard deviations
//	   - Catches sudden spikes and drops in a single metric
//
//	2. Multivariate (isolation-based)
//	   - Per-entity outlier scoring over the joined vector of all metrics
//	   - Catches readings that are only unusual in combination
//	   - Attribution ranks each metric's standardized deviation so the alert
//	     names the metric that drove the flag
//
// Further strategies (density-based, trend-break) slot in as additional
// Detector implementations without touching the merge, severity, or action
// stages.
package detection

// EntityData bundles every metric series that belongs to one entity. Each
// detector sees one entity at a time; entities never share state.
type EntityData struct {
	EntityID string
	Series   []*MetricSeries
}

// Detector is a single detection strategy. Implementations score one
// entity's series and emit raw candidates; they never classify severity or
// talk to callers directly.
type Detector interface {
	// Name identifies the strategy in contributing_methods.
	Name() Method

	// Detect scores one entity and returns raw anomaly candidates. An error
	// return means this method failed for this entity; the orchestrator
	// records the failure and continues with the remaining methods.
	Detect(entity *EntityData, cfg Config) ([]AnomalyCandidate, error)
}
