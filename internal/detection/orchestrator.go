package detection

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Orchestrator is the public entry point of the engine. It runs every
// detection strategy over every entity, reconciles the findings, and emits
// the ranked alert list. One Orchestrator is safe for concurrent use; it
// holds no per-run state.
type Orchestrator struct {
	detectors []Detector
	logger    *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger attaches a logger. Detection itself stays pure; the logger only
// reports skipped series and method failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithDetectors replaces the default strategy set.
func WithDetectors(detectors ...Detector) Option {
	return func(o *Orchestrator) {
		o.detectors = detectors
	}
}

// NewOrchestrator builds an orchestrator with the two standard strategies:
// statistical (z-score) and multivariate (isolation-based).
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		detectors: []Detector{
			NewStatisticalDetector(),
			NewMultivariateDetector(),
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Detect runs the full pipeline over the dataset and returns the ranked
// alert list plus the severity summary. Per-entity pipelines are independent
// and run in parallel; the only synchronization point is the final collect.
//
// Only structurally invalid input or an invalid config produce an error.
// Everything narrower — short series, constant series, an entity the
// multivariate method cannot handle — degrades into Skipped or
// MethodFailures entries and the run completes.
//
// The pipeline has no internal cancellation checkpoints; callers wanting a
// timeout wrap the call with a deadline context and treat expiry as a
// detection timeout.
func (o *Orchestrator) Detect(ctx context.Context, rows []Row, cfg Config) (*DetectionResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateStructure(rows); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	series := BuildSeries(rows, cfg)
	result := &DetectionResult{}

	intervals := make(map[string]time.Duration, len(series))
	for _, s := range series {
		intervals[seriesKey(s.EntityID, s.MetricName)] = s.SamplingInterval()
		switch {
		case s.TooShort:
			result.Skipped = append(result.Skipped, SkippedSeries{
				EntityID:   s.EntityID,
				MetricName: s.MetricName,
				Reason:     fmt.Sprintf("series too short (%d points, need %d)", len(s.Points), cfg.MinSeriesLength),
			})
			o.logger.Info("skipping series",
				zap.String("entity", s.EntityID),
				zap.String("metric", s.MetricName),
				zap.Int("points", len(s.Points)),
				zap.String("reason", "too short"))
		case s.ZeroVariance:
			result.Skipped = append(result.Skipped, SkippedSeries{
				EntityID:   s.EntityID,
				MetricName: s.MetricName,
				Reason:     "zero variance, statistical method skipped",
			})
			o.logger.Info("skipping series for statistical method",
				zap.String("entity", s.EntityID),
				zap.String("metric", s.MetricName),
				zap.String("reason", "zero variance"))
		}
	}

	entities := groupByEntity(series)

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(entities) {
		workers = len(entities)
	}

	jobs := make(chan *EntityData)
	outcomes := make(chan entityOutcome)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entity := range jobs {
				outcomes <- o.runEntity(entity, cfg, intervals)
			}
		}()
	}
	go func() {
		for _, entity := range entities {
			jobs <- entity
		}
		close(jobs)
		wg.Wait()
		close(outcomes)
	}()

	for outcome := range outcomes {
		result.Records = append(result.Records, outcome.records...)
		result.MethodFailures = append(result.MethodFailures, outcome.failures...)
	}

	sortRecords(result.Records)
	sort.Slice(result.Skipped, func(i, j int) bool {
		if result.Skipped[i].EntityID != result.Skipped[j].EntityID {
			return result.Skipped[i].EntityID < result.Skipped[j].EntityID
		}
		return result.Skipped[i].MetricName < result.Skipped[j].MetricName
	})
	sort.Slice(result.MethodFailures, func(i, j int) bool {
		if result.MethodFailures[i].EntityID != result.MethodFailures[j].EntityID {
			return result.MethodFailures[i].EntityID < result.MethodFailures[j].EntityID
		}
		return result.MethodFailures[i].Method < result.MethodFailures[j].Method
	})

	for _, r := range result.Records {
		switch r.Severity {
		case SeverityCritical:
			result.Summary.Critical++
		case SeverityHigh:
			result.Summary.High++
		case SeverityMedium:
			result.Summary.Medium++
		}
	}
	return result, nil
}

// entityOutcome carries one entity pipeline's results back to the collector.
type entityOutcome struct {
	records  []AnomalyRecord
	failures []MethodFailure
}

// runEntity executes the per-entity pipeline: every detector, then merge,
// severity, explanation and actions. A failing detector is recorded and the
// entity falls back to the remaining methods.
func (o *Orchestrator) runEntity(entity *EntityData, cfg Config, intervals map[string]time.Duration) (out entityOutcome) {
	var candidates []AnomalyCandidate
	for _, detector := range o.detectors {
		found, err := detector.Detect(entity, cfg)
		if err != nil {
			out.failures = append(out.failures, MethodFailure{
				EntityID: entity.EntityID,
				Method:   detector.Name(),
				Reason:   err.Error(),
			})
			o.logger.Warn("detection method failed for entity",
				zap.String("entity", entity.EntityID),
				zap.String("method", string(detector.Name())),
				zap.Error(err))
			continue
		}
		candidates = append(candidates, found...)
	}

	bySeries := make(map[string]*MetricSeries, len(entity.Series))
	for _, s := range entity.Series {
		bySeries[seriesKey(s.EntityID, s.MetricName)] = s
	}

	for _, m := range mergeCandidates(candidates, intervals) {
		severity, keep := classifySeverity(m.Confidence, len(m.Methods))
		if !keep {
			continue
		}
		out.records = append(out.records, AnomalyRecord{
			EntityID:            m.EntityID,
			MetricName:          m.MetricName,
			Timestamp:           m.Timestamp,
			Value:               m.Value,
			Severity:            severity,
			ConfidenceScore:     m.Confidence,
			ContributingMethods: m.Methods,
			Direction:           m.Direction,
			Explanation:         explainDeviation(bySeries[seriesKey(m.EntityID, m.MetricName)], m, cfg),
			RecommendedActions:  recommendActions(m.MetricName, m.Direction),
		})
	}
	return out
}

// explainDeviation renders the human-readable deviation description. The
// expected range, when configured, is appended as context only — it plays no
// part in detection.
func explainDeviation(series *MetricSeries, m mergedAnomaly, cfg Config) string {
	text := fmt.Sprintf("%s is %s normal (%.2f)", m.MetricName, m.Direction, m.Value)
	if series != nil {
		values := series.Values()
		if cfg.RollingWindow > 0 && len(values) > cfg.RollingWindow {
			values = values[len(values)-cfg.RollingWindow:]
		}
		mean := computeMean(values)
		if mean != 0 {
			pct := math.Abs((m.Value-mean)/mean) * 100
			text = fmt.Sprintf("%s is %.1f%% %s normal (%.2f vs avg %.2f)",
				m.MetricName, pct, m.Direction, m.Value, mean)
		} else {
			text = fmt.Sprintf("%s is %s normal (%.2f vs avg %.2f)",
				m.MetricName, m.Direction, m.Value, mean)
		}
	}
	if r, ok := cfg.ExpectedRanges[m.MetricName]; ok {
		text += fmt.Sprintf("; expected range %.1f-%.1f", r.Low, r.High)
	}
	return text
}

// validateStructure rejects datasets detection cannot run on at all. Rows
// that are individually malformed are dropped later by the series builder;
// only a dataset with no usable identity or time axis is fatal.
func validateStructure(rows []Row) error {
	if len(rows) == 0 {
		return &StructuralInputError{Reason: "dataset contains no rows"}
	}
	hasEntity := false
	hasTimestamp := false
	for _, row := range rows {
		if row.EntityID != "" {
			hasEntity = true
		}
		if !row.Timestamp.IsZero() {
			hasTimestamp = true
		}
		if hasEntity && hasTimestamp {
			return nil
		}
	}
	if !hasEntity {
		return &StructuralInputError{Reason: "no row carries an entity id"}
	}
	return &StructuralInputError{Reason: "no row carries a timestamp"}
}

func groupByEntity(series []*MetricSeries) []*EntityData {
	byEntity := make(map[string]*EntityData)
	var order []string
	for _, s := range series {
		entity, ok := byEntity[s.EntityID]
		if !ok {
			entity = &EntityData{EntityID: s.EntityID}
			byEntity[s.EntityID] = entity
			order = append(order, s.EntityID)
		}
		entity.Series = append(entity.Series, s)
	}
	sort.Strings(order)
	out := make([]*EntityData, 0, len(order))
	for _, id := range order {
		out = append(out, byEntity[id])
	}
	return out
}

// sortRecords orders the final alert list: severity first (critical on top),
// then confidence descending, then stable identity fields so equal alerts
// always serialize identically.
func sortRecords(records []AnomalyRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Severity.Rank() != records[j].Severity.Rank() {
			return records[i].Severity.Rank() > records[j].Severity.Rank()
		}
		if records[i].ConfidenceScore != records[j].ConfidenceScore {
			return records[i].ConfidenceScore > records[j].ConfidenceScore
		}
		if records[i].EntityID != records[j].EntityID {
			return records[i].EntityID < records[j].EntityID
		}
		if records[i].MetricName != records[j].MetricName {
			return records[i].MetricName < records[j].MetricName
		}
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}
