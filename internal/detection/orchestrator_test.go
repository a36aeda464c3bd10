package detection

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// farmRows builds a 30-day, two-metric dataset for one barn: stable
// temperature plus a mortality series that spikes on the final day.
func farmRows(entity string) []Row {
	rows := rowsFor(entity, "mortality_rate", stableWithSpike(30, 2.0, 8.0))
	temp := rowsFor(entity, "temperature_c", stableWithSpike(30, 22.0, 22.0))
	for i := range rows {
		rows[i].Metrics["temperature_c"] = temp[i].Metrics["temperature_c"]
	}
	return rows
}

func TestDetectFlagsMortalitySpikeAsCritical(t *testing.T) {
	o := NewOrchestrator()
	result, err := o.Detect(context.Background(), farmRows("barn-1"), DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Records) == 0 {
		t.Fatal("expected at least the mortality spike to be reported")
	}

	top := result.Records[0]
	if top.MetricName != "mortality_rate" {
		t.Fatalf("top record: got %s, want mortality_rate", top.MetricName)
	}
	if top.Severity != SeverityCritical {
		t.Errorf("severity: got %s, want %s", top.Severity, SeverityCritical)
	}
	if top.ConfidenceScore < 0.85 {
		t.Errorf("confidence: got %v, want >= 0.85", top.ConfidenceScore)
	}
	if top.Direction != DirectionAbove {
		t.Errorf("direction: got %s, want %s", top.Direction, DirectionAbove)
	}
	if len(top.RecommendedActions) == 0 || !strings.Contains(strings.ToLower(top.RecommendedActions[0]), "veterinary") {
		t.Errorf("first recommended action must concern veterinary review, got %v", top.RecommendedActions)
	}
	if top.Explanation == "" {
		t.Error("record is missing an explanation")
	}
	if result.Summary.Critical < 1 {
		t.Errorf("summary critical count: got %d, want >= 1", result.Summary.Critical)
	}
}

func TestDetectStableSeriesProducesNoRecords(t *testing.T) {
	rows := rowsFor("barn-1", "temperature_c", stableWithSpike(30, 22.0, 22.0))

	o := NewOrchestrator()
	result, err := o.Detect(context.Background(), rows, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Records) != 0 {
		t.Errorf("stable series produced records: %+v", result.Records)
	}
	// With one metric the multivariate method cannot build a vector; the
	// run degrades, it does not fail.
	if len(result.MethodFailures) != 1 || result.MethodFailures[0].Method != MethodMultivariate {
		t.Errorf("expected a single multivariate failure, got %+v", result.MethodFailures)
	}
}

func TestDetectShortSeriesSkippedGracefully(t *testing.T) {
	rows := rowsFor("barn-1", "eggs_produced", []float64{100, 101, 99, 102, 98})

	o := NewOrchestrator()
	result, err := o.Detect(context.Background(), rows, DefaultConfig())
	if err != nil {
		t.Fatalf("a short series must not fail the run: %v", err)
	}
	if len(result.Records) != 0 {
		t.Errorf("short series produced records: %+v", result.Records)
	}
	if len(result.Skipped) != 1 {
		t.Fatalf("expected 1 skipped series, got %d", len(result.Skipped))
	}
	if !strings.Contains(result.Skipped[0].Reason, "too short") {
		t.Errorf("skip reason: got %q, want mention of too short", result.Skipped[0].Reason)
	}
}

func TestDetectZeroVarianceSkipReported(t *testing.T) {
	constant := make([]float64, 20)
	for i := range constant {
		constant[i] = 60
	}
	rows := rowsFor("barn-1", "humidity_pct", constant)

	o := NewOrchestrator()
	result, err := o.Detect(context.Background(), rows, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Skipped) != 1 {
		t.Fatalf("expected 1 skipped series, got %d", len(result.Skipped))
	}
	if !strings.Contains(result.Skipped[0].Reason, "zero variance") {
		t.Errorf("skip reason: got %q, want mention of zero variance", result.Skipped[0].Reason)
	}
}

func TestDetectEmptyDatasetIsStructuralError(t *testing.T) {
	o := NewOrchestrator()
	_, err := o.Detect(context.Background(), nil, DefaultConfig())

	var structural *StructuralInputError
	if !errors.As(err, &structural) {
		t.Fatalf("got %v, want StructuralInputError", err)
	}
}

func TestDetectRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Contamination = 0.9

	o := NewOrchestrator()
	_, err := o.Detect(context.Background(), farmRows("barn-1"), cfg)

	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("got %v, want ConfigurationError", err)
	}
}

func TestDetectHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator()
	_, err := o.Detect(ctx, farmRows("barn-1"), DefaultConfig())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestDetectIdempotent(t *testing.T) {
	// Three entities so the worker pool actually runs in parallel.
	var rows []Row
	for _, entity := range []string{"barn-1", "barn-2", "barn-3"} {
		rows = append(rows, farmRows(entity)...)
	}

	o := NewOrchestrator()
	first, err := o.Detect(context.Background(), rows, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := o.Detect(context.Background(), rows, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b1, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b2, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b1) != string(b2) {
		t.Error("identical inputs produced different serialized results")
	}
}

func TestDetectRecordOrdering(t *testing.T) {
	var rows []Row
	for _, entity := range []string{"barn-3", "barn-1", "barn-2"} {
		rows = append(rows, farmRows(entity)...)
	}

	o := NewOrchestrator()
	result, err := o.Detect(context.Background(), rows, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := result.Records
	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1], records[i]
		if prev.Severity.Rank() < cur.Severity.Rank() {
			t.Fatalf("record %d breaks severity ordering: %s after %s", i, cur.Severity, prev.Severity)
		}
		if prev.Severity.Rank() == cur.Severity.Rank() && prev.ConfidenceScore < cur.ConfidenceScore {
			t.Fatalf("record %d breaks confidence ordering within severity tier", i)
		}
	}
}

func TestDetectSingleMetricEntityFallsBackToStatistical(t *testing.T) {
	rows := rowsFor("barn-solo", "mortality_rate", stableWithSpike(30, 2.0, 8.0))

	o := NewOrchestrator()
	result, err := o.Detect(context.Background(), rows, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.MethodFailures) != 1 {
		t.Fatalf("expected 1 method failure, got %+v", result.MethodFailures)
	}
	f := result.MethodFailures[0]
	if f.EntityID != "barn-solo" || f.Method != MethodMultivariate {
		t.Errorf("failure: got %+v, want multivariate failure for barn-solo", f)
	}

	// The statistical method still reports the spike.
	if len(result.Records) != 1 {
		t.Fatalf("expected the spike from the statistical fallback, got %+v", result.Records)
	}
	if got := result.Records[0].ContributingMethods; len(got) != 1 || got[0] != MethodStatistical {
		t.Errorf("contributing methods: got %v, want statistical only", got)
	}
}

func TestDetectExpectedRangeAppearsInExplanation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpectedRanges = map[string]Range{
		"mortality_rate": {Low: 0, High: 5},
	}
	rows := rowsFor("barn-1", "mortality_rate", stableWithSpike(30, 2.0, 8.0))

	o := NewOrchestrator()
	result, err := o.Detect(context.Background(), rows, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Records) == 0 {
		t.Fatal("expected the spike to be reported")
	}
	if !strings.Contains(result.Records[0].Explanation, "expected range 0.0-5.0") {
		t.Errorf("explanation missing expected range: %q", result.Records[0].Explanation)
	}
}

func TestDetectResultCarriesNoWallClock(t *testing.T) {
	rows := rowsFor("barn-1", "mortality_rate", stableWithSpike(30, 2.0, 8.0))

	o := NewOrchestrator()
	before := time.Now().Add(-time.Second)
	result, err := o.Detect(context.Background(), rows, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Every timestamp in the output must come from the input data, never
	// from the clock at run time.
	for _, rec := range result.Records {
		if rec.Timestamp.After(before) {
			t.Errorf("record timestamp %v is not an input timestamp", rec.Timestamp)
		}
	}
}
