package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/farmsight/farmsight-analytics/internal/detection"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRun(id string, createdAt time.Time) *RunRecord {
	ts := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	return &RunRecord{
		ID:        id,
		CreatedAt: createdAt,
		Summary:   detection.Summary{Critical: 1, Medium: 1},
		Skipped:   1,
		Records: []detection.AnomalyRecord{
			{
				EntityID:            "barn-1",
				MetricName:          "mortality_rate",
				Timestamp:           ts,
				Value:               8.0,
				Severity:            detection.SeverityCritical,
				ConfidenceScore:     0.88,
				ContributingMethods: []detection.Method{detection.MethodStatistical},
				Direction:           detection.DirectionAbove,
				Explanation:         "mortality_rate is above normal",
				RecommendedActions:  []string{"Urgent veterinary consultation required"},
			},
			{
				EntityID:            "barn-2",
				MetricName:          "temperature_c",
				Timestamp:           ts.Add(-24 * time.Hour),
				Value:               30.0,
				Severity:            detection.SeverityMedium,
				ConfidenceScore:     0.5,
				ContributingMethods: []detection.Method{detection.MethodMultivariate},
				Direction:           detection.DirectionAbove,
				Explanation:         "temperature_c is above normal",
				RecommendedActions:  []string{"Increase ventilation and air circulation"},
			},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	run := sampleRun("run-1", created)
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("run not found after save")
	}
	if got.Summary != run.Summary {
		t.Errorf("summary: got %+v, want %+v", got.Summary, run.Summary)
	}
	if got.Skipped != 1 {
		t.Errorf("skipped: got %d, want 1", got.Skipped)
	}
	if len(got.Records) != 2 {
		t.Fatalf("records: got %d, want 2", len(got.Records))
	}

	rec := got.Records[0]
	if rec.MetricName != "mortality_rate" || rec.Severity != detection.SeverityCritical {
		t.Errorf("first record mismatch: %+v", rec)
	}
	if len(rec.ContributingMethods) != 1 || rec.ContributingMethods[0] != detection.MethodStatistical {
		t.Errorf("methods not round-tripped: %v", rec.ContributingMethods)
	}
	if len(rec.RecommendedActions) != 1 {
		t.Errorf("actions not round-tripped: %v", rec.RecommendedActions)
	}
	if !rec.Timestamp.Equal(run.Records[0].Timestamp) {
		t.Errorf("timestamp: got %v, want %v", rec.Timestamp, run.Records[0].Timestamp)
	}
}

func TestGetRunMissing(t *testing.T) {
	store := openTestStore(t)

	got, err := store.GetRun(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a missing run, got %+v", got)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := sampleRun(id, base.Add(time.Duration(i)*time.Hour))
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("limit not applied: got %d runs", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("order: got %s, %s, want run-c, run-b", runs[0].ID, runs[1].ID)
	}
	if len(runs[0].Records) != 0 {
		t.Errorf("list must not hydrate records, got %d", len(runs[0].Records))
	}
}

func TestQueryAnomaliesFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-1", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}

	bySeverity, err := store.QueryAnomalies(ctx, AnomalyQuery{Severity: detection.SeverityCritical})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(bySeverity) != 1 || bySeverity[0].Record.MetricName != "mortality_rate" {
		t.Errorf("severity filter: got %+v", bySeverity)
	}

	byEntity, err := store.QueryAnomalies(ctx, AnomalyQuery{EntityID: "barn-2"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(byEntity) != 1 || byEntity[0].Record.EntityID != "barn-2" {
		t.Errorf("entity filter: got %+v", byEntity)
	}

	limited, err := store.QueryAnomalies(ctx, AnomalyQuery{Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit: got %d results", len(limited))
	}

	all, err := store.QueryAnomalies(ctx, AnomalyQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered: got %d results, want 2", len(all))
	}
	if all[0].RunID != "run-1" {
		t.Errorf("run id not joined: %+v", all[0])
	}
}

func TestLatestSummary(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	summary, err := store.LatestSummary(ctx)
	if err != nil {
		t.Fatalf("latest summary: %v", err)
	}
	if summary != nil {
		t.Errorf("expected nil before any run, got %+v", summary)
	}

	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	first := sampleRun("run-1", base)
	if err := store.SaveRun(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := sampleRun("run-2", base.Add(time.Hour))
	second.Summary = detection.Summary{High: 3}
	if err := store.SaveRun(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}

	summary, err = store.LatestSummary(ctx)
	if err != nil {
		t.Fatalf("latest summary: %v", err)
	}
	if summary == nil || summary.High != 3 || summary.Critical != 0 {
		t.Errorf("latest summary: got %+v, want the second run's", summary)
	}
}

func TestPing(t *testing.T) {
	store := openTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}
