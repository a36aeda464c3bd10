package detection

import (
	"math"
	"testing"
)

func TestMultivariateNeedsTwoUsableMetrics(t *testing.T) {
	cfg := DefaultConfig()
	entity := entityWith(t, cfg, "barn-1", map[string][]float64{
		"temperature_c": stableWithSpike(20, 22, 40),
	})

	_, err := NewMultivariateDetector().Detect(entity, cfg)
	if err == nil {
		t.Fatal("single-metric entity must fail multivariate detection")
	}
}

func TestMultivariateExcludesShortSeriesFromMatrix(t *testing.T) {
	cfg := DefaultConfig()
	// Two full series plus one that is too short. The short one must never
	// appear as a candidate metric.
	entity := entityWith(t, cfg, "barn-1", map[string][]float64{
		"temperature_c": stableWithSpike(30, 22, 45),
		"humidity_pct":  stableWithSpike(30, 60, 60),
		"eggs_produced": {100, 101, 99},
	})

	candidates, err := NewMultivariateDetector().Detect(entity, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range candidates {
		if c.MetricName == "eggs_produced" {
			t.Error("too-short series leaked into multivariate candidates")
		}
	}
}

func TestMultivariateAttributesSpikedMetric(t *testing.T) {
	cfg := DefaultConfig()
	// The temperature series carries a massive final spike; humidity stays
	// flat apart from tiny wobble. Attribution must name temperature.
	entity := entityWith(t, cfg, "barn-1", map[string][]float64{
		"temperature_c": stableWithSpike(30, 22, 60),
		"humidity_pct":  stableWithSpike(30, 60, 60.5),
	})

	candidates, err := NewMultivariateDetector().Detect(entity, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) == 0 {
		t.Fatal("expected at least one candidate")
	}

	foundSpike := false
	for _, c := range candidates {
		if c.Value == 60 && c.MetricName == "temperature_c" {
			foundSpike = true
			if c.Direction != DirectionAbove {
				t.Errorf("spike direction: got %s, want %s", c.Direction, DirectionAbove)
			}
			if c.RawScore < 0 || c.RawScore > 1 {
				t.Errorf("isolation score out of [0, 1]: %v", c.RawScore)
			}
		}
	}
	if !foundSpike {
		t.Errorf("spiked temperature reading not attributed; candidates: %+v", candidates)
	}
}

func TestMultivariateDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	build := func() *EntityData {
		return entityWith(t, cfg, "barn-1", map[string][]float64{
			"temperature_c": stableWithSpike(30, 22, 45),
			"humidity_pct":  stableWithSpike(30, 60, 85),
		})
	}

	d := NewMultivariateDetector()
	first, err := d.Detect(build(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := d.Detect(build(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("candidate counts differ across identical runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("candidate %d differs across identical runs:\n%+v\n%+v", i, first[i], second[i])
		}
	}
}

func TestContaminationCutoffCount(t *testing.T) {
	scores := []float64{0.1, 0.9, 0.2, 0.8, 0.3, 0.7, 0.4, 0.6, 0.5, 0.05}

	flagged := contaminationCutoff(scores, 0.1)
	if len(flagged) != 1 {
		t.Fatalf("contamination 0.1 over 10 scores: got %d flags, want 1", len(flagged))
	}
	if flagged[0] != 1 {
		t.Errorf("highest score at index 1 should be flagged, got index %d", flagged[0])
	}

	flagged = contaminationCutoff(scores, 0.3)
	if len(flagged) != 3 {
		t.Errorf("contamination 0.3 over 10 scores: got %d flags, want 3", len(flagged))
	}
}

func TestContaminationCutoffMonotone(t *testing.T) {
	scores := make([]float64, 40)
	for i := range scores {
		scores[i] = math.Mod(float64(i)*0.37, 1)
	}

	prev := map[int]struct{}{}
	for _, c := range []float64{0.05, 0.1, 0.2, 0.3, 0.45} {
		flagged := contaminationCutoff(scores, c)
		for idx := range prev {
			found := false
			for _, f := range flagged {
				if f == idx {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("index %d flagged at a lower contamination but not at %v", idx, c)
			}
		}
		prev = map[int]struct{}{}
		for _, f := range flagged {
			prev[f] = struct{}{}
		}
	}
}

func TestContaminationCutoffTiesBreakByIndex(t *testing.T) {
	scores := []float64{0.5, 0.5, 0.5, 0.5}
	flagged := contaminationCutoff(scores, 0.25)
	if len(flagged) != 1 || flagged[0] != 0 {
		t.Errorf("tied scores must flag the lowest index first, got %v", flagged)
	}
}
