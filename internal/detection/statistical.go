package detection

import "math"

// StatisticalDetector flags per-series outliers by z-score against the
// trailing rolling window.
type StatisticalDetector struct{}

// NewStatisticalDetector returns the z-score detection strategy.
func NewStatisticalDetector() *StatisticalDetector {
	return &StatisticalDetector{}
}

// Name implements Detector.
func (d *StatisticalDetector) Name() Method {
	return MethodStatistical
}

// Detect scores every scoreable series of the entity. Series annotated too
// short or zero variance are skipped here, not failed: the orchestrator has
// already recorded them. A window with zero deviation likewise emits nothing,
// since a series without variance has no statistical notion of "abnormal".
func (d *StatisticalDetector) Detect(entity *EntityData, cfg Config) ([]AnomalyCandidate, error) {
	var candidates []AnomalyCandidate
	for _, series := range entity.Series {
		if !series.Scoreable() {
			continue
		}
		candidates = append(candidates, d.detectSeries(series, cfg)...)
	}
	return candidates, nil
}

func (d *StatisticalDetector) detectSeries(series *MetricSeries, cfg Config) []AnomalyCandidate {
	points := series.Points
	if cfg.RollingWindow > 0 && len(points) > cfg.RollingWindow {
		// Score only the recent window so slow drift does not inflate sigma.
		points = points[len(points)-cfg.RollingWindow:]
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	mean := computeMean(values)
	stdDev := computeStdDev(values, mean)
	if stdDev == 0 {
		return nil
	}

	var candidates []AnomalyCandidate
	for _, p := range points {
		z := (p.Value - mean) / stdDev
		if math.Abs(z) < cfg.ZThresholds.Medium {
			continue
		}
		direction := DirectionAbove
		if z < 0 {
			direction = DirectionBelow
		}
		candidates = append(candidates, AnomalyCandidate{
			EntityID:   series.EntityID,
			MetricName: series.MetricName,
			Timestamp:  p.Timestamp,
			Value:      p.Value,
			RawScore:   math.Abs(z),
			Method:     MethodStatistical,
			Direction:  direction,
		})
	}
	return candidates
}

// computeMean calculates the arithmetic mean of values.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStdDev calculates the population standard deviation.
func computeStdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
