package detection

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"github.com/farmsight/farmsight-analytics/internal/detection/forest"
)

// MultivariateDetector flags timestamps whose joint metric vector is unusual
// for the entity, using isolation-based outlier scoring. The method detects
// that a timestamp is unusual, not which metric drove it, so every flag is
// attributed to the metric(s) with the largest standardized deviation —
// without that step alerts would be unexplainable to a farm manager.
type MultivariateDetector struct {
	trees int
}

// NewMultivariateDetector returns the isolation-based detection strategy.
func NewMultivariateDetector() *MultivariateDetector {
	return &MultivariateDetector{trees: 100}
}

// Name implements Detector.
func (d *MultivariateDetector) Name() Method {
	return MethodMultivariate
}

// featureMatrix is the joined per-timestamp view of an entity's metrics.
type featureMatrix struct {
	metrics    []string // column order
	timestamps []time.Time
	rows       [][]float64
	observed   [][]bool // false where the value was imputed
	means      []float64
	stdDevs    []float64
}

// Detect builds one feature vector per timestamp from all monitored metrics
// and scores the matrix. The contamination fraction fixes the cutoff: the
// ceil(contamination·n) highest-scoring timestamps are flagged. A returned
// error means the entity lacks enough joint data for a meaningful vector;
// the orchestrator downgrades it to a statistical-only run.
func (d *MultivariateDetector) Detect(entity *EntityData, cfg Config) ([]AnomalyCandidate, error) {
	matrix, err := d.buildMatrix(entity, cfg)
	if err != nil {
		return nil, err
	}

	f, err := forest.Fit(matrix.rows, forest.Options{
		Trees: d.trees,
		Seed:  matrixSeed(entity.EntityID, matrix),
	})
	if err != nil {
		return nil, fmt.Errorf("fit isolation forest: %w", err)
	}
	scores := f.ScoreAll(matrix.rows)

	flagged := contaminationCutoff(scores, cfg.Contamination)

	var candidates []AnomalyCandidate
	for _, idx := range flagged {
		candidates = append(candidates, d.attribute(entity.EntityID, matrix, idx, scores[idx])...)
	}
	return candidates, nil
}

// buildMatrix joins the entity's series on their timestamp union. Metrics
// whose series are shorter than min_series_length are left out entirely so
// they can never produce a candidate; missing values at a timestamp are
// imputed with the metric's mean.
func (d *MultivariateDetector) buildMatrix(entity *EntityData, cfg Config) (*featureMatrix, error) {
	var usable []*MetricSeries
	for _, s := range entity.Series {
		if s.TooShort {
			continue
		}
		usable = append(usable, s)
	}
	if len(usable) < 2 {
		return nil, fmt.Errorf("entity %s: %d usable metric(s), need at least 2 for a feature vector", entity.EntityID, len(usable))
	}

	tsSet := make(map[time.Time]struct{})
	for _, s := range usable {
		for _, p := range s.Points {
			tsSet[p.Timestamp] = struct{}{}
		}
	}
	timestamps := make([]time.Time, 0, len(tsSet))
	for ts := range tsSet {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	if cfg.RollingWindow > 0 && len(timestamps) > cfg.RollingWindow {
		timestamps = timestamps[len(timestamps)-cfg.RollingWindow:]
	}
	if len(timestamps) < cfg.MinSeriesLength {
		return nil, fmt.Errorf("entity %s: %d joint observations, need at least %d", entity.EntityID, len(timestamps), cfg.MinSeriesLength)
	}

	matrix := &featureMatrix{
		metrics:    make([]string, len(usable)),
		timestamps: timestamps,
		rows:       make([][]float64, len(timestamps)),
		observed:   make([][]bool, len(timestamps)),
	}

	lookup := make([]map[time.Time]float64, len(usable))
	means := make([]float64, len(usable))
	for col, s := range usable {
		matrix.metrics[col] = s.MetricName
		lookup[col] = make(map[time.Time]float64, len(s.Points))
		for _, p := range s.Points {
			lookup[col][p.Timestamp] = p.Value
		}
		means[col] = computeMean(s.Values())
	}

	for i, ts := range timestamps {
		row := make([]float64, len(usable))
		obs := make([]bool, len(usable))
		for col := range usable {
			if v, ok := lookup[col][ts]; ok {
				row[col] = v
				obs[col] = true
			} else {
				row[col] = means[col]
			}
		}
		matrix.rows[i] = row
		matrix.observed[i] = obs
	}

	// Column statistics over the joined matrix, for attribution.
	matrix.means = make([]float64, len(usable))
	matrix.stdDevs = make([]float64, len(usable))
	for col := range usable {
		column := make([]float64, len(matrix.rows))
		for i, row := range matrix.rows {
			column[i] = row[col]
		}
		matrix.means[col] = computeMean(column)
		matrix.stdDevs[col] = computeStdDev(column, matrix.means[col])
	}
	return matrix, nil
}

// attribute turns one flagged timestamp into candidates for the metric(s)
// that contributed most, ranked by absolute standardized deviation from the
// metric's own mean. The top contributor always qualifies; the runner-up is
// included when within 10% of the top deviation.
func (d *MultivariateDetector) attribute(entityID string, matrix *featureMatrix, idx int, score float64) []AnomalyCandidate {
	type contribution struct {
		col       int
		deviation float64
	}

	row := matrix.rows[idx]
	contributions := make([]contribution, 0, len(row))
	for col := range row {
		if !matrix.observed[idx][col] || matrix.stdDevs[col] == 0 {
			continue
		}
		contributions = append(contributions, contribution{
			col:       col,
			deviation: (row[col] - matrix.means[col]) / matrix.stdDevs[col],
		})
	}
	sort.Slice(contributions, func(i, j int) bool {
		di, dj := math.Abs(contributions[i].deviation), math.Abs(contributions[j].deviation)
		if di != dj {
			return di > dj
		}
		return matrix.metrics[contributions[i].col] < matrix.metrics[contributions[j].col]
	})

	if len(contributions) == 0 || contributions[0].deviation == 0 {
		return nil
	}

	take := contributions[:1]
	if len(contributions) > 1 {
		top := math.Abs(contributions[0].deviation)
		if math.Abs(contributions[1].deviation) >= 0.9*top {
			take = contributions[:2]
		}
	}

	out := make([]AnomalyCandidate, 0, len(take))
	for _, c := range take {
		direction := DirectionAbove
		if c.deviation < 0 {
			direction = DirectionBelow
		}
		out = append(out, AnomalyCandidate{
			EntityID:   entityID,
			MetricName: matrix.metrics[c.col],
			Timestamp:  matrix.timestamps[idx],
			Value:      matrix.rows[idx][c.col],
			RawScore:   score,
			Method:     MethodMultivariate,
			Direction:  direction,
		})
	}
	return out
}

// contaminationCutoff returns the indices of the ceil(contamination·n)
// highest-scoring rows. Flag counts grow monotonically with contamination;
// ties break on index so the flagged set is stable across runs.
func contaminationCutoff(scores []float64, contamination float64) []int {
	n := len(scores)
	if n == 0 {
		return nil
	}
	k := int(math.Ceil(contamination * float64(n)))
	if k > n {
		k = n
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool {
		if scores[idx[i]] != scores[idx[j]] {
			return scores[idx[i]] > scores[idx[j]]
		}
		return idx[i] < idx[j]
	})
	flagged := idx[:k]
	sort.Ints(flagged)
	return flagged
}

// matrixSeed derives the forest seed from the entity's joined data, so two
// runs over identical inputs partition identically.
func matrixSeed(entityID string, matrix *featureMatrix) int64 {
	h := fnv.New64a()
	h.Write([]byte(entityID))
	var buf [8]byte
	for i, ts := range matrix.timestamps {
		binary.LittleEndian.PutUint64(buf[:], uint64(ts.UnixNano()))
		h.Write(buf[:])
		for _, v := range matrix.rows[i] {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	return int64(h.Sum64())
}
