package detection

import (
	"sort"
	"time"
)

// seriesBuilder groups normalized rows into per-(entity, metric) series.
type seriesBuilder struct {
	cfg Config
}

// BuildSeries groups rows into chronologically sorted MetricSeries, one per
// (entity, metric) pair. Exact-duplicate timestamps collapse to the value
// seen last in input order. Series that are too short or have zero variance
// are kept but annotated unscoreable; dropping them silently would hide the
// distinction between "no anomalies" and "could not analyze".
func BuildSeries(rows []Row, cfg Config) []*MetricSeries {
	b := seriesBuilder{cfg: cfg}
	return b.build(rows)
}

func (b seriesBuilder) build(rows []Row) []*MetricSeries {
	type seriesKey struct {
		entity string
		metric string
	}

	grouped := make(map[seriesKey]map[time.Time]float64)
	for _, row := range rows {
		if row.EntityID == "" || row.Timestamp.IsZero() {
			continue
		}
		for metric, value := range row.Metrics {
			key := seriesKey{entity: row.EntityID, metric: metric}
			points, ok := grouped[key]
			if !ok {
				points = make(map[time.Time]float64)
				grouped[key] = points
			}
			// Later rows win on duplicate timestamps.
			points[row.Timestamp] = value
		}
	}

	out := make([]*MetricSeries, 0, len(grouped))
	for key, points := range grouped {
		series := &MetricSeries{
			EntityID:   key.entity,
			MetricName: key.metric,
			Points:     make([]Point, 0, len(points)),
		}
		for ts, value := range points {
			series.Points = append(series.Points, Point{Timestamp: ts, Value: value})
		}
		sort.Slice(series.Points, func(i, j int) bool {
			return series.Points[i].Timestamp.Before(series.Points[j].Timestamp)
		})

		if len(series.Points) < b.cfg.MinSeriesLength {
			series.TooShort = true
		}
		if constantValues(series.Points) {
			series.ZeroVariance = true
		}
		out = append(out, series)
	}

	// Stable order so downstream output is reproducible.
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].MetricName < out[j].MetricName
	})
	return out
}

func constantValues(points []Point) bool {
	if len(points) <= 1 {
		return true
	}
	first := points[0].Value
	for _, p := range points[1:] {
		if p.Value != first {
			return false
		}
	}
	return true
}
