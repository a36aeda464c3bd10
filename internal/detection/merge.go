package detection

import (
	"sort"
	"time"
)

// statisticalScoreCeiling is the |z| treated as full confidence when
// normalizing statistical raw scores into [0, 1].
const statisticalScoreCeiling = 6.0

// mergedAnomaly is a reconciled finding for one (entity, metric, timestamp),
// carrying the normalized confidence and every method that flagged it. It is
// the input to severity classification.
type mergedAnomaly struct {
	EntityID   string
	MetricName string
	Timestamp  time.Time
	Value      float64
	Confidence float64
	Methods    []Method
	Direction  Direction
}

// mergeCandidates deduplicates candidates raised by different detectors for
// the same (entity, metric, timestamp). Timestamps closer than one sampling
// interval are treated as the same event — upstream jitter must not turn one
// incident into two alerts. Confidence is the maximum of the per-method
// normalized scores: agreement never reduces confidence below what either
// method alone would produce.
func mergeCandidates(candidates []AnomalyCandidate, intervals map[string]time.Duration) []mergedAnomaly {
	type groupKey struct {
		entity string
		metric string
	}
	groups := make(map[groupKey][]AnomalyCandidate)
	for _, c := range candidates {
		key := groupKey{entity: c.EntityID, metric: c.MetricName}
		groups[key] = append(groups[key], c)
	}

	var merged []mergedAnomaly
	for key, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			if !group[i].Timestamp.Equal(group[j].Timestamp) {
				return group[i].Timestamp.Before(group[j].Timestamp)
			}
			return group[i].Method < group[j].Method
		})

		interval := intervals[seriesKey(key.entity, key.metric)]

		var cluster []AnomalyCandidate
		flush := func() {
			if len(cluster) > 0 {
				merged = append(merged, reconcile(cluster))
				cluster = nil
			}
		}
		for _, c := range group {
			if len(cluster) > 0 {
				gap := c.Timestamp.Sub(cluster[0].Timestamp)
				if interval > 0 && gap >= interval && !c.Timestamp.Equal(cluster[0].Timestamp) {
					flush()
				} else if interval == 0 && !c.Timestamp.Equal(cluster[0].Timestamp) {
					flush()
				}
			}
			cluster = append(cluster, c)
		}
		flush()
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].EntityID != merged[j].EntityID {
			return merged[i].EntityID < merged[j].EntityID
		}
		if merged[i].MetricName != merged[j].MetricName {
			return merged[i].MetricName < merged[j].MetricName
		}
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// reconcile collapses one cluster of candidates into a single finding. The
// strongest candidate supplies the representative timestamp, value and
// direction.
func reconcile(cluster []AnomalyCandidate) mergedAnomaly {
	methodSet := make(map[Method]struct{})
	best := cluster[0]
	bestScore := normalizeScore(best)
	confidence := bestScore
	for _, c := range cluster[1:] {
		methodSet[c.Method] = struct{}{}
		score := normalizeScore(c)
		if score > confidence {
			confidence = score
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	methodSet[cluster[0].Method] = struct{}{}

	methods := make([]Method, 0, len(methodSet))
	for m := range methodSet {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })

	return mergedAnomaly{
		EntityID:   best.EntityID,
		MetricName: best.MetricName,
		Timestamp:  best.Timestamp,
		Value:      best.Value,
		Confidence: confidence,
		Methods:    methods,
		Direction:  best.Direction,
	}
}

// normalizeScore maps a method-specific raw score into [0, 1] so scores from
// different methods become comparable. Statistical |z| saturates at the
// ceiling; isolation scores are already bounded in [0, 1].
func normalizeScore(c AnomalyCandidate) float64 {
	switch c.Method {
	case MethodStatistical:
		score := c.RawScore / statisticalScoreCeiling
		if score > 1 {
			return 1
		}
		return score
	case MethodMultivariate:
		if c.RawScore < 0 {
			return 0
		}
		if c.RawScore > 1 {
			return 1
		}
		return c.RawScore
	}
	return 0
}

func seriesKey(entityID, metricName string) string {
	return entityID + ":" + metricName
}
