package detection

// maxRecommendedActions caps the action list per record.
const maxRecommendedActions = 4

// actionTable maps (metric, direction) to corrective actions, highest
// priority first. This is operational poultry-farm knowledge kept as data so
// new metrics extend the table without touching detection logic.
var actionTable = map[string]map[Direction][]string{
	"eggs_produced": {
		DirectionBelow: {
			"Check lighting schedule (14-16 hours recommended)",
			"Review calcium and protein supplementation",
			"Inspect for signs of stress or disease",
		},
		DirectionAbove: {
			"Monitor for signs of egg binding",
			"Ensure adequate calcium availability",
			"Maintain current management practices",
		},
	},
	"mortality_rate": {
		DirectionAbove: {
			"Urgent veterinary consultation required",
			"Review biosecurity protocols immediately",
			"Check water quality and feed freshness",
			"Isolate sick birds to prevent spread",
		},
	},
	"avg_weight_kg": {
		DirectionBelow: {
			"Increase protein content in feed (18-20%)",
			"Check for parasites or disease",
			"Review feeding schedule and access",
		},
		DirectionAbove: {
			"Adjust feed formulation to prevent obesity",
			"Ensure adequate exercise space",
		},
	},
	"temperature_c": {
		DirectionBelow: {
			"Increase heating immediately",
			"Check for drafts or ventilation issues",
			"Provide additional bedding material",
		},
		DirectionAbove: {
			"Urgent: risk of heat stress",
			"Increase ventilation and air circulation",
			"Provide cool drinking water",
			"Consider misting system if available",
		},
	},
	"humidity_pct": {
		DirectionBelow: {
			"Increase humidity with misting system",
			"Check water lines for leaks",
			"Reduce ventilation temporarily",
		},
		DirectionAbove: {
			"Increase ventilation to reduce humidity",
			"Check for water leaks or spillage",
			"Monitor closely for respiratory disease",
		},
	},
	"feed_kg_total": {
		DirectionBelow: {
			"Investigate reduced appetite causes",
			"Check feed quality and freshness",
			"Review bird health status",
		},
		DirectionAbove: {
			"Check for feed wastage",
			"Review feeder design and placement",
			"Monitor for signs of stress eating",
		},
	},
	"water_liters_total": {
		DirectionBelow: {
			"Urgent: check water system for blockages",
			"Verify water availability and cleanliness",
			"Act immediately, dehydration risk",
		},
		DirectionAbove: {
			"Check for water leaks",
			"High temperature may increase consumption",
			"Monitor for signs of disease",
		},
	},
}

// genericActions is the fallback for metrics the table does not know. The
// recommender must never block record emission.
var genericActions = []string{
	"Investigate this metric's recent trend",
	"Compare readings against similar entities",
	"Verify sensor calibration and data quality",
}

// recommendActions returns the ordered corrective actions for a metric and
// deviation direction.
func recommendActions(metricName string, direction Direction) []string {
	byDirection, ok := actionTable[metricName]
	if !ok {
		return cloneActions(genericActions)
	}
	actions, ok := byDirection[direction]
	if !ok {
		return cloneActions(genericActions)
	}
	if len(actions) > maxRecommendedActions {
		actions = actions[:maxRecommendedActions]
	}
	return cloneActions(actions)
}

// cloneActions keeps AnomalyRecord immutable; callers must not be able to
// reach into the shared table.
func cloneActions(actions []string) []string {
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}
