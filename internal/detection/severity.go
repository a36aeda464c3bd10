package detection

// Confidence floors for the severity tiers. The medium floor doubles as the
// emission cutoff: marginal deviations below it are discarded entirely to
// avoid alert fatigue.
const (
	criticalConfidenceFloor   = 0.85
	corroboratedCriticalFloor = 0.7
	highConfidenceFloor       = 0.6
	mediumConfidenceFloor     = 0.35
)

// classifySeverity maps a merged finding's confidence and contributing
// methods to a severity tier. Pure and deterministic: identical inputs always
// yield identical severity. The second return is false when the finding falls
// below the medium floor and must not be emitted.
//
// A finding flagged by both methods reaches critical at a lower confidence
// than either method alone — cross-method agreement is the strongest signal
// the engine has.
func classifySeverity(confidence float64, methodCount int) (Severity, bool) {
	switch {
	case confidence >= criticalConfidenceFloor:
		return SeverityCritical, true
	case confidence >= corroboratedCriticalFloor && methodCount >= 2:
		return SeverityCritical, true
	case confidence >= highConfidenceFloor:
		return SeverityHigh, true
	case confidence >= mediumConfidenceFloor:
		return SeverityMedium, true
	}
	return "", false
}
