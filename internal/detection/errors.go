package detection

import "fmt"

// StructuralInputError means the dataset is missing something detection
// cannot proceed without (entity IDs or timestamps entirely absent). It is
// the only data-shaped error surfaced to callers; everything narrower
// degrades into SkippedSeries or MethodFailure entries instead.
type StructuralInputError struct {
	Reason string
}

func (e *StructuralInputError) Error() string {
	return fmt.Sprintf("structurally invalid dataset: %s", e.Reason)
}

// ConfigurationError rejects an invalid Config before any computation starts.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid detection config %s: %s", e.Field, e.Message)
}
