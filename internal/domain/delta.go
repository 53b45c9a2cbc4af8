package domain

import "time"

// CompareFunc overrides comparison for a single named field.
// It reports whether the two values should be considered equal.
type CompareFunc func(previous, current any) bool

// DeltaOptions tune a delta calculation.
type DeltaOptions struct {
	IncludeUnchanged      bool
	SignificanceThreshold float64
	IgnoreFields          []string
	DeepComparison        bool
	NormalizeValues       bool
	CustomComparisons     map[string]CompareFunc
}

// DefaultDeltaOptions returns the options used when a caller passes none.
func DefaultDeltaOptions() DeltaOptions {
	return DeltaOptions{
		SignificanceThreshold: 50,
		NormalizeValues:       true,
	}
}

// FieldDelta is the transient field-level output of a delta calculation.
// When normalization is enabled both the raw and normalized values are
// reported for audit purposes.
type FieldDelta struct {
	FieldName          string     `json:"fieldName"`
	FieldType          FieldType  `json:"fieldType"`
	PreviousValue      any        `json:"previousValue"`
	CurrentValue       any        `json:"currentValue"`
	NormalizedPrevious any        `json:"normalizedPrevious,omitempty"`
	NormalizedCurrent  any        `json:"normalizedCurrent,omitempty"`
	ChangeType         ChangeType `json:"changeType"`
	Severity           Severity   `json:"severity"`
}

// EntityDelta is the transient entity-level output of a delta calculation.
type EntityDelta struct {
	EntityType  string       `json:"entityType"`
	EntityID    string       `json:"entityId"`
	ChangeType  ChangeType   `json:"changeType"`
	HasChanges  bool         `json:"hasChanges"`
	ChangeScore float64      `json:"changeScore"`
	FieldDeltas []FieldDelta `json:"fieldDeltas"`
}

// BatchDelta aggregates the deltas between two full snapshot collections.
// It exists only for the duration of one calculation call.
type BatchDelta struct {
	EntityType         string             `json:"entityType"`
	Deltas             []EntityDelta      `json:"deltas"`
	ChangedEntities    int                `json:"changedEntities"`
	UnchangedEntities  int                `json:"unchangedEntities"`
	Distribution       map[ChangeType]int `json:"distribution"`
	AverageChangeScore float64            `json:"averageChangeScore"`
	SignificantChanges int                `json:"significantChanges"`
	CalculatedAt       time.Time          `json:"calculatedAt"`
	Duration           time.Duration      `json:"duration"`
	Options            DeltaOptions       `json:"-"`
}
