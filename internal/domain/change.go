package domain

import (
	"time"
)

// ChangeType classifies how an entity or field changed between snapshots.
type ChangeType string

const (
	ChangeTypeCreated ChangeType = "created"
	ChangeTypeUpdated ChangeType = "updated"
	ChangeTypeDeleted ChangeType = "deleted"
	ChangeTypeMoved   ChangeType = "moved"
	ChangeTypeMerged  ChangeType = "merged"
	ChangeTypeSplit   ChangeType = "split"
)

// Severity is the ordinal importance of a change. The order
// low < medium < high < critical is total and drives max-aggregation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the position of the severity in the total order.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	rank, ok := severityRank[s]
	if !ok {
		return -1
	}
	return rank
}

// AtLeast reports whether s is equal to or more severe than other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// FieldType describes the inferred shape of a field value.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
	FieldTypeJSON    FieldType = "json"
	FieldTypeArray   FieldType = "array"
	FieldTypeObject  FieldType = "object"
)

// FieldChange captures one field's transition between two entity snapshots.
// Immutable once produced.
type FieldChange struct {
	FieldName     string     `json:"fieldName"`
	FieldType     FieldType  `json:"fieldType"`
	OldValue      any        `json:"oldValue"`
	NewValue      any        `json:"newValue"`
	ChangeType    ChangeType `json:"changeType"`
	Severity      Severity   `json:"severity"`
	Confidence    float64    `json:"confidence"`
	IsSignificant bool       `json:"isSignificant"`
}

// ChangeMetadata records how and when an entity change was detected.
type ChangeMetadata struct {
	DetectedAt      time.Time `json:"detectedAt"`
	DetectionMethod string    `json:"detectionMethod"`
	Confidence      float64   `json:"confidence"`
	Source          string    `json:"source"`
	CorrelationID   string    `json:"correlationId"`
}

// EntityChange aggregates the field-level changes detected for one entity
// in one detection pass. Corrections are new records, never edits.
type EntityChange struct {
	EntityType   string         `json:"entityType"`
	EntityID     string         `json:"entityId"`
	ExternalID   string         `json:"externalId,omitempty"`
	ChangeType   ChangeType     `json:"changeType"`
	FieldChanges []FieldChange  `json:"fieldChanges"`
	ChangeScore  float64        `json:"changeScore"`
	Significance Severity       `json:"significance"`
	Metadata     ChangeMetadata `json:"metadata"`
}

// EntityError isolates a failure on a single entity inside a batch so the
// rest of the batch can proceed.
type EntityError struct {
	EntityID string `json:"entityId"`
	Message  string `json:"error"`
	Severity string `json:"severity"`
}

func (e EntityError) Error() string {
	return e.EntityID + ": " + e.Message
}
