package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangeRecordFilter narrows a change-history query. Zero values mean
// "no constraint".
type ChangeRecordFilter struct {
	IntegrationID   *uuid.UUID   `json:"integrationId,omitempty"`
	EntityType      string       `json:"entityType,omitempty"`
	EntityID        string       `json:"entityId,omitempty"`
	ChangeTypes     []ChangeType `json:"changeTypes,omitempty"`
	Severities      []Severity   `json:"severities,omitempty"`
	Since           *time.Time   `json:"since,omitempty"`
	Until           *time.Time   `json:"until,omitempty"`
	OnlyUnprocessed bool         `json:"onlyUnprocessed,omitempty"`
	Limit           int          `json:"limit,omitempty"`
	Offset          int          `json:"offset,omitempty"`
}

// EntityChangeCount ranks one entity by how often it changed.
type EntityChangeCount struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Count      int    `json:"count"`
}

// ChangeSummary aggregates a filtered slice of the change history.
type ChangeSummary struct {
	TotalChanges       int                 `json:"totalChanges"`
	ByChangeType       map[ChangeType]int  `json:"byChangeType"`
	BySeverity         map[Severity]int    `json:"bySeverity"`
	ByEntityType       map[string]int      `json:"byEntityType"`
	AverageChangeScore float64             `json:"averageChangeScore"`
	TopEntities        []EntityChangeCount `json:"topEntities"`
}
