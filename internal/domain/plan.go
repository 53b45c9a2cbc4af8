package domain

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders incremental sync plans for execution.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Roster entity types tracked by the engine.
const (
	EntityTypeOrganization = "organization"
	EntityTypeUser         = "user"
	EntityTypeClass        = "class"
	EntityTypeEnrollment   = "enrollment"
)

// KnownEntityTypes lists the entity types the engine accepts.
var KnownEntityTypes = []string{
	EntityTypeOrganization,
	EntityTypeUser,
	EntityTypeClass,
	EntityTypeEnrollment,
}

// EntityTypeDependencies declares which entity types must be synced before
// a given type: enrollments reference users and classes, classes reference
// organizations and users, users reference organizations.
var EntityTypeDependencies = map[string][]string{
	EntityTypeOrganization: {},
	EntityTypeUser:         {EntityTypeOrganization},
	EntityTypeClass:        {EntityTypeOrganization, EntityTypeUser},
	EntityTypeEnrollment:   {EntityTypeUser, EntityTypeClass},
}

// IsKnownEntityType reports whether the engine tracks the given type.
func IsKnownEntityType(entityType string) bool {
	for _, known := range KnownEntityTypes {
		if known == entityType {
			return true
		}
	}
	return false
}

// PlanEntry names one entity whose external state should be re-fetched.
type PlanEntry struct {
	EntityID    string   `json:"entityId"`
	ExternalID  string   `json:"externalId,omitempty"`
	ChangeScore float64  `json:"changeScore"`
	Reasons     []string `json:"reasons"`
}

// IncrementalSyncPlan is an ordered, prioritized worklist of entities to
// re-sync. Consumed exactly once by a sync execution call, then discarded.
type IncrementalSyncPlan struct {
	IntegrationID     uuid.UUID     `json:"integrationId"`
	EntityType        string        `json:"entityType"`
	PlannedAt         time.Time     `json:"plannedAt"`
	EntitiesToSync    []PlanEntry   `json:"entitiesToSync"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
	Priority          Priority      `json:"priority"`
	Dependencies      []string      `json:"dependencies"`
}
