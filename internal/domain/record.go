package domain

import (
	"time"

	"github.com/google/uuid"
)

// SyncContext ties a change record to the synchronization run that
// produced it.
type SyncContext struct {
	SyncID     uuid.UUID `json:"syncId"`
	SyncType   string    `json:"syncType"`
	ProviderID string    `json:"providerId"`
}

// ChangeRecord is the durable form of an EntityChange. Written exclusively
// by the change history ledger; read by the planner and the tracker.
type ChangeRecord struct {
	ID            uuid.UUID   `json:"id"`
	IntegrationID uuid.UUID   `json:"integrationId"`
	EntityChange  `json:"change"`
	PreviousHash  string      `json:"previousHash,omitempty"`
	CurrentHash   string      `json:"currentHash,omitempty"`
	SyncContext   SyncContext `json:"syncContext"`
	CreatedAt     time.Time   `json:"createdAt"`
	IsProcessed   bool        `json:"isProcessed"`
}

// CompressedChangeRecord summarizes a group of aged change records for one
// entity after the originals are deleted. It trades replay-level detail
// for storage once the records stop being operationally actionable.
type CompressedChangeRecord struct {
	ID             uuid.UUID        `json:"id"`
	IntegrationID  uuid.UUID        `json:"integrationId"`
	EntityType     string           `json:"entityType"`
	EntityID       string           `json:"entityId"`
	ChangeTypes    []ChangeType     `json:"changeTypes"`
	SeverityCounts map[Severity]int `json:"severityCounts"`
	FieldCounts    map[string]int   `json:"fieldCounts"`
	ChangeCount    int              `json:"changeCount"`
	FirstChangeAt  time.Time        `json:"firstChangeAt"`
	LastChangeAt   time.Time        `json:"lastChangeAt"`
	OriginalIDs    []uuid.UUID      `json:"originalIds"`
	CompressedAt   time.Time        `json:"compressedAt"`
}

// SyncRun is the persisted outcome of executing one incremental sync plan.
// The plan itself is never stored, only its result.
type SyncRun struct {
	ID              uuid.UUID `json:"id"`
	IntegrationID   uuid.UUID `json:"integrationId"`
	SyncID          uuid.UUID `json:"syncId"`
	EntityType      string    `json:"entityType"`
	PlannedEntities int       `json:"plannedEntities"`
	SyncedEntities  int       `json:"syncedEntities"`
	FailedEntities  int       `json:"failedEntities"`
	Priority        Priority  `json:"priority"`
	StartedAt       time.Time `json:"startedAt"`
	CompletedAt     time.Time `json:"completedAt"`
	Success         bool      `json:"success"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
}
