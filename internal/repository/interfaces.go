package repository

import (
	"context"
	"time"

	"github.com/rpattn/rostersync/internal/domain"

	"github.com/google/uuid"
)

// ChangeRecordRepository defines the persistence operations for the
// change history ledger. The ledger service owns all writes.
type ChangeRecordRepository interface {
	InsertBatch(ctx context.Context, records []domain.ChangeRecord) error
	Query(ctx context.Context, filter domain.ChangeRecordFilter) ([]domain.ChangeRecord, int, error)
	Summarize(ctx context.Context, filter domain.ChangeRecordFilter, topN int) (domain.ChangeSummary, error)
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]domain.ChangeRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID) error
	Optimize(ctx context.Context) error
}

// CompressedChangeRepository stores the summaries synthesized when aged
// change records are compressed away.
type CompressedChangeRepository interface {
	Insert(ctx context.Context, record domain.CompressedChangeRecord) error
	List(ctx context.Context, integrationID uuid.UUID, entityType string, limit, offset int) ([]domain.CompressedChangeRecord, error)
}

// EntityStateRepository persists the last known snapshot of each entity so
// later detection passes have a previous state to compare against.
type EntityStateRepository interface {
	UpsertBatch(ctx context.Context, snapshots []domain.EntitySnapshot) error
	GetByKeys(ctx context.Context, entityType string, keys []string) (map[string]domain.EntitySnapshot, error)
}

// SyncRunRepository logs the outcome of executed incremental sync plans.
type SyncRunRepository interface {
	Record(ctx context.Context, run domain.SyncRun) error
	List(ctx context.Context, integrationID uuid.UUID, limit int) ([]domain.SyncRun, error)
}
