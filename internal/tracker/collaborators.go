package tracker

import (
	"context"

	"github.com/rpattn/rostersync/internal/domain"
	"github.com/rpattn/rostersync/internal/repository"
)

// StateProvider supplies the last known snapshot for entities of one type,
// keyed by entity key. Missing keys are simply absent from the result.
// Backed by the provider-specific synchronizer factory outside this core.
type StateProvider interface {
	PreviousStates(ctx context.Context, entityType string, keys []string) (map[string]domain.EntitySnapshot, error)
}

// StateRecorder is an optional upgrade of StateProvider: providers that
// also implement it get the current snapshots written back after each
// detection pass, so the next pass compares against them.
type StateRecorder interface {
	SaveStates(ctx context.Context, entityType string, snapshots []domain.EntitySnapshot) error
}

// SyncOutcome reports what a synchronizer did with one plan.
type SyncOutcome struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Synchronizer executes an incremental sync plan against the external
// system of record.
type Synchronizer interface {
	SyncEntities(ctx context.Context, plan domain.IncrementalSyncPlan, syncCtx domain.SyncContext) (SyncOutcome, error)
}

// IDMapper resolves the internal identifier for an entity that arrives
// carrying only its external one.
type IDMapper interface {
	ResolveInternal(ctx context.Context, entityType, externalID string) (string, error)
}

// Notifier receives every high or critical entity change detected while
// notifications are enabled. Consumers decide the delivery channel.
type Notifier interface {
	NotifyChange(ctx context.Context, change domain.EntityChange)
}

type repoStateProvider struct {
	repo repository.EntityStateRepository
}

// NewRepositoryStateProvider adapts the entity state repository to the
// StateProvider and StateRecorder collaborators.
func NewRepositoryStateProvider(repo repository.EntityStateRepository) StateProvider {
	return &repoStateProvider{repo: repo}
}

func (p *repoStateProvider) PreviousStates(ctx context.Context, entityType string, keys []string) (map[string]domain.EntitySnapshot, error) {
	return p.repo.GetByKeys(ctx, entityType, keys)
}

func (p *repoStateProvider) SaveStates(ctx context.Context, entityType string, snapshots []domain.EntitySnapshot) error {
	return p.repo.UpsertBatch(ctx, snapshots)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, change domain.EntityChange)

func (f NotifierFunc) NotifyChange(ctx context.Context, change domain.EntityChange) {
	f(ctx, change)
}
