package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/rostersync/internal/domain"
)

type syncRunRepository struct {
	pool *pgxpool.Pool
}

// NewSyncRunRepository wires a repository backed by pgxpool.
func NewSyncRunRepository(pool *pgxpool.Pool) SyncRunRepository {
	return &syncRunRepository{pool: pool}
}

func (r *syncRunRepository) Record(ctx context.Context, run domain.SyncRun) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sync_runs
		 (id, integration_id, sync_id, entity_type, planned_entities, synced_entities,
		  failed_entities, priority, started_at, completed_at, success, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID,
		run.IntegrationID,
		run.SyncID,
		run.EntityType,
		run.PlannedEntities,
		run.SyncedEntities,
		run.FailedEntities,
		run.Priority,
		run.StartedAt,
		run.CompletedAt,
		run.Success,
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}

	return nil
}

func (r *syncRunRepository) List(ctx context.Context, integrationID uuid.UUID, limit int) ([]domain.SyncRun, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, integration_id, sync_id, entity_type, planned_entities, synced_entities,
		        failed_entities, priority, started_at, completed_at, success, error_message
		 FROM sync_runs
		 WHERE integration_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		integrationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.SyncRun
	for rows.Next() {
		var run domain.SyncRun
		err := rows.Scan(
			&run.ID,
			&run.IntegrationID,
			&run.SyncID,
			&run.EntityType,
			&run.PlannedEntities,
			&run.SyncedEntities,
			&run.FailedEntities,
			&run.Priority,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Success,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sync run rows: %w", err)
	}

	return runs, nil
}
