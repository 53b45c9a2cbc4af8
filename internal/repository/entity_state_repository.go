package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/rostersync/internal/domain"
)

type entityStateRepository struct {
	pool *pgxpool.Pool
}

// NewEntityStateRepository wires a repository backed by pgxpool. It also
// satisfies the tracker's state provider and recorder collaborators.
func NewEntityStateRepository(pool *pgxpool.Pool) EntityStateRepository {
	return &entityStateRepository{pool: pool}
}

func (r *entityStateRepository) UpsertBatch(ctx context.Context, snapshots []domain.EntitySnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, snapshot := range snapshots {
		key := snapshot.Key()
		if key == "" {
			continue
		}

		properties, err := json.Marshal(snapshot.Properties)
		if err != nil {
			return fmt.Errorf("failed to marshal properties for %s: %w", key, err)
		}

		batch.Queue(
			`INSERT INTO entity_states (entity_type, entity_key, entity_id, external_id, properties, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())
			 ON CONFLICT (entity_type, entity_key)
			 DO UPDATE SET entity_id = EXCLUDED.entity_id,
			               external_id = EXCLUDED.external_id,
			               properties = EXCLUDED.properties,
			               updated_at = NOW()`,
			snapshot.EntityType, key, snapshot.EntityID, snapshot.ExternalID, properties,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert entity state: %w", err)
		}
	}

	return nil
}

func (r *entityStateRepository) GetByKeys(ctx context.Context, entityType string, keys []string) (map[string]domain.EntitySnapshot, error) {
	states := make(map[string]domain.EntitySnapshot, len(keys))
	if len(keys) == 0 {
		return states, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT entity_key, entity_id, external_id, properties
		 FROM entity_states
		 WHERE entity_type = $1 AND entity_key = ANY($2)`,
		entityType, keys,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key        string
			snapshot   domain.EntitySnapshot
			properties []byte
		)
		if err := rows.Scan(&key, &snapshot.EntityID, &snapshot.ExternalID, &properties); err != nil {
			return nil, fmt.Errorf("failed to scan entity state: %w", err)
		}
		snapshot.EntityType = entityType
		if err := json.Unmarshal(properties, &snapshot.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal properties for %s: %w", key, err)
		}
		states[key] = snapshot
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entity state rows: %w", err)
	}

	return states, nil
}
