package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/rostersync/internal/domain"
)

type compressedChangeRepository struct {
	pool *pgxpool.Pool
}

// NewCompressedChangeRepository wires a repository backed by pgxpool.
func NewCompressedChangeRepository(pool *pgxpool.Pool) CompressedChangeRepository {
	return &compressedChangeRepository{pool: pool}
}

func (r *compressedChangeRepository) Insert(ctx context.Context, record domain.CompressedChangeRecord) error {
	severityJSON, err := json.Marshal(record.SeverityCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal severity counts: %w", err)
	}
	fieldJSON, err := json.Marshal(record.FieldCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal field counts: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO compressed_change_records
		 (id, integration_id, entity_type, entity_id, change_types, severity_counts,
		  field_counts, change_count, first_change_at, last_change_at, original_ids, compressed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.ID,
		record.IntegrationID,
		record.EntityType,
		record.EntityID,
		changeTypeStrings(record.ChangeTypes),
		severityJSON,
		fieldJSON,
		record.ChangeCount,
		record.FirstChangeAt,
		record.LastChangeAt,
		record.OriginalIDs,
		record.CompressedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert compressed change record: %w", err)
	}

	return nil
}

func (r *compressedChangeRepository) List(ctx context.Context, integrationID uuid.UUID, entityType string, limit, offset int) ([]domain.CompressedChangeRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, integration_id, entity_type, entity_id, change_types, severity_counts,
		        field_counts, change_count, first_change_at, last_change_at, original_ids, compressed_at
		 FROM compressed_change_records
		 WHERE integration_id = $1 AND ($2 = '' OR entity_type = $2)
		 ORDER BY last_change_at DESC
		 LIMIT $3 OFFSET $4`,
		integrationID, entityType, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list compressed change records: %w", err)
	}
	defer rows.Close()

	var records []domain.CompressedChangeRecord
	for rows.Next() {
		var record domain.CompressedChangeRecord
		var changeTypes []string
		var severityJSON, fieldJSON []byte

		err := rows.Scan(
			&record.ID,
			&record.IntegrationID,
			&record.EntityType,
			&record.EntityID,
			&changeTypes,
			&severityJSON,
			&fieldJSON,
			&record.ChangeCount,
			&record.FirstChangeAt,
			&record.LastChangeAt,
			&record.OriginalIDs,
			&record.CompressedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compressed change record: %w", err)
		}

		record.ChangeTypes = make([]domain.ChangeType, len(changeTypes))
		for i, t := range changeTypes {
			record.ChangeTypes[i] = domain.ChangeType(t)
		}
		if len(severityJSON) > 0 {
			if err := json.Unmarshal(severityJSON, &record.SeverityCounts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal severity counts: %w", err)
			}
		}
		if len(fieldJSON) > 0 {
			if err := json.Unmarshal(fieldJSON, &record.FieldCounts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal field counts: %w", err)
			}
		}

		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read compressed change rows: %w", err)
	}

	return records, nil
}
