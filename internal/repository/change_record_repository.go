package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/rostersync/internal/domain"
)

// changeRecordRepository implements ChangeRecordRepository on postgres.
type changeRecordRepository struct {
	pool *pgxpool.Pool
}

// NewChangeRecordRepository wires a repository backed by pgxpool.
func NewChangeRecordRepository(pool *pgxpool.Pool) ChangeRecordRepository {
	return &changeRecordRepository{pool: pool}
}

const changeRecordColumns = `id, integration_id, entity_type, entity_id, external_id, change_type,
	significance, change_score, field_changes, metadata, previous_hash, current_hash,
	sync_id, sync_type, provider_id, created_at, is_processed`

// InsertBatch writes one chunk of records inside a single transaction.
// Chunk sizing is the ledger's responsibility.
func (r *changeRecordRepository) InsertBatch(ctx context.Context, records []domain.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, record := range records {
		fieldChangesJSON, err := json.Marshal(record.FieldChanges)
		if err != nil {
			return fmt.Errorf("failed to marshal field changes for %s: %w", record.EntityID, err)
		}
		metadataJSON, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", record.EntityID, err)
		}

		batch.Queue(
			`INSERT INTO change_records (`+changeRecordColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			record.ID,
			record.IntegrationID,
			record.EntityType,
			record.EntityID,
			record.ExternalID,
			record.ChangeType,
			record.Significance,
			record.ChangeScore,
			fieldChangesJSON,
			metadataJSON,
			record.PreviousHash,
			record.CurrentHash,
			record.SyncContext.SyncID,
			record.SyncContext.SyncType,
			record.SyncContext.ProviderID,
			record.CreatedAt,
			record.IsProcessed,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert change record: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit change record batch: %w", err)
	}

	return nil
}

// Query returns a filtered page of records ordered newest-first, plus the
// unpaged total count.
func (r *changeRecordRepository) Query(ctx context.Context, filter domain.ChangeRecordFilter) ([]domain.ChangeRecord, int, error) {
	where, args := buildChangeRecordWhere(filter)

	var totalCount int
	countQuery := "SELECT COUNT(*) FROM change_records" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count change records: %w", err)
	}

	query := "SELECT " + changeRecordColumns + " FROM change_records" + where +
		" ORDER BY created_at DESC" +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query change records: %w", err)
	}
	defer rows.Close()

	records, err := scanChangeRecords(rows)
	if err != nil {
		return nil, 0, err
	}

	return records, totalCount, nil
}

// Summarize aggregates the filtered slice of the ledger server-side.
func (r *changeRecordRepository) Summarize(ctx context.Context, filter domain.ChangeRecordFilter, topN int) (domain.ChangeSummary, error) {
	where, args := buildChangeRecordWhere(filter)

	summary := domain.ChangeSummary{
		ByChangeType: map[domain.ChangeType]int{},
		BySeverity:   map[domain.Severity]int{},
		ByEntityType: map[string]int{},
	}

	query := `SELECT change_type, significance, entity_type, COUNT(*), AVG(change_score)
		 FROM change_records` + where + ` GROUP BY change_type, significance, entity_type`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return domain.ChangeSummary{}, fmt.Errorf("failed to summarize change records: %w", err)
	}
	defer rows.Close()

	scoreTotal := 0.0
	for rows.Next() {
		var changeType domain.ChangeType
		var severity domain.Severity
		var entityType string
		var count int
		var avgScore float64
		if err := rows.Scan(&changeType, &severity, &entityType, &count, &avgScore); err != nil {
			return domain.ChangeSummary{}, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary.TotalChanges += count
		summary.ByChangeType[changeType] += count
		summary.BySeverity[severity] += count
		summary.ByEntityType[entityType] += count
		scoreTotal += avgScore * float64(count)
	}
	if err := rows.Err(); err != nil {
		return domain.ChangeSummary{}, fmt.Errorf("failed to read summary rows: %w", err)
	}
	if summary.TotalChanges > 0 {
		summary.AverageChangeScore = scoreTotal / float64(summary.TotalChanges)
	}

	topQuery := `SELECT entity_type, entity_id, COUNT(*) AS change_count
		 FROM change_records` + where +
		fmt.Sprintf(` GROUP BY entity_type, entity_id ORDER BY change_count DESC LIMIT $%d`, len(args)+1)
	topArgs := append(append([]any{}, args...), topN)

	topRows, err := r.pool.Query(ctx, topQuery, topArgs...)
	if err != nil {
		return domain.ChangeSummary{}, fmt.Errorf("failed to rank changed entities: %w", err)
	}
	defer topRows.Close()

	for topRows.Next() {
		var entry domain.EntityChangeCount
		if err := topRows.Scan(&entry.EntityType, &entry.EntityID, &entry.Count); err != nil {
			return domain.ChangeSummary{}, fmt.Errorf("failed to scan top entity row: %w", err)
		}
		summary.TopEntities = append(summary.TopEntities, entry)
	}
	if err := topRows.Err(); err != nil {
		return domain.ChangeSummary{}, fmt.Errorf("failed to read top entity rows: %w", err)
	}

	return summary, nil
}

// ListOlderThan returns all records past the cutoff, ordered so the
// compressor sees each entity's records grouped and in time order.
func (r *changeRecordRepository) ListOlderThan(ctx context.Context, cutoff time.Time) ([]domain.ChangeRecord, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+changeRecordColumns+` FROM change_records
		 WHERE created_at < $1
		 ORDER BY entity_type, entity_id, created_at`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list aged change records: %w", err)
	}
	defer rows.Close()

	return scanChangeRecords(rows)
}

func (r *changeRecordRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM change_records WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete aged change records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *changeRecordRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, "DELETE FROM change_records WHERE id = ANY($1)", ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete change records by id: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *changeRecordRepository) MarkProcessed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, "UPDATE change_records SET is_processed = TRUE WHERE id = ANY($1)", ids)
	if err != nil {
		return fmt.Errorf("failed to mark change records processed: %w", err)
	}
	return nil
}

// Optimize reclaims storage after large deletes. VACUUM cannot run inside
// a transaction, so this goes straight through the pool.
func (r *changeRecordRepository) Optimize(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, "VACUUM ANALYZE change_records"); err != nil {
		return fmt.Errorf("failed to optimize change_records: %w", err)
	}
	return nil
}

func buildChangeRecordWhere(filter domain.ChangeRecordFilter) (string, []any) {
	var clauses []string
	var args []any

	appendClause := func(condition string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(condition, len(args)))
	}

	if filter.IntegrationID != nil {
		appendClause("integration_id = $%d", *filter.IntegrationID)
	}
	if filter.EntityType != "" {
		appendClause("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		appendClause("entity_id = $%d", filter.EntityID)
	}
	if len(filter.ChangeTypes) > 0 {
		appendClause("change_type = ANY($%d)", changeTypeStrings(filter.ChangeTypes))
	}
	if len(filter.Severities) > 0 {
		appendClause("significance = ANY($%d)", severityStrings(filter.Severities))
	}
	if filter.Since != nil {
		appendClause("created_at >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		appendClause("created_at <= $%d", *filter.Until)
	}
	if filter.OnlyUnprocessed {
		clauses = append(clauses, "is_processed = FALSE")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func changeTypeStrings(types []domain.ChangeType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func severityStrings(severities []domain.Severity) []string {
	out := make([]string, len(severities))
	for i, s := range severities {
		out[i] = string(s)
	}
	return out
}

func scanChangeRecords(rows pgx.Rows) ([]domain.ChangeRecord, error) {
	var records []domain.ChangeRecord
	for rows.Next() {
		var record domain.ChangeRecord
		var fieldChangesJSON, metadataJSON []byte

		err := rows.Scan(
			&record.ID,
			&record.IntegrationID,
			&record.EntityType,
			&record.EntityID,
			&record.ExternalID,
			&record.ChangeType,
			&record.Significance,
			&record.ChangeScore,
			&fieldChangesJSON,
			&metadataJSON,
			&record.PreviousHash,
			&record.CurrentHash,
			&record.SyncContext.SyncID,
			&record.SyncContext.SyncType,
			&record.SyncContext.ProviderID,
			&record.CreatedAt,
			&record.IsProcessed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change record: %w", err)
		}

		if len(fieldChangesJSON) > 0 {
			if err := json.Unmarshal(fieldChangesJSON, &record.FieldChanges); err != nil {
				return nil, fmt.Errorf("failed to unmarshal field changes: %w", err)
			}
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &record.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal change metadata: %w", err)
			}
		}

		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read change record rows: %w", err)
	}

	return records, nil
}
