// Package ledger owns the durable, append-mostly change history: writes,
// filtered queries, retention cleanup and compression of aged records.
package ledger

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/rostersync/internal/domain"
	"github.com/rpattn/rostersync/internal/repository"
)

var (
	// ErrCleanupRunning is returned when a retention cleanup is requested
	// while another one is still in flight.
	ErrCleanupRunning = errors.New("retention cleanup already running")

	// ErrCompressionDisabled is returned when compression is requested but
	// not enabled in the config.
	ErrCompressionDisabled = errors.New("record compression is disabled")
)

// Config tunes the ledger's write batching and lifecycle jobs.
type Config struct {
	RetentionDays       int
	CompressionDays     int
	CompressionEnabled  bool
	BatchChunkSize      int
	MaxWriteConcurrency int
	MaxQueryLimit       int
	DefaultQueryLimit   int
	TopEntityCount      int
}

// DefaultConfig returns the standard ledger settings.
func DefaultConfig() Config {
	return Config{
		RetentionDays:       90,
		CompressionDays:     30,
		CompressionEnabled:  false,
		BatchChunkSize:      100,
		MaxWriteConcurrency: 5,
		MaxQueryLimit:       1000,
		DefaultQueryLimit:   100,
		TopEntityCount:      10,
	}
}

// Validate rejects settings that make no sense before any work begins.
func (c Config) Validate() error {
	if c.BatchChunkSize <= 0 {
		return &domain.ValidationError{Field: "batchChunkSize", Message: "must be positive"}
	}
	if c.MaxWriteConcurrency <= 0 {
		return &domain.ValidationError{Field: "maxWriteConcurrency", Message: "must be positive"}
	}
	if c.RetentionDays <= 0 {
		return &domain.ValidationError{Field: "retentionDays", Message: "must be positive"}
	}
	if c.CompressionDays <= 0 || c.CompressionDays >= c.RetentionDays {
		return &domain.ValidationError{Field: "compressionDays", Message: "must be positive and below retentionDays"}
	}
	return nil
}

// BatchStoreResult reports a chunked batch write. A failing chunk lands in
// Errors while the other chunks still commit.
type BatchStoreResult struct {
	Stored  int      `json:"stored"`
	Errors  []string `json:"errors,omitempty"`
	Success bool     `json:"success"`
}

// QueryResult is one page of the change history.
type QueryResult struct {
	Records    []domain.ChangeRecord `json:"records"`
	TotalCount int                   `json:"totalCount"`
	HasMore    bool                  `json:"hasMore"`
}

// CleanupResult reports a retention pass.
type CleanupResult struct {
	Deleted int64     `json:"deleted"`
	Cutoff  time.Time `json:"cutoff"`
}

// CompressionResult reports a compression pass.
type CompressionResult struct {
	Compressed int       `json:"compressed"`
	Deleted    int64     `json:"deleted"`
	Cutoff     time.Time `json:"cutoff"`
}

// Service is the change history ledger.
type Service struct {
	records    repository.ChangeRecordRepository
	compressed repository.CompressedChangeRepository
	cfg        Config

	cleanupMu sync.Mutex
}

// NewService validates the config and returns a ledger service.
func NewService(records repository.ChangeRecordRepository, compressed repository.CompressedChangeRepository, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{records: records, compressed: compressed, cfg: cfg}, nil
}

// Store persists one change record. Errors are logged and surfaced to the
// caller immediately.
func (s *Service) Store(ctx context.Context, record domain.ChangeRecord) (domain.ChangeRecord, error) {
	record = s.prepare(record)
	if err := s.records.InsertBatch(ctx, []domain.ChangeRecord{record}); err != nil {
		log.Printf("[LEDGER] store failed for entity %s: %v", record.EntityID, err)
		return domain.ChangeRecord{}, &domain.StorageError{Op: "store", Err: err}
	}
	return record, nil
}

// StoreBatch persists records in chunks, writing chunks concurrently up to
// the configured bound. A failing chunk is isolated; the rest commit.
func (s *Service) StoreBatch(ctx context.Context, records []domain.ChangeRecord) (BatchStoreResult, []domain.ChangeRecord) {
	prepared := make([]domain.ChangeRecord, len(records))
	for i, record := range records {
		prepared[i] = s.prepare(record)
	}

	var (
		mu     sync.Mutex
		result BatchStoreResult
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.MaxWriteConcurrency)

	for start := 0; start < len(prepared); start += s.cfg.BatchChunkSize {
		end := start + s.cfg.BatchChunkSize
		if end > len(prepared) {
			end = len(prepared)
		}
		chunk := prepared[start:end]

		group.Go(func() error {
			if err := s.records.InsertBatch(groupCtx, chunk); err != nil {
				log.Printf("[LEDGER] batch chunk of %d failed: %v", len(chunk), err)
				mu.Lock()
				result.Errors = append(result.Errors, err.Error())
				mu.Unlock()
				return nil // chunk failures never abort the batch
			}
			mu.Lock()
			result.Stored += len(chunk)
			mu.Unlock()
			return nil
		})
	}

	_ = group.Wait()
	result.Success = len(result.Errors) == 0

	return result, prepared
}

// Query returns a filtered page, newest first. The limit is capped at the
// configured maximum.
func (s *Service) Query(ctx context.Context, filter domain.ChangeRecordFilter) (QueryResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = s.cfg.DefaultQueryLimit
	}
	if filter.Limit > s.cfg.MaxQueryLimit {
		filter.Limit = s.cfg.MaxQueryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	records, totalCount, err := s.records.Query(ctx, filter)
	if err != nil {
		return QueryResult{}, &domain.StorageError{Op: "query", Err: err}
	}

	return QueryResult{
		Records:    records,
		TotalCount: totalCount,
		HasMore:    filter.Offset+len(records) < totalCount,
	}, nil
}

// Summarize aggregates the filtered history.
func (s *Service) Summarize(ctx context.Context, filter domain.ChangeRecordFilter) (domain.ChangeSummary, error) {
	summary, err := s.records.Summarize(ctx, filter, s.cfg.TopEntityCount)
	if err != nil {
		return domain.ChangeSummary{}, &domain.StorageError{Op: "summarize", Err: err}
	}
	return summary, nil
}

// MarkProcessed flags records consumed by an executed sync plan.
func (s *Service) MarkProcessed(ctx context.Context, ids []uuid.UUID) error {
	if err := s.records.MarkProcessed(ctx, ids); err != nil {
		return &domain.StorageError{Op: "mark-processed", Err: err}
	}
	return nil
}

// RetentionCleanup deletes records older than the retention period.
// Idempotent: a second run with no new aged records deletes zero. Never
// runs concurrently with itself; concurrent store operations are fine
// because deletion is strictly by age cutoff.
func (s *Service) RetentionCleanup(ctx context.Context) (CleanupResult, error) {
	if !s.cleanupMu.TryLock() {
		return CleanupResult{}, ErrCleanupRunning
	}
	defer s.cleanupMu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.records.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return CleanupResult{}, &domain.StorageError{Op: "retention-cleanup", Err: err}
	}

	log.Printf("[LEDGER] retention cleanup removed %d records older than %s", deleted, cutoff.Format(time.RFC3339))
	return CleanupResult{Deleted: deleted, Cutoff: cutoff}, nil
}

// CompressOldRecords replaces records older than the compression threshold
// with per-entity summaries, then deletes the originals. Opt-in only.
func (s *Service) CompressOldRecords(ctx context.Context) (CompressionResult, error) {
	if !s.cfg.CompressionEnabled {
		return CompressionResult{}, ErrCompressionDisabled
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.CompressionDays)
	aged, err := s.records.ListOlderThan(ctx, cutoff)
	if err != nil {
		return CompressionResult{}, &domain.StorageError{Op: "compress-list", Err: err}
	}
	if len(aged) == 0 {
		return CompressionResult{Cutoff: cutoff}, nil
	}

	groups := groupByEntity(aged)
	result := CompressionResult{Cutoff: cutoff}

	for _, group := range groups {
		compressedRecord := synthesize(group)
		if err := s.compressed.Insert(ctx, compressedRecord); err != nil {
			log.Printf("[LEDGER] compression failed for %s/%s: %v", compressedRecord.EntityType, compressedRecord.EntityID, err)
			continue
		}

		deleted, err := s.records.DeleteByIDs(ctx, compressedRecord.OriginalIDs)
		if err != nil {
			log.Printf("[LEDGER] failed to delete compressed originals for %s/%s: %v", compressedRecord.EntityType, compressedRecord.EntityID, err)
			continue
		}

		result.Compressed++
		result.Deleted += deleted
	}

	log.Printf("[LEDGER] compressed %d entity groups, deleted %d records", result.Compressed, result.Deleted)
	return result, nil
}

// Optimize reclaims storage after heavy deletes.
func (s *Service) Optimize(ctx context.Context) error {
	if err := s.records.Optimize(ctx); err != nil {
		return &domain.StorageError{Op: "optimize", Err: err}
	}
	return nil
}

func (s *Service) prepare(record domain.ChangeRecord) domain.ChangeRecord {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	return record
}

type entityGroupKey struct {
	integrationID uuid.UUID
	entityType    string
	entityID      string
}

func groupByEntity(records []domain.ChangeRecord) [][]domain.ChangeRecord {
	grouped := map[entityGroupKey][]domain.ChangeRecord{}
	var order []entityGroupKey
	for _, record := range records {
		key := entityGroupKey{record.IntegrationID, record.EntityType, record.EntityID}
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], record)
	}

	groups := make([][]domain.ChangeRecord, 0, len(order))
	for _, key := range order {
		groups = append(groups, grouped[key])
	}
	return groups
}

// synthesize summarizes one entity's aged records: change-type set,
// severity histogram, per-field change counts, time range, original ids.
func synthesize(group []domain.ChangeRecord) domain.CompressedChangeRecord {
	first := group[0]
	record := domain.CompressedChangeRecord{
		ID:             uuid.New(),
		IntegrationID:  first.IntegrationID,
		EntityType:     first.EntityType,
		EntityID:       first.EntityID,
		SeverityCounts: map[domain.Severity]int{},
		FieldCounts:    map[string]int{},
		ChangeCount:    len(group),
		FirstChangeAt:  first.CreatedAt,
		LastChangeAt:   first.CreatedAt,
		CompressedAt:   time.Now().UTC(),
	}

	changeTypes := map[domain.ChangeType]struct{}{}
	for _, item := range group {
		changeTypes[item.ChangeType] = struct{}{}
		record.SeverityCounts[item.Significance]++
		for _, fc := range item.FieldChanges {
			record.FieldCounts[fc.FieldName]++
		}
		if item.CreatedAt.Before(record.FirstChangeAt) {
			record.FirstChangeAt = item.CreatedAt
		}
		if item.CreatedAt.After(record.LastChangeAt) {
			record.LastChangeAt = item.CreatedAt
		}
		record.OriginalIDs = append(record.OriginalIDs, item.ID)
	}

	for changeType := range changeTypes {
		record.ChangeTypes = append(record.ChangeTypes, changeType)
	}
	sort.Slice(record.ChangeTypes, func(i, j int) bool {
		return record.ChangeTypes[i] < record.ChangeTypes[j]
	})

	return record
}
