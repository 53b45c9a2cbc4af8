package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/rostersync/internal/domain"
)

// fakeChangeRecordRepository is an in-memory stand-in for the postgres
// repository. failEvery makes every Nth InsertBatch call fail so chunk
// isolation can be exercised.
type fakeChangeRecordRepository struct {
	mu          sync.Mutex
	records     []domain.ChangeRecord
	insertCalls int
	failEvery   int
}

func (f *fakeChangeRecordRepository) InsertBatch(ctx context.Context, records []domain.ChangeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.failEvery > 0 && f.insertCalls%f.failEvery == 0 {
		return errors.New("simulated insert failure")
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeChangeRecordRepository) Query(ctx context.Context, filter domain.ChangeRecordFilter) ([]domain.ChangeRecord, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []domain.ChangeRecord
	for _, record := range f.records {
		if matchesFilter(record, filter) {
			matched = append(matched, record)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset < len(matched) {
		matched = matched[filter.Offset:]
	} else {
		matched = nil
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func matchesFilter(record domain.ChangeRecord, filter domain.ChangeRecordFilter) bool {
	if filter.IntegrationID != nil && record.IntegrationID != *filter.IntegrationID {
		return false
	}
	if filter.EntityType != "" && record.EntityType != filter.EntityType {
		return false
	}
	if filter.EntityID != "" && record.EntityID != filter.EntityID {
		return false
	}
	if filter.OnlyUnprocessed && record.IsProcessed {
		return false
	}
	if filter.Since != nil && record.CreatedAt.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && record.CreatedAt.After(*filter.Until) {
		return false
	}
	return true
}

func (f *fakeChangeRecordRepository) Summarize(ctx context.Context, filter domain.ChangeRecordFilter, topN int) (domain.ChangeSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	summary := domain.ChangeSummary{
		ByChangeType: map[domain.ChangeType]int{},
		BySeverity:   map[domain.Severity]int{},
		ByEntityType: map[string]int{},
	}
	scoreTotal := 0.0
	for _, record := range f.records {
		if !matchesFilter(record, filter) {
			continue
		}
		summary.TotalChanges++
		summary.ByChangeType[record.ChangeType]++
		summary.BySeverity[record.Significance]++
		summary.ByEntityType[record.EntityType]++
		scoreTotal += record.ChangeScore
	}
	if summary.TotalChanges > 0 {
		summary.AverageChangeScore = scoreTotal / float64(summary.TotalChanges)
	}
	return summary, nil
}

func (f *fakeChangeRecordRepository) ListOlderThan(ctx context.Context, cutoff time.Time) ([]domain.ChangeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var aged []domain.ChangeRecord
	for _, record := range f.records {
		if record.CreatedAt.Before(cutoff) {
			aged = append(aged, record)
		}
	}
	return aged, nil
}

func (f *fakeChangeRecordRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []domain.ChangeRecord
	var deleted int64
	for _, record := range f.records {
		if record.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, record)
	}
	f.records = kept
	return deleted, nil
}

func (f *fakeChangeRecordRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	var kept []domain.ChangeRecord
	var deleted int64
	for _, record := range f.records {
		if _, ok := drop[record.ID]; ok {
			deleted++
			continue
		}
		kept = append(kept, record)
	}
	f.records = kept
	return deleted, nil
}

func (f *fakeChangeRecordRepository) MarkProcessed(ctx context.Context, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	flag := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		flag[id] = struct{}{}
	}
	for i := range f.records {
		if _, ok := flag[f.records[i].ID]; ok {
			f.records[i].IsProcessed = true
		}
	}
	return nil
}

func (f *fakeChangeRecordRepository) Optimize(ctx context.Context) error { return nil }

type fakeCompressedRepository struct {
	mu      sync.Mutex
	records []domain.CompressedChangeRecord
}

func (f *fakeCompressedRepository) Insert(ctx context.Context, record domain.CompressedChangeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeCompressedRepository) List(ctx context.Context, integrationID uuid.UUID, entityType string, limit, offset int) ([]domain.CompressedChangeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CompressedChangeRecord(nil), f.records...), nil
}

func newTestService(t *testing.T, repo *fakeChangeRecordRepository, compressed *fakeCompressedRepository, mutate func(*Config)) *Service {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(repo, compressed, cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func makeRecords(n int, integrationID uuid.UUID, age time.Duration) []domain.ChangeRecord {
	records := make([]domain.ChangeRecord, n)
	for i := range records {
		records[i] = domain.ChangeRecord{
			IntegrationID: integrationID,
			EntityChange: domain.EntityChange{
				EntityType:   "user",
				EntityID:     fmt.Sprintf("u-%d", i),
				ChangeType:   domain.ChangeTypeUpdated,
				Significance: domain.SeverityMedium,
				ChangeScore:  40,
			},
			CreatedAt: time.Now().UTC().Add(-age),
		}
	}
	return records
}

func TestStoreBatchChunksAllRecords(t *testing.T) {
	repo := &fakeChangeRecordRepository{}
	svc := newTestService(t, repo, &fakeCompressedRepository{}, func(c *Config) {
		c.BatchChunkSize = 10
	})

	records := makeRecords(35, uuid.New(), 0)
	result, prepared := svc.StoreBatch(context.Background(), records)

	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.Stored != 35 {
		t.Errorf("expected 35 stored, got %d", result.Stored)
	}
	if repo.insertCalls != 4 {
		t.Errorf("expected 4 chunks for 35 records at size 10, got %d", repo.insertCalls)
	}
	for _, record := range prepared {
		if record.ID == uuid.Nil {
			t.Error("expected prepared records to carry ids")
		}
		if record.CreatedAt.IsZero() {
			t.Error("expected prepared records to carry timestamps")
		}
	}
}

func TestStoreBatchIsolatesChunkFailures(t *testing.T) {
	repo := &fakeChangeRecordRepository{failEvery: 2}
	svc := newTestService(t, repo, &fakeCompressedRepository{}, func(c *Config) {
		c.BatchChunkSize = 10
		c.MaxWriteConcurrency = 1
	})

	result, _ := svc.StoreBatch(context.Background(), makeRecords(40, uuid.New(), 0))

	if result.Success {
		t.Error("expected partial failure")
	}
	if len(result.Errors) != 2 {
		t.Errorf("expected 2 chunk errors, got %d", len(result.Errors))
	}
	if result.Stored != 20 {
		t.Errorf("expected 20 stored from surviving chunks, got %d", result.Stored)
	}
}

func TestQueryCapsLimit(t *testing.T) {
	repo := &fakeChangeRecordRepository{}
	svc := newTestService(t, repo, &fakeCompressedRepository{}, nil)

	svc.StoreBatch(context.Background(), makeRecords(5, uuid.New(), 0))

	// A limit beyond the cap must not error, just clamp.
	result, err := svc.Query(context.Background(), domain.ChangeRecordFilter{Limit: 10_000})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.TotalCount != 5 {
		t.Errorf("expected total 5, got %d", result.TotalCount)
	}
	if result.HasMore {
		t.Error("expected no more pages")
	}
}

func TestQueryPagination(t *testing.T) {
	repo := &fakeChangeRecordRepository{}
	svc := newTestService(t, repo, &fakeCompressedRepository{}, nil)

	svc.StoreBatch(context.Background(), makeRecords(7, uuid.New(), 0))

	page, err := svc.Query(context.Background(), domain.ChangeRecordFilter{Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page.Records) != 3 {
		t.Errorf("expected 3 records, got %d", len(page.Records))
	}
	if !page.HasMore {
		t.Error("expected more pages")
	}

	last, err := svc.Query(context.Background(), domain.ChangeRecordFilter{Limit: 3, Offset: 6})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(last.Records) != 1 {
		t.Errorf("expected 1 record on the last page, got %d", len(last.Records))
	}
	if last.HasMore {
		t.Error("expected no more pages after the last")
	}
}

func TestRetentionCleanupIsIdempotent(t *testing.T) {
	repo := &fakeChangeRecordRepository{}
	svc := newTestService(t, repo, &fakeCompressedRepository{}, nil)

	integrationID := uuid.New()
	svc.StoreBatch(context.Background(), makeRecords(3, integrationID, 100*24*time.Hour))
	svc.StoreBatch(context.Background(), makeRecords(2, integrationID, time.Hour))

	first, err := svc.RetentionCleanup(context.Background())
	if err != nil {
		t.Fatalf("RetentionCleanup: %v", err)
	}
	if first.Deleted != 3 {
		t.Errorf("expected 3 deleted, got %d", first.Deleted)
	}

	second, err := svc.RetentionCleanup(context.Background())
	if err != nil {
		t.Fatalf("second RetentionCleanup: %v", err)
	}
	if second.Deleted != 0 {
		t.Errorf("expected idempotent second run, deleted %d", second.Deleted)
	}
}

func TestCompressionDisabledByDefault(t *testing.T) {
	svc := newTestService(t, &fakeChangeRecordRepository{}, &fakeCompressedRepository{}, nil)

	_, err := svc.CompressOldRecords(context.Background())
	if !errors.Is(err, ErrCompressionDisabled) {
		t.Errorf("expected ErrCompressionDisabled, got %v", err)
	}
}

func TestCompressionGroupsAndDeletesOriginals(t *testing.T) {
	repo := &fakeChangeRecordRepository{}
	compressed := &fakeCompressedRepository{}
	svc := newTestService(t, repo, compressed, func(c *Config) {
		c.CompressionEnabled = true
	})

	integrationID := uuid.New()
	aged := makeRecords(4, integrationID, 40*24*time.Hour)
	// Two records each for two entities.
	aged[1].EntityID = aged[0].EntityID
	aged[3].EntityID = aged[2].EntityID
	svc.StoreBatch(context.Background(), aged)
	svc.StoreBatch(context.Background(), makeRecords(1, integrationID, time.Hour))

	result, err := svc.CompressOldRecords(context.Background())
	if err != nil {
		t.Fatalf("CompressOldRecords: %v", err)
	}
	if result.Compressed != 2 {
		t.Errorf("expected 2 entity groups, got %d", result.Compressed)
	}
	if result.Deleted != 4 {
		t.Errorf("expected 4 originals deleted, got %d", result.Deleted)
	}
	if len(compressed.records) != 2 {
		t.Fatalf("expected 2 compressed records, got %d", len(compressed.records))
	}
	for _, record := range compressed.records {
		if record.ChangeCount != 2 {
			t.Errorf("expected change count 2, got %d", record.ChangeCount)
		}
		if record.SeverityCounts[domain.SeverityMedium] != 2 {
			t.Errorf("expected severity histogram to count both records, got %v", record.SeverityCounts)
		}
	}

	// The recent record must survive.
	page, err := svc.Query(context.Background(), domain.ChangeRecordFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.TotalCount != 1 {
		t.Errorf("expected 1 surviving record, got %d", page.TotalCount)
	}
}

func TestConfigValidation(t *testing.T) {
	_, err := NewService(&fakeChangeRecordRepository{}, &fakeCompressedRepository{}, Config{
		RetentionDays:       30,
		CompressionDays:     60, // above retention
		BatchChunkSize:      100,
		MaxWriteConcurrency: 5,
	})
	if err == nil {
		t.Error("expected validation error for compressionDays above retentionDays")
	}
}
