package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/rostersync/internal/domain"
	"github.com/rpattn/rostersync/internal/ledger"
)

func newAnalyzerOver(t *testing.T, records ...domain.ChangeRecord) (Analyzer, uuid.UUID) {
	t.Helper()

	integrationID := uuid.New()
	repo := &memChangeRepo{}
	for i := range records {
		records[i].ID = uuid.New()
		records[i].IntegrationID = integrationID
	}
	repo.records = records

	ledgerSvc, err := ledger.NewService(repo, memCompressedRepo{}, ledger.DefaultConfig())
	if err != nil {
		t.Fatalf("ledger.NewService: %v", err)
	}
	return NewHeuristicAnalyzer(ledgerSvc, DefaultAnalyticsConfig()), integrationID
}

func recordAt(at time.Time, entityType, entityID string, score float64, fields ...string) domain.ChangeRecord {
	record := domain.ChangeRecord{
		EntityChange: domain.EntityChange{
			EntityType:  entityType,
			EntityID:    entityID,
			ChangeType:  domain.ChangeTypeUpdated,
			ChangeScore: score,
		},
		CreatedAt: at,
	}
	for _, field := range fields {
		record.FieldChanges = append(record.FieldChanges, domain.FieldChange{FieldName: field})
	}
	return record
}

func TestAnalyzeVelocityAndAnomalies(t *testing.T) {
	end := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	start := end.Add(-2 * time.Hour)

	analyzer, integrationID := newAnalyzerOver(t,
		recordAt(start.Add(10*time.Minute), "user", "u-1", 40),
		recordAt(start.Add(20*time.Minute), "user", "u-2", 95),
		recordAt(start.Add(30*time.Minute), "user", "u-3", 30),
		recordAt(start.Add(40*time.Minute), "class", "c-1", 20),
	)

	analytics, err := analyzer.Analyze(context.Background(), integrationID, start, end)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if analytics.TotalChanges != 4 {
		t.Errorf("expected 4 changes, got %d", analytics.TotalChanges)
	}
	if analytics.ChangeVelocity != 2 {
		t.Errorf("expected 2 changes/hour, got %f", analytics.ChangeVelocity)
	}
	// No prior-period records, so the whole velocity is acceleration.
	if analytics.Acceleration != 2 {
		t.Errorf("expected acceleration 2, got %f", analytics.Acceleration)
	}
	if len(analytics.Anomalies) != 1 {
		t.Fatalf("expected 1 anomaly above score 90, got %d", len(analytics.Anomalies))
	}
	if analytics.Anomalies[0].EntityID != "u-2" {
		t.Errorf("expected u-2 as the anomaly, got %s", analytics.Anomalies[0].EntityID)
	}
}

func TestAnalyzePeakHours(t *testing.T) {
	end := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	start := end.Add(-4 * time.Hour)

	// Hour 9 carries five changes, hours 10 and 11 one each: the hourly
	// mean over the 4-hour period is 7/4, and only hour 9 exceeds twice
	// that.
	records := []domain.ChangeRecord{
		recordAt(time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC), "user", "u-a", 10),
		recordAt(time.Date(2026, 3, 10, 11, 5, 0, 0, time.UTC), "user", "u-b", 10),
	}
	for i := 0; i < 5; i++ {
		records = append(records, recordAt(time.Date(2026, 3, 10, 9, 5+i, 0, 0, time.UTC), "user", "u-peak", 10))
	}

	analyzer, integrationID := newAnalyzerOver(t, records...)
	analytics, err := analyzer.Analyze(context.Background(), integrationID, start, end)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(analytics.PeakHours) != 1 || analytics.PeakHours[0] != 9 {
		t.Errorf("expected peak hour [9], got %v", analytics.PeakHours)
	}
}

func TestAnalyzePeakHoursWhenChangesConcentrateInOneHour(t *testing.T) {
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	// Every change lands at 09:30. The hourly mean over the full period
	// is 1/hour, so hour 9 must be flagged even though it is the only
	// hour with any activity.
	var records []domain.ChangeRecord
	for i := 0; i < 24; i++ {
		records = append(records, recordAt(time.Date(2026, 3, 10, 9, 30, i, 0, time.UTC), "user", "u-1", 10))
	}

	analyzer, integrationID := newAnalyzerOver(t, records...)
	analytics, err := analyzer.Analyze(context.Background(), integrationID, start, end)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(analytics.PeakHours) != 1 || analytics.PeakHours[0] != 9 {
		t.Errorf("expected peak hour [9], got %v", analytics.PeakHours)
	}
}

func TestAnalyzePredictionAboveVelocityThreshold(t *testing.T) {
	end := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	start := end.Add(-time.Hour)

	var records []domain.ChangeRecord
	for i := 0; i < 12; i++ {
		records = append(records, recordAt(start.Add(time.Duration(i)*time.Minute), "enrollment", "e-1", 10))
	}

	analyzer, integrationID := newAnalyzerOver(t, records...)
	analytics, err := analyzer.Analyze(context.Background(), integrationID, start, end)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(analytics.Predictions) != 1 {
		t.Fatalf("expected 1 prediction at 12 changes/hour, got %d", len(analytics.Predictions))
	}
	prediction := analytics.Predictions[0]
	if prediction.EntityType != "enrollment" {
		t.Errorf("expected prediction for the busiest type, got %s", prediction.EntityType)
	}
	if prediction.Confidence != DefaultAnalyticsConfig().PredictionConfidence {
		t.Errorf("expected fixed confidence, got %f", prediction.Confidence)
	}
	if !prediction.PredictedBy.Equal(end.Add(time.Hour)) {
		t.Errorf("expected forecast one period ahead, got %s", prediction.PredictedBy)
	}
}

func TestAnalyzeInvalidPeriod(t *testing.T) {
	analyzer, integrationID := newAnalyzerOver(t)

	at := time.Now()
	_, err := analyzer.Analyze(context.Background(), integrationID, at, at)
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Errorf("expected validation error for empty period, got %v", err)
	}
}

func TestDetectPatternsRequiresRepetition(t *testing.T) {
	end := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	start := end.Add(-time.Hour)

	analyzer, integrationID := newAnalyzerOver(t,
		recordAt(start.Add(5*time.Minute), "user", "u-1", 10, "email", "givenName"),
		recordAt(start.Add(15*time.Minute), "user", "u-1", 10, "email"),
		recordAt(start.Add(25*time.Minute), "user", "u-2", 10, "email"),
		recordAt(start.Add(35*time.Minute), "class", "c-1", 10, "title"),
	)

	patterns, err := analyzer.DetectPatterns(context.Background(), integrationID, start, end)
	if err != nil {
		t.Fatalf("DetectPatterns: %v", err)
	}

	// givenName and title changed once each; only email repeats.
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d: %+v", len(patterns), patterns)
	}
	if patterns[0].FieldName != "email" || patterns[0].Occurrences != 3 {
		t.Errorf("expected email x3, got %+v", patterns[0])
	}
}
