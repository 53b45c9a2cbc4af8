package delta

import (
	"testing"

	"github.com/rpattn/rostersync/internal/domain"
)

func snapshot(id string, props map[string]any) domain.EntitySnapshot {
	return domain.EntitySnapshot{EntityType: "user", EntityID: id, Properties: props}
}

func TestBatchDeltaOneChangedOneUnchanged(t *testing.T) {
	calc := NewCalculator(domain.DefaultScoringPolicy())

	previous := []domain.EntitySnapshot{
		snapshot("a", map[string]any{"givenName": "Ann"}),
		snapshot("b", map[string]any{"givenName": "Bo"}),
	}
	current := []domain.EntitySnapshot{
		snapshot("a", map[string]any{"givenName": "Anne"}),
		snapshot("b", map[string]any{"givenName": "Bo"}),
	}

	batch := calc.CalculateBatchDelta("user", previous, current, nil)
	if batch.ChangedEntities != 1 {
		t.Errorf("expected 1 changed entity, got %d", batch.ChangedEntities)
	}
	if batch.UnchangedEntities != 1 {
		t.Errorf("expected 1 unchanged entity, got %d", batch.UnchangedEntities)
	}
	if len(batch.Deltas) != 1 {
		t.Fatalf("expected only changed deltas by default, got %d", len(batch.Deltas))
	}
	if batch.Deltas[0].EntityID != "a" {
		t.Errorf("expected delta for a, got %s", batch.Deltas[0].EntityID)
	}
	if batch.Distribution[domain.ChangeTypeUpdated] != 1 {
		t.Errorf("expected 1 update in distribution, got %v", batch.Distribution)
	}
}

func TestBatchDeltaIncludeUnchanged(t *testing.T) {
	calc := NewCalculator(domain.DefaultScoringPolicy())

	snapshots := []domain.EntitySnapshot{snapshot("a", map[string]any{"givenName": "Ann"})}
	opts := domain.DefaultDeltaOptions()
	opts.IncludeUnchanged = true

	batch := calc.CalculateBatchDelta("user", snapshots, snapshots, &opts)
	if len(batch.Deltas) != 1 {
		t.Fatalf("expected unchanged delta to be included, got %d", len(batch.Deltas))
	}
	if batch.Deltas[0].HasChanges {
		t.Error("expected HasChanges=false")
	}
}

func TestBatchDeltaDistribution(t *testing.T) {
	calc := NewCalculator(domain.DefaultScoringPolicy())

	previous := []domain.EntitySnapshot{
		snapshot("a", map[string]any{"givenName": "Ann"}),
		snapshot("gone", map[string]any{"givenName": "Cy"}),
	}
	current := []domain.EntitySnapshot{
		snapshot("a", map[string]any{"givenName": "Anne"}),
		snapshot("new", map[string]any{"givenName": "Dee"}),
	}

	batch := calc.CalculateBatchDelta("user", previous, current, nil)
	if batch.ChangedEntities != 3 {
		t.Fatalf("expected 3 changed entities, got %d", batch.ChangedEntities)
	}
	if batch.Distribution[domain.ChangeTypeUpdated] != 1 ||
		batch.Distribution[domain.ChangeTypeCreated] != 1 ||
		batch.Distribution[domain.ChangeTypeDeleted] != 1 {
		t.Errorf("unexpected distribution: %v", batch.Distribution)
	}
	// Deletion scores 100, the rest positive, so the average is positive.
	if batch.AverageChangeScore <= 0 {
		t.Errorf("expected positive average score, got %f", batch.AverageChangeScore)
	}
	if batch.SignificantChanges < 1 {
		t.Errorf("expected the deletion to count as significant, got %d", batch.SignificantChanges)
	}
}

func TestEntityDeltaNormalizationReportsBothValues(t *testing.T) {
	calc := NewCalculator(domain.DefaultScoringPolicy())

	previous := snapshot("a", map[string]any{"email": "ANN@SCHOOL.TEST", "role": "Teacher"})
	current := snapshot("a", map[string]any{"email": "ann@school.test", "role": "student"})

	opts := domain.DefaultDeltaOptions()
	delta := calc.CalculateEntityDelta("user", &previous, &current, opts)

	// The email differs only in case, so normalization removes it.
	if len(delta.FieldDeltas) != 1 {
		t.Fatalf("expected 1 field delta, got %d", len(delta.FieldDeltas))
	}
	fd := delta.FieldDeltas[0]
	if fd.FieldName != "role" {
		t.Errorf("expected role, got %s", fd.FieldName)
	}
	if fd.PreviousValue != "Teacher" || fd.CurrentValue != "student" {
		t.Errorf("raw values not preserved: %v -> %v", fd.PreviousValue, fd.CurrentValue)
	}
	if fd.NormalizedPrevious != "teacher" || fd.NormalizedCurrent != "student" {
		t.Errorf("normalized values wrong: %v -> %v", fd.NormalizedPrevious, fd.NormalizedCurrent)
	}
}

func TestEntityDeltaDeepComparison(t *testing.T) {
	calc := NewCalculator(domain.DefaultScoringPolicy())

	previous := snapshot("a", map[string]any{
		"org": map[string]any{"name": "North", "region": "1"},
	})
	current := snapshot("a", map[string]any{
		"org": map[string]any{"name": "South", "region": "1"},
	})

	opts := domain.DefaultDeltaOptions()
	opts.DeepComparison = true
	delta := calc.CalculateEntityDelta("user", &previous, &current, opts)

	if len(delta.FieldDeltas) != 1 {
		t.Fatalf("expected 1 nested field delta, got %d", len(delta.FieldDeltas))
	}
	if delta.FieldDeltas[0].FieldName != "org.name" {
		t.Errorf("expected dotted name org.name, got %s", delta.FieldDeltas[0].FieldName)
	}
}

func TestEntityDeltaCustomComparison(t *testing.T) {
	calc := NewCalculator(domain.DefaultScoringPolicy())

	previous := snapshot("a", map[string]any{"phone": "555-0100"})
	current := snapshot("a", map[string]any{"phone": "(555) 0100"})

	opts := domain.DefaultDeltaOptions()
	opts.CustomComparisons = map[string]domain.CompareFunc{
		"phone": func(oldValue, newValue any) bool { return true }, // treat all phones equal
	}

	delta := calc.CalculateEntityDelta("user", &previous, &current, opts)
	if delta.HasChanges {
		t.Errorf("expected custom comparison to suppress the change, got %+v", delta.FieldDeltas)
	}
}

func TestEntityDeltaDeletion(t *testing.T) {
	calc := NewCalculator(domain.DefaultScoringPolicy())

	previous := snapshot("a", map[string]any{"givenName": "Ann"})
	delta := calc.CalculateEntityDelta("user", &previous, nil, domain.DefaultDeltaOptions())

	if delta.ChangeType != domain.ChangeTypeDeleted {
		t.Errorf("expected deleted, got %s", delta.ChangeType)
	}
	if delta.ChangeScore != 100 {
		t.Errorf("expected score 100, got %f", delta.ChangeScore)
	}
}
