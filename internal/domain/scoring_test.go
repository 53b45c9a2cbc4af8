package domain

import (
	"math"
	"testing"
)

func TestSeverityOrdering(t *testing.T) {
	ordered := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("expected %s to rank above %s", ordered[i], ordered[i-1])
		}
	}

	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Error("critical should be at least high")
	}
	if SeverityMedium.AtLeast(SeverityHigh) {
		t.Error("medium should not be at least high")
	}
}

func TestScoreFormula(t *testing.T) {
	policy := DefaultScoringPolicy()

	// One medium change at default confidence: 10 * 0.75 * 10 = 75.
	changes := []FieldChange{{Severity: SeverityMedium, Confidence: 0.75}}
	if got := policy.Score(changes); math.Abs(got-75) > 1e-9 {
		t.Errorf("expected 75, got %f", got)
	}

	// Mixed severities average before scaling.
	changes = []FieldChange{
		{Severity: SeverityLow, Confidence: 1},
		{Severity: SeverityHigh, Confidence: 1},
	}
	if got := policy.Score(changes); math.Abs(got-100) > 1e-9 {
		t.Errorf("expected cap at 100, got %f", got)
	}

	if got := policy.Score(nil); got != 0 {
		t.Errorf("expected 0 for no changes, got %f", got)
	}
}

func TestScoreIsCappedAt100(t *testing.T) {
	policy := DefaultScoringPolicy()
	changes := []FieldChange{
		{Severity: SeverityCritical, Confidence: 1},
		{Severity: SeverityCritical, Confidence: 1},
	}
	if got := policy.Score(changes); got != 100 {
		t.Errorf("expected 100, got %f", got)
	}
}

func TestScoreSeveritiesMatchesScore(t *testing.T) {
	policy := DefaultScoringPolicy()

	changes := []FieldChange{
		{Severity: SeverityLow, Confidence: policy.DefaultConfidence},
		{Severity: SeverityMedium, Confidence: policy.DefaultConfidence},
	}
	severities := []Severity{SeverityLow, SeverityMedium}

	fromChanges := policy.Score(changes)
	fromSeverities := policy.ScoreSeverities(severities)
	if math.Abs(fromChanges-fromSeverities) > 1e-9 {
		t.Errorf("scoring paths diverged: %f vs %f", fromChanges, fromSeverities)
	}
}

func TestMaxSeverity(t *testing.T) {
	changes := []FieldChange{
		{Severity: SeverityLow},
		{Severity: SeverityCritical},
		{Severity: SeverityMedium},
	}
	if got := MaxSeverity(changes); got != SeverityCritical {
		t.Errorf("expected critical, got %s", got)
	}
	if got := MaxSeverity(nil); got != SeverityLow {
		t.Errorf("expected low for empty set, got %s", got)
	}
}
