package detector

import (
	"testing"
	"time"

	"github.com/rpattn/rostersync/internal/domain"
)

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		oldValue any
		newValue any
		want     bool
	}{
		{"both nil", nil, nil, true},
		{"one nil", nil, "x", false},
		{"identical strings", "alice", "alice", true},
		{"case insensitive", "ALICE", "alice", true},
		{"whitespace insensitive", "  alice ", "alice", true},
		{"different strings", "alice", "bob", false},
		{"matching timestamps different zones", "2024-01-02T03:04:05Z", "2024-01-02T04:04:05+01:00", true},
		{"different timestamps", "2024-01-02T03:04:05Z", "2024-01-02T03:04:06Z", false},
		{"equal numbers", 42.0, 42.0, true},
		{"deep equal slices", []any{"a", "b"}, []any{"a", "b"}, true},
		{"unequal slices", []any{"a"}, []any{"b"}, false},
		{"deep equal maps", map[string]any{"k": "v"}, map[string]any{"k": "v"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValuesEqual(tt.oldValue, tt.newValue); got != tt.want {
				t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tt.oldValue, tt.newValue, got, tt.want)
			}
		})
	}
}

func TestDefaultSeverity(t *testing.T) {
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name     string
		oldValue any
		newValue any
		want     domain.Severity
	}{
		{"boolean flip", true, false, domain.SeverityHigh},
		{"nil to value", nil, "x", domain.SeverityMedium},
		{"value to nil", "x", nil, domain.SeverityHigh},
		{"small string edit", "Ann", "Anne", domain.SeverityLow},
		{"medium string edit", "short", "this value grew by more than twenty characters", domain.SeverityMedium},
		{"large string edit", "short", string(long), domain.SeverityHigh},
		{"number change", 1.0, 2.0, domain.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultSeverity(tt.oldValue, tt.newValue); got != tt.want {
				t.Errorf("DefaultSeverity(%v, %v) = %s, want %s", tt.oldValue, tt.newValue, got, tt.want)
			}
		})
	}
}

func TestAnalyzeFieldSkipsEqualValues(t *testing.T) {
	policy := domain.DefaultScoringPolicy()
	if fc := AnalyzeField("email", "a@b.c", "A@B.C", nil, policy); fc != nil {
		t.Errorf("expected nil for equal values, got %+v", fc)
	}
}

func TestAnalyzeFieldEmptyStringNotSignificant(t *testing.T) {
	policy := domain.DefaultScoringPolicy()
	if fc := AnalyzeField("middleName", "   ", nil, nil, policy); fc != nil {
		t.Errorf("expected whitespace-to-nil to be insignificant, got %+v", fc)
	}
}

func TestAnalyzeFieldProducesChange(t *testing.T) {
	policy := domain.DefaultScoringPolicy()
	fc := AnalyzeField("givenName", "Ann", "Anne", nil, policy)
	if fc == nil {
		t.Fatal("expected a field change")
	}
	if fc.ChangeType != domain.ChangeTypeUpdated {
		t.Errorf("expected updated, got %s", fc.ChangeType)
	}
	if fc.Severity != domain.SeverityLow {
		t.Errorf("expected low severity for a 1-char rename, got %s", fc.Severity)
	}
	if fc.Confidence != policy.DefaultConfidence {
		t.Errorf("expected default confidence %f, got %f", policy.DefaultConfidence, fc.Confidence)
	}
	if !fc.IsSignificant {
		t.Error("expected significant change")
	}
}

func TestAnalyzeFieldRuleOverrides(t *testing.T) {
	policy := domain.DefaultScoringPolicy()
	rule := &FieldRule{
		Severity:   func(oldValue, newValue any) domain.Severity { return domain.SeverityCritical },
		Confidence: func(oldValue, newValue any) float64 { return 0.95 },
	}

	fc := AnalyzeField("status", "active", "tobedeleted", rule, policy)
	if fc == nil {
		t.Fatal("expected a field change")
	}
	if fc.Severity != domain.SeverityCritical {
		t.Errorf("expected rule severity critical, got %s", fc.Severity)
	}
	if fc.Confidence != 0.95 {
		t.Errorf("expected rule confidence 0.95, got %f", fc.Confidence)
	}
}

func TestClassifyFieldType(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  domain.FieldType
	}{
		{"bool", true, domain.FieldTypeBoolean},
		{"float", 1.5, domain.FieldTypeNumber},
		{"time", time.Now(), domain.FieldTypeDate},
		{"date string", "2024-01-02", domain.FieldTypeDate},
		{"plain string", "alice", domain.FieldTypeString},
		{"array", []any{"a"}, domain.FieldTypeArray},
		{"object", map[string]any{"k": "v"}, domain.FieldTypeObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyFieldType(nil, tt.value); got != tt.want {
				t.Errorf("ClassifyFieldType(nil, %v) = %s, want %s", tt.value, got, tt.want)
			}
		})
	}
}
