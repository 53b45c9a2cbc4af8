package detector

import (
	"reflect"
	"strings"
	"time"

	"github.com/rpattn/rostersync/internal/domain"
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
}

// AnalyzeField compares one field's old and new value and produces a
// FieldChange, or nil when the values are equal or the change is judged
// insignificant. Pure and deterministic for a given rule set.
func AnalyzeField(fieldName string, oldValue, newValue any, rule *FieldRule, policy domain.ScoringPolicy) *domain.FieldChange {
	if ValuesEqual(oldValue, newValue) {
		return nil
	}

	changeType := ClassifyChange(oldValue, newValue)

	significant := defaultSignificance(oldValue, newValue)
	if rule != nil && rule.IsSignificant != nil {
		significant = rule.IsSignificant(oldValue, newValue)
	}
	if !significant {
		return nil
	}

	severity := DefaultSeverity(oldValue, newValue)
	if rule != nil && rule.Severity != nil {
		severity = rule.Severity(oldValue, newValue)
	}

	confidence := policy.DefaultConfidence
	if rule != nil && rule.Confidence != nil {
		confidence = rule.Confidence(oldValue, newValue)
	}

	return &domain.FieldChange{
		FieldName:     fieldName,
		FieldType:     ClassifyFieldType(oldValue, newValue),
		OldValue:      oldValue,
		NewValue:      newValue,
		ChangeType:    changeType,
		Severity:      severity,
		Confidence:    confidence,
		IsSignificant: true,
	}
}

// ValuesEqual applies the engine's equality rules: identical values, both
// nil, matching timestamps, deep equality for structured types, and
// case/whitespace-insensitive equality for strings.
func ValuesEqual(oldValue, newValue any) bool {
	if oldValue == nil && newValue == nil {
		return true
	}
	if oldValue == nil || newValue == nil {
		return false
	}

	if oldTime, ok := asTime(oldValue); ok {
		if newTime, ok := asTime(newValue); ok {
			return oldTime.Equal(newTime)
		}
	}

	oldStr, oldIsStr := oldValue.(string)
	newStr, newIsStr := newValue.(string)
	if oldIsStr && newIsStr {
		return strings.EqualFold(strings.TrimSpace(oldStr), strings.TrimSpace(newStr))
	}

	return reflect.DeepEqual(oldValue, newValue)
}

func asTime(value any) (time.Time, bool) {
	switch typed := value.(type) {
	case time.Time:
		return typed, true
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, typed); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// ClassifyChange types the transition: created when the value appears,
// deleted when it disappears, updated otherwise.
func ClassifyChange(oldValue, newValue any) domain.ChangeType {
	switch {
	case oldValue == nil && newValue != nil:
		return domain.ChangeTypeCreated
	case oldValue != nil && newValue == nil:
		return domain.ChangeTypeDeleted
	default:
		return domain.ChangeTypeUpdated
	}
}

// defaultSignificance treats any non-equal value as significant except the
// empty-string edge case, where clearing whitespace is not a real change.
func defaultSignificance(oldValue, newValue any) bool {
	if isEmptyString(oldValue) && isEmptyString(newValue) {
		return false
	}
	return true
}

func isEmptyString(value any) bool {
	if value == nil {
		return true
	}
	str, ok := value.(string)
	return ok && strings.TrimSpace(str) == ""
}

// DefaultSeverity applies the built-in heuristics: boolean flips are
// always high, appearing values medium, disappearing values high, string
// edits scale with the length delta.
func DefaultSeverity(oldValue, newValue any) domain.Severity {
	if _, isBool := oldValue.(bool); isBool {
		return domain.SeverityHigh
	}
	if _, isBool := newValue.(bool); isBool {
		return domain.SeverityHigh
	}
	if oldValue == nil && newValue != nil {
		return domain.SeverityMedium
	}
	if oldValue != nil && newValue == nil {
		return domain.SeverityHigh
	}

	oldStr, oldIsStr := oldValue.(string)
	newStr, newIsStr := newValue.(string)
	if oldIsStr && newIsStr {
		delta := len(newStr) - len(oldStr)
		if delta < 0 {
			delta = -delta
		}
		switch {
		case delta > 100:
			return domain.SeverityHigh
		case delta > 20:
			return domain.SeverityMedium
		default:
			return domain.SeverityLow
		}
	}

	return domain.SeverityLow
}

// ClassifyFieldType infers the field type from whichever side is present.
func ClassifyFieldType(oldValue, newValue any) domain.FieldType {
	value := newValue
	if value == nil {
		value = oldValue
	}

	switch typed := value.(type) {
	case bool:
		return domain.FieldTypeBoolean
	case int, int32, int64, float32, float64:
		return domain.FieldTypeNumber
	case time.Time:
		return domain.FieldTypeDate
	case string:
		if _, ok := asTime(typed); ok {
			return domain.FieldTypeDate
		}
		return domain.FieldTypeString
	case []any:
		return domain.FieldTypeArray
	case map[string]any:
		return domain.FieldTypeObject
	default:
		return domain.FieldTypeJSON
	}
}
