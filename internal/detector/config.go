package detector

import (
	"fmt"

	"github.com/rpattn/rostersync/internal/domain"
)

// FieldRule overrides the default heuristics for one field. Any nil hook
// falls back to the default behaviour.
type FieldRule struct {
	IsSignificant func(oldValue, newValue any) bool
	Severity      func(oldValue, newValue any) domain.Severity
	Confidence    func(oldValue, newValue any) float64
}

// Config carries the per-entity-type detection settings. It replaces the
// process-wide registries of older trackers: callers needing per-tenant
// overrides construct distinct Config values.
type Config struct {
	// IgnoreFields lists fields excluded from comparison, per entity type.
	IgnoreFields map[string][]string

	// FieldRules maps entity type → field name → override rule.
	FieldRules map[string]map[string]FieldRule

	// Policy provides severity weights and confidence defaults. The same
	// policy instance is shared with the delta calculator.
	Policy domain.ScoringPolicy
}

// DefaultConfig ignores provider bookkeeping fields that churn on every
// snapshot without representing a roster change.
func DefaultConfig() Config {
	ignored := []string{"dateLastModified", "lastModified", "syncedAt"}
	ignoreFields := make(map[string][]string, len(domain.KnownEntityTypes))
	for _, entityType := range domain.KnownEntityTypes {
		ignoreFields[entityType] = append([]string(nil), ignored...)
	}

	return Config{
		IgnoreFields: ignoreFields,
		FieldRules:   map[string]map[string]FieldRule{},
		Policy:       domain.DefaultScoringPolicy(),
	}
}

// Validate rejects configs referencing entity types the engine does not
// track.
func (c Config) Validate() error {
	for entityType := range c.IgnoreFields {
		if !domain.IsKnownEntityType(entityType) {
			return &domain.ValidationError{
				Field:   "ignoreFields",
				Message: fmt.Sprintf("unknown entity type %q", entityType),
			}
		}
	}
	for entityType := range c.FieldRules {
		if !domain.IsKnownEntityType(entityType) {
			return &domain.ValidationError{
				Field:   "fieldRules",
				Message: fmt.Sprintf("unknown entity type %q", entityType),
			}
		}
	}
	if c.Policy.DefaultConfidence < 0 || c.Policy.DefaultConfidence > 1 {
		return &domain.ValidationError{
			Field:   "policy.defaultConfidence",
			Message: "must be within [0,1]",
		}
	}
	return nil
}

func (c Config) ignoredFields(entityType string) map[string]struct{} {
	fields := c.IgnoreFields[entityType]
	if len(fields) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		set[field] = struct{}{}
	}
	return set
}

func (c Config) fieldRule(entityType, fieldName string) *FieldRule {
	rules, ok := c.FieldRules[entityType]
	if !ok {
		return nil
	}
	rule, ok := rules[fieldName]
	if !ok {
		return nil
	}
	return &rule
}
