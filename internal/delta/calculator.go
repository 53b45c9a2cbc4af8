// Package delta computes transient differences between two supplied
// snapshot collections without touching the change ledger. It is the
// mechanism behind "compare last full sync vs. this full sync".
package delta

import (
	"sort"
	"strings"
	"time"

	"github.com/rpattn/rostersync/internal/detector"
	"github.com/rpattn/rostersync/internal/domain"
)

// Calculator compares entity snapshots. Stateless; safe for concurrent use.
type Calculator struct {
	policy domain.ScoringPolicy
}

// NewCalculator builds a calculator sharing the given scoring policy with
// the detector so both paths score identically.
func NewCalculator(policy domain.ScoringPolicy) *Calculator {
	if policy.SeverityWeights == nil {
		policy = domain.DefaultScoringPolicy()
	}
	return &Calculator{policy: policy}
}

// CalculateEntityDelta compares two snapshots of one entity.
func (c *Calculator) CalculateEntityDelta(entityType string, previous, current *domain.EntitySnapshot, opts domain.DeltaOptions) domain.EntityDelta {
	switch {
	case previous == nil && current == nil:
		return domain.EntityDelta{EntityType: entityType}
	case previous == nil:
		return c.createdDelta(entityType, *current, opts)
	case current == nil:
		return domain.EntityDelta{
			EntityType:  entityType,
			EntityID:    previous.Key(),
			ChangeType:  domain.ChangeTypeDeleted,
			HasChanges:  true,
			ChangeScore: 100,
		}
	}

	fieldDeltas := c.compareProperties(previous.Properties, current.Properties, opts)
	delta := domain.EntityDelta{
		EntityType:  entityType,
		EntityID:    current.Key(),
		ChangeType:  domain.ChangeTypeUpdated,
		HasChanges:  len(fieldDeltas) > 0,
		FieldDeltas: fieldDeltas,
	}
	if delta.HasChanges {
		delta.ChangeScore = c.score(fieldDeltas)
	}
	return delta
}

// CalculateBatchDelta pairs two full collections by entity key and
// computes one delta per key in the union.
// A nil options pointer selects the defaults.
func (c *Calculator) CalculateBatchDelta(entityType string, previous, current []domain.EntitySnapshot, options *domain.DeltaOptions) domain.BatchDelta {
	start := time.Now()
	opts := domain.DefaultDeltaOptions()
	if options != nil {
		opts = *options
	}

	previousByKey := indexByKey(previous)
	currentByKey := indexByKey(current)

	keys := make([]string, 0, len(previousByKey)+len(currentByKey))
	for key := range previousByKey {
		keys = append(keys, key)
	}
	for key := range currentByKey {
		if _, ok := previousByKey[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	batch := domain.BatchDelta{
		EntityType:   entityType,
		Distribution: map[domain.ChangeType]int{},
		CalculatedAt: start.UTC(),
		Options:      opts,
	}

	scoreTotal := 0.0
	for _, key := range keys {
		var prev, curr *domain.EntitySnapshot
		if snapshot, ok := previousByKey[key]; ok {
			prev = &snapshot
		}
		if snapshot, ok := currentByKey[key]; ok {
			curr = &snapshot
		}

		delta := c.CalculateEntityDelta(entityType, prev, curr, opts)
		if prev == nil {
			delta.ChangeType = domain.ChangeTypeCreated
		}

		if !delta.HasChanges {
			batch.UnchangedEntities++
			if opts.IncludeUnchanged {
				batch.Deltas = append(batch.Deltas, delta)
			}
			continue
		}

		batch.ChangedEntities++
		batch.Distribution[delta.ChangeType]++
		scoreTotal += delta.ChangeScore
		if delta.ChangeScore >= opts.SignificanceThreshold {
			batch.SignificantChanges++
		}
		batch.Deltas = append(batch.Deltas, delta)
	}

	if batch.ChangedEntities > 0 {
		batch.AverageChangeScore = scoreTotal / float64(batch.ChangedEntities)
	}
	batch.Duration = time.Since(start)

	return batch
}

func (c *Calculator) createdDelta(entityType string, current domain.EntitySnapshot, opts domain.DeltaOptions) domain.EntityDelta {
	ignored := ignoreSet(opts.IgnoreFields)

	names := make([]string, 0, len(current.Properties))
	for name := range current.Properties {
		if _, skip := ignored[name]; skip {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	fieldDeltas := make([]domain.FieldDelta, 0, len(names))
	for _, name := range names {
		value := current.Properties[name]
		if value == nil {
			continue
		}
		fieldDeltas = append(fieldDeltas, domain.FieldDelta{
			FieldName:    name,
			FieldType:    detector.ClassifyFieldType(nil, value),
			CurrentValue: value,
			ChangeType:   domain.ChangeTypeCreated,
			Severity:     domain.SeverityMedium,
		})
	}

	return domain.EntityDelta{
		EntityType:  entityType,
		EntityID:    current.Key(),
		ChangeType:  domain.ChangeTypeCreated,
		HasChanges:  true,
		ChangeScore: c.score(fieldDeltas),
		FieldDeltas: fieldDeltas,
	}
}

func (c *Calculator) compareProperties(previous, current map[string]any, opts domain.DeltaOptions) []domain.FieldDelta {
	ignored := ignoreSet(opts.IgnoreFields)

	names := map[string]struct{}{}
	for name := range previous {
		names[name] = struct{}{}
	}
	for name := range current {
		names[name] = struct{}{}
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		if _, skip := ignored[name]; skip {
			continue
		}
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	var fieldDeltas []domain.FieldDelta
	for _, name := range ordered {
		oldValue := previous[name]
		newValue := current[name]

		if opts.DeepComparison {
			oldMap, oldIsMap := oldValue.(map[string]any)
			newMap, newIsMap := newValue.(map[string]any)
			if oldIsMap && newIsMap {
				nested := c.compareProperties(oldMap, newMap, domain.DeltaOptions{
					NormalizeValues:   opts.NormalizeValues,
					DeepComparison:    true,
					CustomComparisons: opts.CustomComparisons,
				})
				for _, fd := range nested {
					fd.FieldName = name + "." + fd.FieldName
					fieldDeltas = append(fieldDeltas, fd)
				}
				continue
			}
		}

		if fd := c.compareField(name, oldValue, newValue, opts); fd != nil {
			fieldDeltas = append(fieldDeltas, *fd)
		}
	}

	return fieldDeltas
}

func (c *Calculator) compareField(name string, oldValue, newValue any, opts domain.DeltaOptions) *domain.FieldDelta {
	if compare, ok := opts.CustomComparisons[name]; ok && compare != nil {
		if compare(oldValue, newValue) {
			return nil
		}
	} else {
		compareOld, compareNew := oldValue, newValue
		var normalizedOld, normalizedNew any
		if opts.NormalizeValues {
			normalizedOld = normalizeValue(oldValue)
			normalizedNew = normalizeValue(newValue)
			compareOld, compareNew = normalizedOld, normalizedNew
		}
		if detector.ValuesEqual(compareOld, compareNew) {
			return nil
		}
		return &domain.FieldDelta{
			FieldName:          name,
			FieldType:          detector.ClassifyFieldType(oldValue, newValue),
			PreviousValue:      oldValue,
			CurrentValue:       newValue,
			NormalizedPrevious: normalizedOld,
			NormalizedCurrent:  normalizedNew,
			ChangeType:         detector.ClassifyChange(oldValue, newValue),
			Severity:           detector.DefaultSeverity(oldValue, newValue),
		}
	}

	return &domain.FieldDelta{
		FieldName:     name,
		FieldType:     detector.ClassifyFieldType(oldValue, newValue),
		PreviousValue: oldValue,
		CurrentValue:  newValue,
		ChangeType:    detector.ClassifyChange(oldValue, newValue),
		Severity:      detector.DefaultSeverity(oldValue, newValue),
	}
}

func (c *Calculator) score(fieldDeltas []domain.FieldDelta) float64 {
	severities := make([]domain.Severity, len(fieldDeltas))
	for i, fd := range fieldDeltas {
		severities[i] = fd.Severity
	}
	return c.policy.ScoreSeverities(severities)
}

// normalizeValue lower-cases and trims strings before comparison. Other
// types pass through untouched.
func normalizeValue(value any) any {
	if str, ok := value.(string); ok {
		return strings.ToLower(strings.TrimSpace(str))
	}
	return value
}

func ignoreSet(fields []string) map[string]struct{} {
	if len(fields) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		set[field] = struct{}{}
	}
	return set
}

func indexByKey(snapshots []domain.EntitySnapshot) map[string]domain.EntitySnapshot {
	indexed := make(map[string]domain.EntitySnapshot, len(snapshots))
	for _, snapshot := range snapshots {
		key := snapshot.Key()
		if key == "" {
			continue
		}
		indexed[key] = snapshot
	}
	return indexed
}
