package detector

import (
	"fmt"
	"sort"
	"time"

	"github.com/rpattn/rostersync/internal/domain"
)

// DetectionMethod identifies how an entity change was derived.
const DetectionMethod = "snapshot-comparison"

// Detector compares current and previous entity snapshots and classifies
// the entity-level change. Stateless apart from its configuration.
type Detector struct {
	cfg Config
}

// NewDetector validates the config and returns a detector.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Policy.SeverityWeights == nil {
		cfg.Policy = domain.DefaultScoringPolicy()
	}
	return &Detector{cfg: cfg}, nil
}

// DetectEntityChange classifies the change between a previous and current
// snapshot of one entity. Returns nil when there is nothing to report:
// both snapshots absent, or both present with no significant field change.
func (d *Detector) DetectEntityChange(entityType string, current, previous *domain.EntitySnapshot, meta domain.ChangeMetadata) (*domain.EntityChange, error) {
	if !domain.IsKnownEntityType(entityType) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntityType, entityType)
	}
	if current == nil && previous == nil {
		return nil, nil
	}

	if meta.DetectedAt.IsZero() {
		meta.DetectedAt = time.Now().UTC()
	}
	if meta.DetectionMethod == "" {
		meta.DetectionMethod = DetectionMethod
	}

	if previous == nil {
		return d.detectCreated(entityType, *current, meta)
	}
	if current == nil {
		return d.detectDeleted(entityType, *previous, meta), nil
	}
	return d.detectUpdated(entityType, *current, *previous, meta)
}

// DetectBatch pairs two snapshot sets by entity key and detects changes
// across the union. A failure on one entity is captured in the error list
// and never aborts the batch.
func (d *Detector) DetectBatch(entityType string, current []domain.EntitySnapshot, previous map[string]domain.EntitySnapshot, meta domain.ChangeMetadata) ([]domain.EntityChange, []domain.EntityError) {
	changes := make([]domain.EntityChange, 0, len(current))
	var entityErrors []domain.EntityError

	seen := make(map[string]struct{}, len(current))
	for i := range current {
		snapshot := current[i]
		key := snapshot.Key()
		if key == "" {
			entityErrors = append(entityErrors, domain.EntityError{
				EntityID: "",
				Message:  (&domain.ComparisonError{Reason: "missing entity id and external id"}).Error(),
				Severity: "error",
			})
			continue
		}
		seen[key] = struct{}{}

		var prev *domain.EntitySnapshot
		if p, ok := previous[key]; ok {
			prev = &p
		}

		change, err := d.DetectEntityChange(entityType, &snapshot, prev, meta)
		if err != nil {
			entityErrors = append(entityErrors, domain.EntityError{
				EntityID: key,
				Message:  err.Error(),
				Severity: "error",
			})
			continue
		}
		if change != nil {
			changes = append(changes, *change)
		}
	}

	// Entities known previously but absent from the current snapshot are
	// deletions. Sorted for a stable output order.
	deletedKeys := make([]string, 0)
	for key := range previous {
		if _, ok := seen[key]; !ok {
			deletedKeys = append(deletedKeys, key)
		}
	}
	sort.Strings(deletedKeys)
	for _, key := range deletedKeys {
		prev := previous[key]
		changes = append(changes, *d.detectDeleted(entityType, prev, meta))
	}

	return changes, entityErrors
}

// detectCreated reports every non-ignored field of the new entity as a
// significant change from nil.
func (d *Detector) detectCreated(entityType string, current domain.EntitySnapshot, meta domain.ChangeMetadata) (*domain.EntityChange, error) {
	ignored := d.cfg.ignoredFields(entityType)

	names := make([]string, 0, len(current.Properties))
	for name := range current.Properties {
		if _, skip := ignored[name]; skip {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	fieldChanges := make([]domain.FieldChange, 0, len(names))
	for _, name := range names {
		value := current.Properties[name]
		if value == nil {
			continue
		}
		fieldChanges = append(fieldChanges, domain.FieldChange{
			FieldName:     name,
			FieldType:     ClassifyFieldType(nil, value),
			OldValue:      nil,
			NewValue:      value,
			ChangeType:    domain.ChangeTypeCreated,
			Severity:      domain.SeverityMedium,
			Confidence:    d.cfg.Policy.DefaultConfidence,
			IsSignificant: true,
		})
	}

	change := d.buildChange(entityType, current, domain.ChangeTypeCreated, fieldChanges, meta)
	return &change, nil
}

// detectDeleted forces the deletion invariant: score 100, high severity,
// no field-level detail.
func (d *Detector) detectDeleted(entityType string, previous domain.EntitySnapshot, meta domain.ChangeMetadata) *domain.EntityChange {
	change := d.buildChange(entityType, previous, domain.ChangeTypeDeleted, nil, meta)
	change.ChangeScore = 100
	change.Significance = domain.SeverityHigh
	return &change
}

func (d *Detector) detectUpdated(entityType string, current, previous domain.EntitySnapshot, meta domain.ChangeMetadata) (*domain.EntityChange, error) {
	ignored := d.cfg.ignoredFields(entityType)

	names := map[string]struct{}{}
	for name := range current.Properties {
		names[name] = struct{}{}
	}
	for name := range previous.Properties {
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

	var fieldChanges []domain.FieldChange
	for _, name := range ordered {
		rule := d.cfg.fieldRule(entityType, name)
		fc := AnalyzeField(name, previous.Properties[name], current.Properties[name], rule, d.cfg.Policy)
		if fc != nil {
			fieldChanges = append(fieldChanges, *fc)
		}
	}

	// No significant field changed: report nothing, so re-detecting an
	// identical pair stays a no-op.
	if len(fieldChanges) == 0 {
		return nil, nil
	}

	change := d.buildChange(entityType, current, domain.ChangeTypeUpdated, fieldChanges, meta)
	return &change, nil
}

func (d *Detector) buildChange(entityType string, snapshot domain.EntitySnapshot, changeType domain.ChangeType, fieldChanges []domain.FieldChange, meta domain.ChangeMetadata) domain.EntityChange {
	if meta.Confidence == 0 {
		meta.Confidence = averageConfidence(fieldChanges, d.cfg.Policy.DefaultConfidence)
	}

	return domain.EntityChange{
		EntityType:   entityType,
		EntityID:     snapshot.EntityID,
		ExternalID:   snapshot.ExternalID,
		ChangeType:   changeType,
		FieldChanges: fieldChanges,
		ChangeScore:  d.cfg.Policy.Score(fieldChanges),
		Significance: domain.MaxSeverity(fieldChanges),
		Metadata:     meta,
	}
}

func averageConfidence(changes []domain.FieldChange, fallback float64) float64 {
	if len(changes) == 0 {
		return fallback
	}
	total := 0.0
	for _, change := range changes {
		total += change.Confidence
	}
	return total / float64(len(changes))
}
