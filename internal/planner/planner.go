// Package planner converts detected entity changes into ordered,
// prioritized incremental sync plans.
package planner

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/rostersync/internal/domain"
)

// Config tunes plan generation. Dependencies defaults to the static
// roster entity-type graph when nil.
type Config struct {
	// ScoreThreshold is the change score above which a change is
	// plan-worthy even at low significance.
	ScoreThreshold float64

	// PerEntityCost drives the linear duration estimate. A scheduling
	// hint, not an SLA.
	PerEntityCost time.Duration

	// Dependencies maps entity type → entity types that must sync first.
	Dependencies map[string][]string
}

// DefaultConfig returns the standard planner settings.
func DefaultConfig() Config {
	return Config{
		ScoreThreshold: 50,
		PerEntityCost:  250 * time.Millisecond,
		Dependencies:   domain.EntityTypeDependencies,
	}
}

// Planner builds incremental sync plans. Stateless over its config.
type Planner struct {
	cfg Config
}

// New returns a planner, filling zero config values with defaults.
func New(cfg Config) *Planner {
	defaults := DefaultConfig()
	if cfg.ScoreThreshold == 0 {
		cfg.ScoreThreshold = defaults.ScoreThreshold
	}
	if cfg.PerEntityCost == 0 {
		cfg.PerEntityCost = defaults.PerEntityCost
	}
	if cfg.Dependencies == nil {
		cfg.Dependencies = defaults.Dependencies
	}
	return &Planner{cfg: cfg}
}

// GeneratePlan filters the changes down to the plan-worthy ones and builds
// a plan ordered by descending change score. Returns nil when nothing
// qualifies, so noise never triggers a re-sync.
func (p *Planner) GeneratePlan(integrationID uuid.UUID, entityType string, changes []domain.EntityChange) (*domain.IncrementalSyncPlan, error) {
	if !domain.IsKnownEntityType(entityType) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntityType, entityType)
	}

	var entries []domain.PlanEntry
	scoreTotal := 0.0
	for _, change := range changes {
		if !planWorthy(change, p.cfg.ScoreThreshold) {
			continue
		}
		entries = append(entries, domain.PlanEntry{
			EntityID:    change.EntityID,
			ExternalID:  change.ExternalID,
			ChangeScore: change.ChangeScore,
			Reasons:     reasons(change),
		})
		scoreTotal += change.ChangeScore
	}

	if len(entries) == 0 {
		return nil, nil
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ChangeScore > entries[j].ChangeScore
	})

	avgScore := scoreTotal / float64(len(entries))

	return &domain.IncrementalSyncPlan{
		IntegrationID:     integrationID,
		EntityType:        entityType,
		PlannedAt:         time.Now().UTC(),
		EntitiesToSync:    entries,
		EstimatedDuration: time.Duration(len(entries)) * p.cfg.PerEntityCost,
		Priority:          priorityFor(avgScore),
		Dependencies:      append([]string(nil), p.cfg.Dependencies[entityType]...),
	}, nil
}

// OrderPlans sorts a set of plans so every plan's dependency entity types
// come first. A dependency cycle yields a nil result and a planning error;
// the caller logs and proceeds without ordering guarantees.
func (p *Planner) OrderPlans(plans []*domain.IncrementalSyncPlan) ([]*domain.IncrementalSyncPlan, error) {
	byType := make(map[string]*domain.IncrementalSyncPlan, len(plans))
	for _, plan := range plans {
		if plan != nil {
			byType[plan.EntityType] = plan
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var ordered []*domain.IncrementalSyncPlan

	var visit func(entityType string) error
	visit = func(entityType string) error {
		switch state[entityType] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: dependency cycle through %q", domain.ErrPlanning, entityType)
		}
		state[entityType] = visiting
		for _, dep := range p.cfg.Dependencies[entityType] {
			if _, present := byType[dep]; present {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[entityType] = done
		if plan, ok := byType[entityType]; ok {
			ordered = append(ordered, plan)
		}
		return nil
	}

	types := make([]string, 0, len(byType))
	for entityType := range byType {
		types = append(types, entityType)
	}
	sort.Strings(types)

	for _, entityType := range types {
		if err := visit(entityType); err != nil {
			log.Printf("[PLANNER] %v", err)
			return nil, err
		}
	}

	return ordered, nil
}

// planWorthy admits high or critical significance, or a score above the
// threshold.
func planWorthy(change domain.EntityChange, threshold float64) bool {
	if change.Significance.AtLeast(domain.SeverityHigh) {
		return true
	}
	return change.ChangeScore > threshold
}

func priorityFor(avgScore float64) domain.Priority {
	switch {
	case avgScore > 80:
		return domain.PriorityHigh
	case avgScore > 50:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

func reasons(change domain.EntityChange) []string {
	out := []string{
		fmt.Sprintf("changeType=%s", change.ChangeType),
		fmt.Sprintf("significance=%s", change.Significance),
		fmt.Sprintf("changeScore=%.1f", change.ChangeScore),
	}
	if len(change.FieldChanges) > 0 {
		out = append(out, fmt.Sprintf("fieldsChanged=%d", len(change.FieldChanges)))
	}
	return out
}
