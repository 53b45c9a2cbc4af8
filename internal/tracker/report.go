package tracker

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/rostersync/internal/domain"
)

// Report is the closed-date-range view of change activity: summary,
// per-entity-type breakdown, detected patterns, pending sync plans and
// analytics. Not session-scoped.
type Report struct {
	IntegrationID uuid.UUID                     `json:"integrationId"`
	PeriodStart   time.Time                     `json:"periodStart"`
	PeriodEnd     time.Time                     `json:"periodEnd"`
	Summary       domain.ChangeSummary          `json:"summary"`
	ByEntityType  map[string]int                `json:"byEntityType"`
	Patterns      []ChangePattern               `json:"patterns"`
	PendingPlans  []*domain.IncrementalSyncPlan `json:"pendingPlans"`
	Analytics     Analytics                     `json:"analytics"`
}

// GenerateReport assembles the report for a closed date range. Pending
// plans are rebuilt from the unprocessed records in the range, ordered so
// dependency entity types come first.
func (s *Service) GenerateReport(ctx context.Context, integrationID uuid.UUID, start, end time.Time) (Report, error) {
	if !end.After(start) {
		return Report{}, &domain.ValidationError{Field: "period", Message: "end must be after start"}
	}

	filter := domain.ChangeRecordFilter{
		IntegrationID: &integrationID,
		Since:         &start,
		Until:         &end,
	}

	summary, err := s.ledger.Summarize(ctx, filter)
	if err != nil {
		return Report{}, err
	}

	analytics, err := s.analyzer.Analyze(ctx, integrationID, start, end)
	if err != nil {
		return Report{}, err
	}

	patterns, err := s.analyzer.DetectPatterns(ctx, integrationID, start, end)
	if err != nil {
		return Report{}, err
	}

	plans, err := s.pendingPlans(ctx, integrationID, start, end)
	if err != nil {
		log.Printf("[TRACKER] report plan aggregation failed: %v", err)
	}

	return Report{
		IntegrationID: integrationID,
		PeriodStart:   start,
		PeriodEnd:     end,
		Summary:       summary,
		ByEntityType:  summary.ByEntityType,
		Patterns:      patterns,
		PendingPlans:  plans,
		Analytics:     analytics,
	}, nil
}

// pendingPlans regenerates sync plans from unprocessed records in the
// range, one per entity type with qualifying changes.
func (s *Service) pendingPlans(ctx context.Context, integrationID uuid.UUID, start, end time.Time) ([]*domain.IncrementalSyncPlan, error) {
	page, err := s.ledger.Query(ctx, domain.ChangeRecordFilter{
		IntegrationID:   &integrationID,
		Since:           &start,
		Until:           &end,
		OnlyUnprocessed: true,
		Limit:           s.cfg.AnalyticsConfig.SampleLimit,
	})
	if err != nil {
		return nil, err
	}

	changesByType := map[string][]domain.EntityChange{}
	for _, record := range page.Records {
		changesByType[record.EntityType] = append(changesByType[record.EntityType], record.EntityChange)
	}

	var plans []*domain.IncrementalSyncPlan
	for entityType, changes := range changesByType {
		plan, err := s.planner.GeneratePlan(integrationID, entityType, changes)
		if err != nil {
			log.Printf("[TRACKER] report plan for %s failed: %v", entityType, err)
			continue
		}
		if plan != nil {
			plans = append(plans, plan)
		}
	}

	ordered, err := s.planner.OrderPlans(plans)
	if err != nil {
		return plans, nil // unordered is still useful
	}
	return ordered, nil
}
