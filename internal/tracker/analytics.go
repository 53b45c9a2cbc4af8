package tracker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/rostersync/internal/domain"
	"github.com/rpattn/rostersync/internal/ledger"
)

// AnalyticsConfig tunes the heuristic analyzer.
type AnalyticsConfig struct {
	// VelocityThreshold is the changes-per-hour rate above which a naive
	// prediction is emitted.
	VelocityThreshold float64

	// PredictionConfidence is the fixed confidence attached to naive
	// predictions.
	PredictionConfidence float64

	// AnomalyScoreThreshold marks changes as anomalous above this score.
	AnomalyScoreThreshold float64

	// PeakHourFactor flags hours whose change count exceeds this multiple
	// of the period's hourly mean.
	PeakHourFactor float64

	// SampleLimit caps how many records one analysis pass reads.
	SampleLimit int
}

// DefaultAnalyticsConfig returns the standard analytics settings.
func DefaultAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		VelocityThreshold:     10,
		PredictionConfidence:  0.6,
		AnomalyScoreThreshold: 90,
		PeakHourFactor:        2,
		SampleLimit:           1000,
	}
}

// Prediction is a naive near-future change forecast.
type Prediction struct {
	EntityType  string    `json:"entityType"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	PredictedBy time.Time `json:"predictedBy"`
}

// Anomaly references one unusually high-impact change.
type Anomaly struct {
	RecordID    uuid.UUID `json:"recordId"`
	EntityType  string    `json:"entityType"`
	EntityID    string    `json:"entityId"`
	ChangeScore float64   `json:"changeScore"`
	DetectedAt  time.Time `json:"detectedAt"`
}

// ChangePattern names a field that changes repeatedly within a period.
type ChangePattern struct {
	EntityType  string `json:"entityType"`
	FieldName   string `json:"fieldName"`
	Occurrences int    `json:"occurrences"`
}

// Analytics summarizes change activity over a closed date range.
type Analytics struct {
	IntegrationID  uuid.UUID    `json:"integrationId"`
	PeriodStart    time.Time    `json:"periodStart"`
	PeriodEnd      time.Time    `json:"periodEnd"`
	TotalChanges   int          `json:"totalChanges"`
	ChangeVelocity float64      `json:"changeVelocity"`
	Acceleration   float64      `json:"acceleration"`
	PeakHours      []int        `json:"peakHours"`
	Anomalies      []Anomaly    `json:"anomalies"`
	Predictions    []Prediction `json:"predictions"`
}

// Analyzer computes analytics over the change history. The heuristic
// implementation is deliberately approximate and isolated behind this
// interface so a statistically grounded model can replace it without
// touching the detection or ledger core.
type Analyzer interface {
	Analyze(ctx context.Context, integrationID uuid.UUID, start, end time.Time) (Analytics, error)
	DetectPatterns(ctx context.Context, integrationID uuid.UUID, start, end time.Time) ([]ChangePattern, error)
}

type heuristicAnalyzer struct {
	ledger *ledger.Service
	cfg    AnalyticsConfig
}

// NewHeuristicAnalyzer returns the built-in approximate analyzer.
func NewHeuristicAnalyzer(ledgerSvc *ledger.Service, cfg AnalyticsConfig) Analyzer {
	if cfg.SampleLimit <= 0 {
		cfg = DefaultAnalyticsConfig()
	}
	return &heuristicAnalyzer{ledger: ledgerSvc, cfg: cfg}
}

func (a *heuristicAnalyzer) Analyze(ctx context.Context, integrationID uuid.UUID, start, end time.Time) (Analytics, error) {
	if !end.After(start) {
		return Analytics{}, &domain.ValidationError{Field: "period", Message: "end must be after start"}
	}

	page, err := a.queryPeriod(ctx, integrationID, start, end)
	if err != nil {
		return Analytics{}, err
	}

	hours := end.Sub(start).Hours()
	analytics := Analytics{
		IntegrationID:  integrationID,
		PeriodStart:    start,
		PeriodEnd:      end,
		TotalChanges:   page.TotalCount,
		ChangeVelocity: float64(page.TotalCount) / hours,
	}

	// Acceleration compares against the preceding period of equal length.
	previousPage, err := a.queryPeriod(ctx, integrationID, start.Add(-end.Sub(start)), start)
	if err == nil {
		previousVelocity := float64(previousPage.TotalCount) / hours
		analytics.Acceleration = analytics.ChangeVelocity - previousVelocity
	}

	analytics.PeakHours = peakHours(page.Records, hours, a.cfg.PeakHourFactor)

	for _, record := range page.Records {
		if record.ChangeScore > a.cfg.AnomalyScoreThreshold {
			analytics.Anomalies = append(analytics.Anomalies, Anomaly{
				RecordID:    record.ID,
				EntityType:  record.EntityType,
				EntityID:    record.EntityID,
				ChangeScore: record.ChangeScore,
				DetectedAt:  record.CreatedAt,
			})
		}
	}

	// Naive prediction: sustained velocity above the threshold forecasts
	// more change for the busiest entity type. A heuristic stub, not a
	// statistical model.
	if analytics.ChangeVelocity > a.cfg.VelocityThreshold {
		if busiest := busiestEntityType(page.Records); busiest != "" {
			analytics.Predictions = append(analytics.Predictions, Prediction{
				EntityType:  busiest,
				Description: fmt.Sprintf("change velocity %.1f/h suggests further %s changes", analytics.ChangeVelocity, busiest),
				Confidence:  a.cfg.PredictionConfidence,
				PredictedBy: end.Add(end.Sub(start)),
			})
		}
	}

	return analytics, nil
}

func (a *heuristicAnalyzer) DetectPatterns(ctx context.Context, integrationID uuid.UUID, start, end time.Time) ([]ChangePattern, error) {
	page, err := a.queryPeriod(ctx, integrationID, start, end)
	if err != nil {
		return nil, err
	}

	type patternKey struct {
		entityType string
		fieldName  string
	}
	counts := map[patternKey]int{}
	for _, record := range page.Records {
		for _, fc := range record.FieldChanges {
			counts[patternKey{record.EntityType, fc.FieldName}]++
		}
	}

	patterns := make([]ChangePattern, 0, len(counts))
	for key, count := range counts {
		if count < 2 {
			continue // one-off edits are not a pattern
		}
		patterns = append(patterns, ChangePattern{
			EntityType:  key.entityType,
			FieldName:   key.fieldName,
			Occurrences: count,
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Occurrences != patterns[j].Occurrences {
			return patterns[i].Occurrences > patterns[j].Occurrences
		}
		if patterns[i].EntityType != patterns[j].EntityType {
			return patterns[i].EntityType < patterns[j].EntityType
		}
		return patterns[i].FieldName < patterns[j].FieldName
	})

	return patterns, nil
}

func (a *heuristicAnalyzer) queryPeriod(ctx context.Context, integrationID uuid.UUID, start, end time.Time) (ledger.QueryResult, error) {
	return a.ledger.Query(ctx, domain.ChangeRecordFilter{
		IntegrationID: &integrationID,
		Since:         &start,
		Until:         &end,
		Limit:         a.cfg.SampleLimit,
	})
}

// peakHours returns the hours of day whose change count exceeds the factor
// times the period's hourly mean.
func peakHours(records []domain.ChangeRecord, periodHours, factor float64) []int {
	if len(records) == 0 || periodHours <= 0 {
		return nil
	}

	counts := map[int]int{}
	for _, record := range records {
		counts[record.CreatedAt.UTC().Hour()]++
	}

	mean := float64(len(records)) / periodHours
	var peaks []int
	for hour, count := range counts {
		if float64(count) > factor*mean {
			peaks = append(peaks, hour)
		}
	}
	sort.Ints(peaks)
	return peaks
}

func busiestEntityType(records []domain.ChangeRecord) string {
	counts := map[string]int{}
	for _, record := range records {
		counts[record.EntityType]++
	}

	busiest := ""
	best := 0
	for entityType, count := range counts {
		if count > best || (count == best && entityType < busiest) {
			busiest = entityType
			best = count
		}
	}
	return busiest
}
