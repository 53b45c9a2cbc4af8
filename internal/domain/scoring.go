package domain

import "math"

// ScoringPolicy is the single place severity weights and confidence
// defaults live. The detector and the delta calculator both score through
// it so the two paths cannot drift apart.
type ScoringPolicy struct {
	SeverityWeights   map[Severity]float64
	DefaultConfidence float64
}

// DefaultScoringPolicy returns the standard weights and confidence.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		SeverityWeights: map[Severity]float64{
			SeverityLow:      5,
			SeverityMedium:   10,
			SeverityHigh:     15,
			SeverityCritical: 25,
		},
		DefaultConfidence: 0.75,
	}
}

// Weight returns the numeric weight for a severity level.
func (p ScoringPolicy) Weight(s Severity) float64 {
	if w, ok := p.SeverityWeights[s]; ok {
		return w
	}
	return p.SeverityWeights[SeverityLow]
}

// Score converts a set of field changes into a 0-100 change score:
// min(100, mean(weight × confidence) × 10).
func (p ScoringPolicy) Score(changes []FieldChange) float64 {
	if len(changes) == 0 {
		return 0
	}

	total := 0.0
	for _, change := range changes {
		confidence := change.Confidence
		if confidence <= 0 {
			confidence = p.DefaultConfidence
		}
		total += p.Weight(change.Severity) * confidence
	}

	return math.Min(100, total/float64(len(changes))*10)
}

// ScoreSeverities applies the same formula to bare severities using the
// policy's default confidence. The delta calculator scores through this so
// both detection paths share identical semantics.
func (p ScoringPolicy) ScoreSeverities(severities []Severity) float64 {
	if len(severities) == 0 {
		return 0
	}

	total := 0.0
	for _, severity := range severities {
		total += p.Weight(severity) * p.DefaultConfidence
	}

	return math.Min(100, total/float64(len(severities))*10)
}

// MaxSeverity returns the highest severity among the field changes,
// defaulting to low for an empty set.
func MaxSeverity(changes []FieldChange) Severity {
	max := SeverityLow
	for _, change := range changes {
		if change.Severity.Rank() > max.Rank() {
			max = change.Severity
		}
	}
	return max
}
