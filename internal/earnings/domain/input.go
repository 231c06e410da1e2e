package domain

import (
	scenariodomain "github.com/smallbiznis/dashvault/internal/scenario/domain"
)

// EdgeCase is one rare-event detection eligible for a bounty.
type EdgeCase struct {
	Category   string
	Confidence float64
}

// Input is everything a calculation may depend on.
type Input struct {
	DurationSeconds float64
	Scenarios       []scenariodomain.Scenario
	EdgeCases       []EdgeCase
	QualityScore    *float64
	// CompletedCount is the driver's completed submissions excluding the
	// one being priced.
	CompletedCount int64
}

// EdgeCasesFrom picks the bounty-bearing scenarios out of a scenario set.
func EdgeCasesFrom(scenarios []scenariodomain.Scenario) []EdgeCase {
	var out []EdgeCase
	for _, sc := range scenarios {
		if !sc.ScenarioType.IsEdgeCase() {
			continue
		}
		out = append(out, EdgeCase{Category: string(sc.ScenarioType), Confidence: sc.ConfidenceScore})
	}
	return out
}
