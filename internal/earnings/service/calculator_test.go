package service_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/smallbiznis/dashvault/internal/config"
	earningsdomain "github.com/smallbiznis/dashvault/internal/earnings/domain"
	"github.com/smallbiznis/dashvault/internal/earnings/service"
	scenariodomain "github.com/smallbiznis/dashvault/internal/scenario/domain"
	"github.com/stretchr/testify/assert"
)

func defaultRules() config.EarningsRules {
	return config.DefaultPipelineConfig().Earnings
}

func ptr(v float64) *float64 { return &v }

func scenario(category scenariodomain.Category, start, end, confidence float64, tags ...scenariodomain.Tag) scenariodomain.Scenario {
	return scenariodomain.Scenario{
		ScenarioType:    category,
		StartTime:       start,
		EndTime:         end,
		ConfidenceScore: confidence,
		Tags:            scenariodomain.NewTagSet(tags...),
	}
}

func TestCalculateBaseOnly(t *testing.T) {
	calc := service.NewCalculator(defaultRules())

	out := calc.Calculate(earningsdomain.Input{DurationSeconds: 600})

	assert.Equal(t, "rookie", out.Tier)
	assert.InDelta(t, 10, out.Minutes, 1e-9)
	assert.InDelta(t, 1.0, out.Base, 1e-9)
	assert.Equal(t, int64(100), out.TotalCents)
	assert.False(t, out.Capped)
	assert.Equal(t, "USD", out.Currency)
}

func TestCalculateQualityBonus(t *testing.T) {
	calc := service.NewCalculator(defaultRules())

	high := calc.Calculate(earningsdomain.Input{DurationSeconds: 600, QualityScore: ptr(0.9)})
	mid := calc.Calculate(earningsdomain.Input{DurationSeconds: 600, QualityScore: ptr(0.7)})
	low := calc.Calculate(earningsdomain.Input{DurationSeconds: 600, QualityScore: ptr(0.5)})
	edge := calc.Calculate(earningsdomain.Input{DurationSeconds: 600, QualityScore: ptr(0.8)})

	assert.Equal(t, int64(125), high.TotalCents)
	assert.Equal(t, int64(110), mid.TotalCents)
	assert.Equal(t, int64(100), low.TotalCents)
	assert.Equal(t, int64(110), edge.TotalCents, "thresholds are strict")
}

func TestCalculateDensityAndConditions(t *testing.T) {
	calc := service.NewCalculator(defaultRules())

	scenarios := make([]scenariodomain.Scenario, 0, 22)
	for i := 0; i < 21; i++ {
		start := float64(i * 10)
		scenarios = append(scenarios, scenario(scenariodomain.CategoryLaneChange, start, start+1, 0.9, scenariodomain.TagDay, scenariodomain.TagClear))
	}
	scenarios = append(scenarios, scenario(scenariodomain.CategoryIntersection, 300, 420, 0.9, scenariodomain.TagNight, scenariodomain.TagClear))

	out := calc.Calculate(earningsdomain.Input{DurationSeconds: 600, Scenarios: scenarios})

	assert.InDelta(t, 0.30, out.DensityBonus, 1e-9)
	assert.InDelta(t, 0.10, out.ConditionBonus, 1e-9)
	assert.Equal(t, int64(140), out.TotalCents)
}

func TestCalculateLongFormBonus(t *testing.T) {
	calc := service.NewCalculator(defaultRules())

	out := calc.Calculate(earningsdomain.Input{DurationSeconds: 2400})

	assert.InDelta(t, 0.80, out.VolumeBonus, 1e-9)
	assert.Equal(t, int64(480), out.TotalCents)
}

func TestCalculateCapExcludesBounties(t *testing.T) {
	rules := defaultRules()
	rules.Tiers = []config.EarningsTier{{Name: "rookie", MinCompleted: 0, RatePerMinute: 1.0}}
	calc := service.NewCalculator(rules)

	out := calc.Calculate(earningsdomain.Input{
		DurationSeconds: 600,
		EdgeCases: []earningsdomain.EdgeCase{
			{Category: "emergency_vehicle", Confidence: 0.95},
		},
	})

	assert.True(t, out.Capped)
	assert.InDelta(t, 5.0, out.Cap, 1e-9)
	assert.InDelta(t, 5.0, out.BountyTotal, 1e-9)
	assert.Equal(t, int64(1000), out.TotalCents)
}

func TestBountyConfidenceFactors(t *testing.T) {
	calc := service.NewCalculator(defaultRules())

	out := calc.Calculate(earningsdomain.Input{
		DurationSeconds: 60,
		EdgeCases: []earningsdomain.EdgeCase{
			{Category: "near_miss", Confidence: 0.85},
			{Category: "near_miss", Confidence: 0.7},
			{Category: "near_miss", Confidence: 0.3},
			{Category: "unknown_thing", Confidence: 0.99},
		},
	})

	if assert.Len(t, out.Bounties, 3) {
		assert.Equal(t, 1.0, out.Bounties[0].Factor)
		assert.Equal(t, 0.5, out.Bounties[1].Factor)
		assert.Equal(t, 0.25, out.Bounties[2].Factor)
	}
	assert.InDelta(t, 3.0+1.5+0.75, out.BountyTotal, 1e-9)
}

func TestTierThresholds(t *testing.T) {
	calc := service.NewCalculator(defaultRules())

	cases := map[int64]string{
		0:   "rookie",
		9:   "rookie",
		10:  "regular",
		49:  "regular",
		50:  "pro",
		199: "pro",
		200: "elite",
		999: "elite",
	}
	for completed, want := range cases {
		assert.Equal(t, want, calc.Tier(completed).Name, "completed=%d", completed)
	}
}

func TestCalculateIsDeterministicAndBounded(t *testing.T) {
	rules := defaultRules()
	calc := service.NewCalculator(rules)
	rng := rand.New(rand.NewPCG(7, 11))
	categories := []scenariodomain.Category{
		scenariodomain.CategoryLaneChange,
		scenariodomain.CategoryTrafficJam,
		scenariodomain.CategoryNearMiss,
		scenariodomain.CategoryEmergencyVehicle,
	}
	weather := []scenariodomain.Tag{scenariodomain.TagClear, scenariodomain.TagRain, scenariodomain.TagFog}

	for i := 0; i < 200; i++ {
		duration := 30 + rng.Float64()*7200
		var scenarios []scenariodomain.Scenario
		for n := rng.IntN(40); n > 0; n-- {
			start := rng.Float64() * (duration - 1)
			end := math.Min(duration, start+1+rng.Float64()*30)
			tod := scenariodomain.TagDay
			if rng.IntN(3) == 0 {
				tod = scenariodomain.TagNight
			}
			scenarios = append(scenarios, scenario(
				categories[rng.IntN(len(categories))],
				start, end, rng.Float64(),
				tod, weather[rng.IntN(len(weather))],
			))
		}
		in := earningsdomain.Input{
			DurationSeconds: duration,
			Scenarios:       scenarios,
			EdgeCases:       earningsdomain.EdgeCasesFrom(scenarios),
			QualityScore:    ptr(rng.Float64()),
			CompletedCount:  int64(rng.IntN(300)),
		}

		first := calc.Calculate(in)
		second := calc.Calculate(in)
		assert.Equal(t, first, second)

		bound := (first.Minutes*rules.RateCapPerMinute + first.BountyTotal) * 100
		assert.LessOrEqual(t, float64(first.TotalCents), math.Round(bound)+0.5)
		assert.GreaterOrEqual(t, first.TotalCents, int64(0))
	}
}
