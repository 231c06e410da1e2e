package service

import (
	"math"
	"sort"

	"github.com/smallbiznis/dashvault/internal/config"
	earningsdomain "github.com/smallbiznis/dashvault/internal/earnings/domain"
)

// Calculator prices footage. It is a pure function of its rules and input.
type Calculator struct {
	rules config.EarningsRules
}

func NewCalculator(rules config.EarningsRules) Calculator {
	return Calculator{rules: rules}
}

// Tier returns the highest tier whose threshold the driver has reached.
func (c Calculator) Tier(completed int64) config.EarningsTier {
	tiers := append([]config.EarningsTier(nil), c.rules.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinCompleted < tiers[j].MinCompleted })

	var current config.EarningsTier
	for _, tier := range tiers {
		if completed >= int64(tier.MinCompleted) {
			current = tier
		}
	}
	return current
}

// Calculate computes
//
//	total = min(base + quality + density + volume + conditions, minutes*cap) + bounties
//
// Bounties sit outside the cap and the total is rounded to cents once.
func (c Calculator) Calculate(in earningsdomain.Input) earningsdomain.Breakdown {
	r := c.rules
	minutes := 0.0
	if in.DurationSeconds > 0 {
		minutes = in.DurationSeconds / 60
	}

	tier := c.Tier(in.CompletedCount)
	out := earningsdomain.Breakdown{
		Minutes:  minutes,
		Tier:     tier.Name,
		TierRate: tier.RatePerMinute,
		Currency: r.Currency,
		Bounties: []earningsdomain.Bounty{},
	}

	out.Base = minutes * tier.RatePerMinute

	if q := in.QualityScore; q != nil {
		switch {
		case *q > r.QualityHighThreshold:
			out.QualityBonus = out.Base * r.QualityHighBonus
		case *q > r.QualityMidThreshold:
			out.QualityBonus = out.Base * r.QualityMidBonus
		}
	}

	if minutes > 0 && float64(len(in.Scenarios))/minutes > r.DensityThreshold {
		out.DensityBonus = minutes * r.DensityRatePerMinute
	}

	if minutes > r.LongFormMinutes {
		out.VolumeBonus = minutes * r.LongFormRatePerMinute
	}

	for _, sc := range in.Scenarios {
		if sc.Span() <= 0 {
			continue
		}
		if sc.Tags.Night() || sc.Tags.AdverseWeather() {
			out.ConditionBonus += sc.Span() / 60 * r.ConditionsRatePerMinute
		}
	}

	out.Subtotal = out.Base + out.QualityBonus + out.DensityBonus + out.VolumeBonus + out.ConditionBonus
	out.Cap = minutes * r.RateCapPerMinute
	capped := out.Subtotal
	if capped > out.Cap {
		capped = out.Cap
		out.Capped = true
	}

	for _, ec := range in.EdgeCases {
		amount, ok := r.Bounties[ec.Category]
		if !ok || amount <= 0 {
			continue
		}
		factor := c.bountyFactor(ec.Confidence)
		award := amount * factor
		out.Bounties = append(out.Bounties, earningsdomain.Bounty{
			Category:   ec.Category,
			Confidence: ec.Confidence,
			Factor:     factor,
			Amount:     award,
		})
		out.BountyTotal += award
	}

	out.Total = capped + out.BountyTotal
	out.TotalCents = int64(math.Round(out.Total * 100))
	if out.TotalCents < 0 {
		out.TotalCents = 0
	}
	return out
}

func (c Calculator) bountyFactor(confidence float64) float64 {
	switch {
	case confidence > c.rules.BountyFullConfidence:
		return 1
	case confidence > c.rules.BountyHalfConfidence:
		return 0.5
	default:
		return 0.25
	}
}
