// Package staking projects staking yield per tier and signs tier assertions
// that other services verify offline.
package staking

import (
	"math"

	"bezhas-entitlements/internal/tiers"
)

// Projection is informational; nothing here moves balances.
type Projection struct {
	StakeAmount        float64  `json:"stakeAmount"`
	Tier               tiers.ID `json:"tier"`
	DurationDays       int      `json:"durationDays"`
	BaseAPY            float64  `json:"baseAPY"`
	Multiplier         float64  `json:"multiplier"`
	EffectiveAPY       float64  `json:"effectiveAPY"`
	DailyReward        float64  `json:"dailyReward"`
	PeriodReward       float64  `json:"periodReward"`
	CompoundedReward   float64  `json:"compoundedReward"`
	CompoundingEnabled bool     `json:"compoundingEnabled"`
	PeriodRewardUSD    float64  `json:"periodRewardUSD"`
	ExceedsMaxStake    bool     `json:"exceedsMaxStake"`
}

type Projector struct {
	catalog *tiers.Catalog
	policy  tiers.Policy
}

func NewProjector(catalog *tiers.Catalog, policy tiers.Policy) *Projector {
	return &Projector{catalog: catalog, policy: policy}
}

// CalculateStakingRewards projects linear yield over days. Tiers with compounding
// also get a monthly-compounded figure once the period spans a month.
func (p *Projector) CalculateStakingRewards(stake float64, tier tiers.ID, days int) *Projection {
	def := p.catalog.Get(tier)
	apy := p.policy.EffectiveAPY(def)

	yearly := stake * apy / 100
	period := yearly * float64(days) / 365
	compounded := period
	if def.Staking.Compounding && days >= 30 {
		months := days / 30
		compounded = stake * (math.Pow(1+apy/100/12, float64(months)) - 1)
	}

	exceeds := false
	if ceiling, bounded := def.Staking.MaxStake.Value(); bounded && stake > ceiling {
		exceeds = true
	}

	return &Projection{
		StakeAmount:        stake,
		Tier:               def.ID,
		DurationDays:       days,
		BaseAPY:            p.policy.BaseStakingAPY,
		Multiplier:         def.Staking.Multiplier,
		EffectiveAPY:       apy,
		DailyReward:        tiers.Round(yearly/365, 4),
		PeriodReward:       tiers.Round(period, 4),
		CompoundedReward:   tiers.Round(compounded, 4),
		CompoundingEnabled: def.Staking.Compounding,
		PeriodRewardUSD:    tiers.Round(p.policy.BEZToUSD(period), 2),
		ExceedsMaxStake:    exceeds,
	}
}
