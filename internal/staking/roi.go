package staking

import (
	"fmt"
	"math"

	"bezhas-entitlements/internal/tiers"
)

const (
	// aiQueryValueUSD is what one included AI query is assumed to be worth.
	aiQueryValueUSD = 0.01
	// unboundedMonthlyQueries stands in for an unbounded monthly AI allowance.
	unboundedMonthlyQueries = 10000
	// defaultMinimumForUpgrade applies when the first paid tier has no break-even.
	defaultMinimumForUpgrade = 5000
)

type VsBase struct {
	ExtraAPY       float64 `json:"extraAPY"`
	ExtraRewardBEZ float64 `json:"extraRewardBEZ"`
}

// ROI weighs a tier's staking yield and included benefits against its price over a period.
type ROI struct {
	Tier                    tiers.ID `json:"tier"`
	StakeAmount             float64  `json:"stakeAmount"`
	DurationMonths          int      `json:"durationMonths"`
	EffectiveAPY            float64  `json:"effectiveAPY"`
	StakingMultiplier       float64  `json:"stakingMultiplier"`
	PeriodStakingReward     float64  `json:"periodStakingReward"`
	PeriodStakingRewardUSD  float64  `json:"periodStakingRewardUSD"`
	MonthlySubscriptionCost float64  `json:"monthlySubscriptionCost"`
	TotalSubscriptionCost   float64  `json:"totalSubscriptionCost"`
	SubscriptionCostInBEZ   float64  `json:"subscriptionCostInBEZ"`
	GasSavingsInBEZ         float64  `json:"gasSavingsInBEZ"`
	AIValueInBEZ            float64  `json:"aiValueInBEZ"`
	GrossBenefitBEZ         float64  `json:"grossBenefitBEZ"`
	NetProfitBEZ            float64  `json:"netProfitBEZ"`
	NetProfitUSD            float64  `json:"netProfitUSD"`
	ROIPercent              float64  `json:"roiPercent"`
	BreakEvenStake          float64  `json:"breakEvenStake"`
	IsProfitable            bool     `json:"isProfitable"`
	VsBase                  VsBase   `json:"vsStarter"`
}

type Recommendation struct {
	Tier              tiers.ID `json:"tier"`
	Reason            string   `json:"reason"`
	NetProfit         float64  `json:"netProfit"`
	MinimumForUpgrade float64  `json:"minimumForUpgrade"`
}

type Comparison struct {
	StakeAmount    float64           `json:"stakeAmount"`
	DurationMonths int               `json:"durationMonths"`
	Comparison     map[tiers.ID]*ROI `json:"comparison"`
	Recommendation Recommendation    `json:"recommendation"`
}

// CalculateROI values a tier for stake held over months.
func (p *Projector) CalculateROI(stake float64, tier tiers.ID, months int) *ROI {
	def := p.catalog.Get(tier)
	apy := p.policy.EffectiveAPY(def)
	rate := p.policy.BEZToUSDRate
	m := float64(months)

	reward := stake * apy / 100 * m / 12
	monthly := def.Price.Monthly
	subCostBEZ := monthly * m / rate
	gasBEZ := def.Gas.MonthlyBudget.CountOr(0) * m / rate
	aiBEZ := def.AI.MonthlyQueries.CountOr(unboundedMonthlyQueries) * aiQueryValueUSD * m / rate

	gross := reward + gasBEZ + aiBEZ
	net := gross - subCostBEZ

	investment := subCostBEZ
	if investment <= 0 {
		investment = 1
	}

	var breakEven float64
	if monthly > 0 && apy > 0 {
		breakEven = (monthly * 12 / rate) / (apy / 100)
	}

	base := p.policy.BaseStakingAPY
	return &ROI{
		Tier:                    def.ID,
		StakeAmount:             stake,
		DurationMonths:          months,
		EffectiveAPY:            apy,
		StakingMultiplier:       def.Staking.Multiplier,
		PeriodStakingReward:     tiers.Round(reward, 2),
		PeriodStakingRewardUSD:  tiers.Round(reward*rate, 2),
		MonthlySubscriptionCost: monthly,
		TotalSubscriptionCost:   tiers.Round(monthly*m, 2),
		SubscriptionCostInBEZ:   tiers.Round(subCostBEZ, 2),
		GasSavingsInBEZ:         tiers.Round(gasBEZ, 2),
		AIValueInBEZ:            tiers.Round(aiBEZ, 2),
		GrossBenefitBEZ:         tiers.Round(gross, 2),
		NetProfitBEZ:            tiers.Round(net, 2),
		NetProfitUSD:            tiers.Round(net*rate, 2),
		ROIPercent:              tiers.Round(net/investment*100, 2),
		BreakEvenStake:          math.Round(breakEven),
		IsProfitable:            net > 0,
		VsBase: VsBase{
			ExtraAPY:       apy - base,
			ExtraRewardBEZ: reward - stake*base/100*m/12,
		},
	}
}

// CompareROI recommends the tier with the highest net profit among profitable
// ones, starting from the default tier.
func (p *Projector) CompareROI(stake float64, months int) *Comparison {
	out := &Comparison{
		StakeAmount:    stake,
		DurationMonths: months,
		Comparison:     make(map[tiers.ID]*ROI),
	}
	order := p.catalog.Hierarchy()
	for _, id := range order {
		out.Comparison[id] = p.CalculateROI(stake, id, months)
	}

	best := p.catalog.Default()
	bestNet := out.Comparison[best].NetProfitBEZ
	for _, id := range order {
		r := out.Comparison[id]
		if r.IsProfitable && r.NetProfitBEZ > bestNet {
			best, bestNet = id, r.NetProfitBEZ
		}
	}

	reason := "For small amounts, the free tier is most profitable"
	if best != p.catalog.Default() {
		reason = fmt.Sprintf("%s offers the best net ROI", best)
	}

	minimum := float64(defaultMinimumForUpgrade)
	if next, ok := p.firstPaidTier(); ok && out.Comparison[next].BreakEvenStake > 0 {
		minimum = out.Comparison[next].BreakEvenStake
	}

	out.Recommendation = Recommendation{
		Tier:              best,
		Reason:            reason,
		NetProfit:         bestNet,
		MinimumForUpgrade: minimum,
	}
	return out
}

// firstPaidTier is the tier ranked right above the default.
func (p *Projector) firstPaidTier() (tiers.ID, bool) {
	order := p.catalog.Hierarchy()
	for i, id := range order {
		if id == p.catalog.Default() && i+1 < len(order) {
			return order[i+1], true
		}
	}
	return "", false
}
