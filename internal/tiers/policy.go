package tiers

import "math"

// Policy is the pricing table kept next to the catalog: AI discounts, platform
// fee and token rates. Unknown tiers get no discount and the full fee.
type Policy struct {
	AIDiscounts         map[ID]float64
	PlatformFeePercent  float64
	FeeMultipliers      map[ID]float64
	BEZToUSDRate        float64
	BaseStakingAPY      float64
	NativeTokenUSDPrice float64
}

func DefaultPolicy() Policy {
	return Policy{
		AIDiscounts: map[ID]float64{
			Starter:  0,
			Creator:  0.25,
			Business: 0.50,
		},
		PlatformFeePercent: 2.5,
		FeeMultipliers: map[ID]float64{
			Starter:  1,
			Creator:  1,
			Business: 0.5,
		},
		BEZToUSDRate:        0.05,
		BaseStakingAPY:      12.5,
		NativeTokenUSDPrice: 1.0,
	}
}

func (p Policy) AIDiscount(id ID) float64 {
	return p.AIDiscounts[normalize(id)]
}

// PlatformFeeFor is the fee percent charged to a tier.
func (p Policy) PlatformFeeFor(id ID) float64 {
	m, ok := p.FeeMultipliers[normalize(id)]
	if !ok {
		m = 1
	}
	return p.PlatformFeePercent * m
}

func (p Policy) EffectiveAPY(d Definition) float64 {
	return p.BaseStakingAPY * d.Staking.Multiplier
}

func (p Policy) BEZToUSD(bez float64) float64 {
	return bez * p.BEZToUSDRate
}

func (p Policy) USDToBEZ(usd float64) float64 {
	if p.BEZToUSDRate <= 0 {
		return 0
	}
	return usd / p.BEZToUSDRate
}

func round(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}

// Round is shared by the calculators so every package rounds the same way.
func Round(v float64, places int) float64 {
	return round(v, places)
}
