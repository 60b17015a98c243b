package gas

import (
	"context"

	"bezhas-entitlements/internal/tiers"
)

// PriceSource is satisfied by PriceCache.
type PriceSource interface {
	Price(ctx context.Context) float64
}

// Estimate is the subsidized cost of one transaction. SubsidyPercent is 0-100.
type Estimate struct {
	GasLimit        int64       `json:"gasLimit"`
	GasPriceGwei    float64     `json:"gasPriceGwei"`
	GasCostNative   float64     `json:"gasCostNative"`
	GasCostUSD      float64     `json:"gasCostUSD"`
	SubsidyPercent  float64     `json:"subsidyPercent"`
	SubsidyUSD      float64     `json:"subsidyUSD"`
	UserPaysUSD     float64     `json:"userPaysUSD"`
	UserPaysBEZ     float64     `json:"userPaysBEZ"`
	Tier            tiers.ID    `json:"tier"`
	GasFree         bool        `json:"gasFree"`
	MaxSubsidyPerTx tiers.Limit `json:"maxSubsidyPerTx"`
	MonthlyBudget   tiers.Limit `json:"monthlySubsidyBudget"`
	PriorityFee     bool        `json:"priorityFee"`
}

type Estimator struct {
	prices  PriceSource
	catalog *tiers.Catalog
	policy  tiers.Policy
}

func NewEstimator(prices PriceSource, catalog *tiers.Catalog, policy tiers.Policy) *Estimator {
	return &Estimator{prices: prices, catalog: catalog, policy: policy}
}

func (e *Estimator) EstimateGasCost(ctx context.Context, gasLimit int64, tier tiers.ID) *Estimate {
	def := e.catalog.Get(tier)
	price := e.prices.Price(ctx)

	native := float64(gasLimit) * price / 1e9
	costUSD := native * e.policy.NativeTokenUSDPrice
	subsidy := costUSD * def.Gas.SubsidyPercent
	userPays := costUSD - subsidy

	return &Estimate{
		GasLimit:        gasLimit,
		GasPriceGwei:    price,
		GasCostNative:   tiers.Round(native, 6),
		GasCostUSD:      tiers.Round(costUSD, 4),
		SubsidyPercent:  def.Gas.SubsidyPercent * 100,
		SubsidyUSD:      tiers.Round(subsidy, 4),
		UserPaysUSD:     tiers.Round(userPays, 4),
		UserPaysBEZ:     tiers.Round(e.policy.USDToBEZ(userPays), 2),
		Tier:            def.ID,
		GasFree:         def.Gas.SubsidyPercent >= 1,
		MaxSubsidyPerTx: def.Gas.MaxSubsidyPerTx,
		MonthlyBudget:   def.Gas.MonthlyBudget,
		PriorityFee:     def.Gas.PriorityFee,
	}
}

// ZeroSubsidy is the estimate shown to anonymous callers: full price, no subsidy.
func (e *Estimator) ZeroSubsidy(ctx context.Context, gasLimit int64) *Estimate {
	price := e.prices.Price(ctx)
	native := float64(gasLimit) * price / 1e9
	costUSD := native * e.policy.NativeTokenUSDPrice
	return &Estimate{
		GasLimit:        gasLimit,
		GasPriceGwei:    price,
		GasCostNative:   tiers.Round(native, 6),
		GasCostUSD:      tiers.Round(costUSD, 4),
		UserPaysUSD:     tiers.Round(costUSD, 4),
		UserPaysBEZ:     tiers.Round(e.policy.USDToBEZ(costUSD), 2),
		MaxSubsidyPerTx: tiers.Bounded(0),
		MonthlyBudget:   tiers.Bounded(0),
	}
}
