package cost

import (
	"context"
	"time"

	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/gas"
	"bezhas-entitlements/internal/tiers"
)

// defaultBaseCost is charged for models missing from the matrix.
const defaultBaseCost = 2

// Usage carries the units consumed by one AI call. Only the units of the
// model's Kind are billed.
type Usage struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	Images       int64   `json:"images"`
	HD           bool    `json:"hd"`
	Minutes      float64 `json:"minutes"`
	Inferences   int64   `json:"inferences"`
}

type Breakdown struct {
	Model           string                 `json:"model"`
	Provider        string                 `json:"provider"`
	BaseCost        float64                `json:"baseCost"`
	DiscountPercent float64                `json:"discountPercent"`
	Discount        float64                `json:"discount"`
	FinalCost       float64                `json:"finalCost"`
	FinalCostUSD    float64                `json:"finalCostUSD"`
	Tier            tiers.ID               `json:"tier"`
	Details         map[string]interface{} `json:"breakdown"`
	Warning         string                 `json:"warning,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

type AIRequest struct {
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

type GasRequest struct {
	GasLimit int64 `json:"gasLimit"`
}

// Operation is a billable action made of an optional AI part and an optional gas part.
type Operation struct {
	Type string      `json:"type"`
	AI   *AIRequest  `json:"ai,omitempty"`
	Gas  *GasRequest `json:"gas,omitempty"`
}

type Total struct {
	Operation          string        `json:"operation"`
	Tier               tiers.ID      `json:"tier"`
	AI                 *Breakdown    `json:"ai"`
	Gas                *gas.Estimate `json:"gas"`
	PlatformFee        float64       `json:"platformFee"`
	PlatformFeePercent float64       `json:"platformFeePercent"`
	TotalBEZ           float64       `json:"totalBEZ"`
	TotalUSD           float64       `json:"totalUSD"`
}

// GasEstimator is satisfied by gas.Estimator.
type GasEstimator interface {
	EstimateGasCost(ctx context.Context, gasLimit int64, tier tiers.ID) *gas.Estimate
}

type ModelInfo struct {
	Name      string `json:"name"`
	Rate
	Available bool `json:"available"`
}

type Calculator struct {
	matrix  Matrix
	catalog *tiers.Catalog
	policy  tiers.Policy
	gas     GasEstimator
	logger  logger.Logger
	now     func() time.Time
}

func NewCalculator(matrix Matrix, catalog *tiers.Catalog, policy tiers.Policy, gasEstimator GasEstimator, log logger.Logger) *Calculator {
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	return &Calculator{
		matrix:  matrix,
		catalog: catalog,
		policy:  policy,
		gas:     gasEstimator,
		logger:  log.WithFields(map[string]interface{}{"component": "cost"}),
		now:     time.Now,
	}
}

func (c *Calculator) Policy() tiers.Policy { return c.policy }

func (c *Calculator) Rate(model string) (Rate, bool) {
	r, ok := c.matrix[model]
	return r, ok
}

// CalculateAICost prices one AI call. The model's minimum charge applies before
// the tier discount. Unknown models are charged the default base cost.
func (c *Calculator) CalculateAICost(model string, usage Usage, tier tiers.ID) *Breakdown {
	id := c.catalog.Resolve(tier)
	discount := c.policy.AIDiscount(id)

	rate, ok := c.matrix[model]
	if !ok {
		c.logger.Warn("unknown AI model, default rate applied", map[string]interface{}{"model": model})
		return c.finish(&Breakdown{
			Model:    model,
			Provider: "unknown",
			Tier:     id,
			Details:  map[string]interface{}{},
			Warning:  "Unknown model, default rate applied",
		}, defaultBaseCost, discount)
	}

	base, details := baseCost(rate, usage)
	if base < rate.MinCharge {
		base = rate.MinCharge
	}
	return c.finish(&Breakdown{
		Model:    model,
		Provider: rate.Provider,
		Tier:     id,
		Details:  details,
	}, base, discount)
}

func (c *Calculator) finish(b *Breakdown, base, discount float64) *Breakdown {
	final := base * (1 - discount)
	b.BaseCost = tiers.Round(base, 4)
	b.DiscountPercent = discount * 100
	b.Discount = tiers.Round(base*discount, 4)
	b.FinalCost = tiers.Round(final, 4)
	b.FinalCostUSD = tiers.Round(c.policy.BEZToUSD(final), 4)
	b.Timestamp = c.now().UTC()
	return b
}

func baseCost(rate Rate, u Usage) (float64, map[string]interface{}) {
	switch rate.Kind {
	case KindInference:
		return float64(u.Inferences) * rate.InferenceRate, map[string]interface{}{
			"inferences":       u.Inferences,
			"ratePerInference": rate.InferenceRate,
		}
	case KindAudio:
		return u.Minutes * rate.MinuteRate, map[string]interface{}{
			"minutes":       u.Minutes,
			"ratePerMinute": rate.MinuteRate,
		}
	case KindImage:
		perImage, quality := rate.ImageRate, "Standard"
		if u.HD {
			perImage, quality = rate.ImageRateHD, "HD"
		}
		return float64(u.Images) * perImage, map[string]interface{}{
			"images":       u.Images,
			"quality":      quality,
			"ratePerImage": perImage,
		}
	default:
		input := float64(u.InputTokens) / 1000 * rate.InputRate
		output := float64(u.OutputTokens) / 1000 * rate.OutputRate
		return input + output, map[string]interface{}{
			"inputTokens":  u.InputTokens,
			"outputTokens": u.OutputTokens,
			"inputCost":    tiers.Round(input, 4),
			"outputCost":   tiers.Round(output, 4),
		}
	}
}

// CalculateTotalCost adds the AI and gas parts and charges the tier's platform fee on the subtotal.
func (c *Calculator) CalculateTotalCost(ctx context.Context, op Operation, tier tiers.ID) *Total {
	id := c.catalog.Resolve(tier)
	out := &Total{Operation: op.Type, Tier: id}

	var subtotal float64
	if op.AI != nil {
		out.AI = c.CalculateAICost(op.AI.Model, op.AI.Usage, id)
		subtotal += out.AI.FinalCost
	}
	if op.Gas != nil && c.gas != nil {
		out.Gas = c.gas.EstimateGasCost(ctx, op.Gas.GasLimit, id)
		subtotal += out.Gas.UserPaysBEZ
	}

	feePercent := c.policy.PlatformFeeFor(id)
	out.PlatformFeePercent = feePercent
	out.PlatformFee = tiers.Round(subtotal*feePercent/100, 4)
	out.TotalBEZ = tiers.Round(subtotal+out.PlatformFee, 4)
	out.TotalUSD = tiers.Round(c.policy.BEZToUSD(out.TotalBEZ), 4)
	return out
}

// AvailableModels lists every priced model and whether tier may use it.
func (c *Calculator) AvailableModels(tier tiers.ID) []ModelInfo {
	def := c.catalog.Get(tier)
	out := make([]ModelInfo, 0, len(c.matrix))
	for _, name := range c.matrix.Models() {
		out = append(out, ModelInfo{Name: name, Rate: c.matrix[name], Available: def.AllowsModel(name)})
	}
	return out
}

func (c *Calculator) BEZToUSD(bez float64) float64 {
	return tiers.Round(c.policy.BEZToUSD(bez), 4)
}

func (c *Calculator) USDToBEZ(usd float64) float64 {
	return tiers.Round(c.policy.USDToBEZ(usd), 4)
}
