// Package tiers holds the immutable tier catalog and the pricing policy around it.
package tiers

// ID identifies a tier. Catalog lookups are case-insensitive.
type ID string

const (
	Starter  ID = "STARTER"
	Creator  ID = "CREATOR"
	Business ID = "BUSINESS"
)

// ModelWildcard in an AI model list grants every model.
const ModelWildcard = "all"

type Price struct {
	Monthly            float64 `json:"monthly"`
	Yearly             float64 `json:"yearly"`
	Currency           string  `json:"currency"`
	StripePriceMonthly string  `json:"stripePriceMonthly,omitempty"`
	StripePriceYearly  string  `json:"stripePriceYearly,omitempty"`
}

type TokenLock struct {
	Amount       float64 `json:"amount"`
	DurationDays int     `json:"durationDays"`
}

type Staking struct {
	Multiplier          float64 `json:"multiplier"`
	MaxStake            Limit   `json:"maxStakeAmount"`
	EarlyUnstakePenalty float64 `json:"earlyUnstakePenalty"`
	LockPeriodDays      int     `json:"lockPeriodDays"`
	Compounding         bool    `json:"compoundingEnabled"`
}

type Gas struct {
	SubsidyPercent  float64 `json:"subsidyPercent"`
	MaxSubsidyPerTx Limit   `json:"maxSubsidyPerTx"`
	MonthlyBudget   Limit   `json:"monthlySubsidyBudget"`
	PriorityFee     bool    `json:"priorityFee"`
}

type AI struct {
	DailyQueries      Limit    `json:"dailyQueries"`
	MonthlyQueries    Limit    `json:"monthlyQueries"`
	Models            []string `json:"models"`
	MaxTokensPerQuery int      `json:"maxTokensPerQuery"`
	ImageGeneration   Limit    `json:"imageGeneration"`
	VoiceMinutes      Limit    `json:"voiceMinutes"`
	CustomPrompts     bool     `json:"customPrompts"`
	Priority          string   `json:"priority"`
}

type UI struct {
	Badge    string `json:"badge,omitempty"`
	Color    string `json:"color"`
	Gradient string `json:"gradient"`
	Icon     string `json:"icon"`
}

// Definition is one entry of the catalog. Values returned by a Catalog share
// their maps and slices with the catalog and must not be modified.
type Definition struct {
	ID          ID               `json:"id"`
	Rank        int              `json:"rank"`
	DisplayName string           `json:"displayName"`
	Description string           `json:"description"`
	Price       Price            `json:"price"`
	TokenLock   TokenLock        `json:"tokenLock"`
	Staking     Staking          `json:"staking"`
	Gas         Gas              `json:"gas"`
	AI          AI               `json:"ai"`
	Limits      map[string]Limit `json:"limits"`
	Features    map[string]bool  `json:"features"`
	UI          UI               `json:"ui"`
}

// Limit returns the named ceiling. Names the tier does not declare are Bounded(0).
func (d Definition) Limit(name string) Limit {
	if l, ok := d.Limits[name]; ok {
		return l
	}
	return Bounded(0)
}

// HasFeature is true only for an explicit grant.
func (d Definition) HasFeature(name string) bool {
	return d.Features[name]
}

// AllowsModel reports whether the model list names the model or the wildcard.
func (d Definition) AllowsModel(model string) bool {
	for _, m := range d.AI.Models {
		if m == model || m == ModelWildcard {
			return true
		}
	}
	return false
}
