package tiers

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog is the read-only tier table. It is built once and shared without locking.
type Catalog struct {
	defs      map[ID]Definition
	order     []ID
	defaultID ID
}

// NewCatalog builds a catalog from definitions listed in hierarchy order.
// Ranks must be strictly increasing and every id unique.
func NewCatalog(defs []Definition, defaultID ID) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("catalog has no tiers")
	}

	c := &Catalog{
		defs:      make(map[ID]Definition, len(defs)),
		order:     make([]ID, 0, len(defs)),
		defaultID: normalize(defaultID),
	}
	for i, d := range defs {
		d.ID = normalize(d.ID)
		if d.ID == "" {
			return nil, fmt.Errorf("tier at position %d has no id", i)
		}
		if _, dup := c.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate tier %s", d.ID)
		}
		if i > 0 && d.Rank <= defs[i-1].Rank {
			return nil, fmt.Errorf("tier %s: rank %d is not above %d", d.ID, d.Rank, defs[i-1].Rank)
		}
		if d.Limits == nil {
			d.Limits = map[string]Limit{}
		}
		if d.Features == nil {
			d.Features = map[string]bool{}
		}
		c.defs[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	if _, ok := c.defs[c.defaultID]; !ok {
		return nil, fmt.Errorf("default tier %q is not in the catalog", defaultID)
	}
	return c, nil
}

// DefaultCatalog returns the built-in tiers with STARTER as default.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultDefinitions(), Starter)
	if err != nil {
		panic(fmt.Sprintf("built-in tier catalog is invalid: %v", err))
	}
	return c
}

func normalize(id ID) ID {
	return ID(strings.ToUpper(strings.TrimSpace(string(id))))
}

// Lookup resolves id without falling back. The bool is false for unknown ids.
func (c *Catalog) Lookup(id ID) (ID, bool) {
	n := normalize(id)
	_, ok := c.defs[n]
	return n, ok
}

// Resolve maps any id to a catalog id, degrading unknown or empty ids to the default.
func (c *Catalog) Resolve(id ID) ID {
	if n, ok := c.Lookup(id); ok {
		return n
	}
	return c.defaultID
}

// Get never fails: unknown ids get the default tier.
func (c *Catalog) Get(id ID) Definition {
	return c.defs[c.Resolve(id)]
}

func (c *Catalog) Rank(id ID) int {
	return c.Get(id).Rank
}

func (c *Catalog) Default() ID {
	return c.defaultID
}

// Hierarchy lists tier ids from least to most privileged.
func (c *Catalog) Hierarchy() []ID {
	out := make([]ID, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Catalog) All() []Definition {
	out := make([]Definition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.defs[id])
	}
	return out
}

// Higher returns the higher-ranked of a and b. Empty ids are ignored.
func (c *Catalog) Higher(a, b ID) ID {
	switch {
	case a == "" && b == "":
		return c.defaultID
	case a == "":
		return c.Resolve(b)
	case b == "":
		return c.Resolve(a)
	}
	if c.Rank(b) > c.Rank(a) {
		return c.Resolve(b)
	}
	return c.Resolve(a)
}

func (c *Catalog) HasAccess(current, required ID) bool {
	return c.Rank(current) >= c.Rank(required)
}

// MinimumTierFor returns the lowest tier granting feature.
func (c *Catalog) MinimumTierFor(feature string) (ID, bool) {
	for _, id := range c.order {
		if c.defs[id].HasFeature(feature) {
			return id, true
		}
	}
	return "", false
}

func (c *Catalog) AllowsModel(id ID, model string) bool {
	return c.Get(id).AllowsModel(model)
}

// Comparison describes what moving from one tier to another changes.
type Comparison struct {
	From                 ID       `json:"from"`
	To                   ID       `json:"to"`
	PriceDifference      float64  `json:"priceDifference"`
	APYDifference        float64  `json:"apyDifference"`
	GasSubsidyDifference float64  `json:"gasSubsidyDifference"`
	AICreditsDifference  float64  `json:"aiCreditsDifference"`
	AdditionalFeatures   []string `json:"additionalFeatures"`
}

// unboundedQueryEquivalent is how many daily queries an unbounded tier counts for in comparisons.
const unboundedQueryEquivalent = 1000

func (c *Catalog) Compare(from, to ID, policy Policy) Comparison {
	a, b := c.Get(from), c.Get(to)

	added := make([]string, 0)
	for name, granted := range b.Features {
		if granted && !a.Features[name] {
			added = append(added, name)
		}
	}
	sort.Strings(added)

	return Comparison{
		From:                 a.ID,
		To:                   b.ID,
		PriceDifference:      round(b.Price.Monthly-a.Price.Monthly, 2),
		APYDifference:        policy.EffectiveAPY(b) - policy.EffectiveAPY(a),
		GasSubsidyDifference: b.Gas.SubsidyPercent - a.Gas.SubsidyPercent,
		AICreditsDifference: b.AI.DailyQueries.CountOr(unboundedQueryEquivalent) -
			a.AI.DailyQueries.CountOr(unboundedQueryEquivalent),
		AdditionalFeatures: added,
	}
}

// Validate checks the policy that a higher tier never grants less than the one below it.
// Violations are returned as warnings; a catalog that built successfully is always usable.
func (c *Catalog) Validate() []string {
	var warnings []string
	for i := 1; i < len(c.order); i++ {
		lo, hi := c.defs[c.order[i-1]], c.defs[c.order[i]]

		for name, granted := range lo.Features {
			if granted && !hi.Features[name] {
				warnings = append(warnings, fmt.Sprintf("%s drops feature %s granted by %s", hi.ID, name, lo.ID))
			}
		}
		for name, l := range lo.Limits {
			if !hi.Limit(name).AtLeast(l) {
				warnings = append(warnings, fmt.Sprintf("%s limit %s (%s) is below %s (%s)", hi.ID, name, hi.Limit(name), lo.ID, l))
			}
		}

		ceilings := []struct {
			name   string
			lo, hi Limit
		}{
			{"ai.dailyQueries", lo.AI.DailyQueries, hi.AI.DailyQueries},
			{"ai.monthlyQueries", lo.AI.MonthlyQueries, hi.AI.MonthlyQueries},
			{"ai.imageGeneration", lo.AI.ImageGeneration, hi.AI.ImageGeneration},
			{"ai.voiceMinutes", lo.AI.VoiceMinutes, hi.AI.VoiceMinutes},
			{"staking.maxStakeAmount", lo.Staking.MaxStake, hi.Staking.MaxStake},
			{"gas.maxSubsidyPerTx", lo.Gas.MaxSubsidyPerTx, hi.Gas.MaxSubsidyPerTx},
			{"gas.monthlySubsidyBudget", lo.Gas.MonthlyBudget, hi.Gas.MonthlyBudget},
			{"ai.maxTokensPerQuery", Bounded(float64(lo.AI.MaxTokensPerQuery)), Bounded(float64(hi.AI.MaxTokensPerQuery))},
			{"staking.multiplier", Bounded(lo.Staking.Multiplier), Bounded(hi.Staking.Multiplier)},
			{"gas.subsidyPercent", Bounded(lo.Gas.SubsidyPercent), Bounded(hi.Gas.SubsidyPercent)},
		}
		for _, ce := range ceilings {
			if !ce.hi.AtLeast(ce.lo) {
				warnings = append(warnings, fmt.Sprintf("%s %s (%s) is below %s (%s)", hi.ID, ce.name, ce.hi, lo.ID, ce.lo))
			}
		}
	}
	sort.Strings(warnings)
	return warnings
}
