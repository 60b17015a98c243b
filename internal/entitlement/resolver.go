// Package entitlement answers what a user may do right now, derived from the
// stored subscription document and the tier catalog.
package entitlement

import (
	"context"
	stderrors "errors"
	"time"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/subscription"
	"bezhas-entitlements/internal/tiers"
)

// Source names the path that granted the effective tier.
type Source string

const (
	SourceSubscription Source = "subscription"
	SourceTokenLock    Source = "token_lock"
	SourceTrial        Source = "trial"
)

type TokenLockInfo struct {
	Active    bool       `json:"active"`
	Tier      tiers.ID   `json:"tier,omitempty"`
	Amount    float64    `json:"amount"`
	UnlocksAt *time.Time `json:"unlocksAt,omitempty"`
}

type TrialInfo struct {
	Active        bool       `json:"active"`
	Tier          tiers.ID   `json:"tier,omitempty"`
	Used          bool       `json:"used"`
	EndsAt        *time.Time `json:"endsAt,omitempty"`
	DaysRemaining int        `json:"daysRemaining"`
}

// Subscription is the resolved view of a user.
type Subscription struct {
	UserID     string           `json:"userId"`
	Tier       tiers.ID         `json:"tier"`
	Source     Source           `json:"source"`
	IsActive   bool             `json:"isActive"`
	ExpiresAt  *time.Time       `json:"expiresAt,omitempty"`
	TokenLock  TokenLockInfo    `json:"tokenLock"`
	Trial      TrialInfo        `json:"trial"`
	Definition tiers.Definition `json:"config"`
}

type FeatureAccess struct {
	HasAccess       bool     `json:"hasAccess"`
	CurrentTier     tiers.ID `json:"currentTier"`
	RequiredTier    tiers.ID `json:"requiredTier,omitempty"`
	UpgradeRequired bool     `json:"upgradeRequired"`
}

// StateReader is the read side of subscription.Store.
type StateReader interface {
	Get(ctx context.Context, userID string) (*subscription.State, error)
}

type Resolver struct {
	states  StateReader
	catalog *tiers.Catalog
	now     func() time.Time
}

func NewResolver(states StateReader, catalog *tiers.Catalog, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{states: states, catalog: catalog, now: now}
}

func (r *Resolver) Catalog() *tiers.Catalog { return r.catalog }

// EffectiveTier applies the max-by-rank rule to a loaded state.
func (r *Resolver) EffectiveTier(st *subscription.State, now time.Time) tiers.ID {
	if st == nil {
		return r.catalog.Default()
	}
	return st.EffectiveTier(r.catalog, now)
}

// Resolve loads the user's document and derives the subscription view.
// Anonymous callers resolve to the default tier without touching the store.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*Subscription, error) {
	if userID == "" {
		return r.view(subscription.NewState(""), r.now().UTC()), nil
	}
	st, err := r.states.Get(ctx, userID)
	if err != nil {
		var stdErr *apperrors.StandardError
		if stderrors.As(err, &stdErr) {
			return nil, err
		}
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	return r.view(st, r.now().UTC()), nil
}

func (r *Resolver) view(st *subscription.State, now time.Time) *Subscription {
	tier := r.EffectiveTier(st, now)

	source := SourceSubscription
	if st.TokenLock.Active && r.catalog.Resolve(st.TokenLock.Tier) == tier &&
		(!st.SubscriptionActive(r.catalog, now) || r.catalog.Rank(st.TokenLock.Tier) > r.catalog.Rank(st.PaidTier)) {
		source = SourceTokenLock
	}
	trialActive := st.TrialActive(now)
	if trialActive && source == SourceSubscription && r.catalog.Resolve(st.Trial.Tier) == tier &&
		(!st.SubscriptionActive(r.catalog, now) || r.catalog.Rank(st.Trial.Tier) > r.catalog.Rank(st.PaidTier)) {
		source = SourceTrial
	}

	sub := &Subscription{
		UserID:     st.UserID,
		Tier:       tier,
		Source:     source,
		IsActive:   st.SubscriptionActive(r.catalog, now) || st.TokenLock.Active || trialActive,
		ExpiresAt:  st.PaidTierExpiresAt,
		Definition: r.catalog.Get(tier),
		TokenLock: TokenLockInfo{
			Active:    st.TokenLock.Active,
			Tier:      st.TokenLock.Tier,
			Amount:    st.TokenLock.Amount,
			UnlocksAt: st.TokenLock.UnlocksAt,
		},
		Trial: TrialInfo{
			Active: trialActive,
			Tier:   st.Trial.Tier,
			Used:   st.Trial.Used,
			EndsAt: st.Trial.EndsAt,
		},
	}
	if sub.Trial.Active {
		sub.Trial.DaysRemaining = daysUntil(now, *st.Trial.EndsAt)
	}
	switch source {
	case SourceTokenLock:
		sub.ExpiresAt = st.TokenLock.UnlocksAt
	case SourceTrial:
		sub.ExpiresAt = st.Trial.EndsAt
	}
	return sub
}

// daysUntil rounds partial days up.
func daysUntil(now, end time.Time) int {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// CheckFeatureAccess reports whether the user's tier unlocks feature and, if not,
// the lowest tier that would.
func (r *Resolver) CheckFeatureAccess(ctx context.Context, userID, feature string) (*FeatureAccess, error) {
	sub, err := r.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.featureAccess(sub.Tier, feature), nil
}

func (r *Resolver) featureAccess(tier tiers.ID, feature string) *FeatureAccess {
	access := &FeatureAccess{CurrentTier: tier}
	if r.catalog.Get(tier).HasFeature(feature) {
		access.HasAccess = true
		return access
	}
	if required, ok := r.catalog.MinimumTierFor(feature); ok {
		access.RequiredTier = required
		access.UpgradeRequired = true
	}
	return access
}

// FeatureAccessFor is CheckFeatureAccess for an already resolved tier.
func (r *Resolver) FeatureAccessFor(tier tiers.ID, feature string) *FeatureAccess {
	return r.featureAccess(r.catalog.Resolve(tier), feature)
}

func (r *Resolver) CheckModelAccess(tier tiers.ID, model string) bool {
	return r.catalog.AllowsModel(tier, model)
}

// RequireTier resolves the user and reports whether their tier ranks at least minimum.
func (r *Resolver) RequireTier(ctx context.Context, userID string, minimum tiers.ID) (*Subscription, bool, error) {
	sub, err := r.Resolve(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return sub, r.catalog.HasAccess(sub.Tier, minimum), nil
}
