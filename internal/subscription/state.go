// Package subscription owns the per-user subscription document and every mutation of it.
package subscription

import (
	"time"

	"bezhas-entitlements/internal/tiers"
)

type BillingSource string

const (
	SourceNone      BillingSource = ""
	SourceStripe    BillingSource = "stripe"
	SourceTokenLock BillingSource = "token_lock"
)

type TokenLock struct {
	Active     bool       `json:"active"`
	Tier       tiers.ID   `json:"tier,omitempty"`
	Amount     float64    `json:"amount"`
	TxHash     string     `json:"txHash,omitempty"`
	LockedAt   *time.Time `json:"lockedAt,omitempty"`
	UnlocksAt  *time.Time `json:"unlocksAt,omitempty"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
}

// Trial is kept apart from the paid tier so that it lapses on its own.
type Trial struct {
	Active    bool       `json:"active"`
	Tier      tiers.ID   `json:"tier,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndsAt    *time.Time `json:"endsAt,omitempty"`
	Used      bool       `json:"used"`
}

// State is the stored subscription document of one user. The effective tier is
// derived from it on every read and never stored.
type State struct {
	UserID                string        `json:"userId"`
	Email                 string        `json:"email,omitempty"`
	PaidTier              tiers.ID      `json:"paidTier,omitempty"`
	PaidTierExpiresAt     *time.Time    `json:"paidTierExpiresAt,omitempty"`
	SubscriptionStartedAt *time.Time    `json:"subscriptionStartedAt,omitempty"`
	BillingSource         BillingSource `json:"billingSource,omitempty"`
	StripeCustomerID      string        `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID  string        `json:"stripeSubscriptionId,omitempty"`
	TokenLock             TokenLock     `json:"tokenLock"`
	Trial                 Trial         `json:"trial"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

// NewState is the document of a user that has never been written.
func NewState(userID string) *State {
	return &State{UserID: userID}
}

// SubscriptionActive reports whether the paid tier currently counts. The default
// tier is always active; otherwise an unexpired period is needed.
func (s *State) SubscriptionActive(c *tiers.Catalog, now time.Time) bool {
	if c.Resolve(s.PaidTier) == c.Default() {
		return true
	}
	return s.PaidTierExpiresAt != nil && s.PaidTierExpiresAt.After(now)
}

// TrialActive is true while a started trial has not ended.
func (s *State) TrialActive(now time.Time) bool {
	return s.Trial.Active && s.Trial.EndsAt != nil && now.Before(*s.Trial.EndsAt)
}

// EffectiveTier is the highest tier granted by any active source: paid period,
// token lock or trial.
func (s *State) EffectiveTier(c *tiers.Catalog, now time.Time) tiers.ID {
	var paid, locked, trial tiers.ID
	if s.SubscriptionActive(c, now) {
		paid = c.Resolve(s.PaidTier)
	}
	if s.TokenLock.Active {
		locked = c.Resolve(s.TokenLock.Tier)
	}
	if s.TrialActive(now) {
		trial = c.Resolve(s.Trial.Tier)
	}
	return c.Higher(c.Higher(paid, locked), trial)
}

func (s *State) clone() *State {
	out := *s
	out.PaidTierExpiresAt = cloneTime(s.PaidTierExpiresAt)
	out.SubscriptionStartedAt = cloneTime(s.SubscriptionStartedAt)
	out.TokenLock.LockedAt = cloneTime(s.TokenLock.LockedAt)
	out.TokenLock.UnlocksAt = cloneTime(s.TokenLock.UnlocksAt)
	out.TokenLock.ReleasedAt = cloneTime(s.TokenLock.ReleasedAt)
	out.Trial.StartedAt = cloneTime(s.Trial.StartedAt)
	out.Trial.EndsAt = cloneTime(s.Trial.EndsAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
