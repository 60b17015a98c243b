package subscription

import (
	"time"

	"bezhas-entitlements/internal/tiers"
)

// EventType is the billing-rail neutral name of a webhook event.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.completed"
	EventSubscriptionUpdated EventType = "subscription.updated"
	EventSubscriptionDeleted EventType = "subscription.deleted"
	EventPaymentFailed       EventType = "payment.failed"
)

const (
	PeriodMonthly = "monthly"
	PeriodYearly  = "yearly"
)

// Event is a billing event already verified and decoded by the billing layer.
type Event struct {
	ID             string
	Type           EventType
	UserID         string
	Email          string
	Tier           tiers.ID
	BillingPeriod  string
	CustomerID     string
	SubscriptionID string
	// Status is the provider subscription status carried by updates.
	Status           string
	CurrentPeriodEnd *time.Time
}

// Outcome describes what an event did to the user it targeted.
type Outcome struct {
	Type         EventType
	UserID       string
	Email        string
	PreviousTier tiers.ID
	NewTier      tiers.ID
	Applied      bool
}

// TierChanged is true when the event moved the user's effective tier.
func (o *Outcome) TierChanged() bool {
	return o.Applied && o.PreviousTier != o.NewTier
}

type LockResult struct {
	Tier         tiers.ID  `json:"tier"`
	LockedAmount float64   `json:"lockedAmount"`
	UnlocksAt    time.Time `json:"unlocksAt"`
}

type ReleaseResult struct {
	ReleasedAmount float64  `json:"releasedAmount"`
	NewTier        tiers.ID `json:"newTier"`
}

type TrialResult struct {
	Tier          tiers.ID  `json:"tier"`
	TrialEndsAt   time.Time `json:"trialEndsAt"`
	DaysRemaining int       `json:"daysRemaining"`
}
