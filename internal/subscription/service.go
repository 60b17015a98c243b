package subscription

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/tiers"
)

// Service is the only writer of subscription state. Every mutation goes through
// Store.Update so the effective tier is re-derived from the stored lock and paid path.
type Service struct {
	store   Store
	catalog *tiers.Catalog
	logger  logger.Logger
	now     func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, catalog *tiers.Catalog, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: catalog,
		logger:  log.WithFields(map[string]interface{}{"component": "subscription"}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Store() Store { return s.store }

func (s *Service) Catalog() *tiers.Catalog { return s.catalog }

func (s *Service) Now() time.Time { return s.now().UTC() }

// State loads the stored document.
func (s *Service) State(ctx context.Context, userID string) (*State, error) {
	st, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	return st, nil
}

// ApplyBillingEvent translates a verified billing event into a state mutation.
// Events that target no known user are reported with Applied false.
func (s *Service) ApplyBillingEvent(ctx context.Context, ev Event) (*Outcome, error) {
	switch ev.Type {
	case EventCheckoutCompleted:
		return s.applyCheckout(ctx, ev)
	case EventSubscriptionUpdated:
		return s.applySubscriptionUpdate(ctx, ev)
	case EventSubscriptionDeleted:
		return s.applyCancellation(ctx, ev)
	case EventPaymentFailed:
		return s.applyPaymentFailed(ctx, ev)
	default:
		s.logger.Info("unhandled billing event", map[string]interface{}{"type": string(ev.Type)})
		return &Outcome{Type: ev.Type}, nil
	}
}

func (s *Service) applyCheckout(ctx context.Context, ev Event) (*Outcome, error) {
	if ev.UserID == "" || ev.Tier == "" {
		s.logger.Warn("checkout session missing metadata", map[string]interface{}{"eventId": ev.ID})
		return &Outcome{Type: ev.Type}, nil
	}
	tier, ok := s.catalog.Lookup(ev.Tier)
	if !ok {
		return nil, apperrors.NewInvalidTierForUpgradeError(string(ev.Tier))
	}

	now := s.Now()
	expires := now.AddDate(0, 1, 0)
	if ev.BillingPeriod == PeriodYearly {
		expires = now.AddDate(1, 0, 0)
	}

	return s.mutate(ctx, ev, ev.UserID, func(st *State) error {
		st.PaidTier = tier
		st.PaidTierExpiresAt = timePtr(expires)
		st.SubscriptionStartedAt = timePtr(now)
		st.BillingSource = SourceStripe
		st.StripeCustomerID = ev.CustomerID
		st.StripeSubscriptionID = ev.SubscriptionID
		st.Trial.Active = false
		if ev.Email != "" {
			st.Email = ev.Email
		}
		return nil
	})
}

func (s *Service) applySubscriptionUpdate(ctx context.Context, ev Event) (*Outcome, error) {
	switch strings.ToLower(ev.Status) {
	case "canceled", "unpaid", "incomplete_expired":
		return s.applyCancellation(ctx, ev)
	}

	current, err := s.store.FindByStripeSubscription(ctx, ev.SubscriptionID)
	if errors.Is(err, ErrNotFound) {
		return &Outcome{Type: ev.Type}, nil
	} else if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	return s.mutate(ctx, ev, current.UserID, func(st *State) error {
		if tier, ok := s.catalog.Lookup(ev.Tier); ok && ev.Tier != "" {
			st.PaidTier = tier
		}
		if ev.CurrentPeriodEnd != nil {
			st.PaidTierExpiresAt = timePtr(ev.CurrentPeriodEnd.UTC())
		}
		st.BillingSource = SourceStripe
		return nil
	})
}

// applyCancellation clears the paid path. An active token lock keeps its tier.
func (s *Service) applyCancellation(ctx context.Context, ev Event) (*Outcome, error) {
	current, err := s.store.FindByStripeSubscription(ctx, ev.SubscriptionID)
	if errors.Is(err, ErrNotFound) {
		return &Outcome{Type: ev.Type}, nil
	} else if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	return s.mutate(ctx, ev, current.UserID, func(st *State) error {
		st.PaidTier = ""
		st.PaidTierExpiresAt = nil
		st.StripeSubscriptionID = ""
		st.BillingSource = SourceNone
		if st.TokenLock.Active {
			st.BillingSource = SourceTokenLock
		}
		return nil
	})
}

func (s *Service) applyPaymentFailed(ctx context.Context, ev Event) (*Outcome, error) {
	current, err := s.store.FindByStripeCustomer(ctx, ev.CustomerID)
	if errors.Is(err, ErrNotFound) {
		return &Outcome{Type: ev.Type}, nil
	} else if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	tier := current.EffectiveTier(s.catalog, s.Now())
	s.logger.Warn("payment failed", map[string]interface{}{"userId": current.UserID})

	email := current.Email
	if email == "" {
		email = ev.Email
	}
	return &Outcome{
		Type:         ev.Type,
		UserID:       current.UserID,
		Email:        email,
		PreviousTier: tier,
		NewTier:      tier,
	}, nil
}

func (s *Service) mutate(ctx context.Context, ev Event, userID string, fn func(*State) error) (*Outcome, error) {
	now := s.Now()
	var previous tiers.ID

	updated, err := s.store.Update(ctx, userID, func(st *State) error {
		previous = st.EffectiveTier(s.catalog, now)
		return fn(st)
	})
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	out := &Outcome{
		Type:         ev.Type,
		UserID:       userID,
		Email:        updated.Email,
		PreviousTier: previous,
		NewTier:      updated.EffectiveTier(s.catalog, now),
		Applied:      true,
	}
	s.logger.Info("billing event applied", map[string]interface{}{
		"eventId":      ev.ID,
		"type":         string(ev.Type),
		"userId":       userID,
		"previousTier": string(out.PreviousTier),
		"newTier":      string(out.NewTier),
	})
	return out, nil
}

// RegisterTokenLock records a verified on-chain lock. Amounts below the tier's
// lock requirement are rejected before any write.
func (s *Service) RegisterTokenLock(ctx context.Context, userID string, tier tiers.ID, amount float64, txHash string) (*LockResult, error) {
	id, ok := s.catalog.Lookup(tier)
	if !ok {
		return nil, apperrors.NewInvalidTierForUpgradeError(string(tier))
	}
	def := s.catalog.Get(id)
	if amount < def.TokenLock.Amount {
		return nil, apperrors.NewInsufficientLockAmountError(string(id), def.TokenLock.Amount)
	}

	now := s.Now()
	unlocksAt := now.AddDate(0, 0, def.TokenLock.DurationDays)

	updated, err := s.store.Update(ctx, userID, func(st *State) error {
		st.TokenLock = TokenLock{
			Active:    true,
			Tier:      id,
			Amount:    amount,
			TxHash:    txHash,
			LockedAt:  timePtr(now),
			UnlocksAt: timePtr(unlocksAt),
		}
		if st.BillingSource == SourceNone {
			st.BillingSource = SourceTokenLock
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	result := &LockResult{
		Tier:         updated.EffectiveTier(s.catalog, now),
		LockedAmount: amount,
		UnlocksAt:    unlocksAt,
	}
	s.logger.Info("token lock registered", map[string]interface{}{
		"userId":    userID,
		"lockTier":  string(id),
		"amount":    amount,
		"txHash":    txHash,
		"tier":      string(result.Tier),
		"unlocksAt": unlocksAt,
	})
	return result, nil
}

// ReleaseTokenLock ends a lock whose minimum duration has passed. The user falls
// back to whatever the paid path still grants.
func (s *Service) ReleaseTokenLock(ctx context.Context, userID string) (*ReleaseResult, error) {
	now := s.Now()
	var released float64

	updated, err := s.store.Update(ctx, userID, func(st *State) error {
		if !st.TokenLock.Active {
			return apperrors.NewNoActiveTokenLockError()
		}
		if st.TokenLock.UnlocksAt != nil && now.Before(*st.TokenLock.UnlocksAt) {
			return apperrors.NewTokensStillLockedError(*st.TokenLock.UnlocksAt)
		}
		released = st.TokenLock.Amount
		st.TokenLock = TokenLock{ReleasedAt: timePtr(now)}
		if st.BillingSource == SourceTokenLock {
			st.BillingSource = SourceNone
		}
		return nil
	})
	if err != nil {
		var stdErr *apperrors.StandardError
		if errors.As(err, &stdErr) {
			return nil, stdErr
		}
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	return &ReleaseResult{
		ReleasedAmount: released,
		NewTier:        updated.EffectiveTier(s.catalog, now),
	}, nil
}

// StartTrial grants tier for the trial period, once per user. An empty tier means CREATOR.
// The paid tier and its period are left as they are.
func (s *Service) StartTrial(ctx context.Context, userID string, tier tiers.ID) (*TrialResult, error) {
	if tier == "" {
		tier = tiers.Creator
	}
	id, ok := s.catalog.Lookup(tier)
	if !ok || id == s.catalog.Default() {
		return nil, apperrors.NewInvalidTierForUpgradeError(string(tier))
	}

	now := s.Now()
	endsAt := now.AddDate(0, 0, tiers.TrialPeriodDays)

	_, err := s.store.Update(ctx, userID, func(st *State) error {
		if st.Trial.Used {
			return apperrors.NewTrialAlreadyUsedError()
		}
		st.Trial = Trial{
			Active:    true,
			Tier:      id,
			StartedAt: timePtr(now),
			EndsAt:    timePtr(endsAt),
			Used:      true,
		}
		return nil
	})
	if err != nil {
		var stdErr *apperrors.StandardError
		if errors.As(err, &stdErr) {
			return nil, stdErr
		}
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	return &TrialResult{Tier: id, TrialEndsAt: endsAt, DaysRemaining: tiers.TrialPeriodDays}, nil
}
