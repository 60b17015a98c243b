package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/tiers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func newTestService(t *testing.T) (*Service, *MemoryStore, *fixedClock) {
	store := NewMemoryStore()
	clock := &fixedClock{t: testNow}
	svc := NewService(store, tiers.DefaultCatalog(), logger.NewTestLogger(t), WithClock(clock.now))
	return svc, store, clock
}

func checkout(userID string, tier tiers.ID, period string) Event {
	return Event{
		ID:             "evt_" + userID,
		Type:           EventCheckoutCompleted,
		UserID:         userID,
		Tier:           tier,
		BillingPeriod:  period,
		CustomerID:     "cus_" + userID,
		SubscriptionID: "sub_" + userID,
	}
}

// ==========================
// Billing Events
// ==========================

func TestApplyBillingEvent_CheckoutCompleted(t *testing.T) {
	tests := []struct {
		name       string
		period     string
		wantExpiry time.Time
	}{
		{"monthly", PeriodMonthly, testNow.AddDate(0, 1, 0)},
		{"yearly", PeriodYearly, testNow.AddDate(1, 0, 0)},
		{"missing period defaults to monthly", "", testNow.AddDate(0, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTestService(t)
			ctx := context.Background()

			out, err := svc.ApplyBillingEvent(ctx, checkout("u1", "creator", tt.period))
			require.NoError(t, err)
			assert.True(t, out.Applied)
			assert.Equal(t, tiers.Starter, out.PreviousTier)
			assert.Equal(t, tiers.Creator, out.NewTier)
			assert.True(t, out.TierChanged())

			st, err := store.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, tiers.Creator, st.PaidTier)
			assert.Equal(t, tt.wantExpiry, *st.PaidTierExpiresAt)
			assert.Equal(t, SourceStripe, st.BillingSource)
			assert.Equal(t, "sub_u1", st.StripeSubscriptionID)
			assert.False(t, st.Trial.Active)
		})
	}
}

func TestApplyBillingEvent_CheckoutMissingMetadata(t *testing.T) {
	svc, _, _ := newTestService(t)
	out, err := svc.ApplyBillingEvent(context.Background(), Event{Type: EventCheckoutCompleted, Tier: tiers.Creator})
	require.NoError(t, err)
	assert.False(t, out.Applied)
}

func TestApplyBillingEvent_CheckoutUnknownTier(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.ApplyBillingEvent(context.Background(), checkout("u1", "PLATINUM", PeriodMonthly))
	assert.ErrorIs(t, err, apperrors.ErrInvalidTierForUpgrade)
}

func TestApplyBillingEvent_CancellationFallsBackToLock(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApplyBillingEvent(ctx, checkout("u1", tiers.Business, PeriodMonthly))
	require.NoError(t, err)
	_, err = svc.RegisterTokenLock(ctx, "u1", tiers.Creator, 5000, "0xabc")
	require.NoError(t, err)

	out, err := svc.ApplyBillingEvent(ctx, Event{Type: EventSubscriptionDeleted, SubscriptionID: "sub_u1"})
	require.NoError(t, err)
	assert.Equal(t, tiers.Business, out.PreviousTier)
	assert.Equal(t, tiers.Creator, out.NewTier)

	st, _ := store.Get(ctx, "u1")
	assert.Equal(t, SourceTokenLock, st.BillingSource)
	assert.Empty(t, st.StripeSubscriptionID)
	assert.Nil(t, st.PaidTierExpiresAt)
}

func TestApplyBillingEvent_CancellationWithoutLock(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApplyBillingEvent(ctx, checkout("u1", tiers.Creator, PeriodMonthly))
	require.NoError(t, err)

	out, err := svc.ApplyBillingEvent(ctx, Event{Type: EventSubscriptionDeleted, SubscriptionID: "sub_u1"})
	require.NoError(t, err)
	assert.Equal(t, tiers.Starter, out.NewTier)
}

func TestApplyBillingEvent_UpdateWithCanceledStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApplyBillingEvent(ctx, checkout("u1", tiers.Creator, PeriodMonthly))
	require.NoError(t, err)

	out, err := svc.ApplyBillingEvent(ctx, Event{Type: EventSubscriptionUpdated, SubscriptionID: "sub_u1", Status: "canceled"})
	require.NoError(t, err)
	assert.Equal(t, tiers.Starter, out.NewTier)
}

func TestApplyBillingEvent_UpdateRefreshesPeriod(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApplyBillingEvent(ctx, checkout("u1", tiers.Creator, PeriodMonthly))
	require.NoError(t, err)

	end := testNow.AddDate(0, 2, 0)
	out, err := svc.ApplyBillingEvent(ctx, Event{
		Type: EventSubscriptionUpdated, SubscriptionID: "sub_u1", Status: "active",
		Tier: tiers.Business, CurrentPeriodEnd: &end,
	})
	require.NoError(t, err)
	assert.Equal(t, tiers.Business, out.NewTier)

	st, _ := store.Get(ctx, "u1")
	assert.Equal(t, end, *st.PaidTierExpiresAt)
}

func TestApplyBillingEvent_UnknownSubscriptionIsIgnored(t *testing.T) {
	svc, _, _ := newTestService(t)
	out, err := svc.ApplyBillingEvent(context.Background(), Event{Type: EventSubscriptionDeleted, SubscriptionID: "sub_missing"})
	require.NoError(t, err)
	assert.False(t, out.Applied)
}

func TestApplyBillingEvent_PaymentFailedDoesNotMutate(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	ev := checkout("u1", tiers.Creator, PeriodMonthly)
	ev.Email = "u1@example.com"
	_, err := svc.ApplyBillingEvent(ctx, ev)
	require.NoError(t, err)
	before, _ := store.Get(ctx, "u1")

	out, err := svc.ApplyBillingEvent(ctx, Event{Type: EventPaymentFailed, CustomerID: "cus_u1"})
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, "u1", out.UserID)
	assert.Equal(t, "u1@example.com", out.Email)

	after, _ := store.Get(ctx, "u1")
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

// ==========================
// Token Lock
// ==========================

func TestRegisterTokenLock_InsufficientAmount(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterTokenLock(ctx, "u1", tiers.Business, 49999, "0x1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientLockAmount)
	assert.Equal(t, 50000.0, apperrors.AsStandardError(err).Metadata["requiredAmount"])

	st, _ := store.Get(ctx, "u1")
	assert.False(t, st.TokenLock.Active)
	assert.True(t, st.UpdatedAt.IsZero(), "nothing should have been written")
}

func TestRegisterTokenLock_Success(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.RegisterTokenLock(context.Background(), "u1", "creator", 6000, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, tiers.Creator, res.Tier)
	assert.Equal(t, 6000.0, res.LockedAmount)
	assert.Equal(t, testNow.AddDate(0, 0, 90), res.UnlocksAt)
}

func TestRegisterTokenLock_LowerLockKeepsHigherPaidTier(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApplyBillingEvent(ctx, checkout("u1", tiers.Business, PeriodYearly))
	require.NoError(t, err)

	res, err := svc.RegisterTokenLock(ctx, "u1", tiers.Creator, 5000, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, tiers.Business, res.Tier)
}

func TestReleaseTokenLock(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.ReleaseTokenLock(ctx, "u1")
	assert.ErrorIs(t, err, apperrors.ErrNoActiveTokenLock)

	_, err = svc.RegisterTokenLock(ctx, "u1", tiers.Creator, 5000, "0xabc")
	require.NoError(t, err)

	_, err = svc.ReleaseTokenLock(ctx, "u1")
	assert.ErrorIs(t, err, apperrors.ErrTokensStillLocked)

	clock.t = testNow.AddDate(0, 0, 91)
	res, err := svc.ReleaseTokenLock(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, res.ReleasedAmount)
	assert.Equal(t, tiers.Starter, res.NewTier)

	_, err = svc.ReleaseTokenLock(ctx, "u1")
	assert.ErrorIs(t, err, apperrors.ErrNoActiveTokenLock)
}

func TestReleaseTokenLock_KeepsPaidTier(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterTokenLock(ctx, "u1", tiers.Business, 50000, "0xabc")
	require.NoError(t, err)
	_, err = svc.ApplyBillingEvent(ctx, checkout("u1", tiers.Creator, PeriodYearly))
	require.NoError(t, err)

	clock.t = testNow.AddDate(0, 0, 181)
	res, err := svc.ReleaseTokenLock(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, tiers.Creator, res.NewTier)
}

// ==========================
// Trial
// ==========================

func TestStartTrial(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	res, err := svc.StartTrial(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, tiers.Creator, res.Tier)
	assert.Equal(t, testNow.AddDate(0, 0, 14), res.TrialEndsAt)
	assert.Equal(t, 14, res.DaysRemaining)

	st, _ := store.Get(ctx, "u1")
	assert.Equal(t, tiers.Creator, st.EffectiveTier(svc.Catalog(), testNow))

	_, err = svc.StartTrial(ctx, "u1", tiers.Business)
	assert.ErrorIs(t, err, apperrors.ErrTrialAlreadyUsed)

	clock.t = testNow.AddDate(0, 0, 15)
	st, _ = store.Get(ctx, "u1")
	assert.Equal(t, tiers.Starter, st.EffectiveTier(svc.Catalog(), clock.t))
}

func TestStartTrial_RejectsDefaultAndUnknownTiers(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, tier := range []tiers.ID{tiers.Starter, "GOLD"} {
		_, err := svc.StartTrial(context.Background(), "u1", tier)
		assert.ErrorIs(t, err, apperrors.ErrInvalidTierForUpgrade, string(tier))
	}
}

func TestStartTrial_DoesNotDowngradeActivePaidTier(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApplyBillingEvent(ctx, checkout("u1", tiers.Business, PeriodMonthly))
	require.NoError(t, err)
	_, err = svc.StartTrial(ctx, "u1", tiers.Creator)
	require.NoError(t, err)

	st, err := svc.State(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, tiers.Business, st.EffectiveTier(svc.Catalog(), testNow))
}

func TestStartTrial_ExpiresBackToPaidTier(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApplyBillingEvent(ctx, checkout("u1", tiers.Creator, PeriodMonthly))
	require.NoError(t, err)
	_, err = svc.StartTrial(ctx, "u1", tiers.Business)
	require.NoError(t, err)

	st, err := svc.State(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, tiers.Creator, st.PaidTier)
	assert.Equal(t, testNow.AddDate(0, 1, 0), *st.PaidTierExpiresAt)
	assert.Equal(t, tiers.Business, st.EffectiveTier(svc.Catalog(), testNow))

	clock.t = testNow.AddDate(0, 0, 20)
	st, err = svc.State(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, st.TrialActive(clock.t))
	assert.Equal(t, tiers.Creator, st.EffectiveTier(svc.Catalog(), clock.t))

	clock.t = testNow.AddDate(0, 1, 1)
	assert.Equal(t, tiers.Starter, st.EffectiveTier(svc.Catalog(), clock.t))
}

// ==========================
// Store failures
// ==========================

type failingStore struct{ *MemoryStore }

func (f *failingStore) Update(context.Context, string, func(*State) error) (*State, error) {
	return nil, errors.New("connection reset")
}

func TestRegisterTokenLock_StoreFailure(t *testing.T) {
	svc := NewService(&failingStore{MemoryStore: NewMemoryStore()}, tiers.DefaultCatalog(), logger.NewNoOpLogger())
	_, err := svc.RegisterTokenLock(context.Background(), "u1", tiers.Creator, 5000, "0x1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeStoreUnavailable, apperrors.AsStandardError(err).Code)
}
