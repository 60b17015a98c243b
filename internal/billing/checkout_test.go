package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/subscription"
	"bezhas-entitlements/internal/tiers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

type fakeSessions struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}, nil
}

func newCheckout(t *testing.T, sessions SessionCreator, catalog *tiers.Catalog) *CheckoutService {
	return NewCheckoutService(sessions, catalog, CheckoutConfig{
		SuccessURL: "https://bezhas.com/vip/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://bezhas.com/vip/cancel",
	}, logger.NewTestLogger(t))
}

// ==========================
// Checkout Sessions
// ==========================

func TestCreateSession_PlaceholderPriceUsesPriceData(t *testing.T) {
	tests := []struct {
		name       string
		tier       tiers.ID
		period     string
		wantAmount int64
		wantEvery  string
	}{
		{"creator monthly", tiers.Creator, subscription.PeriodMonthly, 1499, "month"},
		{"creator yearly", tiers.Creator, subscription.PeriodYearly, 14999, "year"},
		{"business monthly", tiers.Business, subscription.PeriodMonthly, 9999, "month"},
		{"unknown period is monthly", tiers.Business, "weekly", 9999, "month"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &fakeSessions{}
			res, err := newCheckout(t, sessions, tiers.DefaultCatalog()).
				CreateSession(context.Background(), "u1", "u1@example.com", tt.tier, tt.period)
			require.NoError(t, err)
			assert.Equal(t, "cs_test_1", res.SessionID)
			assert.Equal(t, "https://checkout.stripe.com/c/cs_test_1", res.CheckoutURL)

			p := sessions.params
			require.NotNil(t, p)
			assert.Equal(t, "subscription", *p.Mode)
			assert.Equal(t, "u1@example.com", *p.CustomerEmail)
			require.Len(t, p.LineItems, 1)
			item := p.LineItems[0]
			assert.Nil(t, item.Price)
			require.NotNil(t, item.PriceData)
			assert.Equal(t, "usd", *item.PriceData.Currency)
			assert.Equal(t, tt.wantAmount, *item.PriceData.UnitAmount)
			assert.Equal(t, tt.wantEvery, *item.PriceData.Recurring.Interval)

			assert.Equal(t, "u1", p.Metadata["userId"])
			assert.Equal(t, string(tt.tier), p.Metadata["tier"])
			assert.Equal(t, "bezhas_subscription", p.Metadata["source"])
			assert.Equal(t, "u1", p.SubscriptionData.Metadata["userId"])
		})
	}
}

func TestCreateSession_ConfiguredPriceID(t *testing.T) {
	defs := tiers.DefaultDefinitions()
	for i := range defs {
		if defs[i].ID == tiers.Creator {
			defs[i].Price.StripePriceMonthly = "price_1PqRealCreator"
		}
	}
	catalog, err := tiers.NewCatalog(defs, tiers.Starter)
	require.NoError(t, err)

	sessions := &fakeSessions{}
	_, err = newCheckout(t, sessions, catalog).CreateSession(context.Background(), "u1", "", "creator", subscription.PeriodMonthly)
	require.NoError(t, err)

	item := sessions.params.LineItems[0]
	require.NotNil(t, item.Price)
	assert.Equal(t, "price_1PqRealCreator", *item.Price)
	assert.Nil(t, item.PriceData)
	assert.Nil(t, sessions.params.CustomerEmail)
	assert.Equal(t, "CREATOR", sessions.params.Metadata["tier"])
}

func TestCreateSession_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		sessions SessionCreator
		tier     tiers.ID
		wantCode apperrors.ErrorCode
	}{
		{"default tier", &fakeSessions{}, tiers.Starter, apperrors.ErrCodeInvalidTierUpgrade},
		{"unknown tier", &fakeSessions{}, "GOLD", apperrors.ErrCodeInvalidTierUpgrade},
		{"not configured", nil, tiers.Creator, apperrors.ErrCodeBillingUnavailable},
		{"stripe error", &fakeSessions{err: errors.New("card_declined")}, tiers.Creator, apperrors.ErrCodeExternalService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newCheckout(t, tt.sessions, tiers.DefaultCatalog()).
				CreateSession(context.Background(), "u1", "u1@example.com", tt.tier, subscription.PeriodMonthly)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.AsStandardError(err).Code)
		})
	}
}

func TestIsPlaceholderPrice(t *testing.T) {
	assert.True(t, isPlaceholderPrice("", tiers.Creator, "monthly"))
	assert.True(t, isPlaceholderPrice("price_business_yearly", tiers.Business, "yearly"))
	assert.False(t, isPlaceholderPrice("price_business_yearly", tiers.Business, "monthly"))
	assert.False(t, isPlaceholderPrice("price_1Abc", tiers.Creator, "monthly"))
}

// ==========================
// Event Translation
// ==========================

func rawEvent(t *testing.T, eventType string, object map[string]interface{}) stripe.Event {
	t.Helper()
	var e stripe.Event
	require.NoError(t, json.Unmarshal(stripeEvent(t, "evt_x", eventType, object), &e))
	return e
}

func TestTranslate(t *testing.T) {
	periodEnd := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		eventType   string
		object      map[string]interface{}
		wantHandled bool
		want        subscription.Event
	}{
		{
			name:      "checkout completed falls back to customer details email",
			eventType: "checkout.session.completed",
			object: map[string]interface{}{
				"id":               "cs_1",
				"customer":         "cus_1",
				"subscription":     "sub_1",
				"customer_details": map[string]interface{}{"email": "d@example.com"},
				"metadata":         map[string]string{"userId": "u1", "tier": "BUSINESS", "billingPeriod": "yearly"},
			},
			wantHandled: true,
			want: subscription.Event{
				ID: "evt_x", Type: subscription.EventCheckoutCompleted, UserID: "u1", Email: "d@example.com",
				Tier: tiers.Business, BillingPeriod: "yearly", CustomerID: "cus_1", SubscriptionID: "sub_1",
			},
		},
		{
			name:      "subscription updated",
			eventType: "customer.subscription.updated",
			object: map[string]interface{}{
				"id":                 "sub_1",
				"status":             "active",
				"customer":           "cus_1",
				"current_period_end": periodEnd.Unix(),
				"metadata":           map[string]string{"tier": "CREATOR"},
			},
			wantHandled: true,
			want: subscription.Event{
				ID: "evt_x", Type: subscription.EventSubscriptionUpdated, Tier: tiers.Creator,
				CustomerID: "cus_1", SubscriptionID: "sub_1", Status: "active", CurrentPeriodEnd: &periodEnd,
			},
		},
		{
			name:        "subscription deleted",
			eventType:   "customer.subscription.deleted",
			object:      map[string]interface{}{"id": "sub_2", "status": "canceled"},
			wantHandled: true,
			want:        subscription.Event{ID: "evt_x", Type: subscription.EventSubscriptionDeleted, SubscriptionID: "sub_2", Status: "canceled"},
		},
		{
			name:        "payment failed",
			eventType:   "invoice.payment_failed",
			object:      map[string]interface{}{"id": "in_1", "customer": "cus_3", "customer_email": "p@example.com"},
			wantHandled: true,
			want:        subscription.Event{ID: "evt_x", Type: subscription.EventPaymentFailed, Email: "p@example.com", CustomerID: "cus_3"},
		},
		{
			name:      "unhandled",
			eventType: "charge.refunded",
			object:    map[string]interface{}{"id": "ch_1"},
			want:      subscription.Event{ID: "evt_x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, handled, err := Translate(rawEvent(t, tt.eventType, tt.object))
			require.NoError(t, err)
			assert.Equal(t, tt.wantHandled, handled)
			assert.Equal(t, tt.want, got)
		})
	}
}
