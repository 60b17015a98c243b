package billing

import (
	"context"
	"fmt"
	"math"
	"strings"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/subscription"
	"bezhas-entitlements/internal/tiers"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
)

// SessionCreator is satisfied by the stripe checkout session client.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeSessions returns a session client bound to secretKey instead of the package-global key.
func NewStripeSessions(secretKey string) SessionCreator {
	return &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
}

type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
}

type CheckoutService struct {
	sessions SessionCreator
	catalog  *tiers.Catalog
	cfg      CheckoutConfig
	logger   logger.Logger
}

// NewCheckoutService returns a service that answers BILLING_UNAVAILABLE when sessions is nil.
func NewCheckoutService(sessions SessionCreator, catalog *tiers.Catalog, cfg CheckoutConfig, log logger.Logger) *CheckoutService {
	return &CheckoutService{sessions: sessions, catalog: catalog, cfg: cfg, logger: log}
}

type CheckoutResult struct {
	CheckoutURL string `json:"checkoutUrl"`
	SessionID   string `json:"sessionId"`
}

// CreateSession opens a subscription checkout for tier. The default tier cannot be bought.
func (c *CheckoutService) CreateSession(ctx context.Context, userID, email string, tier tiers.ID, period string) (*CheckoutResult, error) {
	if c.sessions == nil {
		return nil, apperrors.NewBillingUnavailableError("stripe is not configured")
	}
	id, ok := c.catalog.Lookup(tier)
	if !ok || id == c.catalog.Default() {
		return nil, apperrors.NewInvalidTierForUpgradeError(string(tier))
	}
	if period != subscription.PeriodYearly {
		period = subscription.PeriodMonthly
	}
	def := c.catalog.Get(id)

	metadata := map[string]string{
		metaUserID:        userID,
		metaTier:          string(id),
		metaBillingPeriod: period,
		metaSource:        sourceValue,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(c.cfg.SuccessURL),
		CancelURL:          stripe.String(c.cfg.CancelURL),
		LineItems:          []*stripe.CheckoutSessionLineItemParams{lineItem(def, period)},
		Metadata:           metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metaUserID: userID, metaTier: string(id)},
		},
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.Context = ctx

	sess, err := c.sessions.New(params)
	if err != nil {
		c.logger.WithError(err).Error("stripe checkout session failed", map[string]interface{}{
			"userId": userID,
			"tier":   string(id),
		})
		return nil, apperrors.NewExternalServiceError("stripe", err)
	}

	c.logger.Info("checkout session created", map[string]interface{}{
		"userId":    userID,
		"tier":      string(id),
		"period":    period,
		"sessionId": sess.ID,
	})
	return &CheckoutResult{CheckoutURL: sess.URL, SessionID: sess.ID}, nil
}

// lineItem uses the configured price id, or inline price data while the
// catalog still carries the placeholder id.
func lineItem(def tiers.Definition, period string) *stripe.CheckoutSessionLineItemParams {
	priceID, amount, interval := def.Price.StripePriceMonthly, def.Price.Monthly, "month"
	if period == subscription.PeriodYearly {
		priceID, amount, interval = def.Price.StripePriceYearly, def.Price.Yearly, "year"
	}

	if !isPlaceholderPrice(priceID, def.ID, period) {
		return &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}
	}

	currency := strings.ToLower(def.Price.Currency)
	if currency == "" {
		currency = "usd"
	}
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency: stripe.String(currency),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name:        stripe.String("BeZhas " + def.DisplayName),
				Description: stripe.String(def.Description),
				Metadata:    map[string]string{metaTier: string(def.ID), "type": "subscription"},
			},
			UnitAmount: stripe.Int64(int64(math.Round(amount * 100))),
			Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String(interval),
			},
		},
		Quantity: stripe.Int64(1),
	}
}

// isPlaceholderPrice matches an unset id or the price_<tier>_<period> default.
func isPlaceholderPrice(priceID string, tier tiers.ID, period string) bool {
	return priceID == "" || priceID == fmt.Sprintf("price_%s_%s", strings.ToLower(string(tier)), period)
}
