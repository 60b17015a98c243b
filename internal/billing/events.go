// Package billing connects the Stripe billing rail to subscription state.
package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"bezhas-entitlements/internal/subscription"
	"bezhas-entitlements/internal/tiers"

	"github.com/stripe/stripe-go/v76"
)

// Checkout metadata keys shared by CreateSession and the webhook.
const (
	metaUserID        = "userId"
	metaTier          = "tier"
	metaBillingPeriod = "billingPeriod"
	metaSource        = "source"

	sourceValue = "bezhas_subscription"
)

// Translate turns a verified Stripe event into a subscription.Event. The bool
// is false for event types the engine does not act on.
func Translate(e stripe.Event) (subscription.Event, bool, error) {
	ev := subscription.Event{ID: e.ID}

	switch e.Type {
	case "checkout.session.completed":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(e.Data.Raw, &s); err != nil {
			return ev, true, fmt.Errorf("decode checkout session: %w", err)
		}
		ev.Type = subscription.EventCheckoutCompleted
		ev.UserID = s.Metadata[metaUserID]
		ev.Tier = tiers.ID(s.Metadata[metaTier])
		ev.BillingPeriod = s.Metadata[metaBillingPeriod]
		ev.Email = s.CustomerEmail
		if ev.Email == "" && s.CustomerDetails != nil {
			ev.Email = s.CustomerDetails.Email
		}
		if s.Customer != nil {
			ev.CustomerID = s.Customer.ID
		}
		if s.Subscription != nil {
			ev.SubscriptionID = s.Subscription.ID
		}

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(e.Data.Raw, &sub); err != nil {
			return ev, true, fmt.Errorf("decode subscription: %w", err)
		}
		ev.Type = subscription.EventSubscriptionUpdated
		if e.Type == "customer.subscription.deleted" {
			ev.Type = subscription.EventSubscriptionDeleted
		}
		ev.SubscriptionID = sub.ID
		ev.Status = string(sub.Status)
		ev.Tier = tiers.ID(sub.Metadata[metaTier])
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		if sub.CurrentPeriodEnd > 0 {
			end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			ev.CurrentPeriodEnd = &end
		}

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(e.Data.Raw, &inv); err != nil {
			return ev, true, fmt.Errorf("decode invoice: %w", err)
		}
		ev.Type = subscription.EventPaymentFailed
		ev.Email = inv.CustomerEmail
		if inv.Customer != nil {
			ev.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			ev.SubscriptionID = inv.Subscription.ID
		}

	default:
		return ev, false, nil
	}

	return ev, true, nil
}
