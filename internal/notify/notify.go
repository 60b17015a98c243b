// Package notify tells users and downstream systems about billing outcomes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/subscription"
)

const (
	EventTierChanged   = "subscription.tier_changed"
	EventPaymentFailed = "subscription.payment_failed"
)

type Notifier interface {
	Notify(ctx context.Context, outcome *subscription.Outcome) error
}

type Nop struct{}

func (Nop) Notify(context.Context, *subscription.Outcome) error { return nil }

// EmailSender is satisfied by aws.SESClient.
type EmailSender interface {
	SendPlainEmail(ctx context.Context, from, to, subject, body string) (string, error)
}

// Publisher is satisfied by aws.SNSClient.
type Publisher interface {
	PublishJSON(ctx context.Context, topicARN, eventType string, v interface{}) (string, error)
}

// TierChange is the message published when a billing event moved a user's tier.
type TierChange struct {
	UserID       string    `json:"userId"`
	PreviousTier string    `json:"previousTier"`
	NewTier      string    `json:"newTier"`
	Cause        string    `json:"cause"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// AWSNotifier emails payment failures through SES and publishes tier changes to SNS.
// Either channel may be nil.
type AWSNotifier struct {
	email     EmailSender
	fromEmail string
	publisher Publisher
	topicARN  string
	logger    logger.Logger
	now       func() time.Time
}

func NewAWSNotifier(email EmailSender, fromEmail string, publisher Publisher, topicARN string, log logger.Logger) *AWSNotifier {
	return &AWSNotifier{
		email:     email,
		fromEmail: fromEmail,
		publisher: publisher,
		topicARN:  topicARN,
		logger:    log,
		now:       time.Now,
	}
}

func (n *AWSNotifier) Notify(ctx context.Context, o *subscription.Outcome) error {
	if o == nil {
		return nil
	}
	var errs []error

	if o.Type == subscription.EventPaymentFailed && o.Email != "" && n.email != nil {
		id, err := n.email.SendPlainEmail(ctx, n.fromEmail, o.Email, "Your BeZhas payment failed", paymentFailedBody(o))
		if err != nil {
			errs = append(errs, fmt.Errorf("send payment failed email: %w", err))
		} else {
			n.logger.Info("payment failure email sent", map[string]interface{}{"userId": o.UserID, "messageId": id})
		}
	}

	if o.TierChanged() && n.publisher != nil {
		msg := TierChange{
			UserID:       o.UserID,
			PreviousTier: string(o.PreviousTier),
			NewTier:      string(o.NewTier),
			Cause:        string(o.Type),
			OccurredAt:   n.now().UTC(),
		}
		id, err := n.publisher.PublishJSON(ctx, n.topicARN, EventTierChanged, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish tier change: %w", err))
		} else {
			n.logger.Info("tier change published", map[string]interface{}{"userId": o.UserID, "messageId": id})
		}
	}

	return errors.Join(errs...)
}

func paymentFailedBody(o *subscription.Outcome) string {
	return fmt.Sprintf(`Hello,

We could not charge your payment method for your %s subscription.
Please update your billing details to keep your benefits.

The BeZhas team
`, o.NewTier)
}
