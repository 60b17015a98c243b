package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/subscription"
	"bezhas-entitlements/internal/tiers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmail struct {
	to, subject string
	calls       int
	err         error
}

func (f *fakeEmail) SendPlainEmail(_ context.Context, _, to, subject, _ string) (string, error) {
	f.calls++
	f.to, f.subject = to, subject
	return "msg-1", f.err
}

type fakePublisher struct {
	topic, eventType string
	msg              interface{}
	calls            int
}

func (f *fakePublisher) PublishJSON(_ context.Context, topicARN, eventType string, v interface{}) (string, error) {
	f.calls++
	f.topic, f.eventType, f.msg = topicARN, eventType, v
	return "pub-1", nil
}

func newNotifier(t *testing.T, email *fakeEmail, pub *fakePublisher) *AWSNotifier {
	n := NewAWSNotifier(email, "billing@bezhas.com", pub, "arn:aws:sns:us-east-1:1:tiers", logger.NewTestLogger(t))
	n.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	return n
}

func TestNotify_PaymentFailedSendsEmail(t *testing.T) {
	email, pub := &fakeEmail{}, &fakePublisher{}
	n := newNotifier(t, email, pub)

	err := n.Notify(context.Background(), &subscription.Outcome{
		Type:         subscription.EventPaymentFailed,
		UserID:       "u1",
		Email:        "u1@example.com",
		PreviousTier: tiers.Creator,
		NewTier:      tiers.Creator,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, email.calls)
	assert.Equal(t, "u1@example.com", email.to)
	assert.Equal(t, 0, pub.calls)
}

func TestNotify_TierChangePublishes(t *testing.T) {
	email, pub := &fakeEmail{}, &fakePublisher{}
	n := newNotifier(t, email, pub)

	err := n.Notify(context.Background(), &subscription.Outcome{
		Type:         subscription.EventSubscriptionDeleted,
		UserID:       "u1",
		PreviousTier: tiers.Business,
		NewTier:      tiers.Starter,
		Applied:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, email.calls)
	require.Equal(t, 1, pub.calls)
	assert.Equal(t, EventTierChanged, pub.eventType)

	msg := pub.msg.(TierChange)
	assert.Equal(t, "BUSINESS", msg.PreviousTier)
	assert.Equal(t, "STARTER", msg.NewTier)
	assert.Equal(t, "subscription.deleted", msg.Cause)
}

func TestNotify_NothingToSay(t *testing.T) {
	email, pub := &fakeEmail{}, &fakePublisher{}
	n := newNotifier(t, email, pub)

	require.NoError(t, n.Notify(context.Background(), &subscription.Outcome{
		Type:         subscription.EventSubscriptionUpdated,
		PreviousTier: tiers.Creator,
		NewTier:      tiers.Creator,
		Applied:      true,
	}))
	require.NoError(t, n.Notify(context.Background(), nil))
	assert.Zero(t, email.calls+pub.calls)
}

func TestNotify_EmailErrorReturned(t *testing.T) {
	email := &fakeEmail{err: errors.New("throttled")}
	n := NewAWSNotifier(email, "billing@bezhas.com", nil, "", logger.NewNoOpLogger())

	err := n.Notify(context.Background(), &subscription.Outcome{
		Type:  subscription.EventPaymentFailed,
		Email: "u@example.com",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
