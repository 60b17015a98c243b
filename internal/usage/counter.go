package usage

import (
	"context"
	"fmt"
	"time"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/common/metrics"
	"bezhas-entitlements/internal/tiers"
)

// Status is a usage snapshot for one limit.
type Status struct {
	Allowed     bool        `json:"allowed"`
	Current     int64       `json:"current"`
	Limit       tiers.Limit `json:"limit"`
	Remaining   tiers.Limit `json:"remaining"`
	PercentUsed float64     `json:"percentUsed"`
	ResetAt     time.Time   `json:"resetAt"`
	LimitType   string      `json:"limitType"`
	Tier        tiers.ID    `json:"tier"`
}

type Counter struct {
	backend Backend
	catalog *tiers.Catalog
	logger  logger.Logger
	now     func() time.Time
}

type Option func(*Counter)

func WithClock(now func() time.Time) Option {
	return func(c *Counter) { c.now = now }
}

func NewCounter(backend Backend, catalog *tiers.Catalog, log logger.Logger, opts ...Option) *Counter {
	c := &Counter{
		backend: backend,
		catalog: catalog,
		logger:  log.WithFields(map[string]interface{}{"component": "usage"}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Counter) CurrentUsage(ctx context.Context, userID, limitType string) (int64, error) {
	n, err := c.backend.Get(ctx, counterKey(userID, limitType, c.now()))
	if err != nil {
		return 0, apperrors.NewCounterUnavailableError(err)
	}
	return n, nil
}

// CheckLimit reports usage against the tier's ceiling without changing it.
// A limit the tier does not declare is treated as zero.
func (c *Counter) CheckLimit(ctx context.Context, userID string, tier tiers.ID, limitType string) (*Status, error) {
	current, err := c.CurrentUsage(ctx, userID, limitType)
	if err != nil {
		return nil, err
	}
	def := c.catalog.Get(tier)
	return c.status(def.ID, limitType, def.Limit(limitType), current), nil
}

func (c *Counter) status(tier tiers.ID, limitType string, limit tiers.Limit, current int64) *Status {
	return &Status{
		Allowed:     limit.Allows(current),
		Current:     current,
		Limit:       limit,
		Remaining:   limit.Remaining(current),
		PercentUsed: limit.PercentUsed(current),
		ResetAt:     ResetAt(PeriodFor(limitType), c.now()),
		LimitType:   limitType,
		Tier:        tier,
	}
}

// IncrementUsage adds amount unless usage already reached the limit, in which case
// the counter is untouched and a LIMIT_EXCEEDED error carries the snapshot.
// amount must be positive.
func (c *Counter) IncrementUsage(ctx context.Context, userID string, tier tiers.ID, limitType string, amount int64) (*Status, error) {
	if amount <= 0 {
		return nil, apperrors.NewInvalidRequestError(fmt.Sprintf("usage amount must be positive, got %d", amount))
	}
	now := c.now()
	def := c.catalog.Get(tier)
	limit := def.Limit(limitType)

	value, ok, err := c.backend.IncrementIfBelow(ctx, counterKey(userID, limitType, now), amount, limit, counterTTL(limitType, now))
	if err != nil {
		metrics.UsageIncrements.WithLabelValues(limitType, "error").Inc()
		return nil, apperrors.NewCounterUnavailableError(err)
	}

	st := c.status(def.ID, limitType, limit, value)
	if !ok {
		metrics.UsageIncrements.WithLabelValues(limitType, "exceeded").Inc()
		c.logger.Info("usage limit reached", map[string]interface{}{
			"userId":    userID,
			"tier":      string(def.ID),
			"limitType": limitType,
			"current":   value,
		})
		return st, apperrors.NewLimitExceededError(limitType, st.ResetAt).
			WithMetadata("current", value).
			WithMetadata("limit", limit).
			WithMetadata("tier", string(def.ID))
	}

	metrics.UsageIncrements.WithLabelValues(limitType, "ok").Inc()
	return st, nil
}
