package usage

import (
	"context"
	"time"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/tiers"
)

const aiRateWindow = 24 * time.Hour

// AIRateLimiter caps AI queries per UTC day at the tier's daily allowance.
// It is separate from the operation counters.
type AIRateLimiter struct {
	backend Backend
	catalog *tiers.Catalog
	now     func() time.Time
}

func NewAIRateLimiter(backend Backend, catalog *tiers.Catalog, now func() time.Time) *AIRateLimiter {
	if now == nil {
		now = time.Now
	}
	return &AIRateLimiter{backend: backend, catalog: catalog, now: now}
}

func aiRateKey(userID string, now time.Time) string {
	return "ratelimit:ai:" + userID + ":" + PeriodKey(PeriodDay, now)
}

func (l *AIRateLimiter) Check(ctx context.Context, userID string, tier tiers.ID) (*Status, error) {
	now := l.now()
	current, err := l.backend.Get(ctx, aiRateKey(userID, now))
	if err != nil {
		return nil, apperrors.NewCounterUnavailableError(err)
	}
	def := l.catalog.Get(tier)
	limit := def.AI.DailyQueries
	return &Status{
		Allowed:     limit.Allows(current),
		Current:     current,
		Limit:       limit,
		Remaining:   limit.Remaining(current),
		PercentUsed: limit.PercentUsed(current),
		ResetAt:     ResetAt(PeriodDay, now),
		LimitType:   "aiQueriesPerDay",
		Tier:        def.ID,
	}, nil
}

// Record counts one query unless the tier's daily ceiling is already reached,
// so concurrent requests that all passed Check cannot overshoot it.
func (l *AIRateLimiter) Record(ctx context.Context, userID string, tier tiers.ID) error {
	now := l.now()
	def := l.catalog.Get(tier)
	limit := def.AI.DailyQueries
	current, ok, err := l.backend.IncrementIfBelow(ctx, aiRateKey(userID, now), 1, limit, aiRateWindow)
	if err != nil {
		return apperrors.NewCounterUnavailableError(err)
	}
	if !ok {
		return apperrors.NewAIRateLimitError(ResetAt(PeriodDay, now)).
			WithMetadata("current", current).
			WithMetadata("limit", limit).
			WithMetadata("remaining", 0).
			WithMetadata("tier", def.ID)
	}
	return nil
}
