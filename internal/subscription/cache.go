package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bezhas-entitlements/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

// versionTTL bounds how long a user's cache version survives without updates.
const versionTTL = 24 * time.Hour

// fillIfUnchangedScript writes KEYS[1] only while the version in KEYS[2] still
// equals ARGV[2], so a read that raced an update never stores the older document.
var fillIfUnchangedScript = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') ~= ARGV[2] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// CachedStore reads through a Redis copy of each document. Every update bumps a
// per-user version and drops the copy; fills from before the bump are discarded.
type CachedStore struct {
	inner  Store
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedStore(inner Store, rdb *redis.Client, ttl time.Duration, log logger.Logger) *CachedStore {
	return &CachedStore{
		inner:  inner,
		redis:  rdb,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "subscription-cache"}),
	}
}

func cacheKey(userID string) string {
	return "sub:" + userID
}

func versionKey(userID string) string {
	return "sub:ver:" + userID
}

func (c *CachedStore) Get(ctx context.Context, userID string) (*State, error) {
	key := cacheKey(userID)
	val, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var s State
		if err := json.Unmarshal(val, &s); err == nil {
			return &s, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("subscription cache read failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}

	// the version is read before the document so a concurrent update is detected
	version, verErr := c.redis.Get(ctx, versionKey(userID)).Result()
	if errors.Is(verErr, redis.Nil) {
		version, verErr = "0", nil
	}

	s, err := c.inner.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if verErr != nil {
		return s, nil
	}

	data, _ := json.Marshal(s)
	keys := []string{key, versionKey(userID)}
	if err := fillIfUnchangedScript.Run(ctx, c.redis, keys, data, version, c.ttl.Milliseconds()).Err(); err != nil {
		c.logger.Debug("subscription cache write failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
	return s, nil
}

func (c *CachedStore) Update(ctx context.Context, userID string, fn func(*State) error) (*State, error) {
	s, err := c.inner.Update(ctx, userID, fn)
	if err != nil {
		return nil, err
	}
	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(userID))
		pipe.Expire(ctx, versionKey(userID), versionTTL)
		pipe.Del(ctx, cacheKey(userID))
		return nil
	})
	if err != nil {
		c.logger.Warn("subscription cache invalidation failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
	return s, nil
}

func (c *CachedStore) FindByStripeSubscription(ctx context.Context, subscriptionID string) (*State, error) {
	return c.inner.FindByStripeSubscription(ctx, subscriptionID)
}

func (c *CachedStore) FindByStripeCustomer(ctx context.Context, customerID string) (*State, error) {
	return c.inner.FindByStripeCustomer(ctx, customerID)
}
