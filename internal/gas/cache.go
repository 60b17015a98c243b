package gas

import (
	"context"
	"math"
	"sync"
	"time"

	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/common/metrics"

	"golang.org/x/sync/singleflight"
)

type CacheConfig struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	DefaultPrice float64
	MaxPrice     float64
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:          10 * time.Second,
		FetchTimeout: 5 * time.Second,
		DefaultPrice: 30,
		MaxPrice:     500,
	}
}

// PriceCache serves the oracle price for TTL. Concurrent refreshes share one
// upstream call. Price never fails: on oracle errors it serves the last good
// price, or the default when there is none.
type PriceCache struct {
	oracle Oracle
	cfg    CacheConfig
	logger logger.Logger
	now    func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	price     float64
	fetchedAt time.Time
	hasPrice  bool
}

func NewPriceCache(oracle Oracle, cfg CacheConfig, log logger.Logger) *PriceCache {
	def := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.DefaultPrice <= 0 {
		cfg.DefaultPrice = def.DefaultPrice
	}
	if cfg.MaxPrice <= 0 {
		cfg.MaxPrice = def.MaxPrice
	}
	return &PriceCache{
		oracle: oracle,
		cfg:    cfg,
		logger: log.WithFields(map[string]interface{}{"component": "gas-oracle"}),
		now:    time.Now,
	}
}

func (c *PriceCache) cached() (float64, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fresh := c.hasPrice && c.now().Sub(c.fetchedAt) < c.cfg.TTL
	return c.price, c.hasPrice, fresh
}

// Price returns the current gas price in gwei.
func (c *PriceCache) Price(ctx context.Context) float64 {
	if price, _, fresh := c.cached(); fresh {
		return price
	}

	v, _, _ := c.group.Do("gas-price", func() (interface{}, error) {
		return c.refresh(ctx), nil
	})
	return v.(float64)
}

func (c *PriceCache) refresh(ctx context.Context) float64 {
	// Callers share this fetch, so one caller's cancellation must not fail the rest.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
	defer cancel()

	price, err := c.oracle.FetchPrice(fetchCtx)
	if err == nil && (price <= 0 || math.IsNaN(price) || math.IsInf(price, 0)) {
		err = ErrNoPrice
	}
	if err != nil {
		metrics.GasOracleFetches.WithLabelValues("error").Inc()
		last, ok, _ := c.cached()
		fallback := c.cfg.DefaultPrice
		if ok {
			fallback = last
		}
		c.logger.Warn("gas oracle fetch failed, serving fallback price", map[string]interface{}{
			"error":    err.Error(),
			"fallback": fallback,
		})
		return fallback
	}

	price = math.Min(price, c.cfg.MaxPrice)
	metrics.GasOracleFetches.WithLabelValues("ok").Inc()
	metrics.GasPriceGwei.Set(price)

	c.mu.Lock()
	c.price = price
	c.fetchedAt = c.now()
	c.hasPrice = true
	c.mu.Unlock()
	return price
}
