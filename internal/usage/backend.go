package usage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/common/metrics"
	"bezhas-entitlements/internal/tiers"

	"github.com/redis/go-redis/v9"
)

// Backend is the atomic counter primitive. IncrementIfBelow adds amount only when
// the stored value is below limit, and reports the value it saw or produced.
type Backend interface {
	Get(ctx context.Context, key string) (int64, error)
	IncrementIfBelow(ctx context.Context, key string, amount int64, limit tiers.Limit, ttl time.Duration) (value int64, ok bool, err error)
}

// incrementIfBelowScript returns {1, new} on success and {0, current} when refused.
// A negative limit means unbounded.
var incrementIfBelowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[2])
if limit >= 0 and current >= limit then
	return {0, current}
end
local value = redis.call('INCRBY', KEYS[1], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return {1, value}
`)

type RedisBackend struct {
	client redis.Cmdable
}

func NewRedisBackend(client redis.Cmdable) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) (int64, error) {
	n, err := b.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (b *RedisBackend) IncrementIfBelow(ctx context.Context, key string, amount int64, limit tiers.Limit, ttl time.Duration) (int64, bool, error) {
	ceiling := "-1"
	if v, bounded := limit.Value(); bounded {
		ceiling = strconv.FormatFloat(v, 'f', -1, 64)
	}
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	res, err := incrementIfBelowScript.Run(ctx, b.client, []string{key}, amount, ceiling, seconds).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, errors.New("unexpected counter script reply")
	}
	return res[1], res[0] == 1, nil
}

type memoryEntry struct {
	value   int64
	expires time.Time
}

// MemoryBackend counts in process. It is the development backend and the
// fallback when Redis is unreachable.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryBackend) current(key string) int64 {
	e, ok := m.entries[key]
	if !ok {
		return 0
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return 0
	}
	return e.value
}

func (m *MemoryBackend) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current(key), nil
}

func (m *MemoryBackend) IncrementIfBelow(_ context.Context, key string, amount int64, limit tiers.Limit, ttl time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.current(key)
	if !limit.Allows(cur) {
		return cur, false, nil
	}
	e := memoryEntry{value: cur + amount}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return e.value, true, nil
}

// FallbackBackend serves from primary and switches to fallback per call when
// primary errors. Counts taken by the fallback are local to this process.
type FallbackBackend struct {
	primary  Backend
	fallback Backend
	logger   logger.Logger
}

func NewFallbackBackend(primary, fallback Backend, log logger.Logger) *FallbackBackend {
	return &FallbackBackend{
		primary:  primary,
		fallback: fallback,
		logger:   log.WithFields(map[string]interface{}{"component": "usage-backend"}),
	}
}

func (f *FallbackBackend) Get(ctx context.Context, key string) (int64, error) {
	n, err := f.primary.Get(ctx, key)
	if err == nil {
		return n, nil
	}
	f.degraded("get", key, err)
	return f.fallback.Get(ctx, key)
}

func (f *FallbackBackend) IncrementIfBelow(ctx context.Context, key string, amount int64, limit tiers.Limit, ttl time.Duration) (int64, bool, error) {
	n, ok, err := f.primary.IncrementIfBelow(ctx, key, amount, limit, ttl)
	if err == nil {
		return n, ok, nil
	}
	f.degraded("increment", key, err)
	return f.fallback.IncrementIfBelow(ctx, key, amount, limit, ttl)
}

func (f *FallbackBackend) degraded(op, key string, err error) {
	metrics.CounterBackendFallbacks.Inc()
	f.logger.Warn("counter backend unavailable, using local fallback", map[string]interface{}{
		"op":    op,
		"key":   key,
		"error": err.Error(),
	})
}
