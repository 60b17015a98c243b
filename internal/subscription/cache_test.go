package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/tiers"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisCache(t *testing.T, inner Store) (*CachedStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewCachedStore(inner, rdb, 5*time.Minute, logger.NewTestLogger(t)), mr
}

func TestCachedStore_MissFillsCache(t *testing.T) {
	store, mr := newMiniredisCache(t, NewMemoryStore())

	st, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", st.UserID)

	raw, err := mr.Get("sub:u1")
	require.NoError(t, err)
	var cached State
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, "u1", cached.UserID)
	assert.Equal(t, 5*time.Minute, mr.TTL("sub:u1"))
}

func TestCachedStore_HitSkipsInner(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	store := NewCachedStore(&failingStore{MemoryStore: NewMemoryStore()}, redisClient, time.Minute, logger.NewNoOpLogger())

	data, err := json.Marshal(&State{UserID: "u1", PaidTier: tiers.Business})
	require.NoError(t, err)
	redisMock.ExpectGet("sub:u1").SetVal(string(data))

	st, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, tiers.Business, st.PaidTier)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestCachedStore_RedisErrorFallsThrough(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	store := NewCachedStore(NewMemoryStore(), redisClient, time.Minute, logger.NewNoOpLogger())

	redisMock.ExpectGet("sub:u1").SetErr(errors.New("connection refused"))
	redisMock.ExpectGet("sub:ver:u1").SetErr(errors.New("connection refused"))

	st, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", st.UserID)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestCachedStore_UpdateInvalidates(t *testing.T) {
	store, mr := newMiniredisCache(t, NewMemoryStore())
	ctx := context.Background()

	_, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, mr.Exists("sub:u1"))

	st, err := store.Update(ctx, "u1", func(s *State) error {
		s.PaidTier = tiers.Creator
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, tiers.Creator, st.PaidTier)
	assert.False(t, mr.Exists("sub:u1"))

	ver, err := mr.Get("sub:ver:u1")
	require.NoError(t, err)
	assert.Equal(t, "1", ver)

	st, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, tiers.Creator, st.PaidTier)
	assert.True(t, mr.Exists("sub:u1"))
}

// racingStore runs onGet after reading, so the returned document is already stale.
type racingStore struct {
	*MemoryStore
	onGet func()
}

func (r *racingStore) Get(ctx context.Context, userID string) (*State, error) {
	s, err := r.MemoryStore.Get(ctx, userID)
	if r.onGet != nil {
		hook := r.onGet
		r.onGet = nil
		hook()
	}
	return s, err
}

func TestCachedStore_StaleReadIsNotCached(t *testing.T) {
	ctx := context.Background()
	exp := testNow.AddDate(0, 1, 0)
	inner := &racingStore{MemoryStore: NewMemoryStore()}
	_, err := inner.MemoryStore.Update(ctx, "u1", func(s *State) error {
		s.PaidTier = tiers.Business
		s.PaidTierExpiresAt = &exp
		return nil
	})
	require.NoError(t, err)

	store, mr := newMiniredisCache(t, inner)
	inner.onGet = func() {
		_, err := store.Update(ctx, "u1", func(s *State) error {
			s.PaidTier = tiers.Starter
			s.PaidTierExpiresAt = nil
			return nil
		})
		require.NoError(t, err)
	}

	stale, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, tiers.Business, stale.PaidTier)
	assert.False(t, mr.Exists("sub:u1"))

	fresh, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, tiers.Starter, fresh.PaidTier)
}
