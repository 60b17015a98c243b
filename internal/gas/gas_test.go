package gas

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	httpclient "bezhas-entitlements/internal/common/http"
	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/tiers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type stubOracle struct {
	calls int64
	price float64
	err   error
	gate  chan struct{}
}

func (s *stubOracle) FetchPrice(ctx context.Context) (float64, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.gate != nil {
		<-s.gate
	}
	return s.price, s.err
}

type fixedPrice float64

func (f fixedPrice) Price(context.Context) float64 { return float64(f) }

// ==========================
// Oracle
// ==========================

func TestHTTPOracle_FallsThroughFeeLevels(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    float64
		wantErr bool
	}{
		{"fast", `{"fast":{"maxFee":120.5},"standard":{"maxFee":80}}`, 120.5, false},
		{"standard", `{"fast":{},"standard":{"maxFee":80},"safeLow":{"maxFee":40}}`, 80, false},
		{"safeLow", `{"safeLow":{"maxFee":40}}`, 40, false},
		{"empty", `{}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			o := NewHTTPOracle(httpclient.NewClient(time.Second), srv.URL)
			got, err := o.FetchPrice(context.Background())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoPrice)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPOracle_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	o := NewHTTPOracle(httpclient.NewClient(time.Second), srv.URL)
	_, err := o.FetchPrice(context.Background())
	assert.Error(t, err)
}

// ==========================
// Price cache
// ==========================

func TestPriceCache_ServesWithinTTL(t *testing.T) {
	oracle := &stubOracle{price: 45}
	c := NewPriceCache(oracle, CacheConfig{}, logger.NewTestLogger(t))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	assert.Equal(t, 45.0, c.Price(context.Background()))
	assert.Equal(t, 45.0, c.Price(context.Background()))
	assert.Equal(t, int64(1), atomic.LoadInt64(&oracle.calls))

	now = now.Add(11 * time.Second)
	oracle.price = 60
	assert.Equal(t, 60.0, c.Price(context.Background()))
	assert.Equal(t, int64(2), atomic.LoadInt64(&oracle.calls))
}

func TestPriceCache_FallbackOnError(t *testing.T) {
	oracle := &stubOracle{err: errors.New("timeout")}
	c := NewPriceCache(oracle, CacheConfig{DefaultPrice: 30}, logger.NewTestLogger(t))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	assert.Equal(t, 30.0, c.Price(context.Background()), "no cached price yet")

	oracle.err = nil
	oracle.price = 70
	assert.Equal(t, 70.0, c.Price(context.Background()))

	now = now.Add(time.Minute)
	oracle.err = errors.New("timeout")
	assert.Equal(t, 70.0, c.Price(context.Background()), "last good price")
}

func TestPriceCache_ClampsAndRejectsNonPositive(t *testing.T) {
	oracle := &stubOracle{price: 9000}
	c := NewPriceCache(oracle, CacheConfig{}, logger.NewNoOpLogger())
	assert.Equal(t, 500.0, c.Price(context.Background()))

	zero := NewPriceCache(&stubOracle{price: 0}, CacheConfig{}, logger.NewNoOpLogger())
	assert.Equal(t, 30.0, zero.Price(context.Background()))
}

func TestPriceCache_SingleFlight(t *testing.T) {
	oracle := &stubOracle{price: 50, gate: make(chan struct{})}
	c := NewPriceCache(oracle, CacheConfig{}, logger.NewNoOpLogger())

	const callers = 20
	var wg sync.WaitGroup
	results := make([]float64, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Price(context.Background())
		}(i)
	}

	// Let the callers pile up behind the in-flight fetch.
	require.Eventually(t, func() bool { return atomic.LoadInt64(&oracle.calls) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(oracle.gate)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 50.0, r)
	}
	assert.LessOrEqual(t, atomic.LoadInt64(&oracle.calls), int64(2))
}

// ==========================
// Estimator
// ==========================

func TestEstimateGasCost(t *testing.T) {
	e := NewEstimator(fixedPrice(30), tiers.DefaultCatalog(), tiers.DefaultPolicy())
	ctx := context.Background()

	starter := e.EstimateGasCost(ctx, 100000, tiers.Starter)
	assert.Equal(t, 0.003, starter.GasCostNative)
	assert.Equal(t, 0.003, starter.GasCostUSD)
	assert.Equal(t, 0.0, starter.SubsidyPercent)
	assert.Equal(t, 0.003, starter.UserPaysUSD)
	assert.Equal(t, 0.06, starter.UserPaysBEZ)
	assert.False(t, starter.GasFree)

	creator := e.EstimateGasCost(ctx, 100000, tiers.Creator)
	assert.Equal(t, 25.0, creator.SubsidyPercent)
	assert.Equal(t, 0.0008, creator.SubsidyUSD)
	assert.Equal(t, 0.0023, creator.UserPaysUSD)
	assert.Equal(t, tiers.Bounded(5), creator.MaxSubsidyPerTx)

	unknown := e.EstimateGasCost(ctx, 100000, "PLATINUM")
	assert.Equal(t, tiers.Starter, unknown.Tier)
	assert.Equal(t, 0.0, unknown.SubsidyUSD)
}

func TestEstimateGasCost_TopTierIsGasFree(t *testing.T) {
	e := NewEstimator(fixedPrice(123.45), tiers.DefaultCatalog(), tiers.DefaultPolicy())
	for _, limit := range []int64{21000, 100000, 5000000, 0} {
		est := e.EstimateGasCost(context.Background(), limit, tiers.Business)
		assert.True(t, est.GasFree)
		assert.Equal(t, 0.0, est.UserPaysUSD)
		assert.Equal(t, 0.0, est.UserPaysBEZ)
		assert.True(t, est.PriorityFee)
	}
}

func TestZeroSubsidy(t *testing.T) {
	e := NewEstimator(fixedPrice(30), tiers.DefaultCatalog(), tiers.DefaultPolicy())
	est := e.ZeroSubsidy(context.Background(), 100000)
	assert.Equal(t, 0.003, est.UserPaysUSD)
	assert.Equal(t, 0.0, est.SubsidyPercent)
	assert.False(t, est.GasFree)
}
