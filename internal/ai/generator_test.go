package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/cost"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, calls *int32, handler func(w http.ResponseWriter, req Request)) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/api/ai/generate", r.URL.Path)
		assert.Equal(t, "Bearer genai-key", r.Header.Get("Authorization"))
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate_ReportedUsage(t *testing.T) {
	var calls int32
	srv := newService(t, &calls, func(w http.ResponseWriter, req Request) {
		assert.Equal(t, "gpt-4", req.Model)
		assert.Equal(t, 1024, req.MaxTokens)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"text":  "Hello creator",
			"model": "gpt-4",
			"usage": map[string]int{"input_tokens": 12, "output_tokens": 40},
		})
	})

	g := NewGenerator(Config{BaseURL: srv.URL + "/", APIKey: "genai-key", Timeout: time.Second}, nil, logger.NewTestLogger(t))
	res, err := g.Generate(context.Background(), "  say hi ", "gpt-4")
	require.NoError(t, err)

	assert.Equal(t, "Hello creator", res.Text)
	assert.Equal(t, "gpt-4", res.Model)
	assert.Equal(t, cost.Usage{InputTokens: 12, OutputTokens: 40}, res.Usage)
	assert.False(t, res.Cached)
}

func TestGenerate_EstimatesMissingUsage(t *testing.T) {
	var calls int32
	srv := newService(t, &calls, func(w http.ResponseWriter, req Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "0123456789"})
	})

	g := NewGenerator(Config{BaseURL: srv.URL, APIKey: "genai-key", Timeout: time.Second}, nil, logger.NewTestLogger(t))
	res, err := g.Generate(context.Background(), "abcdefgh", "claude-3-haiku")
	require.NoError(t, err)

	assert.Equal(t, "claude-3-haiku", res.Model)
	assert.Equal(t, int64(2), res.Usage.InputTokens)
	assert.Equal(t, int64(3), res.Usage.OutputTokens)
}

func TestGenerate_RetriesThenFails(t *testing.T) {
	var calls int32
	srv := newService(t, &calls, func(w http.ResponseWriter, req Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	g := NewGenerator(Config{BaseURL: srv.URL, APIKey: "genai-key", Timeout: time.Second, MaxRetries: 1}, nil, logger.NewTestLogger(t))
	_, err := g.Generate(context.Background(), "hi", "gpt-4")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGenerationFailed))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	g := NewGenerator(Config{BaseURL: "http://unused"}, nil, logger.NewNoOpLogger())
	_, err := g.Generate(context.Background(), "   ", "gpt-4")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestGenerate_CachesResponses(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var calls int32
	srv := newService(t, &calls, func(w http.ResponseWriter, req Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"text":  "cached answer",
			"usage": map[string]int{"input_tokens": 5, "output_tokens": 7},
		})
	})

	g := NewGenerator(Config{BaseURL: srv.URL, APIKey: "genai-key", Timeout: time.Second, CacheTTL: time.Hour}, rdb, logger.NewTestLogger(t))
	ctx := context.Background()

	first, err := g.Generate(ctx, "same", "gpt-4")
	require.NoError(t, err)
	second, err := g.Generate(ctx, "same", "gpt-4")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, "cached answer", second.Text)
	assert.Equal(t, cost.Usage{}, second.Usage)
	assert.Equal(t, time.Hour, mr.TTL(cacheKey(Request{Prompt: "same", Model: "gpt-4"})))

	_, err = g.Generate(ctx, "same", "gpt-4-turbo")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "the model is part of the cache key")
}
