// Package ai calls the platform text-generation service on behalf of gated routes.
package ai

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apihttp "bezhas-entitlements/internal/common/http"
	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/cost"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEmptyPrompt      = errors.New("prompt is required")
	ErrGenerationFailed = errors.New("text generation failed")
)

const (
	generatePath    = "/api/ai/generate"
	defaultMaxToken = 1024
	cachePrefix     = "ai:inference:"
)

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	MaxTokens  int
	// CacheTTL of zero disables response caching.
	CacheTTL time.Duration
}

type Request struct {
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type Result struct {
	Text   string     `json:"text"`
	Model  string     `json:"model"`
	Usage  cost.Usage `json:"usage"`
	Cached bool       `json:"cached"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

type Generator struct {
	client *apihttp.Client
	cfg    Config
	cache  redis.Cmdable
	logger logger.Logger
}

// NewGenerator builds a client for cfg.BaseURL. cache may be nil.
func NewGenerator(cfg Config, cache redis.Cmdable, log logger.Logger) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxToken
	}
	return &Generator{
		client: apihttp.NewClient(cfg.Timeout).WithRetries(cfg.MaxRetries),
		cfg:    cfg,
		cache:  cache,
		logger: log.WithFields(map[string]interface{}{"component": "ai-generator"}),
	}
}

// Generate runs prompt on model. Token usage comes from the response when the
// service reports it and is estimated from text length otherwise.
func (g *Generator) Generate(ctx context.Context, prompt, model string) (*Result, error) {
	req := Request{Prompt: strings.TrimSpace(prompt), Model: model, MaxTokens: g.cfg.MaxTokens}
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}

	key := cacheKey(req)
	if res, ok := g.cached(ctx, key); ok {
		return res, nil
	}

	headers := map[string]string{}
	if g.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + g.cfg.APIKey
	}

	var resp generateResponse
	start := time.Now()
	if err := g.client.PostJSON(ctx, strings.TrimRight(g.cfg.BaseURL, "/")+generatePath, headers, req, &resp); err != nil {
		g.logger.WithError(err).Error("generation request failed", map[string]interface{}{"model": req.Model})
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	res := &Result{Text: resp.Text, Model: resp.Model}
	if res.Model == "" {
		res.Model = req.Model
	}
	if resp.Usage != nil {
		res.Usage = cost.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	} else {
		res.Usage = cost.Usage{InputTokens: estimateTokens(req.Prompt), OutputTokens: estimateTokens(resp.Text)}
	}

	g.logger.Info("generation completed", map[string]interface{}{
		"model":        res.Model,
		"inputTokens":  res.Usage.InputTokens,
		"outputTokens": res.Usage.OutputTokens,
		"durationMs":   time.Since(start).Milliseconds(),
	})

	g.store(ctx, key, res)
	return res, nil
}

// estimateTokens approximates four characters per token.
func estimateTokens(s string) int64 {
	n := int64(len(s)+3) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

func cacheKey(req Request) string {
	sum := md5.Sum([]byte(req.Model + "\x00" + req.Prompt))
	return cachePrefix + hex.EncodeToString(sum[:])
}

// cached answers repeated prompts without calling the service. A hit carries no
// token usage since nothing was generated.
func (g *Generator) cached(ctx context.Context, key string) (*Result, bool) {
	if g.cache == nil || g.cfg.CacheTTL <= 0 {
		return nil, false
	}
	raw, err := g.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.logger.WithError(err).Warn("inference cache read failed", nil)
		}
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false
	}
	res.Usage = cost.Usage{}
	res.Cached = true
	return &res, true
}

func (g *Generator) store(ctx context.Context, key string, res *Result) {
	if g.cache == nil || g.cfg.CacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, key, raw, g.cfg.CacheTTL).Err(); err != nil {
		g.logger.WithError(err).Warn("inference cache write failed", nil)
	}
}
