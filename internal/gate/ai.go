package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/common/metrics"
	"bezhas-entitlements/internal/cost"
	"bezhas-entitlements/internal/ledger"
	"bezhas-entitlements/internal/tiers"
	"bezhas-entitlements/internal/usage"

	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultAIModel is used when neither the body nor the route names a model.
	DefaultAIModel = "gpt-3.5-turbo"

	maxPeekBody = 1 << 20

	defaultEstimateInputTokens  = 500
	defaultEstimateOutputTokens = 500
)

// replayBody serves the peeked prefix followed by whatever was not read yet.
type replayBody struct {
	io.Reader
	io.Closer
}

// peekJSON decodes a JSON body of at most maxPeekBody bytes into dst and puts the
// whole body back for the handler. Longer bodies are left undecoded.
func peekJSON(r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
		return false
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBody+1))
	r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(raw), r.Body), Closer: r.Body}
	if err != nil || len(raw) == 0 || len(raw) > maxPeekBody {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func requestedModel(r *http.Request) string {
	var body struct {
		Model string `json:"model"`
	}
	if !peekJSON(r, &body) {
		return ""
	}
	return strings.TrimSpace(body.Model)
}

// AIAccess is attached by CheckAIAccess.
type AIAccess struct {
	Model     string
	RateLimit *usage.Status
	// Record counts one AI query. It fails with AI_RATE_LIMIT once the daily
	// ceiling was reached by concurrent requests.
	Record func(ctx context.Context) error
}

func AIAccessFrom(ctx context.Context) *AIAccess {
	a, _ := ctx.Value(aiAccessKey).(*AIAccess)
	return a
}

// CheckAIAccess verifies the requested model is in the caller's tier and the
// daily AI ceiling is not reached.
func (g *Gate) CheckAIAccess(defaultModel string) func(http.Handler) http.Handler {
	if defaultModel == "" {
		defaultModel = DefaultAIModel
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, done := g.stage(r, "ai_access")
			if !g.requireUser(w, r, "ai_access", done) {
				return
			}

			model := requestedModel(r)
			if model == "" {
				model = defaultModel
			}

			sub, r, err := g.subscription(r)
			if err != nil {
				done("error", err)
				g.deny(w, r, "ai_access", err)
				return
			}

			if !g.resolver.CheckModelAccess(sub.Tier, model) {
				done("deny", nil)
				g.deny(w, r, "ai_access", apperrors.NewModelNotAllowedError(model, string(sub.Tier), sub.Definition.AI.Models).
					WithMetadata("requestedModel", model).
					WithMetadata("upgradeUrl", "/vip"))
				return
			}

			rate, err := g.aiLimiter.Check(r.Context(), sub.UserID, sub.Tier)
			if err != nil {
				done("error", err)
				g.deny(w, r, "ai_access", err)
				return
			}
			if !rate.Allowed {
				done("deny", nil)
				g.deny(w, r, "ai_access", apperrors.NewAIRateLimitError(rate.ResetAt).
					WithMetadata("current", rate.Current).
					WithMetadata("limit", rate.Limit).
					WithMetadata("remaining", 0).
					WithMetadata("tier", sub.Tier).
					WithMetadata("upgradeUrl", "/vip"))
				return
			}

			user, tier := sub.UserID, sub.Tier
			access := &AIAccess{
				Model:     model,
				RateLimit: rate,
				Record: func(ctx context.Context) error {
					return g.aiLimiter.Record(ctx, user, tier)
				},
			}

			done("pass", nil)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), aiAccessKey, access)))
		})
	}
}

// ==========================
// Cost pre-authorization
// ==========================

// CostAuthorization carries the estimate made before an AI call and the
// finalizer that charges the real usage afterwards. Finalize also counts the
// AI query, so handlers calling it skip AIAccess.Record.
type CostAuthorization struct {
	Model    string
	Estimate *cost.Breakdown
	Finalize func(ctx context.Context, actual cost.Usage) (*cost.Breakdown, error)
}

func CostFrom(ctx context.Context) *CostAuthorization {
	c, _ := ctx.Value(costKey).(*CostAuthorization)
	return c
}

// PreauthorizeAICost attaches a cost estimate for the requested model. A zero
// estimate means 500 input and 500 output tokens.
func (g *Gate) PreauthorizeAICost(estimate cost.Usage, defaultModel string) func(http.Handler) http.Handler {
	if estimate == (cost.Usage{}) {
		estimate = cost.Usage{InputTokens: defaultEstimateInputTokens, OutputTokens: defaultEstimateOutputTokens}
	}
	if defaultModel == "" {
		defaultModel = DefaultAIModel
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, done := g.stage(r, "ai_cost")
			if !g.requireUser(w, r, "ai_cost", done) {
				return
			}

			model := defaultModel
			if access := AIAccessFrom(r.Context()); access != nil {
				model = access.Model
			} else if m := requestedModel(r); m != "" {
				model = m
			}

			sub, r, err := g.subscription(r)
			if err != nil {
				done("error", err)
				g.deny(w, r, "ai_cost", err)
				return
			}

			est := g.costs.CalculateAICost(model, estimate, sub.Tier)
			if est.Warning != "" {
				g.logger.Warn("ai cost estimated with default rate", map[string]interface{}{"model": model})
			}

			user, tier := sub.UserID, sub.Tier
			authz := &CostAuthorization{
				Model:    model,
				Estimate: est,
				Finalize: func(ctx context.Context, actual cost.Usage) (*cost.Breakdown, error) {
					return g.finalizeAICost(ctx, user, tier, model, actual)
				},
			}

			done("pass", nil)
			ctx := context.WithValue(r.Context(), costKey, authz)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// finalizeAICost counts the query under the daily ceiling, then prices the real
// usage and records the charge. A query refused by the ceiling is not charged.
func (g *Gate) finalizeAICost(ctx context.Context, user string, tier tiers.ID, model string, actual cost.Usage) (*cost.Breakdown, error) {
	ctx, span := g.obs.StartSpan(ctx, "gate.ai_finalize", attribute.String("ai.model", model))
	defer span.End()

	if err := g.aiLimiter.Record(ctx, user, tier); err != nil {
		span.RecordError(err)
		return nil, err
	}

	final := g.costs.CalculateAICost(model, actual, tier)
	metrics.AIChargeBEZ.WithLabelValues(model, string(final.Tier)).Observe(final.FinalCost)

	charge := ledger.Charge{
		UserID:      user,
		Tier:        final.Tier,
		Kind:        ledger.KindAI,
		Model:       model,
		AmountBEZ:   final.FinalCost,
		AmountUSD:   final.FinalCostUSD,
		DiscountBEZ: final.Discount,
		Details:     final.Details,
		Timestamp:   final.Timestamp,
	}
	if err := g.ledger.Record(ctx, charge); err != nil {
		span.RecordError(err)
		g.logger.WithError(err).Error("failed to record ai charge", map[string]interface{}{
			"userId":    user,
			"model":     model,
			"amountBEZ": final.FinalCost,
		})
		return final, apperrors.NewExternalServiceError("ledger", err)
	}
	return final, nil
}
