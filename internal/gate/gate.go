// Package gate composes the entitlement services into chi-compatible
// middleware. Every stage either passes the request on with more context
// attached or answers with a structured denial and stops the chain.
package gate

import (
	"context"
	"net/http"

	"bezhas-entitlements/internal/common/auth"
	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/common/metrics"
	"bezhas-entitlements/internal/common/observability"
	"bezhas-entitlements/internal/cost"
	"bezhas-entitlements/internal/entitlement"
	"bezhas-entitlements/internal/gas"
	"bezhas-entitlements/internal/ledger"
	"bezhas-entitlements/internal/staking"
	"bezhas-entitlements/internal/usage"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Deps are the services a Gate composes. Ledger and Observability are optional.
type Deps struct {
	Authenticator auth.Authenticator
	Resolver      *entitlement.Resolver
	Counter       *usage.Counter
	AILimiter     *usage.AIRateLimiter
	Costs         *cost.Calculator
	Gas           *gas.Estimator
	Staking       *staking.Service
	Ledger        ledger.Recorder
	Observability *observability.Observability
	Logger        logger.Logger
}

type Gate struct {
	auth      auth.Authenticator
	resolver  *entitlement.Resolver
	counter   *usage.Counter
	aiLimiter *usage.AIRateLimiter
	costs     *cost.Calculator
	gas       *gas.Estimator
	staking   *staking.Service
	ledger    ledger.Recorder
	obs       *observability.Observability
	logger    logger.Logger
}

func New(d Deps) *Gate {
	rec := d.Ledger
	if rec == nil {
		rec = ledger.NopRecorder{}
	}
	log := d.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Gate{
		auth:      d.Authenticator,
		resolver:  d.Resolver,
		counter:   d.Counter,
		aiLimiter: d.AILimiter,
		costs:     d.Costs,
		gas:       d.Gas,
		staking:   d.Staking,
		ledger:    rec,
		obs:       d.Observability,
		logger:    log.WithFields(map[string]interface{}{"component": "gate"}),
	}
}

// ==========================
// Request context
// ==========================

type ctxKey int

const (
	subscriptionKey ctxKey = iota
	usageCommitKey
	aiAccessKey
	costKey
	gasKey
	stakingKey
)

// SubscriptionFrom returns the subscription resolved by an earlier stage.
func SubscriptionFrom(ctx context.Context) *entitlement.Subscription {
	sub, _ := ctx.Value(subscriptionKey).(*entitlement.Subscription)
	return sub
}

func withSubscription(ctx context.Context, sub *entitlement.Subscription) context.Context {
	return context.WithValue(ctx, subscriptionKey, sub)
}

// userID is the authenticated caller or "".
func userID(r *http.Request) string {
	if id := auth.FromContext(r.Context()); id != nil {
		return id.UserID
	}
	return ""
}

// subscription returns the request's subscription, resolving it once per request.
func (g *Gate) subscription(r *http.Request) (*entitlement.Subscription, *http.Request, error) {
	if sub := SubscriptionFrom(r.Context()); sub != nil {
		return sub, r, nil
	}
	sub, err := g.resolver.Resolve(r.Context(), userID(r))
	if err != nil {
		return nil, r, err
	}
	return sub, r.WithContext(withSubscription(r.Context(), sub)), nil
}

// ==========================
// Decisions
// ==========================

// stage opens a span for one gate stage and returns a finisher recording the outcome.
func (g *Gate) stage(r *http.Request, name string, attrs ...attribute.KeyValue) (*http.Request, func(outcome string, err error)) {
	ctx, span := g.obs.StartSpan(r.Context(), "gate."+name, attrs...)
	return r.WithContext(ctx), func(outcome string, err error) {
		finishSpan(span, outcome, err)
		metrics.GateDecisions.WithLabelValues(name, outcome).Inc()
	}
}

func finishSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("gate.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}

// deny answers with err and logs the decision.
func (g *Gate) deny(w http.ResponseWriter, r *http.Request, stage string, err error) {
	stdErr := apperrors.AsStandardError(err)
	fields := map[string]interface{}{
		"stage":  stage,
		"code":   string(stdErr.Code),
		"userId": userID(r),
		"path":   r.URL.Path,
	}
	if apperrors.HTTPStatus(stdErr.Code) >= http.StatusInternalServerError {
		g.logger.WithError(err).Error("gate failed", fields)
	} else {
		g.logger.Info("gate denied request", fields)
	}
	apperrors.WriteHTTP(w, stdErr)
}

// Chain applies stages in order; the first stage runs first.
func Chain(stages ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(stages) - 1; i >= 0; i-- {
			next = stages[i](next)
		}
		return next
	}
}
