// Package api exposes the entitlement engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"bezhas-entitlements/internal/ai"
	"bezhas-entitlements/internal/billing"
	"bezhas-entitlements/internal/common/auth"
	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/common/observability"
	"bezhas-entitlements/internal/cost"
	"bezhas-entitlements/internal/entitlement"
	"bezhas-entitlements/internal/gate"
	"bezhas-entitlements/internal/ledger"
	"bezhas-entitlements/internal/staking"
	"bezhas-entitlements/internal/subscription"
	"bezhas-entitlements/internal/tiers"
	"bezhas-entitlements/internal/usage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// Generator is satisfied by ai.Generator.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (*ai.Result, error)
}

// Check is one readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Deps struct {
	Catalog       *tiers.Catalog
	Policy        tiers.Policy
	Subscriptions *subscription.Service
	Resolver      *entitlement.Resolver
	Counter       *usage.Counter
	AILimiter     *usage.AIRateLimiter
	Costs         *cost.Calculator
	Staking       *staking.Service
	Gate          *gate.Gate
	Checkout      *billing.CheckoutService
	Webhook       http.Handler
	Ledger        ledger.Recorder
	Generator     Generator
	Posts         PostStore
	Checks        []Check
	Observability *observability.Observability
	Logger        logger.Logger
	Version       string
}

type Server struct {
	Deps
	logger logger.Logger
}

func NewServer(d Deps) *Server {
	if d.Ledger == nil {
		d.Ledger = ledger.NopRecorder{}
	}
	if d.Posts == nil {
		d.Posts = NewMemoryPosts()
	}
	if d.Logger == nil {
		d.Logger = logger.NewNoOpLogger()
	}
	return &Server{Deps: d, logger: d.Logger.WithFields(map[string]interface{}{"component": "api"})}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	g := s.Gate
	r.Route("/api", func(r chi.Router) {
		r.Route("/subscription", func(r chi.Router) {
			r.Get("/tiers", s.handleListTiers)
			r.Get("/tiers/compare", s.handleCompareTiers)
			r.Post("/calculate-roi", s.handleCalculateROI)
			r.Post("/compare-roi", s.handleCompareROI)
			r.Post("/staking-projection", s.handleProjection)
			r.Post("/verify-signature", s.handleVerifySignature)
			if s.Webhook != nil {
				r.Method(http.MethodPost, "/webhooks/stripe", s.Webhook)
			}

			r.Group(func(r chi.Router) {
				r.Use(g.OptionalIdentity, g.AttachSubscription)
				r.Post("/ai-cost", s.handleAICost)
				r.Post("/total-cost", s.handleTotalCost)
				r.Get("/models", s.handleModels)
				r.With(g.GasSubsidy).Get("/gas-estimate", s.handleGasEstimate)
			})

			r.Group(func(r chi.Router) {
				r.Use(g.RequireIdentity, g.AttachSubscription)
				r.Get("/status", s.handleStatus)
				r.Get("/features/{feature}", s.handleFeature)
				r.Get("/usage/{limitType}", s.handleUsage)
				r.Get("/ai-credits", s.handleAICredits)
				r.Post("/trial", s.handleStartTrial)
				r.Post("/token-lock", s.handleRegisterLock)
				r.Delete("/token-lock", s.handleReleaseLock)
				r.With(g.VerifyStakingSignature).Get("/staking-info", s.handleStakingInfo)
				r.Post("/checkout", s.handleCheckout)
				r.Get("/charges", s.handleCharges)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(g.RequireIdentity)
			r.With(g.CheckLimit("postsPerMonth")).Post("/posts", s.handleCreatePost)
			r.With(
				g.CheckAIAccess(gate.DefaultAIModel),
				g.PreauthorizeAICost(cost.Usage{}, gate.DefaultAIModel),
			).Post("/ai/chat", s.handleAIChat)
		})
	})

	return r
}

// ==========================
// Middleware
// ==========================

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				s.logger.Error("panic recovered", map[string]interface{}{
					"requestId": middleware.GetReqID(r.Context()),
					"method":    r.Method,
					"path":      r.URL.Path,
					"panic":     fmt.Sprint(rvr),
					"stack":     string(debug.Stack()),
				})
				apperrors.WriteHTTP(w, fmt.Errorf("panic: %v", rvr))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		s.Observability.RecordRequest(r.Context(), route, ww.Status(), elapsed)
		s.logger.Debug("request served", map[string]interface{}{
			"requestId":  middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"route":      route,
			"status":     ww.Status(),
			"durationMs": elapsed.Milliseconds(),
		})
	})
}

// ==========================
// Helpers
// ==========================

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return apperrors.NewInvalidRequestError("unreadable body")
	}
	if len(body) > maxRequestBody {
		return apperrors.NewPayloadTooLargeError(maxRequestBody)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.NewInvalidRequestError("malformed JSON body")
	}
	return nil
}

func callerID(r *http.Request) string {
	if id := auth.FromContext(r.Context()); id != nil {
		return id.UserID
	}
	return ""
}

// subscription returns the subscription attached by the gate or resolves it.
func (s *Server) subscription(r *http.Request) (*entitlement.Subscription, error) {
	if sub := gate.SubscriptionFrom(r.Context()); sub != nil {
		return sub, nil
	}
	return s.Resolver.Resolve(r.Context(), callerID(r))
}

// tierOf is the caller's tier, or the default tier for anonymous callers.
func (s *Server) tierOf(r *http.Request) tiers.ID {
	if sub := gate.SubscriptionFrom(r.Context()); sub != nil {
		return sub.Tier
	}
	return s.Catalog.Default()
}
