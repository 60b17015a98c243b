package gate

import (
	"context"
	"net/http"

	"bezhas-entitlements/internal/common/auth"
	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/tiers"
	"bezhas-entitlements/internal/usage"

	"go.opentelemetry.io/otel/attribute"
)

// RequireIdentity authenticates the bearer token and stores the identity on the context.
func (g *Gate) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, done := g.stage(r, "identity")

		if id := auth.FromContext(r.Context()); id != nil && id.UserID != "" {
			done("pass", nil)
			next.ServeHTTP(w, r)
			return
		}

		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" || g.auth == nil {
			done("deny", nil)
			g.deny(w, r, "identity", apperrors.NewAuthRequiredError("missing bearer token"))
			return
		}

		id, err := g.auth.Authenticate(r.Context(), token)
		if err != nil || id == nil || id.UserID == "" {
			done("deny", err)
			g.deny(w, r, "identity", apperrors.NewAuthRequiredError("invalid token"))
			return
		}

		done("pass", nil)
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// OptionalIdentity attaches an identity when a valid token is present and never blocks.
func (g *Gate) OptionalIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token != "" && g.auth != nil && auth.FromContext(r.Context()) == nil {
			if id, err := g.auth.Authenticate(r.Context(), token); err == nil && id != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireUser denies anonymous requests for stages that act on a user.
func (g *Gate) requireUser(w http.ResponseWriter, r *http.Request, stage string, done func(string, error)) bool {
	if userID(r) != "" {
		return true
	}
	done("deny", nil)
	g.deny(w, r, stage, apperrors.NewAuthRequiredError(""))
	return false
}

// RequireFeature lets the request through only when the caller's tier unlocks feature.
func (g *Gate) RequireFeature(feature string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, done := g.stage(r, "feature", attribute.String("feature", feature))
			if !g.requireUser(w, r, "feature", done) {
				return
			}

			sub, r, err := g.subscription(r)
			if err != nil {
				done("error", err)
				g.deny(w, r, "feature", err)
				return
			}

			access := g.resolver.FeatureAccessFor(sub.Tier, feature)
			if !access.HasAccess {
				done("deny", nil)
				g.deny(w, r, "feature", apperrors.NewUpgradeRequiredError(feature, string(access.CurrentTier), string(access.RequiredTier)).
					WithMetadata("upgradeUrl", "/vip"))
				return
			}

			done("pass", nil)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTier lets the request through when the caller's tier ranks at least minimum.
func (g *Gate) RequireTier(minimum tiers.ID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, done := g.stage(r, "tier", attribute.String("tier.required", string(minimum)))
			if !g.requireUser(w, r, "tier", done) {
				return
			}

			sub, r, err := g.subscription(r)
			if err != nil {
				done("error", err)
				g.deny(w, r, "tier", err)
				return
			}

			if !g.resolver.Catalog().HasAccess(sub.Tier, minimum) {
				done("deny", nil)
				g.deny(w, r, "tier", apperrors.NewTierRequiredError(string(sub.Tier), string(minimum)).
					WithMetadata("upgradeUrl", "/vip"))
				return
			}

			done("pass", nil)
			next.ServeHTTP(w, r)
		})
	}
}

// AttachSubscription resolves the caller's subscription when there is one. Failures are logged, never surfaced.
func (g *Gate) AttachSubscription(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID(r) != "" {
			sub, resolved, err := g.subscription(r)
			if err != nil {
				g.logger.WithError(err).Warn("attach subscription failed", map[string]interface{}{"userId": userID(r)})
			} else if sub != nil {
				r = resolved
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ==========================
// Usage limits
// ==========================

// UsageCommit charges the usage checked by CheckLimit. Call it only after the
// protected operation succeeded.
type UsageCommit func(ctx context.Context, amount int64) (*usage.Status, error)

type usageGrant struct {
	status *usage.Status
	commit UsageCommit
}

// UsageFrom returns the snapshot taken by CheckLimit and the commit to call afterwards.
func UsageFrom(ctx context.Context) (*usage.Status, UsageCommit) {
	g, ok := ctx.Value(usageCommitKey).(*usageGrant)
	if !ok {
		return nil, nil
	}
	return g.status, g.commit
}

// CheckLimit denies the request when limitType is exhausted for the caller's tier.
func (g *Gate) CheckLimit(limitType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, done := g.stage(r, "limit", attribute.String("limit.type", limitType))
			if !g.requireUser(w, r, "limit", done) {
				return
			}

			sub, r, err := g.subscription(r)
			if err != nil {
				done("error", err)
				g.deny(w, r, "limit", err)
				return
			}

			status, err := g.counter.CheckLimit(r.Context(), sub.UserID, sub.Tier, limitType)
			if err != nil {
				done("error", err)
				g.deny(w, r, "limit", err)
				return
			}
			if !status.Allowed {
				done("deny", nil)
				g.deny(w, r, "limit", limitDenial(status))
				return
			}

			user, tier := sub.UserID, sub.Tier
			grant := &usageGrant{
				status: status,
				commit: func(ctx context.Context, amount int64) (*usage.Status, error) {
					return g.counter.IncrementUsage(ctx, user, tier, limitType, amount)
				},
			}

			done("pass", nil)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), usageCommitKey, grant)))
		})
	}
}

func limitDenial(s *usage.Status) *apperrors.StandardError {
	return apperrors.NewLimitExceededError(s.LimitType, s.ResetAt).
		WithMetadata("current", s.Current).
		WithMetadata("limit", s.Limit).
		WithMetadata("remaining", s.Remaining).
		WithMetadata("percentUsed", s.PercentUsed).
		WithMetadata("tier", s.Tier).
		WithMetadata("upgradeUrl", "/vip")
}
