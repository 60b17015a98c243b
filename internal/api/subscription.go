package api

import (
	"net/http"
	"strings"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/tiers"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tiers":       s.Catalog.All(),
		"hierarchy":   s.Catalog.Hierarchy(),
		"defaultTier": s.Catalog.Default(),
	})
}

// handleCompareTiers compares ?from and ?to, defaulting to the lowest and highest tiers.
func (s *Server) handleCompareTiers(w http.ResponseWriter, r *http.Request) {
	order := s.Catalog.Hierarchy()
	from, to := order[0], order[len(order)-1]

	q := r.URL.Query()
	for _, p := range []struct {
		param  string
		target *tiers.ID
	}{{"from", &from}, {"to", &to}} {
		raw := q.Get(p.param)
		if raw == "" {
			continue
		}
		id, ok := s.Catalog.Lookup(tiers.ID(raw))
		if !ok {
			apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError("unknown tier "+raw))
			return
		}
		*p.target = id
	}

	respondJSON(w, http.StatusOK, s.Catalog.Compare(from, to, s.Policy))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subscription(r)
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) handleFeature(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subscription(r)
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	feature := chi.URLParam(r, "feature")
	access := s.Resolver.FeatureAccessFor(sub.Tier, feature)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"feature":         feature,
		"hasAccess":       access.HasAccess,
		"currentTier":     access.CurrentTier,
		"requiredTier":    access.RequiredTier,
		"upgradeRequired": access.UpgradeRequired,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subscription(r)
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	status, err := s.Counter.CheckLimit(r.Context(), sub.UserID, sub.Tier, chi.URLParam(r, "limitType"))
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleAICredits(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subscription(r)
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	daily, err := s.AILimiter.Check(r.Context(), sub.UserID, sub.Tier)
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tier":           sub.Tier,
		"daily":          daily,
		"monthlyQueries": sub.Definition.AI.MonthlyQueries,
		"models":         sub.Definition.AI.Models,
		"discount":       s.Policy.AIDiscount(sub.Tier),
	})
}

type tierRequest struct {
	Tier tiers.ID `json:"tier"`
}

func (s *Server) handleStartTrial(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	if req.Tier == "" {
		apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError("tier is required"))
		return
	}
	res, err := s.Subscriptions.StartTrial(r.Context(), callerID(r), req.Tier)
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type lockRequest struct {
	Tier   tiers.ID `json:"tier"`
	Amount float64  `json:"amount"`
	TxHash string   `json:"txHash"`
}

func (s *Server) handleRegisterLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	switch {
	case req.Tier == "":
		apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError("tier is required"))
		return
	case strings.TrimSpace(req.TxHash) == "":
		apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError("txHash is required"))
		return
	}

	res, err := s.Subscriptions.RegisterTokenLock(r.Context(), callerID(r), req.Tier, req.Amount, req.TxHash)
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	res, err := s.Subscriptions.ReleaseTokenLock(r.Context(), callerID(r))
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
