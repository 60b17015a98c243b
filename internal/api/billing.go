package api

import (
	"net/http"
	"strconv"

	"bezhas-entitlements/internal/common/auth"
	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/ledger"
	"bezhas-entitlements/internal/subscription"
	"bezhas-entitlements/internal/tiers"
)

const maxChargesPage = 100

type checkoutRequest struct {
	Tier          tiers.ID `json:"tier"`
	BillingPeriod string   `json:"billingPeriod"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.Checkout == nil {
		apperrors.WriteHTTP(w, apperrors.NewBillingUnavailableError("checkout is not configured"))
		return
	}
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	switch req.BillingPeriod {
	case "":
		req.BillingPeriod = subscription.PeriodMonthly
	case subscription.PeriodMonthly, subscription.PeriodYearly:
	default:
		apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError("billingPeriod must be monthly or yearly"))
		return
	}

	var email string
	if id := auth.FromContext(r.Context()); id != nil {
		email = id.Email
	}
	res, err := s.Checkout.CreateSession(r.Context(), callerID(r), email, req.Tier, req.BillingPeriod)
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleCharges lists the caller's most recent ledger charges.
func (s *Server) handleCharges(w http.ResponseWriter, r *http.Request) {
	size := 20
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError("size must be a positive integer"))
			return
		}
		size = min(n, maxChargesPage)
	}

	charges, err := s.Ledger.Recent(r.Context(), callerID(r), size)
	if err != nil {
		apperrors.WriteHTTP(w, apperrors.NewExternalServiceError("ledger", err))
		return
	}
	if charges == nil {
		charges = []ledger.Charge{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"charges": charges, "count": len(charges)})
}
