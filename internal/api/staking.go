package api

import (
	"net/http"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/gate"
	"bezhas-entitlements/internal/tiers"
)

const (
	defaultROIMonths      = 12
	defaultProjectionDays = 365
)

type roiRequest struct {
	StakeAmount    float64  `json:"stakeAmount"`
	Tier           tiers.ID `json:"tier"`
	DurationMonths int      `json:"durationMonths"`
	DurationDays   int      `json:"durationDays"`
}

func (req *roiRequest) validate() error {
	if req.StakeAmount <= 0 {
		return apperrors.NewInvalidRequestError("valid stake amount required")
	}
	if req.DurationMonths < 0 || req.DurationDays < 0 {
		return apperrors.NewInvalidRequestError("duration must not be negative")
	}
	return nil
}

func (s *Server) decodeROI(w http.ResponseWriter, r *http.Request) (*roiRequest, bool) {
	var req roiRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteHTTP(w, err)
		return nil, false
	}
	if err := req.validate(); err != nil {
		apperrors.WriteHTTP(w, err)
		return nil, false
	}
	if req.Tier == "" {
		req.Tier = s.Catalog.Default()
	}
	if req.DurationMonths == 0 {
		req.DurationMonths = defaultROIMonths
	}
	if req.DurationDays == 0 {
		req.DurationDays = defaultProjectionDays
	}
	return &req, true
}

func (s *Server) handleCalculateROI(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeROI(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.Staking.CalculateROI(req.StakeAmount, req.Tier, req.DurationMonths))
}

func (s *Server) handleCompareROI(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeROI(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.Staking.CompareROI(req.StakeAmount, req.DurationMonths))
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeROI(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.Staking.CalculateStakingRewards(req.StakeAmount, req.Tier, req.DurationDays))
}

// handleVerifySignature reports on an assertion; invalid ones are a 200 with valid false.
func (s *Server) handleVerifySignature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signature string `json:"signature"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	if req.Signature == "" {
		apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError("signature is required"))
		return
	}
	respondJSON(w, http.StatusOK, s.Staking.Signer.Verify(req.Signature))
}

// handleStakingInfo answers with a fresh signed staking view, plus the
// verification of the presented signature when the caller sent one.
func (s *Server) handleStakingInfo(w http.ResponseWriter, r *http.Request) {
	sc := gate.StakingFrom(r.Context())
	if sc != nil && sc.Info != nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"verified":     sc.Verified,
			"verification": sc.Verification,
			"info":         sc.Info,
		})
		return
	}

	info, err := s.Staking.Info(r.Context(), callerID(r))
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"verified": false, "info": info})
}
