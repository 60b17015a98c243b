package api

import (
	"net/http"

	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/cost"
	"bezhas-entitlements/internal/gate"
)

func (s *Server) handleAICost(w http.ResponseWriter, r *http.Request) {
	var req cost.AIRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	if req.Model == "" {
		req.Model = gate.DefaultAIModel
	}
	respondJSON(w, http.StatusOK, s.Costs.CalculateAICost(req.Model, req.Usage, s.tierOf(r)))
}

func (s *Server) handleTotalCost(w http.ResponseWriter, r *http.Request) {
	var op cost.Operation
	if err := decodeJSON(r, &op); err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	if op.AI == nil && op.Gas == nil {
		apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError("operation needs an ai or gas part"))
		return
	}
	if op.Gas != nil && op.Gas.GasLimit <= 0 {
		op.Gas.GasLimit = gate.DefaultGasLimit
	}
	respondJSON(w, http.StatusOK, s.Costs.CalculateTotalCost(r.Context(), op, s.tierOf(r)))
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	tier := s.tierOf(r)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tier":     tier,
		"discount": s.Policy.AIDiscount(tier),
		"models":   s.Costs.AvailableModels(tier),
	})
}

func (s *Server) handleGasEstimate(w http.ResponseWriter, r *http.Request) {
	est := gate.GasEstimateFrom(r.Context())
	if est == nil {
		apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError("no gas estimate available"))
		return
	}
	respondJSON(w, http.StatusOK, est)
}
