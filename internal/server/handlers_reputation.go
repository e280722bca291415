package server

import (
	"net/http"

	"github.com/wrentheai/trust-infra/internal/model"
)

// HandleGetReputation handles GET /api/reputation/{agentId}.
func (h *Handlers) HandleGetReputation(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	if err := model.ValidateAgentID(agentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	rep, err := h.reputationSvc.Get(r.Context(), agentID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rep)
}

// HandleListReputation handles GET /api/reputation.
func (h *Handlers) HandleListReputation(w http.ResponseWriter, r *http.Request) {
	reps, err := h.reputationSvc.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if reps == nil {
		reps = []model.Reputation{}
	}
	writeJSON(w, r, http.StatusOK, reps)
}

// HandleRecordOutcome handles POST /api/outcomes (service key).
func (h *Handlers) HandleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req model.RecordOutcomeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	if err := model.ValidateOutcomeType(req.OutcomeType); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	if req.Reporter == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "reporter is required")
		return
	}
	if req.Impact != nil && (*req.Impact < -1 || *req.Impact > 1) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "impact must be in [-1, 1]")
		return
	}

	outcome, rep, err := h.reputationSvc.RecordOutcome(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"outcome":    outcome,
		"reputation": rep,
	})
}

// HandleUpdateDomainScore handles POST /api/reputation/{agentId}/domain
// (service key).
func (h *Handlers) HandleUpdateDomainScore(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	if err := model.ValidateAgentID(agentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	var req model.DomainScoreRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Domain == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "domain is required")
		return
	}
	if req.Score < 0 || req.Score > 1 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "score must be in [0, 1]")
		return
	}

	rep, err := h.reputationSvc.UpdateDomainScore(r.Context(), agentID, req.Domain, req.Score)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rep)
}

// HandleShouldDowngrade handles GET /api/reputation/{agentId}/should-downgrade.
func (h *Handlers) HandleShouldDowngrade(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	if err := model.ValidateAgentID(agentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	resp, err := h.reputationSvc.ShouldDowngrade(r.Context(), agentID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}
