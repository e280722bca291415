package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/wrentheai/trust-infra/internal/model"
)

// HandleMintCapability handles POST /api/capabilities (service key).
func (h *Handlers) HandleMintCapability(w http.ResponseWriter, r *http.Request) {
	var req model.MintCapabilityRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	if req.IssuedBy == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "issuedBy is required")
		return
	}
	if err := model.ValidateScope(req.Scope); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}

	resp, err := h.capabilitySvc.Mint(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, resp)
}

// HandleValidateToken handles POST /api/capabilities/validate.
func (h *Handlers) HandleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req model.ValidateTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Token == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "token is required")
		return
	}
	resp, err := h.capabilitySvc.Validate(r.Context(), req.Token)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleCheckPermission handles POST /api/capabilities/check-permission.
func (h *Handlers) HandleCheckPermission(w http.ResponseWriter, r *http.Request) {
	var req model.CheckPermissionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	if err := model.ValidateAction(req.Action); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	resp, err := h.capabilitySvc.CheckPermission(r.Context(), req.AgentID, req.Action)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleListCapabilities handles GET /api/capabilities?agentId=&activeOnly=.
func (h *Handlers) HandleListCapabilities(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	if err := model.ValidateAgentID(agentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	activeOnly := r.URL.Query().Get("activeOnly") == "true"

	caps, err := h.capabilitySvc.List(r.Context(), agentID, activeOnly)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if caps == nil {
		caps = []model.Capability{}
	}
	writeJSON(w, r, http.StatusOK, caps)
}

// HandleRevokeCapability handles POST /api/capabilities/{id}/revoke
// (service key).
func (h *Handlers) HandleRevokeCapability(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "capability id must be a UUID")
		return
	}
	c, err := h.capabilitySvc.Revoke(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, c)
}
