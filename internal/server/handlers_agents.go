package server

import (
	"net/http"
	"strings"

	"github.com/wrentheai/trust-infra/internal/integrity"
	"github.com/wrentheai/trust-infra/internal/model"
)

// HandleRegisterAgent handles POST /api/agents (service key).
func (h *Handlers) HandleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterAgentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	key := strings.ToLower(req.PublicKey)
	if err := model.ValidatePublicKeyHex(key); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	agentID, err := integrity.DeriveAgentID(key)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	agent, err := h.db.InsertAgent(r.Context(), model.Agent{
		AgentID:   agentID,
		PublicKey: key,
		Name:      req.Name,
		Owner:     req.Owner,
		Status:    model.AgentActive,
		Metadata:  metadata,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.logger.Info("agent registered", "agent_id", agent.AgentID, "owner", agent.Owner)
	writeJSON(w, r, http.StatusCreated, agent)
}

// HandleListAgents handles GET /api/agents with optional status and owner
// filters.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	status := model.AgentStatus(r.URL.Query().Get("status"))
	if status != "" && status != model.AgentActive && status != model.AgentRevoked {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "status must be active or revoked")
		return
	}
	agents, err := h.db.ListAgents(r.Context(), status, r.URL.Query().Get("owner"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if agents == nil {
		agents = []model.Agent{}
	}
	writeJSON(w, r, http.StatusOK, agents)
}

// HandleGetAgent handles GET /api/agents/{id}.
func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if err := model.ValidateAgentID(agentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	agent, err := h.db.GetAgent(r.Context(), agentID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, agent)
}

// HandleRevokeAgent handles POST /api/agents/{id}/revoke (service key).
// Revocation is terminal.
func (h *Handlers) HandleRevokeAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if err := model.ValidateAgentID(agentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}

	var req model.RevokeAgentRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
			handleDecodeError(w, r, err)
			return
		}
	}

	agent, err := h.db.RevokeAgent(r.Context(), agentID, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.logger.Info("agent revoked", "agent_id", agent.AgentID)
	writeJSON(w, r, http.StatusOK, agent)
}
