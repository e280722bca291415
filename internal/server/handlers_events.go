package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wrentheai/trust-infra/internal/auth"
	"github.com/wrentheai/trust-infra/internal/model"
)

// HandleAppendEvent handles POST /api/events (agent signature).
//
// The raw body bytes are read first: the request signature covers
// METHOD:PATH:BODY_JSON:TIMESTAMP, so authentication must see exactly what
// was sent before any decoding.
func (h *Handlers) HandleAppendEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes))
	if err != nil {
		handleDecodeError(w, r, err)
		return
	}

	agent, err := h.authn.AuthenticateAgent(r.Context(), r.Method, r.URL.Path, body,
		r.Header.Get(auth.HeaderAgentID),
		r.Header.Get(auth.HeaderTimestamp),
		r.Header.Get(auth.HeaderSignature),
	)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	ctx := ContextWithAgent(r.Context(), &agent)

	// Decode with number fidelity preserved — payload values flow into
	// canonical reconstruction.
	var req model.AppendEventRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if req.AgentID != agent.AgentID {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
			"event agent_id does not match the signing agent")
		return
	}
	if err := model.ValidateEventType(req.EventType); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	if err := model.ValidateHashHex(req.Hash); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	if err := model.ValidateSignatureHex(req.Signature); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	if req.PrevHash != nil {
		if err := model.ValidateHashHex(*req.PrevHash); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
			return
		}
	}
	if req.CorrelationID != nil {
		if _, err := uuid.Parse(*req.CorrelationID); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "correlation_id must be a UUID")
			return
		}
	}
	if req.Payload == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "payload is required")
		return
	}

	event, err := h.ledgerSvc.Append(ctx, req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, event)
}

// HandleQueryEvents handles GET /api/events.
func (h *Handlers) HandleQueryEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.EventFilter{
		AgentID:       q.Get("agentId"),
		EventType:     model.EventType(q.Get("eventType")),
		CorrelationID: q.Get("correlationId"),
		Limit:         100,
	}
	if filter.EventType != "" {
		if err := model.ValidateEventType(filter.EventType); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
			return
		}
	}
	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		if raw := q.Get(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, name+" must be RFC 3339")
				return
			}
			*dst = &t
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "limit must be in [1, 1000]")
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "offset must be non-negative")
			return
		}
		filter.Offset = n
	}

	events, err := h.db.QueryEvents(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	total, err := h.db.CountEvents(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeList(w, r, events, total, filter.Limit, filter.Offset)
}

// HandleGetEvent handles GET /api/events/{id}.
func (h *Handlers) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "event id must be numeric")
		return
	}
	event, err := h.db.GetEventByID(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, event)
}

// HandleLastHash handles GET /api/events/last-hash/{agentId}.
func (h *Handlers) HandleLastHash(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	if err := model.ValidateAgentID(agentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	lastHash, err := h.ledgerSvc.LastHash(r.Context(), agentID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.LastHashResponse{AgentID: agentID, LastHash: lastHash})
}

// HandleVerifyChain handles POST /api/events/verify-chain.
func (h *Handlers) HandleVerifyChain(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyChainRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	verify := h.ledgerSvc.VerifyChain
	if req.LinkageOnly {
		verify = h.ledgerSvc.VerifyLinkage
	}
	result, err := verify(r.Context(), req.AgentID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleGetEventByHash handles GET /api/events/hash/{hash}.
func (h *Handlers) HandleGetEventByHash(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if err := model.ValidateHashHex(hash); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	event, err := h.db.GetEventByHash(r.Context(), hash)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, event)
}
