package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/wrentheai/trust-infra/internal/auth"
	"github.com/wrentheai/trust-infra/internal/capability"
	"github.com/wrentheai/trust-infra/internal/ledger"
	"github.com/wrentheai/trust-infra/internal/model"
	"github.com/wrentheai/trust-infra/internal/reputation"
	"github.com/wrentheai/trust-infra/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	authn               *auth.Authenticator
	ledgerSvc           *ledger.Service
	capabilitySvc       *capability.Service
	reputationSvc       *reputation.Service
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	Authn               *auth.Authenticator
	LedgerSvc           *ledger.Service
	CapabilitySvc       *capability.Service
	ReputationSvc       *reputation.Service
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		authn:               d.Authn,
		ledgerSvc:           d.LedgerSvc,
		capabilitySvc:       d.CapabilitySvc,
		reputationSvc:       d.ReputationSvc,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleHealth handles GET /api/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	status := "ok"
	if err := h.db.Ping(r.Context()); err != nil {
		dbStatus = "unreachable"
		status = "degraded"
	}
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Database:      dbStatus,
	})
}

// writeDomainError maps service-layer errors onto the API error taxonomy.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var admErr *ledger.AdmissionError
	if errors.As(err, &admErr) {
		status, code := admissionStatus(admErr.Code)
		writeError(w, r, status, code, admErr.Message)
		return
	}
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		status := http.StatusUnauthorized
		if authErr.Code == model.ErrCodeForbidden {
			status = http.StatusForbidden
		}
		writeError(w, r, status, authErr.Code, authErr.Message)
		return
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	case errors.Is(err, storage.ErrDuplicate):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	case errors.Is(err, storage.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	default:
		h.logger.Error("internal error",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
		)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal error")
	}
}

// admissionStatus maps an admission failure code onto HTTP status and API
// error code.
func admissionStatus(code string) (int, string) {
	switch code {
	case ledger.CodeAgentUnknown:
		return http.StatusUnauthorized, model.ErrCodeUnauthorized
	case ledger.CodeAgentRevoked:
		return http.StatusForbidden, model.ErrCodeForbidden
	case ledger.CodeHashMismatch:
		return http.StatusBadRequest, model.ErrCodeHashMismatch
	case ledger.CodeSignatureInvalid:
		return http.StatusUnauthorized, model.ErrCodeSignatureInvalid
	case ledger.CodeChainBroken:
		return http.StatusBadRequest, model.ErrCodeChainBroken
	case ledger.CodeDuplicateEvent:
		return http.StatusConflict, model.ErrCodeConflict
	default:
		return http.StatusBadRequest, model.ErrCodeValidation
	}
}
