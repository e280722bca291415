package model

import "time"

// API error codes surfaced in the standard error envelope. The HTTP status
// each maps to is fixed at the handler layer.
const (
	ErrCodeValidation       = "VALIDATION"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeChainBroken      = "CHAIN_BROKEN"
	ErrCodeHashMismatch     = "HASH_MISMATCH"
	ErrCodeSignatureInvalid = "SIGNATURE_INVALID"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternal         = "INTERNAL"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail carries the machine-readable code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// RetryAfter is set only for RATE_LIMITED errors, in seconds.
	RetryAfter int `json:"retryAfter,omitempty"`
}

// ResponseMeta is attached to every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RegisterAgentRequest is the body of POST /api/agents.
type RegisterAgentRequest struct {
	PublicKey string         `json:"publicKey"`
	Name      *string        `json:"name,omitempty"`
	Owner     *string        `json:"owner,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RevokeAgentRequest is the body of POST /api/agents/:id/revoke.
type RevokeAgentRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// AppendEventRequest is the body of POST /api/events — a signed event in
// wire form. Timestamp is the client's RFC 3339 timestamp string; it is
// parsed and re-rendered with CanonicalTimestamp for canonical
// reconstruction, so only the canonical spelling reproduces the signed bytes.
type AppendEventRequest struct {
	AgentID       string         `json:"agent_id"`
	EventType     EventType      `json:"event_type"`
	Timestamp     string         `json:"timestamp,omitempty"`
	PrevHash      *string        `json:"prev_hash"`
	Payload       map[string]any `json:"payload"`
	CorrelationID *string        `json:"correlation_id,omitempty"`
	Hash          string         `json:"hash"`
	Signature     string         `json:"signature"`
}

// LastHashResponse is the body of GET /api/events/last-hash/:agentId.
type LastHashResponse struct {
	AgentID  string  `json:"agentId"`
	LastHash *string `json:"lastHash"`
}

// VerifyChainRequest is the body of POST /api/events/verify-chain. With
// LinkageOnly, only the prev_hash pointers are walked — no hash or
// signature recomputation — for fast integrity audits.
type VerifyChainRequest struct {
	AgentID     string `json:"agentId"`
	LinkageOnly bool   `json:"linkageOnly,omitempty"`
}

// ChainError describes one violation found during chain verification.
type ChainError struct {
	Index   int    `json:"index"`
	EventID int64  `json:"eventId"`
	Message string `json:"message"`
}

// VerifyChainResponse is the result of full-chain verification.
type VerifyChainResponse struct {
	Valid             bool         `json:"valid"`
	Errors            []ChainError `json:"errors"`
	TotalEvents       int          `json:"totalEvents"`
	FirstInvalidEvent *int         `json:"firstInvalidEvent,omitempty"`
}

// MintCapabilityRequest is the body of POST /api/capabilities.
type MintCapabilityRequest struct {
	AgentID   string    `json:"agentId"`
	Scope     Scope     `json:"scope"`
	IssuedBy  string    `json:"issuedBy"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MintCapabilityResponse carries the capability record and the plaintext
// bearer token. The token appears only here, exactly once.
type MintCapabilityResponse struct {
	Capability Capability `json:"capability"`
	Token      string     `json:"token"`
}

// ValidateTokenRequest is the body of POST /api/capabilities/validate.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse reports whether a bearer token is currently valid.
type ValidateTokenResponse struct {
	Valid      bool        `json:"valid"`
	Capability *Capability `json:"capability,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// CheckPermissionRequest is the body of POST /api/capabilities/check-permission.
type CheckPermissionRequest struct {
	AgentID string `json:"agentId"`
	Action  string `json:"action"`
}

// CheckPermissionResponse reports whether any active capability grants the
// action. Scope carries the matched constraint object (or true).
type CheckPermissionResponse struct {
	Allowed bool   `json:"allowed"`
	Scope   any    `json:"scope,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// RecordOutcomeRequest is the body of POST /api/outcomes.
type RecordOutcomeRequest struct {
	AgentID     string         `json:"agentId"`
	EventID     int64          `json:"eventId"`
	OutcomeType OutcomeType    `json:"outcomeType"`
	Reporter    string         `json:"reporter"`
	Impact      *float64       `json:"impact,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// DomainScoreRequest is the body of POST /api/reputation/:agentId/domain.
type DomainScoreRequest struct {
	Domain string  `json:"domain"`
	Score  float64 `json:"score"`
}

// DowngradeResponse is the body of GET /api/reputation/:agentId/should-downgrade.
type DowngradeResponse struct {
	ShouldDowngrade bool   `json:"shouldDowngrade"`
	Reason          string `json:"reason,omitempty"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Database      string `json:"database"`
}
