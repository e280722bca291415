// Package auth validates incoming requests: administrative calls present
// the shared service key; event appends prove possession of the agent's
// private key with a per-request Ed25519 signature over
// METHOD:PATH:BODY_JSON:TIMESTAMP inside a freshness window.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/wrentheai/trust-infra/internal/canonical"
	"github.com/wrentheai/trust-infra/internal/integrity"
	"github.com/wrentheai/trust-infra/internal/model"
	"github.com/wrentheai/trust-infra/internal/storage"
)

// Request headers.
const (
	HeaderServiceKey = "X-Service-Key"
	HeaderAgentID    = "X-Agent-ID"
	HeaderTimestamp  = "X-Timestamp"
	HeaderSignature  = "X-Signature"
)

// Error is an authentication failure with the API error code it maps to.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth: %s: %s", e.Code, e.Message)
}

func authErr(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Authenticator validates request credentials.
type Authenticator struct {
	db         *storage.DB
	serviceKey []byte
	window     time.Duration
}

// New creates an Authenticator. window bounds the accepted clock skew for
// agent-signed requests.
func New(db *storage.DB, serviceKey string, window time.Duration) *Authenticator {
	return &Authenticator{db: db, serviceKey: []byte(serviceKey), window: window}
}

// CheckServiceKey compares a presented key against the configured one in
// constant time.
func (a *Authenticator) CheckServiceKey(presented string) bool {
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), a.serviceKey) == 1
}

// SigningString builds the exact payload an agent signs for a request:
// METHOD:PATH:BODY_JSON:TIMESTAMP. A non-empty body is canonicalized so
// the signature is reproducible regardless of the client's JSON encoder;
// an absent body contributes an empty string.
func SigningString(method, path string, body []byte, unixTS int64) (string, error) {
	bodyPart := ""
	if len(body) > 0 {
		cb, err := canonical.MarshalRaw(body)
		if err != nil {
			return "", fmt.Errorf("auth: canonicalize body: %w", err)
		}
		bodyPart = string(cb)
	}
	return fmt.Sprintf("%s:%s:%s:%d", method, path, bodyPart, unixTS), nil
}

// AuthenticateAgent validates the three agent-signature headers for a
// request and returns the authenticated agent. Timing of the unknown-agent
// path is equalized with a dummy verification so responses do not reveal
// whether an agent id exists.
func (a *Authenticator) AuthenticateAgent(ctx context.Context, method, path string, body []byte, agentID, tsHeader, sigHex string) (model.Agent, error) {
	if agentID == "" || tsHeader == "" || sigHex == "" {
		return model.Agent{}, authErr(model.ErrCodeUnauthorized, "missing signature headers")
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return model.Agent{}, authErr(model.ErrCodeUnauthorized, "malformed timestamp header")
	}
	skew := time.Now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	// The window boundary itself is accepted.
	if time.Duration(skew)*time.Second > a.window {
		return model.Agent{}, authErr(model.ErrCodeUnauthorized,
			"timestamp outside the %s replay window", a.window)
	}

	agent, err := a.db.GetAgent(ctx, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		dummyVerify()
		return model.Agent{}, authErr(model.ErrCodeUnauthorized, "unknown agent")
	}
	if err != nil {
		return model.Agent{}, err
	}
	if agent.Status != model.AgentActive {
		return model.Agent{}, authErr(model.ErrCodeForbidden, "agent is revoked")
	}

	payload, err := SigningString(method, path, body, ts)
	if err != nil {
		return model.Agent{}, authErr(model.ErrCodeUnauthorized, "request body is not valid JSON")
	}
	if !integrity.VerifyHex([]byte(payload), sigHex, agent.PublicKey) {
		return model.Agent{}, authErr(model.ErrCodeSignatureInvalid, "request signature does not verify")
	}
	return agent, nil
}

// dummyVerify burns one Ed25519 verification against a fixed key so the
// unknown-agent path costs the same as a real signature check.
func dummyVerify() {
	var pub [ed25519.PublicKeySize]byte
	var sig [ed25519.SignatureSize]byte
	ed25519.Verify(pub[:], []byte("dummy"), sig[:])
}
