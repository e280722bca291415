// Package capability implements the capability engine: minting scoped,
// expiring bearer tokens, validating them, and answering permission checks.
package capability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wrentheai/trust-infra/internal/integrity"
	"github.com/wrentheai/trust-infra/internal/model"
	"github.com/wrentheai/trust-infra/internal/storage"
)

// tokenLen is the number of random bytes in a bearer token.
const tokenLen = 32

// Service is the capability engine.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a capability service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Mint issues a new capability for an agent. The plaintext token is
// returned only in this response; the store keeps its SHA-256.
func (s *Service) Mint(ctx context.Context, req model.MintCapabilityRequest) (model.MintCapabilityResponse, error) {
	if err := model.ValidateScope(req.Scope); err != nil {
		return model.MintCapabilityResponse{}, fmt.Errorf("capability: %w", err)
	}
	if _, err := s.db.GetAgent(ctx, req.AgentID); err != nil {
		return model.MintCapabilityResponse{}, err
	}

	now := time.Now().UTC()
	if !req.ExpiresAt.After(now) {
		return model.MintCapabilityResponse{}, fmt.Errorf("capability: expiresAt must be in the future")
	}

	raw := make([]byte, tokenLen)
	if _, err := rand.Read(raw); err != nil {
		return model.MintCapabilityResponse{}, fmt.Errorf("capability: generate token: %w", err)
	}
	token := hex.EncodeToString(raw)

	c := model.Capability{
		ID:        uuid.New(),
		AgentID:   req.AgentID,
		Scope:     req.Scope,
		IssuedBy:  req.IssuedBy,
		IssuedAt:  now,
		ExpiresAt: req.ExpiresAt.UTC(),
		Status:    model.CapabilityActive,
		TokenHash: integrity.SHA256Hex([]byte(token)),
	}
	inserted, err := s.db.InsertCapability(ctx, c)
	if err != nil {
		return model.MintCapabilityResponse{}, err
	}

	s.logger.Info("capability minted",
		"capability_id", inserted.ID, "agent_id", inserted.AgentID,
		"issued_by", inserted.IssuedBy, "expires_at", inserted.ExpiresAt)
	return model.MintCapabilityResponse{Capability: inserted, Token: token}, nil
}

// Validate resolves a bearer token. Elapsed expiry invalidates the token
// regardless of whether the sweep has caught up with the stored status.
func (s *Service) Validate(ctx context.Context, token string) (model.ValidateTokenResponse, error) {
	rec, err := s.db.GetCapabilityByTokenHash(ctx, integrity.SHA256Hex([]byte(token)))
	if errors.Is(err, storage.ErrNotFound) {
		return model.ValidateTokenResponse{Valid: false, Reason: "token not found"}, nil
	}
	if err != nil {
		return model.ValidateTokenResponse{}, err
	}

	switch {
	case rec.Status == model.CapabilityRevoked:
		return model.ValidateTokenResponse{Valid: false, Reason: "capability revoked"}, nil
	case rec.Status == model.CapabilityExpired || !rec.ExpiresAt.After(time.Now().UTC()):
		return model.ValidateTokenResponse{Valid: false, Reason: "capability expired"}, nil
	}
	return model.ValidateTokenResponse{Valid: true, Capability: &rec}, nil
}

// CheckPermission reports whether any active, unexpired capability of the
// agent grants the action, either exactly or via a namespace wildcard.
// The response carries the matched grant value, not the capability, so the
// arbitrary enumeration order is not observable for pure boolean checks.
func (s *Service) CheckPermission(ctx context.Context, agentID, action string) (model.CheckPermissionResponse, error) {
	if err := model.ValidateAction(action); err != nil {
		return model.CheckPermissionResponse{}, fmt.Errorf("capability: %w", err)
	}
	caps, err := s.db.ListCapabilities(ctx, agentID, true)
	if err != nil {
		return model.CheckPermissionResponse{}, err
	}
	for _, c := range caps {
		if grant, ok := MatchScope(c.Scope, action); ok {
			return model.CheckPermissionResponse{Allowed: true, Scope: grant}, nil
		}
	}
	return model.CheckPermissionResponse{
		Allowed: false,
		Reason:  fmt.Sprintf("no active capability grants %s", action),
	}, nil
}

// List returns an agent's capabilities, optionally only those active and
// unexpired.
func (s *Service) List(ctx context.Context, agentID string, activeOnly bool) ([]model.Capability, error) {
	if _, err := s.db.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return s.db.ListCapabilities(ctx, agentID, activeOnly)
}

// Revoke transitions a capability to revoked. Revoking twice is rejected.
func (s *Service) Revoke(ctx context.Context, id string) (model.Capability, error) {
	c, err := s.db.RevokeCapability(ctx, id)
	if err != nil {
		return model.Capability{}, err
	}
	s.logger.Info("capability revoked", "capability_id", c.ID, "agent_id", c.AgentID)
	return c, nil
}

// ExpireDue transitions all overdue active capabilities to expired and
// returns the actual affected row count.
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	n, err := s.db.ExpireDueCapabilities(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("capabilities expired", "count", n)
	}
	return n, nil
}

// MatchScope checks a single scope for a grant of action: an exact key
// match or the "<namespace>:*" wildcard. Returns the grant value (true or
// the constraint object) and whether a grant was found.
func MatchScope(scope model.Scope, action string) (any, bool) {
	if grant, ok := scope[action]; ok {
		return grant, true
	}
	ns, _, ok := strings.Cut(action, ":")
	if !ok {
		return nil, false
	}
	if grant, ok := scope[ns+":*"]; ok {
		return grant, true
	}
	return nil, false
}
