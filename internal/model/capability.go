package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CapabilityStatus is the lifecycle state of a capability.
type CapabilityStatus string

const (
	CapabilityActive  CapabilityStatus = "active"
	CapabilityExpired CapabilityStatus = "expired"
	CapabilityRevoked CapabilityStatus = "revoked"
)

// Scope maps action patterns to grant values. A key is either a concrete
// action ("tool:wallet.send") or a namespace wildcard ("tool:*"). A value
// is either boolean true (unconstrained grant) or a constraint object
// interpreted by callers (e.g. {"max_value": 100}).
type Scope map[string]any

// Capability is a bearer-token-backed grant of a scoped, time-limited
// action set for one agent. Only the SHA-256 of the token is stored; the
// plaintext token exists solely in the mint response.
type Capability struct {
	ID        uuid.UUID        `json:"id"`
	AgentID   string           `json:"agent_id"`
	Scope     Scope            `json:"scope"`
	IssuedBy  string           `json:"issued_by"`
	IssuedAt  time.Time        `json:"issued_at"`
	ExpiresAt time.Time        `json:"expires_at"`
	Status    CapabilityStatus `json:"status"`
	TokenHash string           `json:"token_hash"`
	RevokedAt *time.Time       `json:"revoked_at,omitempty"`
}

// ValidateAction checks that an action string has the "namespace:verb"
// shape required of scope keys and permission checks.
func ValidateAction(action string) error {
	ns, verb, ok := strings.Cut(action, ":")
	if !ok || ns == "" || verb == "" {
		return fmt.Errorf("action must have the form namespace:verb, got %q", action)
	}
	return nil
}

// ValidateScope checks every key of a scope for well-formedness and every
// value for being either boolean true or a constraint object.
func ValidateScope(s Scope) error {
	if len(s) == 0 {
		return fmt.Errorf("scope must not be empty")
	}
	for k, v := range s {
		if err := ValidateAction(k); err != nil {
			return err
		}
		switch val := v.(type) {
		case bool:
			if !val {
				return fmt.Errorf("scope value for %q must be true or a constraint object", k)
			}
		case map[string]any:
		default:
			return fmt.Errorf("scope value for %q must be true or a constraint object", k)
		}
	}
	return nil
}
