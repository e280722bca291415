// Package integrity provides the tamper-evidence primitives for the audit
// trail: SHA-256 hashing, Ed25519 signing and verification over canonical
// bytes, agent identity derivation, and the canonical pre-image of an
// event. All functions are pure and deterministic.
package integrity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/wrentheai/trust-infra/internal/canonical"
	"github.com/wrentheai/trust-infra/internal/model"
)

// SHA256Hex computes the SHA-256 digest of data as lowercase hex.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DeriveAgentID computes the agent identifier for a hex-encoded Ed25519
// public key: the lowercase hex SHA-256 of the raw key bytes.
func DeriveAgentID(publicKeyHex string) (string, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", fmt.Errorf("integrity: decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("integrity: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return SHA256Hex(raw), nil
}

// Sign signs message with an Ed25519 private key and returns the 64-byte
// signature.
func Sign(message []byte, priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("integrity: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	return ed25519.Sign(priv, message), nil
}

// Verify checks an Ed25519 signature over message. Returns false for any
// malformed key or signature. ed25519.Verify runs in time independent of
// the signature bytes.
func Verify(message, sig []byte, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// VerifyHex is Verify over hex-encoded signature and public key.
func VerifyHex(message []byte, sigHex, pubHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false
	}
	return Verify(message, sig, pub)
}

// UnsignedEvent is the canonical pre-image of an event: everything the
// client signs, i.e. the wire event minus hash and signature. Timestamp is
// the canonical RFC 3339 string (see model.CanonicalTimestamp).
type UnsignedEvent struct {
	AgentID       string
	EventType     model.EventType
	Timestamp     string
	PrevHash      *string
	Payload       map[string]any
	CorrelationID *string
}

// CanonicalBytes produces the canonical JSON bytes of the unsigned event.
// PrevHash appears explicitly as null for a genesis event; CorrelationID
// is omitted entirely when absent.
func (u UnsignedEvent) CanonicalBytes() ([]byte, error) {
	m := map[string]any{
		"agent_id":   u.AgentID,
		"event_type": string(u.EventType),
		"timestamp":  u.Timestamp,
		"payload":    u.Payload,
	}
	if u.PrevHash != nil {
		m["prev_hash"] = *u.PrevHash
	} else {
		m["prev_hash"] = nil
	}
	if u.CorrelationID != nil {
		m["correlation_id"] = *u.CorrelationID
	}
	return canonical.Marshal(m)
}

// ComputeHash canonicalizes the unsigned event and returns the SHA-256 of
// the canonical bytes as lowercase hex.
func (u UnsignedEvent) ComputeHash() (string, error) {
	b, err := u.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// UnsignedFromEvent rebuilds the canonical pre-image from a persisted event.
func UnsignedFromEvent(e model.Event) UnsignedEvent {
	return UnsignedEvent{
		AgentID:       e.AgentID,
		EventType:     e.EventType,
		Timestamp:     model.CanonicalTimestamp(e.Timestamp),
		PrevHash:      e.PrevHash,
		Payload:       e.Payload,
		CorrelationID: e.CorrelationID,
	}
}
