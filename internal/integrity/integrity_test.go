package integrity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/wrentheai/trust-infra/internal/model"
)

func testKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func TestDeriveAgentID(t *testing.T) {
	pub, _ := testKeyPair(t)
	id, err := DeriveAgentID(hex.EncodeToString(pub))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(id) != 64 {
		t.Fatalf("agent id should be 64 hex chars, got %d", len(id))
	}
	if id != SHA256Hex(pub) {
		t.Fatal("agent id must equal sha256 of the raw key bytes")
	}
}

func TestDeriveAgentID_RejectsBadKeys(t *testing.T) {
	if _, err := DeriveAgentID("not-hex"); err == nil {
		t.Fatal("non-hex key should be rejected")
	}
	if _, err := DeriveAgentID("abcd"); err == nil {
		t.Fatal("short key should be rejected")
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	pub, priv := testKeyPair(t)
	msg := []byte("canonical bytes")

	sig, err := Sign(msg, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != ed25519.SignatureSize {
		t.Fatalf("signature should be %d bytes, got %d", ed25519.SignatureSize, len(sig))
	}
	if !Verify(msg, sig, pub) {
		t.Fatal("signature should verify")
	}

	// Flipping any byte of the message or signature must fail verification.
	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0x01
	if Verify(tampered, sig, pub) {
		t.Fatal("tampered message should not verify")
	}
	badSig := append([]byte(nil), sig...)
	badSig[10] ^= 0x01
	if Verify(msg, badSig, pub) {
		t.Fatal("tampered signature should not verify")
	}
}

func TestVerify_RejectsMalformedInputs(t *testing.T) {
	pub, priv := testKeyPair(t)
	msg := []byte("m")
	sig, _ := Sign(msg, priv)

	if Verify(msg, sig[:32], pub) {
		t.Fatal("truncated signature should not verify")
	}
	if Verify(msg, sig, pub[:16]) {
		t.Fatal("truncated public key should not verify")
	}
	if VerifyHex(msg, "zz", hex.EncodeToString(pub)) {
		t.Fatal("non-hex signature should not verify")
	}
}

func TestUnsignedEvent_CanonicalBytes(t *testing.T) {
	prev := "aa11"
	corr := "0b0b0b0b-0000-0000-0000-000000000000"
	u := UnsignedEvent{
		AgentID:       "agent",
		EventType:     model.EventDecisionMade,
		Timestamp:     "2026-03-01T12:00:00Z",
		PrevHash:      &prev,
		Payload:       map[string]any{"i": 2},
		CorrelationID: &corr,
	}
	b, err := u.CanonicalBytes()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `{"agent_id":"agent","correlation_id":"0b0b0b0b-0000-0000-0000-000000000000","event_type":"decision_made","payload":{"i":2},"prev_hash":"aa11","timestamp":"2026-03-01T12:00:00Z"}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
}

func TestUnsignedEvent_GenesisPrevHashIsNull(t *testing.T) {
	u := UnsignedEvent{
		AgentID:   "agent",
		EventType: model.EventInputReceived,
		Timestamp: "2026-03-01T12:00:00Z",
		Payload:   map[string]any{"i": 1},
	}
	b, err := u.CanonicalBytes()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `{"agent_id":"agent","event_type":"input_received","payload":{"i":1},"prev_hash":null,"timestamp":"2026-03-01T12:00:00Z"}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
}

func TestUnsignedEvent_HashDeterminism(t *testing.T) {
	u := UnsignedEvent{
		AgentID:   "agent",
		EventType: model.EventSystemEvent,
		Timestamp: "2026-03-01T12:00:00.123456Z",
		Payload:   map[string]any{"nested": map[string]any{"z": 1, "a": "x"}},
	}
	h1, err := u.ComputeHash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := u.ComputeHash()
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64-char hex digest, got %d chars", len(h1))
	}
}

func TestUnsignedFromEvent_RoundTripsStoredEvent(t *testing.T) {
	pub, priv := testKeyPair(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)

	u := UnsignedEvent{
		AgentID:   SHA256Hex(pub),
		EventType: model.EventToolCallResult,
		Timestamp: model.CanonicalTimestamp(ts),
		Payload:   map[string]any{"ok": true},
	}
	b, _ := u.CanonicalBytes()
	hash, _ := u.ComputeHash()
	sig, _ := Sign(b, priv)

	stored := model.Event{
		AgentID:   u.AgentID,
		EventType: u.EventType,
		Timestamp: ts,
		Payload:   u.Payload,
		Hash:      hash,
		Signature: hex.EncodeToString(sig),
	}
	again := UnsignedFromEvent(stored)
	b2, err := again.CanonicalBytes()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(b) != string(b2) {
		t.Fatalf("stored event does not reproduce signed bytes:\n%s\n%s", b, b2)
	}
	if got, _ := again.ComputeHash(); got != hash {
		t.Fatal("stored event does not reproduce hash")
	}
	if !VerifyHex(b2, stored.Signature, hex.EncodeToString(pub)) {
		t.Fatal("stored event signature should verify")
	}
}
