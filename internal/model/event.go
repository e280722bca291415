package model

import (
	"fmt"
	"time"
)

// EventType is the category of an audit event.
type EventType string

const (
	EventInputReceived     EventType = "input_received"
	EventDecisionMade      EventType = "decision_made"
	EventToolCallRequested EventType = "tool_call_requested"
	EventToolCallResult    EventType = "tool_call_result"
	EventResponseEmitted   EventType = "response_emitted"
	EventMemoryCreated     EventType = "memory_created"
	EventMemoryUpdated     EventType = "memory_updated"
	EventCapabilityGranted EventType = "capability_granted"
	EventCapabilityRevoked EventType = "capability_revoked"
	EventPolicyViolation   EventType = "policy_violation"
	EventErrorOccurred     EventType = "error_occurred"
	EventSystemEvent       EventType = "system_event"
)

var eventTypes = map[EventType]bool{
	EventInputReceived:     true,
	EventDecisionMade:      true,
	EventToolCallRequested: true,
	EventToolCallResult:    true,
	EventResponseEmitted:   true,
	EventMemoryCreated:     true,
	EventMemoryUpdated:     true,
	EventCapabilityGranted: true,
	EventCapabilityRevoked: true,
	EventPolicyViolation:   true,
	EventErrorOccurred:     true,
	EventSystemEvent:       true,
}

// ValidateEventType checks that t is one of the closed set of event types.
func ValidateEventType(t EventType) error {
	if !eventTypes[t] {
		return fmt.Errorf("unknown event type %q", t)
	}
	return nil
}

// Event is an atomic, signed, hash-linked record of one agent action or
// observation. Events are append-only: once persisted they are never
// updated, and the only permitted removal is a cascade from agent deletion.
type Event struct {
	ID            int64          `json:"id"`
	AgentID       string         `json:"agent_id"`
	EventType     EventType      `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	PrevHash      *string        `json:"prev_hash"`
	Hash          string         `json:"hash"`
	Payload       map[string]any `json:"payload"`
	Signature     string         `json:"signature"`
	CorrelationID *string        `json:"correlation_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// EventFilter selects events for query endpoints. Zero values mean "no
// constraint". Results are ordered by timestamp descending.
type EventFilter struct {
	AgentID       string
	EventType     EventType
	CorrelationID string
	Since         *time.Time
	Until         *time.Time
	Limit         int
	Offset        int
}

// CanonicalTimestamp renders t in the canonical wire form: UTC RFC 3339
// truncated to microseconds. Microsecond precision matches what the
// timestamptz column preserves, so events re-canonicalized from storage
// reproduce the signed bytes exactly.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
}
