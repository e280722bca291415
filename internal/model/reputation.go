package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutcomeType classifies a reported outcome of an agent action.
type OutcomeType string

const (
	OutcomeSuccess        OutcomeType = "success"
	OutcomePartialSuccess OutcomeType = "partial_success"
	OutcomeFailure        OutcomeType = "failure"
	OutcomeUserCorrected  OutcomeType = "user_corrected"
	OutcomeHarmful        OutcomeType = "harmful"
)

var outcomeTypes = map[OutcomeType]bool{
	OutcomeSuccess:        true,
	OutcomePartialSuccess: true,
	OutcomeFailure:        true,
	OutcomeUserCorrected:  true,
	OutcomeHarmful:        true,
}

// ValidateOutcomeType checks that t is a known outcome type.
func ValidateOutcomeType(t OutcomeType) error {
	if !outcomeTypes[t] {
		return fmt.Errorf("unknown outcome type %q", t)
	}
	return nil
}

// IsPositive reports whether the outcome counts toward the success rate.
// Everything else counts toward the failure rate.
func (t OutcomeType) IsPositive() bool {
	return t == OutcomeSuccess || t == OutcomePartialSuccess
}

// Reputation is the aggregate behavioral score for one agent. A row is
// created automatically when the agent is registered.
type Reputation struct {
	AgentID         string             `json:"agent_id"`
	OverallScore    float64            `json:"overall_score"`
	TotalActions    int64              `json:"total_actions"`
	SuccessRate     float64            `json:"success_rate"`
	FailureRate     float64            `json:"failure_rate"`
	HarmfulActions  int64              `json:"harmful_actions"`
	UserCorrections int64              `json:"user_corrections"`
	Breakdown       map[string]float64 `json:"breakdown"`
	LastUpdated     time.Time          `json:"last_updated"`
}

// Outcome is an append-only reporter-attested judgment about an event.
type Outcome struct {
	ID          uuid.UUID      `json:"id"`
	AgentID     string         `json:"agent_id"`
	EventID     int64          `json:"event_id"`
	OutcomeType OutcomeType    `json:"outcome_type"`
	Reporter    string         `json:"reporter"`
	ImpactScore float64        `json:"impact_score"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
