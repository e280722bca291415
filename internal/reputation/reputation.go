// Package reputation maintains the per-agent behavioral score: outcome
// impacts, running success/failure rates, domain score breakdowns, and the
// downgrade predicate.
package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/wrentheai/trust-infra/internal/model"
	"github.com/wrentheai/trust-infra/internal/storage"
)

// Default impact of each outcome type on the overall score.
var impactTable = map[model.OutcomeType]float64{
	model.OutcomeSuccess:        +0.5,
	model.OutcomePartialSuccess: +0.2,
	model.OutcomeFailure:        -0.3,
	model.OutcomeUserCorrected:  -0.5,
	model.OutcomeHarmful:        -2.0,
}

// Service is the reputation engine.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a reputation service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// RecordOutcome appends an outcome record and applies its impact to the
// agent's reputation row, both in one transaction holding a lock on the
// reputation row. A caller-supplied impact overrides the table and must
// lie in [-1, +1].
func (s *Service) RecordOutcome(ctx context.Context, req model.RecordOutcomeRequest) (model.Outcome, model.Reputation, error) {
	if err := model.ValidateOutcomeType(req.OutcomeType); err != nil {
		return model.Outcome{}, model.Reputation{}, fmt.Errorf("reputation: %w", err)
	}
	if req.Impact != nil && (*req.Impact < -1 || *req.Impact > 1) {
		return model.Outcome{}, model.Reputation{}, fmt.Errorf("reputation: impact override must be in [-1, 1], got %v", *req.Impact)
	}

	// The referenced event must exist and belong to the agent.
	event, err := s.db.GetEventByID(ctx, req.EventID)
	if err != nil {
		return model.Outcome{}, model.Reputation{}, err
	}
	if event.AgentID != req.AgentID {
		return model.Outcome{}, model.Reputation{}, fmt.Errorf("reputation: event %d does not belong to agent %s: %w",
			req.EventID, req.AgentID, storage.ErrNotFound)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.Outcome{}, model.Reputation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rep, err := s.db.GetReputationForUpdate(ctx, tx, req.AgentID)
	if err != nil {
		return model.Outcome{}, model.Reputation{}, err
	}

	now := time.Now().UTC()
	updated, delta := Apply(rep, req.OutcomeType, req.Impact, now)
	if err := s.db.UpdateReputationTx(ctx, tx, updated); err != nil {
		return model.Outcome{}, model.Reputation{}, err
	}

	outcome, err := s.db.InsertOutcomeTx(ctx, tx, model.Outcome{
		ID:          uuid.New(),
		AgentID:     req.AgentID,
		EventID:     req.EventID,
		OutcomeType: req.OutcomeType,
		Reporter:    req.Reporter,
		ImpactScore: delta,
		Details:     req.Details,
	})
	if err != nil {
		return model.Outcome{}, model.Reputation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Outcome{}, model.Reputation{}, fmt.Errorf("reputation: commit outcome: %w", err)
	}

	s.logger.Debug("outcome recorded",
		"agent_id", req.AgentID, "event_id", req.EventID,
		"outcome_type", req.OutcomeType, "delta", delta,
		"overall_score", updated.OverallScore)
	return outcome, updated, nil
}

// Apply computes the reputation row after one outcome. Pure.
//
// Success and failure counts are reconstructed from the stored rates via
// round(rate * N), the outcome's side is incremented, and rates are
// recomputed over N+1.
func Apply(rep model.Reputation, t model.OutcomeType, impact *float64, now time.Time) (model.Reputation, float64) {
	delta := impactTable[t]
	if impact != nil {
		delta = *impact
	}

	rep.OverallScore = clamp(rep.OverallScore+delta, 0, 100)

	n := rep.TotalActions
	successCount := int64(math.Round(rep.SuccessRate * float64(n)))
	failureCount := int64(math.Round(rep.FailureRate * float64(n)))
	if t.IsPositive() {
		successCount++
	} else {
		failureCount++
	}
	rep.TotalActions = n + 1
	rep.SuccessRate = float64(successCount) / float64(n+1)
	rep.FailureRate = float64(failureCount) / float64(n+1)

	if t == model.OutcomeHarmful {
		rep.HarmfulActions++
	}
	if t == model.OutcomeUserCorrected {
		rep.UserCorrections++
	}
	rep.LastUpdated = now
	return rep, delta
}

// UpdateDomainScore replaces the value for one domain in the agent's
// breakdown map. Scores are bounded to [0, 1].
func (s *Service) UpdateDomainScore(ctx context.Context, agentID, domain string, score float64) (model.Reputation, error) {
	if domain == "" {
		return model.Reputation{}, fmt.Errorf("reputation: domain must not be empty")
	}
	if score < 0 || score > 1 {
		return model.Reputation{}, fmt.Errorf("reputation: domain score must be in [0, 1], got %v", score)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.Reputation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rep, err := s.db.GetReputationForUpdate(ctx, tx, agentID)
	if err != nil {
		return model.Reputation{}, err
	}
	if rep.Breakdown == nil {
		rep.Breakdown = map[string]float64{}
	}
	rep.Breakdown[domain] = score
	rep.LastUpdated = time.Now().UTC()

	if err := s.db.UpdateReputationTx(ctx, tx, rep); err != nil {
		return model.Reputation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Reputation{}, fmt.Errorf("reputation: commit domain score: %w", err)
	}
	return rep, nil
}

// Get loads the reputation row for one agent.
func (s *Service) Get(ctx context.Context, agentID string) (model.Reputation, error) {
	return s.db.GetReputation(ctx, agentID)
}

// List returns all reputation rows.
func (s *Service) List(ctx context.Context) ([]model.Reputation, error) {
	return s.db.ListReputation(ctx)
}

// ShouldDowngrade evaluates the downgrade predicate for an agent.
func (s *Service) ShouldDowngrade(ctx context.Context, agentID string) (model.DowngradeResponse, error) {
	rep, err := s.db.GetReputation(ctx, agentID)
	if err != nil {
		return model.DowngradeResponse{}, err
	}
	downgrade, reason := Downgrade(rep)
	return model.DowngradeResponse{ShouldDowngrade: downgrade, Reason: reason}, nil
}

// Downgrade is the pure downgrade predicate. Harmful-action count is
// checked ahead of the failure rate so repeat-harm agents get the more
// actionable reason.
func Downgrade(rep model.Reputation) (bool, string) {
	if rep.OverallScore < 20 {
		return true, fmt.Sprintf("Overall score too low: %.1f", rep.OverallScore)
	}
	if rep.HarmfulActions >= 5 {
		return true, fmt.Sprintf("Too many harmful actions: %d", rep.HarmfulActions)
	}
	if rep.FailureRate > 0.5 {
		return true, fmt.Sprintf("Failure rate too high: %.2f", rep.FailureRate)
	}
	return false, ""
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
