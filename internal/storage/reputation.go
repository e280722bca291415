package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wrentheai/trust-infra/internal/model"
)

const reputationColumns = `agent_id, overall_score, total_actions, success_rate, failure_rate, harmful_actions, user_corrections, breakdown, last_updated`

// GetReputation loads the reputation row for an agent.
func (db *DB) GetReputation(ctx context.Context, agentID string) (model.Reputation, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+reputationColumns+` FROM reputation WHERE agent_id = $1`, agentID)
	return oneReputation(row)
}

// GetReputationForUpdate loads a reputation row inside tx with a row lock,
// serializing concurrent outcome applications for the same agent.
func (db *DB) GetReputationForUpdate(ctx context.Context, tx pgx.Tx, agentID string) (model.Reputation, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+reputationColumns+` FROM reputation WHERE agent_id = $1 FOR UPDATE`, agentID)
	return oneReputation(row)
}

// UpdateReputationTx writes back a recomputed reputation row inside tx.
func (db *DB) UpdateReputationTx(ctx context.Context, tx pgx.Tx, r model.Reputation) error {
	tag, err := tx.Exec(ctx,
		`UPDATE reputation
		 SET overall_score = $2, total_actions = $3, success_rate = $4,
		     failure_rate = $5, harmful_actions = $6, user_corrections = $7,
		     breakdown = $8, last_updated = $9
		 WHERE agent_id = $1`,
		r.AgentID, r.OverallScore, r.TotalActions, r.SuccessRate, r.FailureRate,
		r.HarmfulActions, r.UserCorrections, r.Breakdown, r.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("storage: update reputation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReputation returns all reputation rows, lowest score first.
func (db *DB) ListReputation(ctx context.Context) ([]model.Reputation, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+reputationColumns+` FROM reputation ORDER BY overall_score ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list reputation: %w", err)
	}
	defer rows.Close()

	var reps []model.Reputation
	for rows.Next() {
		r, err := scanReputation(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan reputation: %w", err)
		}
		reps = append(reps, r)
	}
	return reps, rows.Err()
}

// InsertOutcomeTx appends an outcome record inside the same transaction
// that applies its reputation impact.
func (db *DB) InsertOutcomeTx(ctx context.Context, tx pgx.Tx, o model.Outcome) (model.Outcome, error) {
	row := tx.QueryRow(ctx,
		`INSERT INTO outcomes (id, agent_id, event_id, outcome_type, reporter, impact_score, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, agent_id, event_id, outcome_type, reporter, impact_score, details, created_at`,
		o.ID, o.AgentID, o.EventID, o.OutcomeType, o.Reporter, o.ImpactScore, o.Details,
	)
	var out model.Outcome
	err := row.Scan(&out.ID, &out.AgentID, &out.EventID, &out.OutcomeType,
		&out.Reporter, &out.ImpactScore, &out.Details, &out.CreatedAt)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("storage: insert outcome: %w", err)
	}
	return out, nil
}

func oneReputation(row pgx.Row) (model.Reputation, error) {
	r, err := scanReputation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Reputation{}, ErrNotFound
	}
	if err != nil {
		return model.Reputation{}, fmt.Errorf("storage: get reputation: %w", err)
	}
	return r, nil
}

func scanReputation(row pgx.Row) (model.Reputation, error) {
	var r model.Reputation
	err := row.Scan(&r.AgentID, &r.OverallScore, &r.TotalActions, &r.SuccessRate,
		&r.FailureRate, &r.HarmfulActions, &r.UserCorrections, &r.Breakdown, &r.LastUpdated)
	return r, err
}
