package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wrentheai/trust-infra/internal/model"
)

const agentColumns = `agent_id, public_key, name, owner, status, metadata, created_at, revoked_at`

// InsertAgent registers a new agent. The reputation row is created by a
// database trigger in the same statement's transaction. Returns
// ErrDuplicate when the public key (or derived agent id) already exists.
func (db *DB) InsertAgent(ctx context.Context, a model.Agent) (model.Agent, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO agents (agent_id, public_key, name, owner, status, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+agentColumns,
		a.AgentID, a.PublicKey, a.Name, a.Owner, a.Status, a.Metadata,
	)
	inserted, err := scanAgent(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Agent{}, fmt.Errorf("%w: public key already registered", ErrDuplicate)
		}
		return model.Agent{}, fmt.Errorf("storage: insert agent: %w", err)
	}
	return inserted, nil
}

// GetAgent loads an agent by id.
func (db *DB) GetAgent(ctx context.Context, agentID string) (model.Agent, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE agent_id = $1`, agentID)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Agent{}, ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// GetAgentForUpdate loads an agent inside tx, taking a row-level lock that
// serializes concurrent chain admissions for the same agent.
func (db *DB) GetAgentForUpdate(ctx context.Context, tx pgx.Tx, agentID string) (model.Agent, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE agent_id = $1 FOR UPDATE`, agentID)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Agent{}, ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: get agent for update: %w", err)
	}
	return a, nil
}

// ListAgents returns agents matching the optional status and owner filters,
// newest first.
func (db *DB) ListAgents(ctx context.Context, status model.AgentStatus, owner string) ([]model.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents WHERE 1=1`
	args := []any{}
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if owner != "" {
		args = append(args, owner)
		q += fmt.Sprintf(" AND owner = $%d", len(args))
	}
	q += " ORDER BY created_at DESC"

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// RevokeAgent transitions an active agent to revoked, merging reason into
// its metadata when present. Returns ErrNotFound for unknown agents and
// ErrConflict when the agent is already revoked.
func (db *DB) RevokeAgent(ctx context.Context, agentID string, reason *string) (model.Agent, error) {
	now := time.Now().UTC()
	q := `UPDATE agents SET status = 'revoked', revoked_at = $2`
	args := []any{agentID, now}
	if reason != nil {
		args = append(args, *reason)
		q += `, metadata = metadata || jsonb_build_object('revocation_reason', $3::text)`
	}
	q += ` WHERE agent_id = $1 AND status = 'active' RETURNING ` + agentColumns

	row := db.pool.QueryRow(ctx, q, args...)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish missing from already revoked.
		if _, gerr := db.GetAgent(ctx, agentID); gerr != nil {
			return model.Agent{}, ErrNotFound
		}
		return model.Agent{}, fmt.Errorf("%w: agent already revoked", ErrConflict)
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: revoke agent: %w", err)
	}
	return a, nil
}

func scanAgent(row pgx.Row) (model.Agent, error) {
	var a model.Agent
	err := row.Scan(&a.AgentID, &a.PublicKey, &a.Name, &a.Owner, &a.Status,
		&a.Metadata, &a.CreatedAt, &a.RevokedAt)
	return a, err
}
