package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wrentheai/trust-infra/internal/model"
)

const capabilityColumns = `id, agent_id, scope, issued_by, issued_at, expires_at, status, token_hash, revoked_at`

// InsertCapability persists a freshly minted capability.
func (db *DB) InsertCapability(ctx context.Context, c model.Capability) (model.Capability, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO capabilities (id, agent_id, scope, issued_by, issued_at, expires_at, status, token_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+capabilityColumns,
		c.ID, c.AgentID, c.Scope, c.IssuedBy, c.IssuedAt, c.ExpiresAt, c.Status, c.TokenHash,
	)
	inserted, err := scanCapability(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Capability{}, fmt.Errorf("%w: token hash collision", ErrDuplicate)
		}
		return model.Capability{}, fmt.Errorf("storage: insert capability: %w", err)
	}
	return inserted, nil
}

// GetCapability loads a capability by id.
func (db *DB) GetCapability(ctx context.Context, id string) (model.Capability, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+capabilityColumns+` FROM capabilities WHERE id = $1`, id)
	return oneCapability(row, "get capability")
}

// GetCapabilityByTokenHash loads a capability by the SHA-256 of its bearer
// token.
func (db *DB) GetCapabilityByTokenHash(ctx context.Context, tokenHash string) (model.Capability, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+capabilityColumns+` FROM capabilities WHERE token_hash = $1`, tokenHash)
	return oneCapability(row, "get capability by token hash")
}

// ListCapabilities returns capabilities for an agent, newest first. With
// activeOnly, only rows that are active and unexpired are returned.
func (db *DB) ListCapabilities(ctx context.Context, agentID string, activeOnly bool) ([]model.Capability, error) {
	q := `SELECT ` + capabilityColumns + ` FROM capabilities WHERE agent_id = $1`
	args := []any{agentID}
	if activeOnly {
		args = append(args, time.Now().UTC())
		q += fmt.Sprintf(` AND status = 'active' AND expires_at > $%d`, len(args))
	}
	q += ` ORDER BY issued_at DESC`

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list capabilities: %w", err)
	}
	defer rows.Close()

	var caps []model.Capability
	for rows.Next() {
		c, err := scanCapability(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan capability: %w", err)
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

// RevokeCapability transitions active → revoked. Returns ErrNotFound for
// unknown ids and ErrConflict when the capability is already revoked or
// expired.
func (db *DB) RevokeCapability(ctx context.Context, id string) (model.Capability, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE capabilities SET status = 'revoked', revoked_at = $2
		 WHERE id = $1 AND status = 'active'
		 RETURNING `+capabilityColumns,
		id, time.Now().UTC(),
	)
	c, err := scanCapability(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := db.GetCapability(ctx, id); gerr != nil {
			return model.Capability{}, ErrNotFound
		}
		return model.Capability{}, fmt.Errorf("%w: capability not active", ErrConflict)
	}
	if err != nil {
		return model.Capability{}, fmt.Errorf("storage: revoke capability: %w", err)
	}
	return c, nil
}

// ExpireDueCapabilities transitions all active capabilities whose
// expires_at has passed to expired, returning the affected row count.
func (db *DB) ExpireDueCapabilities(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE capabilities SET status = 'expired'
		 WHERE status = 'active' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("storage: expire capabilities: %w", err)
	}
	return tag.RowsAffected(), nil
}

func oneCapability(row pgx.Row, op string) (model.Capability, error) {
	c, err := scanCapability(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Capability{}, ErrNotFound
	}
	if err != nil {
		return model.Capability{}, fmt.Errorf("storage: %s: %w", op, err)
	}
	return c, nil
}

func scanCapability(row pgx.Row) (model.Capability, error) {
	var c model.Capability
	err := row.Scan(&c.ID, &c.AgentID, &c.Scope, &c.IssuedBy, &c.IssuedAt,
		&c.ExpiresAt, &c.Status, &c.TokenHash, &c.RevokedAt)
	return c, err
}
