package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wrentheai/trust-infra/internal/model"
)

const eventColumns = `id, agent_id, event_type, timestamp, prev_hash, hash, payload, signature, correlation_id, created_at`

// InsertEventTx persists one event inside the admission transaction.
// Returns ErrDuplicate when the hash collides with an existing event.
func (db *DB) InsertEventTx(ctx context.Context, tx pgx.Tx, e model.Event) (model.Event, error) {
	row := tx.QueryRow(ctx,
		`INSERT INTO events (agent_id, event_type, timestamp, prev_hash, hash, payload, signature, correlation_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+eventColumns,
		e.AgentID, e.EventType, e.Timestamp, e.PrevHash, e.Hash, e.Payload, e.Signature, e.CorrelationID,
	)
	inserted, err := scanEvent(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Event{}, fmt.Errorf("%w: event hash already recorded", ErrDuplicate)
		}
		return model.Event{}, fmt.Errorf("storage: insert event: %w", err)
	}
	return inserted, nil
}

// GetLastEventTx reads the head of an agent's chain inside tx: the event
// with the highest (timestamp, id). Returns ErrNotFound for an empty chain.
func (db *DB) GetLastEventTx(ctx context.Context, tx pgx.Tx, agentID string) (model.Event, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE agent_id = $1
		 ORDER BY timestamp DESC, id DESC LIMIT 1`, agentID)
	return oneEvent(row, "get last event")
}

// GetLastEvent is GetLastEventTx outside a transaction, for the last-hash
// endpoint where a stale read is acceptable.
func (db *DB) GetLastEvent(ctx context.Context, agentID string) (model.Event, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE agent_id = $1
		 ORDER BY timestamp DESC, id DESC LIMIT 1`, agentID)
	return oneEvent(row, "get last event")
}

// GetEventByID loads an event by its numeric identifier.
func (db *DB) GetEventByID(ctx context.Context, id int64) (model.Event, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	return oneEvent(row, "get event by id")
}

// GetEventByHash loads an event by its content hash.
func (db *DB) GetEventByHash(ctx context.Context, hash string) (model.Event, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE hash = $1`, hash)
	return oneEvent(row, "get event by hash")
}

// EventHashExistsTx reports inside tx whether an event with the given hash
// is already persisted. Used by the admission pipeline to reject replays
// ahead of the chain check.
func (db *DB) EventHashExistsTx(ctx context.Context, tx pgx.Tx, hash string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE hash = $1)`, hash).Scan(&exists); err != nil {
		return false, fmt.Errorf("storage: event hash exists: %w", err)
	}
	return exists, nil
}

// GetAgentChain loads all events for an agent in chronological order
// (timestamp, id ascending) for chain verification.
func (db *DB) GetAgentChain(ctx context.Context, agentID string) ([]model.Event, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE agent_id = $1
		 ORDER BY timestamp ASC, id ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("storage: get agent chain: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// QueryEvents returns events matching the filter, newest first.
func (db *DB) QueryEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	where, args := buildEventWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	limitClause := fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, f.Offset)
	offsetClause := fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := db.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events`+where+
			` ORDER BY timestamp DESC, id DESC`+limitClause+offsetClause, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountEvents returns the number of events matching the filter.
func (db *DB) CountEvents(ctx context.Context, f model.EventFilter) (int, error) {
	where, args := buildEventWhere(f)
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM events`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count events: %w", err)
	}
	return n, nil
}

func buildEventWhere(f model.EventFilter) (string, []any) {
	where := " WHERE 1=1"
	var args []any
	if f.AgentID != "" {
		args = append(args, f.AgentID)
		where += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if f.EventType != "" {
		args = append(args, f.EventType)
		where += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if f.CorrelationID != "" {
		args = append(args, f.CorrelationID)
		where += fmt.Sprintf(" AND correlation_id = $%d", len(args))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		where += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		where += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	return where, args
}

func oneEvent(row pgx.Row, op string) (model.Event, error) {
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("storage: %s: %w", op, err)
	}
	return e, nil
}

func scanEvent(row pgx.Row) (model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.AgentID, &e.EventType, &e.Timestamp, &e.PrevHash,
		&e.Hash, &e.Payload, &e.Signature, &e.CorrelationID, &e.CreatedAt)
	return e, err
}

func scanEvents(rows pgx.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
