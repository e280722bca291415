package keystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrKeyNotFound is returned when no stored key exists for an agent.
var ErrKeyNotFound = errors.New("keystore: key not found")

// Store persists encrypted key blobs in a local sqlite database. It is the
// service-side custody option for operators who want key material on the
// host that mints agents, never in Postgres.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if necessary) a sqlite keystore at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("keystore: open store: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS encrypted_keys (
			agent_id   TEXT PRIMARY KEY,
			blob       TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("keystore: create table: %w", err)
	}
	return &Store{db: db}, nil
}

// Put stores an encrypted key blob, replacing any previous blob for the
// same agent.
func (s *Store) Put(ctx context.Context, ek *EncryptedKey) error {
	blob, err := json.Marshal(ek)
	if err != nil {
		return fmt.Errorf("keystore: marshal blob: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO encrypted_keys (agent_id, blob, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET blob = excluded.blob`,
		ek.AgentID, string(blob), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("keystore: put: %w", err)
	}
	return nil
}

// Get loads the encrypted key blob for an agent.
func (s *Store) Get(ctx context.Context, agentID string) (*EncryptedKey, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM encrypted_keys WHERE agent_id = ?`, agentID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: get: %w", err)
	}
	var ek EncryptedKey
	if err := json.Unmarshal([]byte(blob), &ek); err != nil {
		return nil, fmt.Errorf("keystore: unmarshal blob: %w", err)
	}
	return &ek, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
