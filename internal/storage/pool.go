// Package storage provides the PostgreSQL storage layer for the trust
// service.
//
// It manages connection pooling via pgxpool, the forward-only migration
// runner, and query methods for all tables. The per-agent event chain is
// serialized with a row-level lock on the agent row; see the Tx-suffixed
// methods used by the ledger's admission transaction.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool.Pool.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns       int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
}

// New creates a new DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, pc PoolConfig, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	if pc.MaxConns > 0 {
		poolCfg.MaxConns = int32(pc.MaxConns)
	}
	if pc.IdleTimeout > 0 {
		poolCfg.MaxConnIdleTime = pc.IdleTimeout
	}
	if pc.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = pc.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Begin starts a transaction on the pool.
func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin tx: %w", err)
	}
	return tx, nil
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
