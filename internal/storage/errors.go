package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when an insert violates a unique constraint
// (duplicate public key, duplicate event hash, duplicate token hash).
var ErrDuplicate = errors.New("storage: duplicate")

// ErrConflict is returned when a state transition is not admissible from
// the row's current state (revoking a revoked agent or capability).
var ErrConflict = errors.New("storage: conflict")

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
