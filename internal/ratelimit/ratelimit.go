// Package ratelimit provides a pluggable rate limiting interface.
//
// The in-memory implementation (MemoryLimiter) counts requests per key in
// fixed windows and evicts stale buckets in the background. Deployments
// that need cross-instance coordination can substitute another
// implementation — the Limiter interface is the contract.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one limiter decision.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow records one request for key and reports whether it should
	// proceed. Errors signal a limiter malfunction; callers should treat
	// them as fail-open rather than blocking traffic.
	Allow(ctx context.Context, key string) (Result, error)

	// Close releases resources (cleanup goroutines).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always permits.
func (NoopLimiter) Allow(context.Context, string) (Result, error) {
	return Result{Allowed: true}, nil
}

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
