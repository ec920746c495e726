// Package guard implements the brute-force guard for sign-in attempts: a
// per-identifier failed-attempt counter in Redis with a sliding lockout
// window. Check runs before any password comparison so locked-out
// identifiers never reach the (expensive, timeable) bcrypt path.
//
// Failure policy is fail-closed: if Redis is unreachable the caller gets an
// error and must reject the attempt. Skipping lockout during a counter-store
// outage would make the outage itself an attack tool.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix is the Redis key prefix for failed-attempt counters.
const keyPrefix = "signin_attempts:"

// Status is the result of a pre-authentication check.
type Status struct {
	// Allowed is true when the identifier may proceed to password
	// verification.
	Allowed bool

	// RetryAfter is how long the identifier stays locked. Zero when Allowed.
	RetryAfter time.Duration
}

// Guard counts failed sign-ins per identifier (email) and locks the
// identifier once the threshold is reached, for the remainder of the window.
type Guard struct {
	rdb         *redis.Client
	maxAttempts int
	window      time.Duration
}

// New creates a guard locking an identifier after maxAttempts failures
// within window.
func New(rdb *redis.Client, maxAttempts int, window time.Duration) *Guard {
	return &Guard{rdb: rdb, maxAttempts: maxAttempts, window: window}
}

// Check reports whether the identifier is currently allowed to attempt a
// sign-in. Must be called before any credential lookup or hash comparison.
func (g *Guard) Check(ctx context.Context, identifier string) (Status, error) {
	key := keyPrefix + identifier

	count, err := g.rdb.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return Status{Allowed: true}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("guard: reading counter: %w", err)
	}

	if count < g.maxAttempts {
		return Status{Allowed: true}, nil
	}

	ttl, err := g.rdb.TTL(ctx, key).Result()
	if err != nil {
		return Status{}, fmt.Errorf("guard: reading lockout TTL: %w", err)
	}
	if ttl < 0 {
		// Counter exists without expiry (shouldn't happen); treat the full
		// window as remaining rather than locking forever.
		ttl = g.window
	}
	return Status{RetryAfter: ttl}, nil
}

// RecordFailure increments the identifier's failure counter and returns the
// attempts remaining before lockout (zero when now locked). The first
// failure starts the window; reaching the threshold restarts it, so the
// lockout lasts the full window from the locking attempt.
func (g *Guard) RecordFailure(ctx context.Context, identifier string) (remaining int, err error) {
	key := keyPrefix + identifier

	count, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("guard: incrementing counter: %w", err)
	}

	if count == 1 || count >= int64(g.maxAttempts) {
		if err := g.rdb.Expire(ctx, key, g.window).Err(); err != nil {
			return 0, fmt.Errorf("guard: setting window: %w", err)
		}
	}

	remaining = g.maxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the identifier's counter after a successful sign-in.
func (g *Guard) Reset(ctx context.Context, identifier string) error {
	if err := g.rdb.Del(ctx, keyPrefix+identifier).Err(); err != nil {
		return fmt.Errorf("guard: resetting counter: %w", err)
	}
	return nil
}
