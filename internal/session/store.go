// Package session implements Signet's server-side session store on Redis.
// Sessions are opaque records keyed by an unguessable token; the token is
// the only thing the browser holds. Expiry is enforced by Redis TTLs, so an
// expired session and a nonexistent one are indistinguishable -- both
// resolve to ErrNotFound.
//
// Every mutation is a single Redis command (SET, SET XX KEEPTTL, DEL) so
// concurrent requests for the same identity cannot lose updates.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// keyPrefix is the Redis key prefix for session records.
	keyPrefix = "session:"

	// userIndexPrefix is the Redis key prefix for the per-user token set
	// that makes delete-all-for-user possible.
	userIndexPrefix = "user_sessions:"

	// tokenBytes is the number of random bytes in a session token.
	// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
	tokenBytes = 32
)

// ErrNotFound reports a token with no live session: never issued, expired,
// or deleted. Callers must not distinguish these cases.
var ErrNotFound = errors.New("session: not found")

// Session is the record stored (JSON-encoded) under a token. Is2FAVerified
// starts false at sign-in and flips true exactly once, after a correct TOTP
// code is presented.
type Session struct {
	UserID        string    `json:"user_id"`
	Is2FAVerified bool      `json:"is_2fa_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store holds sessions in Redis with a fixed TTL.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a session store with the given TTL.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Create issues a new unverified session for userID and returns its token.
func (s *Store) Create(ctx context.Context, userID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	record := Session{
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("session: marshaling record: %w", err)
	}

	if err := s.rdb.Set(ctx, keyPrefix+token, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("session: storing record: %w", err)
	}

	// Index the token for DeleteAllForUser. The index outliving the record
	// is fine: dead tokens are skipped on delete and the set itself expires
	// on the same horizon as the newest session in it.
	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, userIndexPrefix+userID, token)
	pipe.Expire(ctx, userIndexPrefix+userID, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("session: indexing token: %w", err)
	}

	return token, nil
}

// Validate resolves a token to its session. Returns ErrNotFound for any
// token without a live record; any other error is a store failure the
// caller must treat as deny, never allow.
func (s *Store) Validate(ctx context.Context, token string) (*Session, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: reading record: %w", err)
	}

	var record Session
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("session: unmarshaling record: %w", err)
	}
	return &record, nil
}

// MarkVerified flips Is2FAVerified on the session for token, preserving its
// remaining TTL. Verification never extends a session's life.
func (s *Store) MarkVerified(ctx context.Context, token string) error {
	record, err := s.Validate(ctx, token)
	if err != nil {
		return err
	}
	record.Is2FAVerified = true

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("session: marshaling record: %w", err)
	}

	// XX: only update a record that still exists -- if the session expired
	// between Validate and here, don't resurrect it without a TTL.
	set, err := s.rdb.SetArgs(ctx, keyPrefix+token, data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: updating record: %w", err)
	}
	if set == "" {
		return ErrNotFound
	}
	return nil
}

// Delete removes the session for token. Deleting an already-gone session
// is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	record, err := s.Validate(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, keyPrefix+token)
	pipe.SRem(ctx, userIndexPrefix+record.UserID, token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: deleting record: %w", err)
	}
	return nil
}

// DeleteAllForUser invalidates every live session belonging to userID.
// Used on password change so stolen sessions die with the old password.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	indexKey := userIndexPrefix + userID
	tokens, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("session: reading user index: %w", err)
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, keyPrefix+token)
	}
	keys = append(keys, indexKey)

	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("session: deleting user sessions: %w", err)
	}
	return nil
}

// generateToken creates a cryptographically random hex-encoded token.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
