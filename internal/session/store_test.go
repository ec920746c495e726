package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, 24*time.Hour), mr
}

func TestCreateAndValidate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	token, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token))
	}

	got, err := store.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", got.UserID)
	}
	if got.Is2FAVerified {
		t.Error("fresh session is already 2FA-verified")
	}
}

func TestValidate_UnknownToken(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Validate(context.Background(), "deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestValidate_ExpiredToken(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	token, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	mr.FastForward(25 * time.Hour)

	if _, err := store.Validate(ctx, token); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMarkVerified(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	token, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.MarkVerified(ctx, token); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}

	got, err := store.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !got.Is2FAVerified {
		t.Error("session not marked verified")
	}

	// Verification must not extend the session's life.
	if ttl := mr.TTL("session:" + token); ttl <= 0 || ttl > 24*time.Hour {
		t.Errorf("TTL after MarkVerified = %v, want (0, 24h]", ttl)
	}
}

func TestMarkVerified_UnknownToken(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.MarkVerified(context.Background(), "deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	token, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.Delete(ctx, token); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Validate(ctx, token); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again is a no-op, not an error.
	if err := store.Delete(ctx, token); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestDeleteAllForUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var mine []string
	for range 3 {
		token, err := store.Create(ctx, "user-1")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		mine = append(mine, token)
	}
	other, err := store.Create(ctx, "user-2")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.DeleteAllForUser(ctx, "user-1"); err != nil {
		t.Fatalf("DeleteAllForUser: %v", err)
	}

	for _, token := range mine {
		if _, err := store.Validate(ctx, token); !errors.Is(err, ErrNotFound) {
			t.Errorf("user-1 session survived: %v", err)
		}
	}
	if _, err := store.Validate(ctx, other); err != nil {
		t.Errorf("user-2 session was deleted: %v", err)
	}
}

func TestCreate_UniqueTokens(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for range 50 {
		token, err := store.Create(ctx, "user-1")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if seen[token] {
			t.Fatal("duplicate session token")
		}
		seen[token] = true
	}
}
