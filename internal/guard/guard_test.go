package guard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testMaxAttempts = 5
	testWindow      = 300 * time.Second
)

func newTestGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, testMaxAttempts, testWindow), mr
}

func TestCheck_CleanIdentifierAllowed(t *testing.T) {
	g, _ := newTestGuard(t)

	status, err := g.Check(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !status.Allowed {
		t.Error("clean identifier not allowed")
	}
}

func TestLockout_AfterMaxAttempts(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	const email = "user@example.com"

	// First four failures leave the identifier unlocked, counting down.
	for i := 1; i < testMaxAttempts; i++ {
		remaining, err := g.RecordFailure(ctx, email)
		if err != nil {
			t.Fatalf("RecordFailure %d: %v", i, err)
		}
		if remaining != testMaxAttempts-i {
			t.Errorf("after failure %d: remaining = %d, want %d", i, remaining, testMaxAttempts-i)
		}

		status, err := g.Check(ctx, email)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !status.Allowed {
			t.Fatalf("locked after only %d failures", i)
		}
	}

	// The fifth failure locks.
	remaining, err := g.RecordFailure(ctx, email)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining after lockout = %d, want 0", remaining)
	}

	// The sixth attempt is rejected before any password comparison.
	status, err := g.Check(ctx, email)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status.Allowed {
		t.Error("identifier still allowed after reaching threshold")
	}
	if status.RetryAfter <= 0 || status.RetryAfter > testWindow {
		t.Errorf("RetryAfter = %v, want (0, %v]", status.RetryAfter, testWindow)
	}
}

func TestLockout_ExpiresWithWindow(t *testing.T) {
	g, mr := newTestGuard(t)
	ctx := context.Background()
	const email = "user@example.com"

	for range testMaxAttempts {
		if _, err := g.RecordFailure(ctx, email); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	mr.FastForward(testWindow + time.Second)

	// After window expiry, attempts resume at zero.
	status, err := g.Check(ctx, email)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !status.Allowed {
		t.Error("identifier still locked after window expiry")
	}

	remaining, err := g.RecordFailure(ctx, email)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if remaining != testMaxAttempts-1 {
		t.Errorf("remaining = %d, want %d (counter did not reset)", remaining, testMaxAttempts-1)
	}
}

func TestLockout_ThresholdRestartsWindow(t *testing.T) {
	g, mr := newTestGuard(t)
	ctx := context.Background()
	const email = "user@example.com"

	// Four failures, then most of the window passes.
	for range testMaxAttempts - 1 {
		if _, err := g.RecordFailure(ctx, email); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	mr.FastForward(testWindow - 10*time.Second)

	// The locking failure restarts the window: the lock outlives the
	// original window's tail end.
	if _, err := g.RecordFailure(ctx, email); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	mr.FastForward(30 * time.Second)

	status, err := g.Check(ctx, email)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status.Allowed {
		t.Error("lock expired with the original window instead of restarting")
	}
}

func TestReset_ClearsCounter(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	const email = "user@example.com"

	for range 3 {
		if _, err := g.RecordFailure(ctx, email); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := g.Reset(ctx, email); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	remaining, err := g.RecordFailure(ctx, email)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if remaining != testMaxAttempts-1 {
		t.Errorf("remaining = %d, want %d after reset", remaining, testMaxAttempts-1)
	}
}

func TestFailClosed_StoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	g := New(rdb, testMaxAttempts, testWindow)

	mr.Close()

	// Every operation must surface an error the caller treats as deny.
	if _, err := g.Check(context.Background(), "user@example.com"); err == nil {
		t.Error("Check succeeded against a dead store")
	}
	if _, err := g.RecordFailure(context.Background(), "user@example.com"); err == nil {
		t.Error("RecordFailure succeeded against a dead store")
	}
}

func TestCounters_PerIdentifier(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	for range testMaxAttempts {
		if _, err := g.RecordFailure(ctx, "a@example.com"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	status, err := g.Check(ctx, "b@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !status.Allowed {
		t.Error("unrelated identifier locked out")
	}
}
