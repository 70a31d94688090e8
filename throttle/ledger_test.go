package throttle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/panelAuth/internal/testutil"
	"github.com/redis/go-redis/v9"
)

func testConfig() Config {
	return Config{MaxAttempts: 5, Window: time.Hour, LockoutDuration: 15 * time.Minute}
}

func newTestLedger(t *testing.T) (*Ledger, *testutil.Clock) {
	t.Helper()
	rdb, _ := testutil.NewRedis(t)
	clock := testutil.NewClock()
	return New(rdb, testConfig(), clock.Now), clock
}

func TestRecordFailureLocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t)
	key := PrincipalKey("alice")

	for i := 1; i <= 4; i++ {
		d, err := l.RecordFailure(ctx, key)
		if err != nil {
			t.Fatalf("RecordFailure %d: %v", i, err)
		}
		if d.Locked || d.Remaining != 5-i {
			t.Fatalf("attempt %d: %+v", i, d)
		}
	}

	d, err := l.RecordFailure(ctx, key)
	if err != nil {
		t.Fatalf("RecordFailure 5: %v", err)
	}
	if !d.Locked || d.RetryAfter != 15*time.Minute {
		t.Fatalf("expected lock on 5th failure, got %+v", d)
	}

	locked, err := l.IsLocked(ctx, key)
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked.Locked {
		t.Fatal("expected key to be locked")
	}

	clock.Advance(15*time.Minute + time.Millisecond)
	locked, err = l.IsLocked(ctx, key)
	if err != nil {
		t.Fatalf("IsLocked after lapse: %v", err)
	}
	if locked.Locked {
		t.Fatal("lock should lapse after LockoutDuration")
	}

	d, err = l.RecordFailure(ctx, key)
	if err != nil {
		t.Fatalf("RecordFailure after lapse: %v", err)
	}
	if d.Locked || d.Failures != 1 {
		t.Fatalf("failure after lapsed lock must start fresh window, got %+v", d)
	}
}

func TestWindowExpiryStartsFresh(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t)
	key := IPKey("203.0.113.9")

	for i := 0; i < 4; i++ {
		if _, err := l.RecordFailure(ctx, key); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	clock.Advance(time.Hour)

	d, err := l.RecordFailure(ctx, key)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if d.Locked || d.Failures != 1 {
		t.Fatalf("expected fresh window, got %+v", d)
	}
}

func TestRecordSuccessResetsCount(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	key := PrincipalKey("bob")

	for i := 0; i < 4; i++ {
		if _, err := l.RecordFailure(ctx, key); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := l.RecordSuccess(ctx, key); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	d, err := l.RecordFailure(ctx, key)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if d.Failures != 1 || d.Locked {
		t.Fatalf("expected count reset after success, got %+v", d)
	}
}

func TestRecordSuccessRefusesWhenLocked(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	user := PrincipalKey("carol")
	ip := IPKey("198.51.100.7")

	for i := 0; i < 5; i++ {
		if _, err := l.RecordFailure(ctx, ip); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if _, err := l.RecordFailure(ctx, user); err != nil {
		t.Fatalf("RecordFailure user: %v", err)
	}

	if err := l.RecordSuccess(ctx, user, ip); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	d, err := l.RecordFailure(ctx, user)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if d.Failures != 2 {
		t.Fatalf("user record must survive refused success, got %+v", d)
	}

	locked, err := l.IsLocked(ctx, user, ip)
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked.Locked || locked.Key != ip {
		t.Fatalf("expected ip dimension reported as locked, got %+v", locked)
	}
}

func TestConcurrentFailuresAreNotLost(t *testing.T) {
	ctx := context.Background()
	rdb, _ := testutil.NewRedis(t)
	clock := testutil.NewClock()
	l := New(rdb, Config{MaxAttempts: 1000, Window: time.Hour, LockoutDuration: time.Minute}, clock.Now)
	key := PrincipalKey("dave")

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := l.RecordFailure(ctx, key); err != nil {
				t.Errorf("RecordFailure: %v", err)
			}
		}()
	}
	wg.Wait()

	d, err := l.RecordFailure(ctx, key)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if d.Failures != workers+1 {
		t.Fatalf("expected %d failures, got %d", workers+1, d.Failures)
	}
}

func TestBackendDownFailsClosed(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	l := New(rdb, testConfig(), nil)

	if _, err := l.RecordFailure(context.Background(), PrincipalKey("x")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := l.IsLocked(context.Background(), PrincipalKey("x")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestResetClearsLock(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	key := PrincipalKey("erin")
	for i := 0; i < 5; i++ {
		if _, err := l.RecordFailure(ctx, key); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := l.Reset(ctx, key); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	d, err := l.IsLocked(ctx, key)
	if err != nil || d.Locked {
		t.Fatalf("expected unlocked after reset: %+v %v", d, err)
	}
}

func TestStatusReadsWithoutMutating(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t)
	key := PrincipalKey("alice")

	d, err := l.Status(ctx, key)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if d.Failures != 0 || d.Remaining != 5 || d.Locked {
		t.Fatalf("unexpected empty status: %+v", d)
	}

	for i := 0; i < 2; i++ {
		if _, err := l.RecordFailure(ctx, key); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		d, err = l.Status(ctx, key)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if d.Failures != 2 || d.Remaining != 3 {
			t.Fatalf("unexpected status: %+v", d)
		}
	}

	clock.Advance(time.Hour)
	d, _ = l.Status(ctx, key)
	if d.Failures != 0 {
		t.Fatalf("expected elapsed window to read as zero, got %+v", d)
	}

	for i := 0; i < 5; i++ {
		_, _ = l.RecordFailure(ctx, key)
	}
	d, _ = l.Status(ctx, key)
	if !d.Locked || d.RetryAfter != 15*time.Minute || d.Remaining != 0 {
		t.Fatalf("expected locked status, got %+v", d)
	}
}
