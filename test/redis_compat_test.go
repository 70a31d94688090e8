//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	panelauth "github.com/MrEthical07/panelAuth"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// redisMode describes which Redis backend the compatibility suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the set of Redis backends to test.
// miniredis is always available.
// Real Redis standalone is used when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
// Cluster is not listed: the multi-key scripts do not use hash tags.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				// Flush the test DB to avoid state leaking between runs.
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	// Sentinel mode: when REDIS_SENTINEL_ADDRS and REDIS_SENTINEL_MASTER are set.
	if addrs := os.Getenv("REDIS_SENTINEL_ADDRS"); addrs != "" {
		master := os.Getenv("REDIS_SENTINEL_MASTER")
		if master == "" {
			master = "mymaster"
		}
		modes = append(modes, redisMode{
			name: "sentinel",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:    master,
					SentinelAddrs: splitAddrs(addrs),
				})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis sentinel: %v", err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	return modes
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

func forEachMode(t *testing.T, fn func(t *testing.T, rdb redis.UniversalClient)) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()
			fn(t, rdb)
		})
	}
}

func TestRedisCompat_SessionLifecycle(t *testing.T) {
	forEachMode(t, func(t *testing.T, rdb redis.UniversalClient) {
		h := newHarness(t, rdb)
		id := h.add("alice", permission.RoleUser, "")
		ctx := context.Background()

		s := h.login(t, "alice")
		d := h.engine.Authorize(ctx, panelauth.Request{Route: "user.dashboard", SourceIP: testIP, SessionToken: s.Token})
		if !d.Allow || d.Identity.ID != id {
			t.Fatalf("expected allow, got %+v", d)
		}

		if n, err := h.engine.ActiveSessionCount(ctx, id); err != nil || n != 1 {
			t.Fatalf("ActiveSessionCount = %d, %v", n, err)
		}
		if err := h.engine.Logout(ctx, s.Token); err != nil {
			t.Fatalf("Logout: %v", err)
		}
		// Logout is idempotent.
		if err := h.engine.Logout(ctx, s.Token); err != nil {
			t.Fatalf("second Logout: %v", err)
		}

		d = h.engine.Authorize(ctx, panelauth.Request{Route: "user.dashboard", SourceIP: testIP, SessionToken: s.Token})
		if d.Allow || d.Reason != panelauth.KindSessionNotFound {
			t.Fatalf("expected session not found, got %+v", d)
		}
	})
}

func TestRedisCompat_RefreshReuse(t *testing.T) {
	forEachMode(t, func(t *testing.T, rdb redis.UniversalClient) {
		h := newHarness(t, rdb)
		h.add("alice", permission.RoleUser, "")
		ctx := context.Background()

		first := h.tokens(t, "alice")
		second, err := h.engine.Refresh(ctx, first.RefreshToken)
		if err != nil {
			t.Fatalf("Refresh: %v", err)
		}
		if _, err := h.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, panelauth.ErrTokenReused) {
			t.Fatalf("expected reuse, got %v", err)
		}
		if _, err := h.engine.Refresh(ctx, second.RefreshToken); err == nil {
			t.Fatal("family should be revoked after reuse")
		}
	})
}

func TestRedisCompat_ConcurrentRefreshSingleWinner(t *testing.T) {
	forEachMode(t, func(t *testing.T, rdb redis.UniversalClient) {
		h := newHarness(t, rdb)
		h.add("alice", permission.RoleUser, "")
		pair := h.tokens(t, "alice")

		const workers = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := h.engine.Refresh(context.Background(), pair.RefreshToken); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Fatalf("expected one winner, got %d", wins)
		}
	})
}

func TestRedisCompat_LockoutCounter(t *testing.T) {
	forEachMode(t, func(t *testing.T, rdb redis.UniversalClient) {
		h := newHarness(t, rdb, func(c *panelauth.Config) { c.Threat.Enabled = false })
		h.add("alice", permission.RoleUser, "")
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			_, _ = h.engine.Login(ctx, panelauth.LoginRequest{Username: "alice", Password: "wrong password!", SourceIP: testIP})
		}
		_, err := h.engine.Login(ctx, panelauth.LoginRequest{Username: "alice", Password: testPassword, SourceIP: testIP})
		if kind := panelauth.KindOf(err); kind != panelauth.KindAccountLocked && kind != panelauth.KindTooManyAttempts {
			t.Fatalf("expected lockout, got %v", err)
		}

		attempts, err := h.engine.LoginAttemptsForUser(ctx, "alice")
		if err != nil {
			t.Fatalf("LoginAttemptsForUser: %v", err)
		}
		if !attempts.Locked {
			t.Fatalf("expected locked, got %+v", attempts)
		}
	})
}

func TestRedisCompat_RateLimitAndBlock(t *testing.T) {
	forEachMode(t, func(t *testing.T, rdb redis.UniversalClient) {
		h := newHarness(t, rdb, func(c *panelauth.Config) {
			c.RateLimit.Default = ratelimit.Policy{Algorithm: ratelimit.FixedWindow, Limit: 2, Window: time.Minute}
			c.RateLimit.Overrides = nil
		})
		ctx := context.Background()
		req := panelauth.Request{Route: "user.dashboard", SourceIP: testIP}

		for i := 0; i < 2; i++ {
			if d := h.engine.Authorize(ctx, req); d.Reason == panelauth.KindRateLimited {
				t.Fatalf("request %d limited early", i+1)
			}
		}
		if d := h.engine.Authorize(ctx, req); d.Reason != panelauth.KindRateLimited {
			t.Fatalf("expected rate limited, got %s", d.Reason)
		}

		if err := h.engine.Block(ctx, "198.51.100.77", time.Minute); err != nil {
			t.Fatalf("Block: %v", err)
		}
		blocked, retry, err := h.engine.IsBlocked(ctx, "198.51.100.77")
		if err != nil || !blocked || retry <= 0 {
			t.Fatalf("IsBlocked = %v %v %v", blocked, retry, err)
		}
		if err := h.engine.Unblock(ctx, "198.51.100.77"); err != nil {
			t.Fatalf("Unblock: %v", err)
		}
		if blocked, _, _ := h.engine.IsBlocked(ctx, "198.51.100.77"); blocked {
			t.Fatal("still blocked after Unblock")
		}
	})
}
