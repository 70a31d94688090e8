package panelauth

import (
	"context"
	"testing"

	"github.com/MrEthical07/panelAuth/permission"
)

func newBenchmarkEnv(b *testing.B) *testEnv {
	b.Helper()
	return newTestEnv(b, func(c *Config) {
		c.Audit.Enabled = false
		c.Threat.Enabled = false
		c.RateLimit.Enabled = false
		c.Login.MaxAttempts = 1 << 20
	})
}

func BenchmarkAuthorizeSession(b *testing.B) {
	env := newBenchmarkEnv(b)
	env.addPrincipal(b, "res", permission.RoleReseller, "r1")
	s := env.login(b, "res")
	req := Request{Route: "reseller.accounts", SourceIP: testIP, SessionToken: s.Token, TenantID: "r1"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if d := env.engine.Authorize(context.Background(), req); !d.Allow {
			b.Fatalf("authorize denied: %s", d.Reason)
		}
	}
}

func BenchmarkAuthorizeBearer(b *testing.B) {
	env := newBenchmarkEnv(b)
	env.addPrincipal(b, "api", permission.RoleAdmin, "")
	pair := env.tokens(b, "api")
	req := Request{Route: "admin.users", SourceIP: testIP, BearerToken: pair.AccessToken}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if d := env.engine.Authorize(context.Background(), req); !d.Allow {
			b.Fatalf("authorize denied: %s", d.Reason)
		}
	}
}

func BenchmarkAuthorizeRateLimited(b *testing.B) {
	env := newTestEnv(b, func(c *Config) {
		c.Audit.Enabled = false
		c.Threat.Enabled = false
		c.RateLimit.Default.Capacity = 1 << 30
		c.RateLimit.Default.Rate = 1 << 20
	})
	env.addPrincipal(b, "usr", permission.RoleUser, "")
	s := env.login(b, "usr")
	req := Request{Route: "user.dashboard", SourceIP: testIP, SessionToken: s.Token}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if d := env.engine.Authorize(context.Background(), req); !d.Allow {
			b.Fatalf("authorize denied: %s", d.Reason)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	env := newBenchmarkEnv(b)
	env.addPrincipal(b, "alice", permission.RoleUser, "")
	refresh := env.tokens(b, "alice").RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err := env.engine.Refresh(context.Background(), refresh)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		refresh = pair.RefreshToken
	}
}

func BenchmarkLogin(b *testing.B) {
	env := newBenchmarkEnv(b)
	env.addPrincipal(b, "alice", permission.RoleUser, "")
	req := LoginRequest{Username: "alice", Password: testPassword, SourceIP: testIP}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, err := env.engine.Login(context.Background(), req)
		if err != nil {
			b.Fatalf("login failed: %v", err)
		}
		_ = env.engine.Logout(context.Background(), s.Token)
	}
}
