package panelauth

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/ratelimit"
)

func TestAuthorizeRoleScopes(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "root", permission.RoleAdmin, "")
	env.addPrincipal(t, "res", permission.RoleReseller, "r1")
	env.addPrincipal(t, "usr", permission.RoleUser, "r1")

	sessions := map[permission.Role]*Session{
		permission.RoleAdmin:    env.login(t, "root"),
		permission.RoleReseller: env.login(t, "res"),
		permission.RoleUser:     env.login(t, "usr"),
	}

	tests := []struct {
		role  permission.Role
		route string
		allow bool
	}{
		{permission.RoleAdmin, "admin.users", true},
		{permission.RoleAdmin, "reseller.accounts", true},
		{permission.RoleAdmin, "user.domains", true},
		{permission.RoleReseller, "admin.users", false},
		{permission.RoleReseller, "reseller.packages", true},
		{permission.RoleReseller, "reseller.accounts", true},
		{permission.RoleReseller, "user.email", true},
		{permission.RoleUser, "admin.dashboard", false},
		{permission.RoleUser, "reseller.dashboard", false},
		{permission.RoleUser, "user.databases", true},
		{permission.RoleUser, "account.password", true},
		{permission.RoleAdmin, "no.such.route", false},
	}

	for _, tc := range tests {
		t.Run(tc.role.String()+"/"+tc.route, func(t *testing.T) {
			d := env.engine.Authorize(context.Background(), Request{
				Route:        tc.route,
				Method:       "GET",
				SourceIP:     testIP,
				SessionToken: sessions[tc.role].Token,
			})
			if d.Allow != tc.allow {
				t.Fatalf("expected allow=%v, got %+v", tc.allow, d)
			}
			if !tc.allow && d.Reason != KindForbidden {
				t.Fatalf("expected forbidden, got %s", d.Reason)
			}
			if d.Role != tc.role || d.RedirectTarget != permission.Dashboard(tc.role) {
				t.Fatalf("unexpected role or redirect: %s %s", d.Role, d.RedirectTarget)
			}
		})
	}
}

func TestAuthorizeForbiddenIsAudited(t *testing.T) {
	env := newTestEnv(t)
	id := env.addPrincipal(t, "usr", permission.RoleUser, "")
	s := env.login(t, "usr")

	d := env.engine.Authorize(context.Background(), Request{Route: "admin.users", SourceIP: testIP, SessionToken: s.Token})
	if d.Allow || d.Reason != KindForbidden {
		t.Fatalf("expected forbidden, got %+v", d)
	}
	if d.RedirectTarget != "/user/dashboard" {
		t.Fatalf("expected user dashboard hint, got %s", d.RedirectTarget)
	}

	ev := env.sink.next(t, auditEventAccessForbidden)
	if ev.PrincipalID != id || ev.Route != "admin.users" || ev.Error != "forbidden" {
		t.Fatalf("unexpected audit event: %+v", ev)
	}
}

func TestAuthorizeTenantBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "res", permission.RoleReseller, "r1")
	userID := env.addPrincipal(t, "usr", permission.RoleUser, "r1")
	rs := env.login(t, "res")
	us := env.login(t, "usr")
	ctx := context.Background()

	d := env.engine.Authorize(ctx, Request{Route: "reseller.accounts", SourceIP: testIP, SessionToken: rs.Token, TenantID: "r1"})
	if !d.Allow {
		t.Fatalf("reseller denied own tenant: %+v", d)
	}
	d = env.engine.Authorize(ctx, Request{Route: "reseller.accounts", SourceIP: testIP, SessionToken: rs.Token, TenantID: "r2"})
	if d.Allow || d.Reason != KindForbidden {
		t.Fatalf("reseller reached foreign tenant: %+v", d)
	}

	d = env.engine.Authorize(ctx, Request{Route: "user.email", SourceIP: testIP, SessionToken: us.Token, TargetPrincipalID: userID})
	if !d.Allow {
		t.Fatalf("user denied own account: %+v", d)
	}
	d = env.engine.Authorize(ctx, Request{Route: "user.email", SourceIP: testIP, SessionToken: us.Token, TargetPrincipalID: "someone-else"})
	if d.Allow || d.Reason != KindForbidden {
		t.Fatalf("user reached another account: %+v", d)
	}
}

func TestAuthorizeWithoutCredentials(t *testing.T) {
	env := newTestEnv(t)

	d := env.engine.Authorize(context.Background(), Request{Route: "user.dashboard", SourceIP: testIP})
	if d.Allow || d.Reason != KindSessionNotFound || d.RedirectTarget != "/login" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.Identity != nil {
		t.Fatalf("expected no identity")
	}
}

func TestAuthorizeRequiresCSRFForStateChanges(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "usr", permission.RoleUser, "")
	s := env.login(t, "usr")
	ctx := context.Background()

	d := env.engine.Authorize(ctx, Request{Route: "account.password", Method: "POST", SourceIP: testIP, SessionToken: s.Token})
	if d.Allow || d.Reason != KindCsrfViolation {
		t.Fatalf("expected csrf violation, got %+v", d)
	}

	d = env.engine.Authorize(ctx, Request{
		Route:        "account.password",
		Method:       "POST",
		SourceIP:     testIP,
		SessionToken: s.Token,
		CSRFToken:    s.CSRFToken,
	})
	if !d.Allow || d.Session == nil || d.Session.PrincipalID != s.PrincipalID {
		t.Fatalf("expected allow with session, got %+v", d)
	}

	d = env.engine.Authorize(ctx, Request{Route: "account.password", Method: "GET", SourceIP: testIP, SessionToken: s.Token})
	if !d.Allow {
		t.Fatalf("safe method should not need csrf: %+v", d)
	}
}

func TestAuthorizeCSRFDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Session.CSRFProtection = false })
	env.addPrincipal(t, "usr", permission.RoleUser, "")
	s := env.login(t, "usr")

	d := env.engine.Authorize(context.Background(), Request{Route: "account.password", Method: "POST", SourceIP: testIP, SessionToken: s.Token})
	if !d.Allow {
		t.Fatalf("expected allow without csrf protection: %+v", d)
	}
}

func TestAuthorizeBearerToken(t *testing.T) {
	env := newTestEnv(t)
	id := env.addPrincipal(t, "res", permission.RoleReseller, "r1")
	pair := env.tokens(t, "res")

	d := env.engine.Authorize(context.Background(), Request{
		Route:       "reseller.dashboard",
		Method:      "POST",
		SourceIP:    testIP,
		BearerToken: pair.AccessToken,
	})
	if !d.Allow || d.Identity == nil || d.Identity.ID != id || d.Identity.TenantID != "r1" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.Session != nil {
		t.Fatalf("bearer decision should not carry a session")
	}

	d = env.engine.Authorize(context.Background(), Request{Route: "reseller.dashboard", SourceIP: testIP, BearerToken: "junk"})
	if d.Allow || d.Reason != KindTokenMalformed {
		t.Fatalf("expected malformed token, got %+v", d)
	}
}

func TestAuthorizeRateLimitsByIdentity(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit.Default = ratelimit.Policy{Algorithm: ratelimit.FixedWindow, Limit: 3, Window: time.Minute}
		c.RateLimit.Overrides = nil
		c.Threat.Enabled = false
	})
	env.addPrincipal(t, "usr", permission.RoleUser, "")
	s := env.login(t, "usr")
	ctx := context.Background()
	req := Request{Route: "user.dashboard", SourceIP: testIP, SessionToken: s.Token}

	for i := 0; i < 3; i++ {
		d := env.engine.Authorize(ctx, req)
		if !d.Allow {
			t.Fatalf("request %d denied: %+v", i+1, d)
		}
		if d.RateLimit.Remaining != 2-i {
			t.Fatalf("request %d: expected remaining %d, got %d", i+1, 2-i, d.RateLimit.Remaining)
		}
	}
	d := env.engine.Authorize(ctx, req)
	if d.Allow || d.Reason != KindRateLimited {
		t.Fatalf("expected rate limited, got %+v", d)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}

	// Another source address has its own quota.
	other := req
	other.SourceIP = "198.51.100.20"
	if d := env.engine.Authorize(ctx, other); !d.Allow {
		t.Fatalf("other source limited: %+v", d)
	}

	st, err := env.engine.RateLimitStatus(ctx, "user.dashboard", "", ratelimit.IPIdentity(testIP))
	if err != nil {
		t.Fatalf("RateLimitStatus failed: %v", err)
	}
	if st.Remaining != 0 {
		t.Fatalf("expected exhausted quota, got %d", st.Remaining)
	}

	env.sink.next(t, auditEventRateLimited)
}

func TestAuthorizeBlockedSourceWinsOverValidSession(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "root", permission.RoleAdmin, "")
	s := env.login(t, "root")
	ctx := context.Background()

	if err := env.engine.Block(ctx, testIP, 10*time.Minute); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	d := env.engine.Authorize(ctx, Request{Route: "admin.users", SourceIP: testIP, SessionToken: s.Token})
	if d.Allow || d.Reason != KindBlocked || d.RetryAfter != 10*time.Minute {
		t.Fatalf("expected blocked, got %+v", d)
	}
	if blocked, _, err := env.engine.IsBlocked(ctx, testIP); err != nil || !blocked {
		t.Fatalf("IsBlocked = %v, %v", blocked, err)
	}
}

func TestAuthorizeFailsClosedWhenRedisIsDown(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "root", permission.RoleAdmin, "")
	s := env.login(t, "root")
	env.mr.Close()

	d := env.engine.Authorize(context.Background(), Request{Route: "admin.users", SourceIP: testIP, SessionToken: s.Token})
	if d.Allow || d.Reason != KindStoreUnavailable {
		t.Fatalf("expected store unavailable, got %+v", d)
	}
}

func TestAuthorizeRecordsLatency(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		env.engine.Authorize(context.Background(), Request{Route: "user.dashboard", SourceIP: testIP})
	}

	snap := env.engine.MetricsSnapshot()
	var total uint64
	for _, n := range snap.Histograms[MetricAuthorizeLatency] {
		total += n
	}
	if total != 3 {
		t.Fatalf("expected 3 latency samples, got %d", total)
	}
	if snap.Counters[MetricAuthorizeDenied] != 3 || snap.Denials[KindSessionNotFound] != 3 {
		t.Fatalf("unexpected counters: %+v / %+v", snap.Counters, snap.Denials)
	}
}
