package panelauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/principal"
)

func TestRefreshRotatesWithinFamily(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "alice", permission.RoleUser, "")
	ctx := context.Background()

	first := env.tokens(t, "alice")
	second, err := env.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken || second.AccessToken == first.AccessToken {
		t.Fatalf("expected fresh tokens")
	}

	a, _ := env.engine.tokens.ParseRefresh(first.RefreshToken)
	b, _ := env.engine.tokens.ParseRefresh(second.RefreshToken)
	if a.Family != b.Family {
		t.Fatalf("expected same family, got %s and %s", a.Family, b.Family)
	}
	env.sink.next(t, auditEventRefreshSuccess)
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "alice", permission.RoleUser, "")
	ctx := WithClientIP(context.Background(), testIP)

	first := env.tokens(t, "alice")
	second, err := env.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	_, err = env.engine.Refresh(ctx, first.RefreshToken)
	assertKind(t, err, KindTokenReused)

	// The legitimate holder's newer token dies with the family.
	_, err = env.engine.Refresh(ctx, second.RefreshToken)
	if err == nil {
		t.Fatalf("expected family revoked")
	}

	ev := env.sink.next(t, auditEventRefreshReuseDetected)
	if ev.Error != "token_reused" || ev.Metadata["family"] == "" {
		t.Fatalf("unexpected audit event: %+v", ev)
	}
	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricRefreshReuseDetected] == 0 || snap.Denials[KindTokenReused] == 0 {
		t.Fatalf("expected reuse metrics, got %+v", snap.Denials)
	}
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "alice", permission.RoleUser, "")
	pair := env.tokens(t, "alice")

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.engine.Refresh(context.Background(), pair.RefreshToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", wins)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "alice", permission.RoleUser, "")
	pair := env.tokens(t, "alice")

	_, err := env.engine.Refresh(context.Background(), pair.AccessToken)
	assertKind(t, err, KindTokenMalformed)

	_, err = env.engine.VerifyAccessToken(context.Background(), pair.RefreshToken)
	assertKind(t, err, KindTokenMalformed)
}

func TestRefreshRereadsPrincipal(t *testing.T) {
	env := newTestEnv(t)
	id := env.addPrincipal(t, "alice", permission.RoleUser, "")
	ctx := context.Background()

	pair := env.tokens(t, "alice")
	if err := env.store.SetStatus(ctx, id, principal.StatusDisabled, time.Time{}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	_, err := env.engine.Refresh(ctx, pair.RefreshToken)
	assertKind(t, err, KindInvalidCredentials)
}

func TestVerifyAccessTokenExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "alice", permission.RoleUser, "")
	pair := env.tokens(t, "alice")
	ctx := context.Background()

	if pair.ExpiresIn != 3600 {
		t.Fatalf("expected expires_in 3600, got %d", pair.ExpiresIn)
	}
	env.clock.Advance(time.Hour - time.Second)
	if _, err := env.engine.VerifyAccessToken(ctx, pair.AccessToken); err != nil {
		t.Fatalf("token rejected before expiry: %v", err)
	}
	env.clock.Advance(time.Second)
	_, err := env.engine.VerifyAccessToken(ctx, pair.AccessToken)
	assertKind(t, err, KindTokenExpired)

	env.clock.Advance(time.Second)
	_, err = env.engine.VerifyAccessToken(ctx, pair.AccessToken)
	assertKind(t, err, KindTokenExpired)
}

func TestVerifyAccessTokenLeewayIsOptIn(t *testing.T) {
	if DefaultConfig().Token.Leeway != 0 || HighSecurityConfig().Token.Leeway != 0 {
		t.Fatal("presets must not accept expired tokens")
	}

	env := newTestEnv(t, func(c *Config) { c.Token.Leeway = 30 * time.Second })
	env.addPrincipal(t, "alice", permission.RoleUser, "")
	pair := env.tokens(t, "alice")
	ctx := context.Background()

	env.clock.Advance(time.Hour + time.Second)
	if _, err := env.engine.VerifyAccessToken(ctx, pair.AccessToken); err != nil {
		t.Fatalf("token rejected inside configured leeway: %v", err)
	}
	env.clock.Advance(30 * time.Second)
	_, err := env.engine.VerifyAccessToken(ctx, pair.AccessToken)
	assertKind(t, err, KindTokenExpired)
}

func TestVerifyAccessTokenTampered(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "alice", permission.RoleUser, "")
	pair := env.tokens(t, "alice")

	parts := strings.Split(pair.AccessToken, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err := env.engine.VerifyAccessToken(context.Background(), tampered)
	assertKind(t, err, KindTokenSignatureInvalid)

	_, err = env.engine.VerifyAccessToken(context.Background(), "not.a.jwt")
	assertKind(t, err, KindTokenMalformed)
}

func TestRevokeAccessTokenDenylists(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "alice", permission.RoleUser, "")
	pair := env.tokens(t, "alice")
	ctx := context.Background()

	if err := env.engine.RevokeAccessToken(ctx, pair.AccessToken); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}
	_, err := env.engine.VerifyAccessToken(ctx, pair.AccessToken)
	assertKind(t, err, KindTokenExpired)

	env.clock.Advance(2 * time.Hour)
	if err := env.engine.RevokeAccessToken(ctx, pair.AccessToken); err != nil {
		t.Fatalf("revoking an expired token should succeed: %v", err)
	}
}

func TestRevokeRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "alice", permission.RoleUser, "")
	pair := env.tokens(t, "alice")
	ctx := context.Background()

	if err := env.engine.RevokeRefreshToken(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("RevokeRefreshToken failed: %v", err)
	}
	_, err := env.engine.Refresh(ctx, pair.RefreshToken)
	assertKind(t, err, KindTokenExpired)
	env.sink.next(t, auditEventTokenRevoked)
}

func TestRotateSigningKeyKeepsPreviousValid(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "alice", permission.RoleUser, "")
	ctx := context.Background()

	before := env.tokens(t, "alice")
	if err := env.engine.RotateSigningKey(ctx, "k2", []byte("fedcba9876543210fedcba9876543210")); err != nil {
		t.Fatalf("RotateSigningKey failed: %v", err)
	}
	after := env.tokens(t, "alice")

	if _, err := env.engine.VerifyAccessToken(ctx, before.AccessToken); err != nil {
		t.Fatalf("token signed with previous key rejected: %v", err)
	}
	if _, err := env.engine.VerifyAccessToken(ctx, after.AccessToken); err != nil {
		t.Fatalf("token signed with new key rejected: %v", err)
	}

	if err := env.engine.RotateSigningKey(ctx, "k3", []byte("00112233445566778899aabbccddeeff")); err != nil {
		t.Fatalf("second rotation failed: %v", err)
	}
	_, err := env.engine.VerifyAccessToken(ctx, before.AccessToken)
	assertKind(t, err, KindTokenSignatureInvalid)

	if err := env.engine.RotateSigningKey(ctx, "k3", []byte("00112233445566778899aabbccddeeff")); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected reused kid to be rejected, got %v", err)
	}
	if ids := env.engine.SecurityReport().SigningKeyIDs; len(ids) != 2 || ids[0] != "k3" {
		t.Fatalf("unexpected key ids: %v", ids)
	}
}
