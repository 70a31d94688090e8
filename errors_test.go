package panelauth

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindNamesAreUnique(t *testing.T) {
	seen := make(map[string]Kind)
	for k := KindNone; k < kindCount; k++ {
		name := k.String()
		if name == "" || name == "unknown" {
			t.Fatalf("kind %d has no name", k)
		}
		if prev, dup := seen[name]; dup {
			t.Fatalf("kinds %d and %d share name %q", prev, k, name)
		}
		seen[name] = k
	}
	if Kind(200).String() != "unknown" {
		t.Fatalf("out of range kind should be unknown")
	}
}

func TestAuthErrorMatchesSentinel(t *testing.T) {
	for _, k := range DenialKinds() {
		err := newAuthError(k, 0, errors.New("redis: connection refused"))
		if !errors.Is(err, k.Err()) {
			t.Fatalf("%s: errors.Is failed", k)
		}
		if err.Error() != k.Err().Error() {
			t.Fatalf("%s: message %q leaks cause", k, err.Error())
		}
		if errors.Unwrap(err) != nil {
			t.Fatalf("%s: cause reachable through Unwrap", k)
		}
	}
	if errors.Is(newAuthError(KindForbidden, 0, nil), ErrRateLimited) {
		t.Fatal("forbidden matched rate limited")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"auth error", newAuthError(KindBlocked, time.Minute, nil), KindBlocked},
		{"wrapped auth error", fmt.Errorf("login: %w", newAuthError(KindTokenReused, 0, nil)), KindTokenReused},
		{"bare sentinel", ErrSessionExpired, KindSessionExpired},
		{"wrapped sentinel", fmt.Errorf("x: %w", ErrCsrfViolation), KindCsrfViolation},
		{"foreign error", errors.New("boom"), KindStoreUnavailable},
		{"engine not ready", ErrEngineNotReady, KindStoreUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRetryAfter(t *testing.T) {
	if got := RetryAfter(newAuthError(KindRateLimited, 3*time.Second, nil)); got != 3*time.Second {
		t.Fatalf("unexpected retry %v", got)
	}
	if got := RetryAfter(newAuthError(KindRateLimited, -time.Second, nil)); got != 0 {
		t.Fatalf("negative retry not clamped: %v", got)
	}
	if got := RetryAfter(ErrRateLimited); got != 0 {
		t.Fatalf("bare sentinel carries retry %v", got)
	}
}

func TestDenialKindsExcludeNone(t *testing.T) {
	kinds := DenialKinds()
	if len(kinds) != int(kindCount)-1 {
		t.Fatalf("expected %d kinds, got %d", int(kindCount)-1, len(kinds))
	}
	for _, k := range kinds {
		if k == KindNone || k.Err() == nil {
			t.Fatalf("unexpected kind %s", k)
		}
	}
}
