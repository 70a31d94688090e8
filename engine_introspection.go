package panelauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/panelAuth/throttle"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// LoginAttempts is the throttle state of one username or source address.
type LoginAttempts struct {
	Failures   int
	Remaining  int
	Locked     bool
	RetryAfter time.Duration
}

// ActiveSessionCount returns the number of live sessions of principalID.
func (e *Engine) ActiveSessionCount(ctx context.Context, principalID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	if principalID == "" {
		return 0, e.deny(KindInvalidRequest, 0, errors.New("principal id required"))
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	n, err := e.sessions.Count(sctx, principalID)
	if err != nil {
		return 0, e.storeFailure(ctx, "session count", err)
	}
	return n, nil
}

// Health pings Redis. It never returns an error; an unreachable backend
// reports RedisAvailable false.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.redis == nil {
		return HealthStatus{}
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	start := time.Now()
	err := e.redis.Ping(sctx).Err()
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   time.Since(start),
	}
}

// LoginAttemptsForUser reports the failed-login state of username.
func (e *Engine) LoginAttemptsForUser(ctx context.Context, username string) (LoginAttempts, error) {
	return e.loginAttempts(ctx, throttle.PrincipalKey(username))
}

// LoginAttemptsForIP reports the failed-login state of a source address.
func (e *Engine) LoginAttemptsForIP(ctx context.Context, ip string) (LoginAttempts, error) {
	return e.loginAttempts(ctx, throttle.IPKey(ip))
}

func (e *Engine) loginAttempts(ctx context.Context, key throttle.Key) (LoginAttempts, error) {
	if e == nil || e.ledger == nil {
		return LoginAttempts{}, ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	d, err := e.ledger.Status(sctx, key)
	if err != nil {
		return LoginAttempts{}, e.storeFailure(ctx, "throttle status", err)
	}
	return LoginAttempts{
		Failures:   d.Failures,
		Remaining:  d.Remaining,
		Locked:     d.Locked,
		RetryAfter: d.RetryAfter,
	}, nil
}
