package panelauth

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/panelAuth/apikey"
	"github.com/MrEthical07/panelAuth/credential"
	"github.com/MrEthical07/panelAuth/internal/audit"
	"github.com/MrEthical07/panelAuth/password"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/principal"
	"github.com/MrEthical07/panelAuth/ratelimit"
	"github.com/MrEthical07/panelAuth/session"
	"github.com/MrEthical07/panelAuth/threat"
	"github.com/MrEthical07/panelAuth/throttle"
	"github.com/MrEthical07/panelAuth/token"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// Engine is the access-control core. It is safe for concurrent use; all
// shared state lives in Redis and the principal store.
type Engine struct {
	config     atomic.Pointer[Config]
	logger     *slog.Logger
	now        func() time.Time
	redis      redis.UniversalClient
	principals principal.Store
	hasher     *password.Hasher
	verifier   *credential.Verifier
	ledger     *throttle.Ledger
	sessions   *session.Store
	tokens     *token.Manager
	refresh    *token.RefreshStore
	denylist   *token.Denylist
	apikeys    *apikey.Store
	limiter    *ratelimit.Limiter
	threat     *threat.Monitor
	routes     *permission.RouteTable
	validate   *validator.Validate
	audit      *audit.Dispatcher
	metrics    *Metrics
}

// Close flushes pending audit events. The Redis client and principal
// store are owned by the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters. It is empty when metrics
// are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
			Denials:    map[Kind]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return defaultConfig()
	}
	return cloneConfig(*e.config.Load())
}

func (e *Engine) cfg() *Config {
	return e.config.Load()
}

// ApplyConfig validates cfg and swaps the hot-reloadable settings: login
// thresholds, session lifetimes, CSRF protection, token lifetimes and
// claim checks, password policy, rate-limit policies, threat settings,
// store timeouts and cookie attributes.
//
// Signing keys, Argon2 parameters, audit and metrics settings are fixed at
// Build; the values in cfg are ignored for those. Existing sessions keep
// their ceilings.
func (e *Engine) ApplyConfig(cfg Config) error {
	if e == nil {
		return ErrEngineNotReady
	}
	cfg = cloneConfig(cfg)

	current := e.cfg()
	cfg.Token.Algorithm = current.Token.Algorithm
	cfg.Token.KeyID = current.Token.KeyID
	cfg.Token.SigningKey = cloneBytes(current.Token.SigningKey)
	cfg.Token.PreviousKeyID = current.Token.PreviousKeyID
	cfg.Token.PreviousKey = cloneBytes(current.Token.PreviousKey)
	cfg.Password.Memory = current.Password.Memory
	cfg.Password.Time = current.Password.Time
	cfg.Password.Parallelism = current.Password.Parallelism
	cfg.Password.SaltLength = current.Password.SaltLength
	cfg.Password.KeyLength = current.Password.KeyLength
	cfg.Password.MaxBytes = current.Password.MaxBytes
	cfg.Audit = current.Audit
	cfg.Metrics = current.Metrics

	if err := cfg.Validate(); err != nil {
		return err
	}

	// Validate covered every component below, so the swaps cannot fail
	// halfway. Check anyway and keep the old config on error.
	if err := e.limiter.SetConfig(cfg.RateLimit); err != nil {
		return err
	}
	if err := e.threat.SetConfig(cfg.Threat); err != nil {
		return err
	}
	if err := e.tokens.SetConfig(cfg.tokenManagerConfig()); err != nil {
		return err
	}
	e.ledger.SetConfig(cfg.throttleConfig())
	e.sessions.SetConfig(cfg.sessionConfig())
	e.config.Store(&cfg)

	e.logger.Info("configuration applied",
		"max_attempts", cfg.Login.MaxAttempts,
		"idle_timeout", cfg.Session.IdleTimeout,
		"rate_limit", cfg.RateLimit.Enabled,
		"threat_sensitivity", string(cfg.Threat.Sensitivity),
	)
	return nil
}

// IsBlocked reports whether the threat monitor currently blocks key (a
// source address) and for how long.
func (e *Engine) IsBlocked(ctx context.Context, key string) (bool, time.Duration, error) {
	if e == nil {
		return false, 0, ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	blocked, retry, err := e.threat.IsBlocked(sctx, key)
	if err != nil {
		return false, 0, e.storeFailure(ctx, "threat lookup", err)
	}
	return blocked, retry, nil
}

// Block places a manual block on key for d, independent of its score.
func (e *Engine) Block(ctx context.Context, key string, d time.Duration) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if key == "" || d <= 0 {
		return e.deny(KindInvalidRequest, 0, errors.New("block needs a key and a positive duration"))
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	if err := e.threat.Block(sctx, key, d); err != nil {
		return e.storeFailure(ctx, "threat block", err)
	}
	e.logger.WarnContext(ctx, "source blocked manually", "key", key, "duration", d)
	e.emitAudit(ctx, auditEntry{
		event:   auditEventSourceBlocked,
		success: true,
		metadata: func() map[string]string {
			return map[string]string{"key": key, "duration": d.String()}
		},
	})
	return nil
}

// Unblock lifts a block on key and resets its score.
func (e *Engine) Unblock(ctx context.Context, key string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	if err := e.threat.Unblock(sctx, key); err != nil {
		return e.storeFailure(ctx, "threat unblock", err)
	}
	e.emitAudit(ctx, auditEntry{
		event:    auditEventSourceUnblocked,
		success:  true,
		metadata: func() map[string]string { return map[string]string{"key": key} },
	})
	return nil
}

// RateLimitStatus reports the quota left for identity (see
// ratelimit.IPIdentity and ratelimit.PrincipalIdentity) on route within
// tenant, without consuming any.
func (e *Engine) RateLimitStatus(ctx context.Context, route, tenantID, identity string) (ratelimit.Status, error) {
	if e == nil {
		return ratelimit.Status{}, ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	st, err := e.limiter.Status(sctx, ratelimit.Request{Route: route, TenantID: tenantID, Identity: identity})
	if err != nil {
		if errors.Is(err, ratelimit.ErrUnavailable) {
			return ratelimit.Status{}, e.storeFailure(ctx, "rate limit status", err)
		}
		return ratelimit.Status{}, e.deny(KindInvalidRequest, 0, err)
	}
	return st, nil
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.cfg().Store.OperationTimeout)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// deny builds the error returned for a denied operation and counts it.
func (e *Engine) deny(kind Kind, retryAfter time.Duration, cause error) *AuthError {
	e.metrics.IncDenial(kind)
	return newAuthError(kind, retryAfter, cause)
}

// storeFailure logs a backing-store error and converts it to a
// StoreUnavailable denial.
func (e *Engine) storeFailure(ctx context.Context, op string, err error) *AuthError {
	e.metricInc(MetricStoreUnavailable)
	e.logger.WarnContext(ctx, "store unavailable, denying", "op", op, "error", err)
	return e.deny(KindStoreUnavailable, 0, err)
}

// observe reports sig for key to the threat monitor. Failures are logged;
// the caller is already on a denial path.
func (e *Engine) observe(ctx context.Context, key string, sig threat.Signal) {
	if key == "" {
		return
	}
	v, err := e.threat.Observe(ctx, key, sig)
	if err != nil {
		e.logger.WarnContext(ctx, "threat observation failed", "signal", string(sig), "error", err)
		return
	}
	if !v.Blocked {
		return
	}
	e.metricInc(MetricAutoBlock)
	e.logger.WarnContext(ctx, "source auto-blocked",
		"key", key,
		"signal", string(sig),
		"score", v.Score,
		"until", v.BlockedUntil,
	)
	e.emitAudit(ctx, auditEntry{
		event:   auditEventAutoBlock,
		success: true,
		metadata: func() map[string]string {
			return map[string]string{
				"key":    key,
				"signal": string(sig),
				"until":  v.BlockedUntil.UTC().Format(time.RFC3339),
			}
		},
	})
}

func subjectOf(p *principal.Principal) token.Subject {
	return token.Subject{PrincipalID: p.ID, TenantID: p.TenantID, Role: p.Role}
}
