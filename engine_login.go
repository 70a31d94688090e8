package panelauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/panelAuth/credential"
	"github.com/MrEthical07/panelAuth/principal"
	"github.com/MrEthical07/panelAuth/session"
	"github.com/MrEthical07/panelAuth/threat"
	"github.com/MrEthical07/panelAuth/throttle"
	"github.com/go-playground/validator/v10"
)

// Login authenticates a browser user and creates a session.
//
// The returned Session carries the opaque token for the session cookie and
// the CSRF token for state-changing requests. Failures are *AuthError
// values; unknown usernames and wrong passwords are indistinguishable.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx = loginContext(ctx, req)

	p, err := e.authenticate(ctx, req)
	if err != nil {
		return nil, err
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	s, err := e.sessions.Create(sctx, session.Params{
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		Role:        p.Role,
		SourceIP:    clientIPFromContext(ctx),
	})
	if err != nil {
		return nil, e.storeFailure(ctx, "session create", err)
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventLoginSuccess,
		success:     true,
		principalID: p.ID,
		tenantID:    p.TenantID,
		role:        p.Role,
		metadata:    func() map[string]string { return map[string]string{"method": "session"} },
	})
	return s, nil
}

// IssueTokens authenticates an API client and returns an access and
// refresh token pair. The refresh token starts a new rotation family.
func (e *Engine) IssueTokens(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx = loginContext(ctx, req)

	p, err := e.authenticate(ctx, req)
	if err != nil {
		return nil, err
	}

	pair, err := e.issuePair(ctx, p, "")
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventLoginSuccess,
		success:     true,
		principalID: p.ID,
		tenantID:    p.TenantID,
		role:        p.Role,
		metadata:    func() map[string]string { return map[string]string{"method": "token"} },
	})
	return pair, nil
}

func loginContext(ctx context.Context, req LoginRequest) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.SourceIP != "" {
		ctx = WithClientIP(ctx, req.SourceIP)
	}
	return ctx
}

// authenticate runs the shared login pipeline: threat block, throttle
// lockout, credential check, failure accounting and hash upgrade.
func (e *Engine) authenticate(ctx context.Context, req LoginRequest) (*principal.Principal, error) {
	if err := e.validate.Struct(req); err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, e.deny(loginValidationKind(err), 0, err)
	}

	ip := clientIPFromContext(ctx)
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	blocked, retry, err := e.threat.IsBlocked(sctx, ip)
	if err != nil {
		return nil, e.storeFailure(ctx, "threat lookup", err)
	}
	if blocked {
		e.metricInc(MetricThreatBlocked)
		e.emitAudit(ctx, auditEntry{
			event:    auditEventRequestBlocked,
			err:      ErrBlocked,
			route:    "login",
			metadata: retryMetadata(retry),
		})
		return nil, e.deny(KindBlocked, retry, nil)
	}

	pk := throttle.PrincipalKey(req.Username)
	ik := throttle.IPKey(ip)

	lock, err := e.ledger.IsLocked(sctx, pk, ik)
	if err != nil {
		return nil, e.storeFailure(ctx, "throttle lookup", err)
	}
	if lock.Locked {
		e.metricInc(MetricLoginThrottled)
		e.observe(sctx, ip, threat.SignalTooManyAttempts)
		e.emitAudit(ctx, auditEntry{
			event:    auditEventLoginThrottled,
			err:      ErrTooManyAttempts,
			metadata: retryMetadata(lock.RetryAfter),
		})
		return nil, e.deny(KindTooManyAttempts, lock.RetryAfter, nil)
	}

	p, err := e.verifier.Verify(sctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, credential.ErrUnavailable) {
			return nil, e.storeFailure(ctx, "credential lookup", err)
		}
		return nil, e.loginFailed(ctx, sctx, req.Username, err, pk, ik)
	}

	if err := e.ledger.RecordSuccess(sctx, pk, ik); err != nil {
		if errors.Is(err, throttle.ErrLocked) {
			// The source locked between the check above and now.
			e.metricInc(MetricLoginThrottled)
			return nil, e.deny(KindTooManyAttempts, e.cfg().Login.LockoutDuration, nil)
		}
		return nil, e.storeFailure(ctx, "throttle reset", err)
	}

	if p.Status == principal.StatusLocked {
		// The lockout lapsed; Verify already rejected live ones.
		if err := e.principals.SetStatus(sctx, p.ID, principal.StatusActive, time.Time{}); err != nil {
			e.logger.WarnContext(ctx, "clearing lapsed lock failed", "principal_id", p.ID, "error", err)
		} else {
			p.Status = principal.StatusActive
			p.LockedUntil = time.Time{}
		}
	}

	if e.cfg().Password.UpgradeOnLogin && e.verifier.NeedsRehash(p) {
		e.upgradeHash(ctx, sctx, p, req.Password)
	}
	return p, nil
}

// loginFailed records a failed attempt against both throttle keys, locks
// the principal when its key crosses the threshold and returns the denial.
func (e *Engine) loginFailed(ctx, sctx context.Context, username string, cause error, keys ...throttle.Key) error {
	kind := KindInvalidCredentials
	signal := threat.SignalInvalidCredentials
	if errors.Is(cause, credential.ErrAccountLocked) {
		kind = KindAccountLocked
		signal = threat.SignalAccountLocked
	}

	var retry time.Duration
	for _, key := range keys {
		d, err := e.ledger.RecordFailure(sctx, key)
		if err != nil {
			return e.storeFailure(ctx, "throttle record", err)
		}
		if !d.Locked {
			continue
		}
		kind = KindTooManyAttempts
		signal = threat.SignalTooManyAttempts
		if d.RetryAfter > retry {
			retry = d.RetryAfter
		}
		if key.Dimension == throttle.DimensionPrincipal {
			e.lockPrincipal(ctx, sctx, username, d.RetryAfter)
		}
	}

	e.metricInc(MetricLoginFailure)
	e.observe(sctx, clientIPFromContext(ctx), signal)
	err := e.deny(kind, retry, cause)
	e.emitAudit(ctx, auditEntry{
		event:    auditEventLoginFailure,
		err:      err,
		metadata: retryMetadata(retry),
	})
	return err
}

// lockPrincipal mirrors a throttle lockout onto the principal record so
// that other panels and the admin UI see it. The throttle key remains the
// authority; a failed write is logged only.
func (e *Engine) lockPrincipal(ctx, sctx context.Context, username string, d time.Duration) {
	p, err := e.principals.FindByUsername(sctx, username)
	if err != nil {
		if !errors.Is(err, principal.ErrNotFound) {
			e.logger.WarnContext(ctx, "principal lookup for lockout failed", "error", err)
		}
		return
	}
	until := e.now().Add(d)
	if err := e.principals.SetStatus(sctx, p.ID, principal.StatusLocked, until); err != nil {
		e.logger.WarnContext(ctx, "persisting lockout failed", "principal_id", p.ID, "error", err)
		return
	}

	e.metricInc(MetricAccountLocked)
	e.logger.WarnContext(ctx, "account locked after repeated failures",
		"principal_id", p.ID,
		"until", until,
	)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventAccountLocked,
		success:     true,
		principalID: p.ID,
		tenantID:    p.TenantID,
		role:        p.Role,
		metadata:    retryMetadata(d),
	})
}

func (e *Engine) upgradeHash(ctx, sctx context.Context, p *principal.Principal, plaintext string) {
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", "principal_id", p.ID, "error", err)
		return
	}
	if err := e.principals.UpdateCredentialHash(sctx, p.ID, hash); err != nil {
		e.logger.WarnContext(ctx, "storing rehashed password failed", "principal_id", p.ID, "error", err)
		return
	}
	p.CredentialHash = hash
	e.metricInc(MetricPasswordRehashed)
	e.logger.DebugContext(ctx, "password hash upgraded", "principal_id", p.ID)
}

// loginValidationKind reports InvalidRequest when only the source address
// is malformed. Missing or oversized credentials read as a failed login.
func loginValidationKind(err error) Kind {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return KindInvalidCredentials
	}
	for _, fe := range verrs {
		if fe.Field() != "SourceIP" {
			return KindInvalidCredentials
		}
	}
	return KindInvalidRequest
}
