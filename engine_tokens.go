package panelauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/panelAuth/principal"
	"github.com/MrEthical07/panelAuth/threat"
	"github.com/MrEthical07/panelAuth/token"
)

// IssueAccessToken signs an access token for id without any store
// access. Most callers want IssueTokens or Refresh instead.
func (e *Engine) IssueAccessToken(id Identity) (string, *Claims, error) {
	if e == nil {
		return "", nil, ErrEngineNotReady
	}
	raw, claims, err := e.tokens.IssueAccess(token.Subject{PrincipalID: id.ID, TenantID: id.TenantID, Role: id.Role})
	if err != nil {
		return "", nil, e.deny(KindInvalidRequest, 0, err)
	}
	e.metricInc(MetricTokenIssued)
	return raw, claims, nil
}

// IssueRefreshToken signs and registers a refresh token for id in a new
// family.
func (e *Engine) IssueRefreshToken(ctx context.Context, id Identity) (string, *Claims, error) {
	if e == nil {
		return "", nil, ErrEngineNotReady
	}
	raw, claims, err := e.tokens.IssueRefresh(token.Subject{PrincipalID: id.ID, TenantID: id.TenantID, Role: id.Role}, "")
	if err != nil {
		return "", nil, e.deny(KindInvalidRequest, 0, err)
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.refresh.Register(sctx, claims); err != nil {
		return "", nil, e.storeFailure(ctx, "refresh register", err)
	}
	return raw, claims, nil
}

func (e *Engine) issuePair(ctx context.Context, p *principal.Principal, family string) (*TokenPair, error) {
	sub := subjectOf(p)
	access, ac, err := e.tokens.IssueAccess(sub)
	if err != nil {
		return nil, e.deny(KindInvalidRequest, 0, err)
	}
	refresh, rc, err := e.tokens.IssueRefresh(sub, family)
	if err != nil {
		return nil, e.deny(KindInvalidRequest, 0, err)
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.refresh.Register(sctx, rc); err != nil {
		return nil, e.storeFailure(ctx, "refresh register", err)
	}

	e.metricInc(MetricTokenIssued)
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(ac.ExpiresAt.Sub(ac.IssuedAt.Time) / time.Second),
		AccessExpiresAt:  ac.ExpiresAt.Time,
		RefreshExpiresAt: rc.ExpiresAt.Time,
	}, nil
}

// VerifyAccessToken checks signature, type, lifetime and registered
// claims. When Token.CheckDenylist is set, revoked tokens are reported as
// expired.
func (e *Engine) VerifyAccessToken(ctx context.Context, raw string) (*Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.ParseAccess(raw)
	if err != nil {
		return nil, e.deny(tokenKind(err), 0, nil)
	}
	if err := e.checkDenylist(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (e *Engine) checkDenylist(ctx context.Context, claims *Claims) error {
	if !e.cfg().Token.CheckDenylist {
		return nil
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	denied, err := e.denylist.IsDenied(sctx, claims.ID)
	if err != nil {
		return e.storeFailure(ctx, "denylist lookup", err)
	}
	if denied {
		return e.deny(KindTokenExpired, 0, nil)
	}
	return nil
}

// Refresh rotates a refresh token: the presented token is consumed and a
// new pair in the same family is returned. Presenting a consumed token
// revokes the family and returns ErrTokenReused.
//
// The principal is re-read so that role changes, lockouts and disabled
// accounts take effect at the next rotation.
func (e *Engine) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.ParseRefresh(raw)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, e.deny(tokenKind(err), 0, nil)
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	if err := e.refresh.Consume(sctx, claims, e.cfg().Token.RefreshTTL); err != nil {
		e.metricInc(MetricRefreshFailure)
		switch {
		case errors.Is(err, token.ErrReused):
			return nil, e.refreshReused(ctx, sctx, claims)
		case errors.Is(err, token.ErrNotFound), errors.Is(err, token.ErrExpired):
			return nil, e.deny(KindTokenExpired, 0, nil)
		case errors.Is(err, token.ErrMalformed):
			return nil, e.deny(KindTokenMalformed, 0, nil)
		default:
			return nil, e.storeFailure(ctx, "refresh consume", err)
		}
	}

	p, err := e.principals.FindByID(sctx, claims.PrincipalID())
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, principal.ErrNotFound) {
			return nil, e.deny(KindInvalidCredentials, 0, nil)
		}
		return nil, e.storeFailure(ctx, "principal lookup", err)
	}
	if p.Status == principal.StatusDisabled {
		e.metricInc(MetricRefreshFailure)
		return nil, e.deny(KindInvalidCredentials, 0, nil)
	}
	if p.LockedAt(e.now()) {
		e.metricInc(MetricRefreshFailure)
		return nil, e.deny(KindAccountLocked, p.LockedUntil.Sub(e.now()), nil)
	}

	pair, err := e.issuePair(ctx, p, claims.Family)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventRefreshSuccess,
		success:     true,
		principalID: p.ID,
		tenantID:    p.TenantID,
		role:        p.Role,
	})
	return pair, nil
}

func (e *Engine) refreshReused(ctx, sctx context.Context, claims *Claims) error {
	e.metricInc(MetricRefreshReuseDetected)
	e.logger.WarnContext(ctx, "refresh token reuse detected, family revoked",
		"principal_id", claims.PrincipalID(),
		"family", claims.Family,
	)
	e.observe(sctx, clientIPFromContext(ctx), threat.SignalTokenReused)

	err := e.deny(KindTokenReused, 0, nil)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventRefreshReuseDetected,
		principalID: claims.PrincipalID(),
		tenantID:    claims.TenantID,
		role:        claims.Role,
		err:         err,
		metadata:    func() map[string]string { return map[string]string{"family": claims.Family} },
	})
	return err
}

// RevokeRefreshToken deletes one refresh token. Expired tokens are
// already unusable and succeed without a store call.
func (e *Engine) RevokeRefreshToken(ctx context.Context, raw string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	claims, err := e.tokens.ParseRefresh(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil
		}
		return e.deny(tokenKind(err), 0, nil)
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.refresh.Revoke(sctx, claims.ID); err != nil {
		return e.storeFailure(ctx, "refresh revoke", err)
	}

	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventTokenRevoked,
		success:     true,
		principalID: claims.PrincipalID(),
		tenantID:    claims.TenantID,
		role:        claims.Role,
		metadata:    func() map[string]string { return map[string]string{"type": string(token.TypeRefresh)} },
	})
	return nil
}

// RevokeAccessToken denylists an access token until its expiry. It only
// has an effect when Token.CheckDenylist is enabled.
func (e *Engine) RevokeAccessToken(ctx context.Context, raw string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	claims, err := e.tokens.ParseAccess(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil
		}
		return e.deny(tokenKind(err), 0, nil)
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.denylist.Deny(sctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return e.storeFailure(ctx, "denylist write", err)
	}

	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventTokenRevoked,
		success:     true,
		principalID: claims.PrincipalID(),
		tenantID:    claims.TenantID,
		role:        claims.Role,
		metadata:    func() map[string]string { return map[string]string{"type": string(token.TypeAccess)} },
	})
	return nil
}

// RotateSigningKey makes key, under kid, the issuing key. Tokens signed
// with the key it replaces keep verifying until the next rotation.
func (e *Engine) RotateSigningKey(ctx context.Context, kid string, key []byte) error {
	if e == nil {
		return ErrEngineNotReady
	}
	keyring := e.tokens.Keyring()
	previous := keyring.CurrentKeyID()
	err := keyring.Rotate(token.SigningKey{
		ID:        kid,
		Algorithm: e.cfg().Token.Algorithm,
		Material:  key,
	})
	if err != nil {
		return e.deny(KindInvalidRequest, 0, err)
	}

	e.metricInc(MetricKeyRotated)
	e.logger.InfoContext(ctx, "signing key rotated", "kid", kid, "previous_kid", previous)
	e.emitAudit(ctx, auditEntry{
		event:   auditEventSigningKeyRotated,
		success: true,
		metadata: func() map[string]string {
			return map[string]string{"kid": kid, "previous_kid": previous}
		},
	})
	return nil
}

func tokenKind(err error) Kind {
	switch {
	case errors.Is(err, token.ErrExpired):
		return KindTokenExpired
	case errors.Is(err, token.ErrSignatureInvalid):
		return KindTokenSignatureInvalid
	default:
		return KindTokenMalformed
	}
}
