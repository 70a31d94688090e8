package panelauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"

	"github.com/MrEthical07/panelAuth/session"
	"github.com/MrEthical07/panelAuth/threat"
)

// ValidateSession resolves a session token and slides its idle expiry.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	s, err := e.sessions.Validate(sctx, token)
	if err != nil {
		return nil, e.sessionError(ctx, err)
	}
	return s, nil
}

// CheckCSRF verifies csrfToken against the session's CSRF token without
// renewing the session. An absent token is a violation.
func (e *Engine) CheckCSRF(ctx context.Context, sessionToken, csrfToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if csrfToken == "" {
		return e.csrfViolation(ctx, nil, "missing")
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	s, err := e.sessions.Peek(sctx, sessionToken)
	if err != nil {
		return e.sessionError(ctx, err)
	}
	if subtle.ConstantTimeCompare([]byte(s.CSRFToken), []byte(csrfToken)) != 1 {
		return e.csrfViolation(ctx, s, "mismatch")
	}
	return nil
}

func (e *Engine) csrfViolation(ctx context.Context, s *Session, reason string) error {
	e.metricInc(MetricCSRFViolation)
	e.observe(ctx, clientIPFromContext(ctx), threat.SignalCSRFViolation)

	entry := auditEntry{
		event:    auditEventCSRFViolation,
		err:      ErrCsrfViolation,
		metadata: func() map[string]string { return map[string]string{"reason": reason} },
	}
	if s != nil {
		entry.principalID = s.PrincipalID
		entry.tenantID = s.TenantID
		entry.role = s.Role
	}
	e.emitAudit(ctx, entry)
	return e.deny(KindCsrfViolation, 0, nil)
}

func (e *Engine) sessionError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return e.deny(KindSessionNotFound, 0, nil)
	case errors.Is(err, session.ErrExpired):
		e.metricInc(MetricSessionExpired)
		return e.deny(KindSessionExpired, 0, nil)
	default:
		return e.storeFailure(ctx, "session lookup", err)
	}
}

// Logout revokes one session. Unknown or already revoked tokens succeed.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	// Best effort lookup for the audit trail only.
	s, _ := e.sessions.Peek(sctx, token)

	if err := e.sessions.Revoke(sctx, token); err != nil {
		return e.storeFailure(ctx, "session revoke", err)
	}

	e.metricInc(MetricLogout)
	if s == nil {
		return nil
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventLogout,
		success:     true,
		principalID: s.PrincipalID,
		tenantID:    s.TenantID,
		role:        s.Role,
	})
	return nil
}

// LogoutAll revokes every session and every refresh-token family of
// principalID. Outstanding access tokens stay valid until they expire
// unless revoked with RevokeAccessToken.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if principalID == "" {
		return e.deny(KindInvalidRequest, 0, errors.New("empty principal id"))
	}
	_, _, err := e.revokeEverything(ctx, principalID)
	if err != nil {
		return err
	}
	e.metricInc(MetricLogoutAll)
	return nil
}

func (e *Engine) revokeEverything(ctx context.Context, principalID string) (int, int, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	sessions, err := e.sessions.RevokeAll(sctx, principalID)
	if err != nil {
		return 0, 0, e.storeFailure(ctx, "session revoke all", err)
	}
	families, err := e.refresh.RevokeAll(sctx, principalID, e.cfg().Token.RefreshTTL)
	if err != nil {
		return sessions, 0, e.storeFailure(ctx, "refresh revoke all", err)
	}

	for i := 0; i < sessions; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEntry{
		event:       auditEventLogoutAll,
		success:     true,
		principalID: principalID,
		metadata: func() map[string]string {
			return map[string]string{
				"sessions":         strconv.Itoa(sessions),
				"refresh_families": strconv.Itoa(families),
			}
		},
	})
	return sessions, families, nil
}
