package panelauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/panelAuth/password"
	"github.com/MrEthical07/panelAuth/principal"
	"github.com/MrEthical07/panelAuth/throttle"
)

// ChangePassword replaces the credential of principalID after checking
// oldPassword. On success every session and refresh-token family of the
// principal is revoked, including the caller's own.
func (e *Engine) ChangePassword(ctx context.Context, principalID, oldPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	cfg := e.cfg()

	rule := fmt.Sprintf("required,min=%d", cfg.Password.MinLength)
	if err := e.validate.Var(newPassword, rule); err != nil {
		return e.passwordChangeFailed(ctx, principalID, e.deny(KindInvalidRequest, 0, err))
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	p, err := e.principals.FindByID(sctx, principalID)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			e.hasher.VerifyDummy(oldPassword)
			return e.passwordChangeFailed(ctx, principalID, e.deny(KindInvalidCredentials, 0, nil))
		}
		return e.storeFailure(ctx, "principal lookup", err)
	}

	ok, err := e.hasher.Verify(oldPassword, p.CredentialHash)
	if err != nil || !ok {
		return e.passwordChangeFailed(ctx, principalID, e.deny(KindInvalidCredentials, 0, nil))
	}
	if oldPassword == newPassword {
		return e.passwordChangeFailed(ctx, principalID,
			e.deny(KindInvalidRequest, 0, errors.New("new password equals current password")))
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) || errors.Is(err, password.ErrEmptyPassword) {
			return e.passwordChangeFailed(ctx, principalID, e.deny(KindInvalidRequest, 0, err))
		}
		return e.passwordChangeFailed(ctx, principalID, e.storeFailure(ctx, "password hash", err))
	}
	if err := e.principals.UpdateCredentialHash(sctx, p.ID, hash); err != nil {
		return e.passwordChangeFailed(ctx, principalID, e.storeFailure(ctx, "credential update", err))
	}

	// The credential already changed; a revocation failure is reported so
	// the caller can retry LogoutAll.
	sessions, families, err := e.revokeEverything(ctx, p.ID)
	if err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.logger.InfoContext(ctx, "password changed",
		"principal_id", p.ID,
		"sessions_revoked", sessions,
		"refresh_families_revoked", families,
	)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventPasswordChange,
		success:     true,
		principalID: p.ID,
		tenantID:    p.TenantID,
		role:        p.Role,
	})
	return nil
}

func (e *Engine) passwordChangeFailed(ctx context.Context, principalID string, err error) error {
	e.metricInc(MetricPasswordChangeFailure)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventPasswordChangeFailure,
		principalID: principalID,
		err:         err,
	})
	return err
}

// UnlockPrincipal clears throttle state for principalID and reactivates a
// locked account. Disabled accounts stay disabled. Source-address locks
// are left alone; use Unblock for threat blocks.
func (e *Engine) UnlockPrincipal(ctx context.Context, principalID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	p, err := e.principals.FindByID(sctx, principalID)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return e.deny(KindInvalidRequest, 0, err)
		}
		return e.storeFailure(ctx, "principal lookup", err)
	}

	if err := e.ledger.Reset(sctx, throttle.PrincipalKey(p.Username)); err != nil {
		return e.storeFailure(ctx, "throttle reset", err)
	}
	if p.Status == principal.StatusLocked {
		if err := e.principals.SetStatus(sctx, p.ID, principal.StatusActive, time.Time{}); err != nil {
			return e.storeFailure(ctx, "principal status", err)
		}
	}

	e.logger.InfoContext(ctx, "principal unlocked", "principal_id", p.ID)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventPrincipalUnlocked,
		success:     true,
		principalID: p.ID,
		tenantID:    p.TenantID,
		role:        p.Role,
	})
	return nil
}

// LockPrincipal places an administrative lock on principalID and revokes
// its sessions, refresh tokens and API keys. A zero d locks until UnlockPrincipal.
func (e *Engine) LockPrincipal(ctx context.Context, principalID string, d time.Duration) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if d < 0 {
		return e.deny(KindInvalidRequest, 0, errors.New("negative lock duration"))
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	p, err := e.principals.FindByID(sctx, principalID)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return e.deny(KindInvalidRequest, 0, err)
		}
		return e.storeFailure(ctx, "principal lookup", err)
	}

	var until time.Time
	if d > 0 {
		until = e.now().Add(d)
	}
	if err := e.principals.SetStatus(sctx, p.ID, principal.StatusLocked, until); err != nil {
		return e.storeFailure(ctx, "principal status", err)
	}
	if _, _, err := e.revokeEverything(ctx, p.ID); err != nil {
		return err
	}
	if err := e.revokeAPIKeys(ctx, p.ID); err != nil {
		return err
	}

	e.metricInc(MetricAccountLocked)
	e.logger.WarnContext(ctx, "principal locked by administrator", "principal_id", p.ID, "until", until)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventAccountLocked,
		success:     true,
		principalID: p.ID,
		tenantID:    p.TenantID,
		role:        p.Role,
		metadata:    func() map[string]string { return map[string]string{"source": "admin"} },
	})
	return nil
}
