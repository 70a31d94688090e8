package panelauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/panelAuth/principal"
)

// DisableAccount marks principalID disabled and revokes its sessions,
// refresh tokens and API keys. A disabled principal fails login as invalid credentials.
func (e *Engine) DisableAccount(ctx context.Context, principalID string) error {
	p, err := e.setAccountStatus(ctx, principalID, principal.StatusDisabled)
	if err == nil && p != nil {
		e.metricInc(MetricAccountDisabled)
	}
	e.auditStatusChange(ctx, principalID, p, "disable", err)
	return err
}

// EnableAccount reactivates a disabled or locked principal. Throttle state
// is left alone; use UnlockPrincipal to clear failed attempts.
func (e *Engine) EnableAccount(ctx context.Context, principalID string) error {
	p, err := e.setAccountStatus(ctx, principalID, principal.StatusActive)
	e.auditStatusChange(ctx, principalID, p, "enable", err)
	return err
}

// setAccountStatus returns a nil principal when the status was already
// current.
func (e *Engine) setAccountStatus(ctx context.Context, principalID string, status principal.Status) (*principal.Principal, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if principalID == "" {
		return nil, e.deny(KindInvalidRequest, 0, errors.New("principal id required"))
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	current, err := e.principals.FindByID(sctx, principalID)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return nil, e.deny(KindInvalidRequest, 0, err)
		}
		return nil, e.storeFailure(ctx, "principal lookup", err)
	}
	if current.Status == status {
		return nil, nil
	}

	if err := e.principals.SetStatus(sctx, current.ID, status, time.Time{}); err != nil {
		return nil, e.storeFailure(ctx, "principal status", err)
	}
	if status != principal.StatusActive {
		if _, _, err := e.revokeEverything(ctx, current.ID); err != nil {
			return nil, err
		}
		if err := e.revokeAPIKeys(ctx, current.ID); err != nil {
			return nil, err
		}
	}

	e.logger.InfoContext(ctx, "principal status changed",
		"principal_id", current.ID,
		"from", string(current.Status),
		"to", string(status),
	)
	return current, nil
}

func (e *Engine) auditStatusChange(ctx context.Context, principalID string, p *principal.Principal, action string, err error) {
	if e == nil {
		return
	}
	entry := auditEntry{
		event:       auditEventAccountStatusChange,
		success:     err == nil,
		principalID: principalID,
		err:         err,
		metadata:    func() map[string]string { return map[string]string{"action": action} },
	}
	if p != nil {
		entry.tenantID = p.TenantID
		entry.role = p.Role
	}
	e.emitAudit(ctx, entry)
}
