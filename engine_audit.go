package panelauth

import (
	"context"
	"time"

	"github.com/MrEthical07/panelAuth/permission"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginThrottled        = "login_throttled"
	auditEventAccountLocked         = "account_locked"
	auditEventAccountStatusChange   = "account_status_change"
	auditEventRequestBlocked        = "request_blocked"
	auditEventAutoBlock             = "auto_block"
	auditEventSourceBlocked         = "source_blocked"
	auditEventSourceUnblocked       = "source_unblocked"
	auditEventLogout                = "logout"
	auditEventLogoutAll             = "logout_all"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventTokenRevoked          = "token_revoked"
	auditEventRateLimited           = "rate_limited"
	auditEventCSRFViolation         = "csrf_violation"
	auditEventAccessForbidden       = "access_forbidden"
	auditEventPasswordChange        = "password_change"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventPrincipalUnlocked     = "principal_unlocked"
	auditEventSigningKeyRotated     = "signing_key_rotated"
	auditEventAPIKeyCreated         = "api_key_created"
	auditEventAPIKeyRevoked         = "api_key_revoked"
	auditEventAPIKeyRejected        = "api_key_rejected"
)

type auditEntry struct {
	event       string
	success     bool
	principalID string
	tenantID    string
	role        permission.Role
	route       string
	err         error
	// metadata is only called when auditing is enabled.
	metadata func() map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, a auditEntry) {
	if e == nil || e.audit == nil || !e.audit.Enabled() {
		return
	}
	tenantID := a.tenantID
	if tenantID == "" {
		tenantID = tenantIDFromContext(ctx)
	}

	var metadata map[string]string
	if a.metadata != nil {
		metadata = a.metadata()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp:   e.now().UTC(),
		EventType:   a.event,
		PrincipalID: a.principalID,
		TenantID:    tenantID,
		Route:       a.route,
		IP:          clientIPFromContext(ctx),
		Success:     a.success,
		Metadata:    metadata,
	}
	if a.role != permission.RoleUnknown {
		event.Role = a.role.String()
	}
	if a.err != nil {
		event.Error = KindOf(a.err).String()
	}

	e.audit.Emit(ctx, event)
}

func retryMetadata(retry time.Duration) func() map[string]string {
	return func() map[string]string {
		if retry <= 0 {
			return nil
		}
		return map[string]string{"retry_after": retry.String()}
	}
}
