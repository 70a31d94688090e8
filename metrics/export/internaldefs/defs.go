package internaldefs

import (
	panelauth "github.com/MrEthical07/panelAuth"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   panelauth.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   panelauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: panelauth.MetricLoginSuccess, Name: "panelauth_login_success_total", Help: "Successful logins."},
	{ID: panelauth.MetricLoginFailure, Name: "panelauth_login_failure_total", Help: "Failed logins."},
	{ID: panelauth.MetricLoginThrottled, Name: "panelauth_login_throttled_total", Help: "Logins rejected by the throttle ledger."},
	{ID: panelauth.MetricAccountLocked, Name: "panelauth_account_locked_total", Help: "Principals locked after repeated failures or by an administrator."},
	{ID: panelauth.MetricAccountDisabled, Name: "panelauth_account_disabled_total", Help: "Principals disabled by an administrator."},
	{ID: panelauth.MetricSessionCreated, Name: "panelauth_session_created_total", Help: "Created sessions."},
	{ID: panelauth.MetricSessionExpired, Name: "panelauth_session_expired_total", Help: "Sessions found expired on validation."},
	{ID: panelauth.MetricSessionRevoked, Name: "panelauth_session_revoked_total", Help: "Sessions revoked by logout or password change."},
	{ID: panelauth.MetricLogout, Name: "panelauth_logout_total", Help: "Single-session logouts."},
	{ID: panelauth.MetricLogoutAll, Name: "panelauth_logout_all_total", Help: "Logout-all operations."},
	{ID: panelauth.MetricTokenIssued, Name: "panelauth_token_issued_total", Help: "Issued token pairs."},
	{ID: panelauth.MetricRefreshSuccess, Name: "panelauth_refresh_success_total", Help: "Successful refresh exchanges."},
	{ID: panelauth.MetricRefreshFailure, Name: "panelauth_refresh_failure_total", Help: "Failed refresh exchanges."},
	{ID: panelauth.MetricRefreshReuseDetected, Name: "panelauth_refresh_reuse_detected_total", Help: "Refresh token reuse detections."},
	{ID: panelauth.MetricTokenRevoked, Name: "panelauth_token_revoked_total", Help: "Explicitly revoked tokens."},
	{ID: panelauth.MetricKeyRotated, Name: "panelauth_signing_key_rotated_total", Help: "Signing key rotations."},
	{ID: panelauth.MetricRateLimited, Name: "panelauth_rate_limited_total", Help: "Requests denied by the rate limiter."},
	{ID: panelauth.MetricThreatBlocked, Name: "panelauth_threat_blocked_total", Help: "Requests denied by an active block."},
	{ID: panelauth.MetricAutoBlock, Name: "panelauth_auto_block_total", Help: "Blocks placed by the threat monitor."},
	{ID: panelauth.MetricCSRFViolation, Name: "panelauth_csrf_violation_total", Help: "CSRF token mismatches."},
	{ID: panelauth.MetricForbidden, Name: "panelauth_forbidden_total", Help: "Route permission denials."},
	{ID: panelauth.MetricAuthorizeAllowed, Name: "panelauth_authorize_allowed_total", Help: "Allowed authorization decisions."},
	{ID: panelauth.MetricAuthorizeDenied, Name: "panelauth_authorize_denied_total", Help: "Denied authorization decisions."},
	{ID: panelauth.MetricStoreUnavailable, Name: "panelauth_store_unavailable_total", Help: "Operations denied because a backing store failed."},
	{ID: panelauth.MetricPasswordChangeSuccess, Name: "panelauth_password_change_success_total", Help: "Successful password changes."},
	{ID: panelauth.MetricPasswordChangeFailure, Name: "panelauth_password_change_failure_total", Help: "Rejected password changes."},
	{ID: panelauth.MetricPasswordRehashed, Name: "panelauth_password_rehashed_total", Help: "Stored hashes upgraded on login."},
	{ID: panelauth.MetricAPIKeyCreated, Name: "panelauth_api_key_created_total", Help: "API keys created."},
	{ID: panelauth.MetricAPIKeyRevoked, Name: "panelauth_api_key_revoked_total", Help: "API keys revoked."},
	{ID: panelauth.MetricAPIKeyRejected, Name: "panelauth_api_key_rejected_total", Help: "Requests with an unknown, revoked or expired API key."},
}

// Denials are exported as one counter labeled by error kind.
const (
	DenialCounterName = "panelauth_denied_total"
	DenialCounterHelp = "Denied operations by error kind."
	DenialKindLabel   = "kind"
	AuditDroppedName  = "panelauth_audit_dropped_total"
	AuditDroppedHelp  = "Dropped audit events due to dispatcher backpressure."
)

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: panelauth.MetricAuthorizeLatency, Name: "panelauth_authorize_latency_seconds", Help: "Authorize latency histogram."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names each bucket for exporters that cannot use
// labels.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine's bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
