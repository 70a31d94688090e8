package panelauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/panelAuth/token"
)

// LintSeverity ranks a configuration warning.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("LintSeverity(%d)", int(s))
	}
}

// LintWarning is one finding from Config.Lint. Code is stable and
// machine-readable; Message is for operators.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of findings.
type LintResult []LintWarning

// Codes returns the finding codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// BySeverity returns the findings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError returns an error listing the findings at or above min, or nil.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	parts := make([]string, len(hits))
	for i, w := range hits {
		parts[i] = fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message)
	}
	return fmt.Errorf("config lint: %s", strings.Join(parts, "; "))
}

// Lint reports settings that are valid but weaken the panel's posture.
// It never fails; use Validate for hard errors.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, format string, args ...interface{}) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	// Browser sessions
	if !c.Session.CSRFProtection {
		add("csrf_disabled", LintHigh, "state-changing session requests are accepted without a CSRF token")
	}
	if !c.Cookie.Secure {
		add("cookie_insecure", LintHigh, "session cookie is sent over plain HTTP")
	}
	if strings.EqualFold(c.Cookie.SameSite, "none") {
		add("cookie_samesite_none", LintWarn, "session cookie is sent on cross-site requests")
	}
	if c.Session.MaxLifetime > 24*time.Hour {
		add("session_lifetime_long", LintWarn, "sessions may live %s", c.Session.MaxLifetime)
	}

	// Tokens
	if c.Token.Leeway > time.Minute {
		add("leeway_large", LintWarn, "clock leeway %s accepts expired tokens for over a minute", c.Token.Leeway)
	}
	if c.Token.AccessTTL > time.Hour {
		add("access_ttl_long", LintWarn, "access tokens live %s", c.Token.AccessTTL)
	}
	if c.Token.RefreshTTL > 30*24*time.Hour {
		add("refresh_ttl_long", LintWarn, "refresh tokens live %s", c.Token.RefreshTTL)
	}
	if !c.Token.CheckDenylist {
		add("denylist_disabled", LintInfo, "revoked access tokens stay valid until expiry")
	}
	if c.Token.Algorithm == token.AlgHS256 {
		add("hs256_shared_secret", LintInfo, "HS256 requires every verifier to hold the signing secret")
	}

	// Abuse controls
	if c.Login.LockoutDuration < time.Minute {
		add("lockout_short", LintWarn, "lockout of %s barely slows guessing", c.Login.LockoutDuration)
	}
	if !c.RateLimit.Enabled {
		add("rate_limits_disabled", LintWarn, "request rate limiting is off")
	}
	if !c.Threat.Enabled {
		add("threat_disabled", LintWarn, "abusive sources are never blocked")
	} else if !c.Threat.AutoBlock {
		add("threat_autoblock_disabled", LintInfo, "threat scores are recorded but never block")
	}

	// Credentials
	if c.Password.Memory < 64*1024 {
		add("argon2_memory_low", LintWarn, "Argon2 memory %d KB is below 64 MB", c.Password.Memory)
	}
	if c.Password.MinLength < 8 {
		add("password_min_short", LintWarn, "minimum password length %d", c.Password.MinLength)
	}

	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "security events are not audited")
	}
	return ws
}
