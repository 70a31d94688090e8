package panelauth

import (
	"time"

	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/ratelimit"
	"github.com/MrEthical07/panelAuth/session"
	"github.com/MrEthical07/panelAuth/token"
)

// LoginRequest carries browser or API login input. SourceIP falls back to
// the address attached with WithClientIP.
type LoginRequest struct {
	Username string `validate:"required,max=255"`
	Password string `validate:"required,max=1024"`
	SourceIP string `validate:"omitempty,ip"`
}

// Session is a cookie-bound authenticated state.
type Session = session.Session

// Claims is the verified payload of an access or refresh token.
type Claims = token.Claims

// Identity is the authenticated principal behind a decision.
type Identity struct {
	ID       string
	TenantID string
	Role     permission.Role
	// APIKeyID is set when the request authenticated with an API key.
	APIKeyID string
}

// TokenPair is returned by IssueTokens and Refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Request is the input to Authorize. Normally one credential is set; when
// several are, BearerToken wins over APIKey, and APIKey over SessionToken.
type Request struct {
	// Route is the route identifier looked up in the route table, e.g.
	// "admin.users".
	Route string
	// Method is the HTTP method. Anything but GET, HEAD and OPTIONS is
	// state-changing and requires a CSRF token on session requests.
	Method       string
	SourceIP     string
	SessionToken string
	BearerToken  string
	// APIKey is a named key in its presented form, "pak_<id>.<secret>".
	// Key requests are not cookie-bound and skip the CSRF check.
	APIKey    string
	CSRFToken string
	// TenantID, when set, is the tenant the request acts on. Resellers
	// may only act on their own tenant.
	TenantID string
	// TargetPrincipalID, when set, is the account the request acts on.
	// Users may only act on themselves.
	TargetPrincipalID string
}

// Decision is the outcome of Authorize. The boundary layer renders it;
// the engine never writes responses.
type Decision struct {
	Allow    bool
	Identity *Identity
	Role     permission.Role
	// Reason is KindNone when Allow is true.
	Reason Kind
	Err    error
	// RedirectTarget is the dashboard for Role, or "/login" when no
	// identity was established. It is a presentation hint.
	RedirectTarget string
	RetryAfter     time.Duration
	// RateLimit is the quota left for the request's key after it was
	// counted. Zero when the limiter did not run.
	RateLimit ratelimit.Status
	// Session is set for allowed session requests.
	Session *Session
}

func isStateChanging(method string) bool {
	switch method {
	case "", "GET", "HEAD", "OPTIONS":
		return false
	default:
		return true
	}
}
