package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	panelauth "github.com/MrEthical07/panelAuth"
	"github.com/MrEthical07/panelAuth/apikey"
	"github.com/go-chi/chi/v5"
)

type decisionContextKey struct{}

// DecisionFromContext returns the Decision stored by a guard.
func DecisionFromContext(ctx context.Context) (*panelauth.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(*panelauth.Decision)
	return d, ok
}

// Options shapes how guards read credentials and targets from requests.
type Options struct {
	Cookie panelauth.CookieConfig
	// TenantFrom returns the tenant a request acts on. Default: the
	// X-Tenant-ID header, then the chi URL parameter "tenantID".
	TenantFrom func(*http.Request) string
	// TargetFrom returns the account a request acts on. Default: the chi
	// URL parameter "principalID".
	TargetFrom func(*http.Request) string
	// APIKeyHeader carries API keys. Default: X-API-Key. A key sent as a
	// bearer token is recognised by its prefix as well.
	APIKeyHeader string
}

// DefaultOptions uses the default cookie settings.
func DefaultOptions() Options {
	return Options{Cookie: panelauth.DefaultConfig().Cookie}
}

func (o Options) withDefaults() Options {
	if o.Cookie.Name == "" {
		o.Cookie = panelauth.DefaultConfig().Cookie
	}
	if o.TenantFrom == nil {
		o.TenantFrom = defaultTenant
	}
	if o.TargetFrom == nil {
		o.TargetFrom = func(r *http.Request) string { return chi.URLParam(r, "principalID") }
	}
	if o.APIKeyHeader == "" {
		o.APIKeyHeader = "X-API-Key"
	}
	return o
}

func defaultTenant(r *http.Request) string {
	if t := r.Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return chi.URLParam(r, "tenantID")
}

type credentialSource uint8

const (
	acceptAny credentialSource = iota
	acceptBearer
	acceptSession
)

// Guard authorizes requests for route using a bearer token, an API key or
// the session cookie.
func Guard(engine *panelauth.Engine, route string, opts Options) func(http.Handler) http.Handler {
	return guard(engine, route, opts, acceptAny)
}

func guard(engine *panelauth.Engine, route string, opts Options, src credentialSource) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := buildRequest(r, route, opts, src)
			ctx := requestContext(r)

			d := engine.Authorize(ctx, req)
			writeRateLimitHeaders(w, d.RateLimit)
			if !d.Allow {
				writeDenial(w, d.Reason, d.RetryAfter, d.RedirectTarget)
				return
			}

			ctx = context.WithValue(ctx, decisionContextKey{}, &d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func buildRequest(r *http.Request, route string, opts Options, src credentialSource) panelauth.Request {
	req := panelauth.Request{
		Route:             route,
		Method:            r.Method,
		SourceIP:          clientIP(r),
		TenantID:          opts.TenantFrom(r),
		TargetPrincipalID: opts.TargetFrom(r),
	}
	if src != acceptSession {
		if tok, ok := bearerToken(r.Header.Get("Authorization")); ok {
			if strings.HasPrefix(tok, apikey.Prefix) {
				req.APIKey = tok
			} else {
				req.BearerToken = tok
			}
		}
		if req.BearerToken == "" && req.APIKey == "" {
			req.APIKey = strings.TrimSpace(r.Header.Get(opts.APIKeyHeader))
		}
	}
	if src != acceptBearer && req.BearerToken == "" && req.APIKey == "" {
		if c, err := r.Cookie(opts.Cookie.Name); err == nil {
			req.SessionToken = c.Value
		}
		req.CSRFToken = r.Header.Get(opts.Cookie.CSRFHeader)
	}
	return req
}

// requestContext attaches the client address and user agent for audit.
func requestContext(r *http.Request) context.Context {
	ctx := panelauth.WithClientIP(r.Context(), clientIP(r))
	if ua := r.UserAgent(); ua != "" {
		ctx = panelauth.WithUserAgent(ctx, ua)
	}
	return ctx
}

// clientIP reads RemoteAddr. Put chi's RealIP middleware in front when
// the panel sits behind a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
