package panelauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/panelAuth/apikey"
	"github.com/MrEthical07/panelAuth/internal"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/ratelimit"
	"github.com/MrEthical07/panelAuth/threat"
)

const loginPath = "/login"

// Authorize decides whether req may proceed.
//
// Checks run in a fixed order and the first failure decides: source
// block, rate limit, authentication (bearer token, API key, or session
// with CSRF for state-changing methods), then route scope and tenant
// boundaries.
// Any store error denies with KindStoreUnavailable.
func (e *Engine) Authorize(ctx context.Context, req Request) Decision {
	if e == nil {
		return Decision{Reason: KindStoreUnavailable, Err: ErrEngineNotReady, RedirectTarget: loginPath}
	}
	start := time.Now()
	d := e.authorize(ctx, req)
	e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))
	if d.Allow {
		e.metricInc(MetricAuthorizeAllowed)
	} else {
		e.metricInc(MetricAuthorizeDenied)
	}
	return d
}

func (e *Engine) authorize(ctx context.Context, req Request) Decision {
	if ctx == nil {
		ctx = context.Background()
	}
	ip := req.SourceIP
	if ip == "" {
		ip = clientIPFromContext(ctx)
	} else {
		ctx = WithClientIP(ctx, ip)
	}
	dec := Decision{RedirectTarget: loginPath}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	// -------- SOURCE BLOCK --------
	blocked, retry, err := e.threat.IsBlocked(sctx, ip)
	if err != nil {
		return denied(dec, e.storeFailure(ctx, "threat lookup", err))
	}
	if blocked {
		e.metricInc(MetricThreatBlocked)
		e.emitAudit(ctx, auditEntry{
			event:    auditEventRequestBlocked,
			route:    req.Route,
			err:      ErrBlocked,
			metadata: retryMetadata(retry),
		})
		return denied(dec, e.deny(KindBlocked, retry, nil))
	}

	// -------- RATE LIMIT --------
	// A bearer token that parses keys the limit by principal, and a valid
	// API key by key under its own budget. Credential errors are reported
	// after the limiter has counted the request.
	var claims *Claims
	var claimsErr error
	var key *apikey.Key
	var keyErr error
	switch {
	case req.BearerToken != "":
		claims, claimsErr = e.tokens.ParseAccess(req.BearerToken)
	case req.APIKey != "":
		key, keyErr = e.lookupAPIKey(sctx, req.APIKey)
		if errors.Is(keyErr, apikey.ErrUnavailable) {
			return denied(dec, e.storeFailure(ctx, "api key lookup", keyErr))
		}
	}
	limitReq := ratelimit.Request{
		Route:    req.Route,
		TenantID: internal.NormalizeTenantID(req.TenantID),
		Identity: ratelimit.IPIdentity(ip),
	}

	var res ratelimit.Result
	var algorithm ratelimit.Algorithm
	limited := false
	switch {
	case key != nil:
		limitReq.TenantID = key.TenantID
		limitReq.Identity = ratelimit.APIKeyIdentity(key.ID)
		policy := key.Policy()
		algorithm = policy.Algorithm
		res, err = e.limiter.AllowPolicy(sctx, policy, limitReq.Identity)
		limited = true
	case e.limiter.Enabled():
		if claims != nil {
			limitReq.TenantID = claims.TenantID
			limitReq.Identity = ratelimit.PrincipalIdentity(claims.PrincipalID())
		}
		algorithm = e.limiter.Algorithm(limitReq)
		res, err = e.limiter.Allow(sctx, limitReq)
		limited = true
	}
	if limited {
		if err != nil {
			return denied(dec, e.storeFailure(ctx, "rate limit", err))
		}
		dec.RateLimit = res.Status
		if !res.Allowed {
			e.metricInc(MetricRateLimited)
			e.observe(sctx, ip, threat.SignalRateLimited)
			e.emitAudit(ctx, auditEntry{
				event:    auditEventRateLimited,
				route:    req.Route,
				tenantID: limitReq.TenantID,
				err:      ErrRateLimited,
				metadata: func() map[string]string {
					return map[string]string{
						"identity":  limitReq.Identity,
						"algorithm": string(algorithm),
					}
				},
			})
			return denied(dec, e.deny(KindRateLimited, res.RetryAfter, nil))
		}
	}

	// -------- AUTHENTICATION --------
	var id *Identity
	switch {
	case req.BearerToken != "":
		if claimsErr != nil {
			return denied(dec, e.deny(tokenKind(claimsErr), 0, nil))
		}
		if err := e.checkDenylist(ctx, claims); err != nil {
			return denied(dec, err)
		}
		id = &Identity{ID: claims.PrincipalID(), TenantID: claims.TenantID, Role: claims.Role}

	case req.APIKey != "":
		if keyErr != nil {
			return denied(dec, e.rejectAPIKey(ctx, req, keyErr))
		}
		id = &Identity{ID: key.PrincipalID, TenantID: key.TenantID, Role: key.Role, APIKeyID: key.ID}

	case req.SessionToken != "":
		if e.cfg().Session.CSRFProtection && isStateChanging(req.Method) {
			if err := e.CheckCSRF(ctx, req.SessionToken, req.CSRFToken); err != nil {
				return denied(dec, err)
			}
		}
		s, err := e.ValidateSession(ctx, req.SessionToken)
		if err != nil {
			return denied(dec, err)
		}
		id = &Identity{ID: s.PrincipalID, TenantID: s.TenantID, Role: s.Role}
		dec.Session = s

	default:
		return denied(dec, e.deny(KindSessionNotFound, 0, nil))
	}

	dec.Identity = id
	dec.Role = id.Role
	dec.RedirectTarget = permission.Dashboard(id.Role)

	// -------- ROUTE SCOPE --------
	if reason, ok := e.permits(id, key, req); !ok {
		e.metricInc(MetricForbidden)
		e.emitAudit(ctx, auditEntry{
			event:       auditEventAccessForbidden,
			principalID: id.ID,
			tenantID:    id.TenantID,
			role:        id.Role,
			route:       req.Route,
			err:         ErrForbidden,
			metadata:    func() map[string]string { return map[string]string{"reason": reason} },
		})
		return denied(dec, e.deny(KindForbidden, 0, nil))
	}

	dec.Allow = true
	return dec
}

// permits checks the route's required scope against id's role and, for
// API-key requests, the key's scope mask; then the tenant and account
// boundaries for non-admin roles.
func (e *Engine) permits(id *Identity, key *apikey.Key, req Request) (string, bool) {
	scope, ok := e.routes.Required(req.Route)
	if !ok {
		return "unknown_route", false
	}
	if !permission.Allows(id.Role, scope) {
		return "scope", false
	}
	if key != nil && !key.Scopes.Has(scope) {
		return "key_scope", false
	}
	if id.Role == permission.RoleAdmin {
		return "", true
	}

	switch scope {
	case permission.ScopeTenant, permission.ScopeSubAccounts:
		if req.TenantID != "" && internal.NormalizeTenantID(req.TenantID) != id.TenantID {
			return "tenant", false
		}
	case permission.ScopeOwnAccount:
		if req.TargetPrincipalID != "" && req.TargetPrincipalID != id.ID {
			return "account", false
		}
	}
	return "", true
}

func denied(dec Decision, err error) Decision {
	dec.Allow = false
	dec.Err = err
	dec.Reason = KindOf(err)
	dec.RetryAfter = RetryAfter(err)
	return dec
}
