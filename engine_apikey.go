package panelauth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/panelAuth/apikey"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/principal"
)

// APIKey is a stored API key. The secret is only ever returned by
// CreateAPIKey.
type APIKey = apikey.Key

// APIKeyRequest describes a key to create.
type APIKeyRequest struct {
	Name string `validate:"required,max=64"`
	// Scopes narrows the owner's role. Zero grants every scope of the role.
	Scopes permission.Mask64
	// PerMinute of zero uses APIKey.DefaultPerMinute.
	PerMinute int `validate:"gte=0"`
	// TTL of zero uses APIKey.DefaultTTL; a zero default never expires.
	TTL time.Duration `validate:"gte=0"`
}

// CreateAPIKey mints a named key for principalID and returns it in its
// presented form together with the stored record. The key authenticates
// with the principal's role as of now, limited to req.Scopes.
func (e *Engine) CreateAPIKey(ctx context.Context, principalID string, req APIKeyRequest) (string, *APIKey, error) {
	if e == nil {
		return "", nil, ErrEngineNotReady
	}
	cfg := e.cfg().APIKey
	if !cfg.Enabled {
		return "", nil, e.deny(KindInvalidRequest, 0, errors.New("api keys are disabled"))
	}
	if err := e.validate.Struct(req); err != nil {
		return "", nil, e.deny(KindInvalidRequest, 0, err)
	}
	if req.PerMinute == 0 {
		req.PerMinute = cfg.DefaultPerMinute
	}
	if req.PerMinute > cfg.MaxPerMinute {
		return "", nil, e.deny(KindInvalidRequest, 0, errors.New("api key budget exceeds MaxPerMinute"))
	}
	if req.TTL == 0 {
		req.TTL = cfg.DefaultTTL
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	p, err := e.principals.FindByID(sctx, principalID)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return "", nil, e.deny(KindInvalidRequest, 0, err)
		}
		return "", nil, e.storeFailure(ctx, "principal lookup", err)
	}
	if p.Status != principal.StatusActive {
		return "", nil, e.deny(KindInvalidRequest, 0, errors.New("principal is not active"))
	}

	granted := permission.Scopes(p.Role)
	scopes := req.Scopes
	if scopes == 0 {
		scopes = granted
	}
	if !granted.Has(permission.ScopeAll) && scopes&^granted != 0 {
		return "", nil, e.deny(KindInvalidRequest, 0, errors.New("api key scopes exceed the principal's role"))
	}

	raw, key, err := e.apikeys.Create(sctx, apikey.Params{
		Name:        req.Name,
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		Role:        p.Role,
		Scopes:      scopes,
		PerMinute:   req.PerMinute,
		TTL:         req.TTL,
	}, cfg.MaxPerPrincipal)
	if err != nil {
		if errors.Is(err, apikey.ErrLimitReached) {
			return "", nil, e.deny(KindInvalidRequest, 0, err)
		}
		return "", nil, e.storeFailure(ctx, "api key create", err)
	}

	e.metricInc(MetricAPIKeyCreated)
	e.logger.InfoContext(ctx, "api key created", "principal_id", p.ID, "key_id", key.ID, "name", key.Name)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventAPIKeyCreated,
		success:     true,
		principalID: p.ID,
		tenantID:    p.TenantID,
		role:        p.Role,
		metadata: func() map[string]string {
			return map[string]string{
				"key_id":     key.ID,
				"name":       key.Name,
				"per_minute": strconv.Itoa(key.PerMinute),
			}
		},
	})
	return raw, key, nil
}

// ListAPIKeys returns every stored key of principalID, revoked and
// expired ones included, oldest first.
func (e *Engine) ListAPIKeys(ctx context.Context, principalID string) ([]APIKey, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	keys, err := e.apikeys.List(sctx, principalID)
	if err != nil {
		return nil, e.storeFailure(ctx, "api key list", err)
	}
	return keys, nil
}

// RevokeAPIKey revokes keyID. Revoking an already revoked key succeeds.
func (e *Engine) RevokeAPIKey(ctx context.Context, keyID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	key, err := e.apikeys.Get(sctx, keyID)
	if err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			return e.deny(KindInvalidRequest, 0, err)
		}
		return e.storeFailure(ctx, "api key lookup", err)
	}
	if _, err := e.apikeys.Revoke(sctx, keyID); err != nil {
		return e.storeFailure(ctx, "api key revoke", err)
	}

	e.metricInc(MetricAPIKeyRevoked)
	e.emitAudit(ctx, auditEntry{
		event:       auditEventAPIKeyRevoked,
		success:     true,
		principalID: key.PrincipalID,
		tenantID:    key.TenantID,
		role:        key.Role,
		metadata:    func() map[string]string { return map[string]string{"key_id": key.ID} },
	})
	return nil
}

// revokeAPIKeys revokes every live key of principalID.
func (e *Engine) revokeAPIKeys(ctx context.Context, principalID string) error {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	n, err := e.apikeys.RevokeAll(sctx, principalID)
	if err != nil {
		return e.storeFailure(ctx, "api key revoke all", err)
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricAPIKeyRevoked)
	}
	return nil
}

func (e *Engine) lookupAPIKey(ctx context.Context, raw string) (*apikey.Key, error) {
	if !e.cfg().APIKey.Enabled {
		return nil, apikey.ErrNotFound
	}
	return e.apikeys.Lookup(ctx, raw)
}

// rejectAPIKey maps a failed key lookup to its denial. Expired keys
// report TokenExpired; unknown and revoked keys are indistinguishable.
func (e *Engine) rejectAPIKey(ctx context.Context, req Request, err error) error {
	kind := KindInvalidCredentials
	if errors.Is(err, apikey.ErrExpired) {
		kind = KindTokenExpired
	}
	e.metricInc(MetricAPIKeyRejected)
	e.emitAudit(ctx, auditEntry{
		event: auditEventAPIKeyRejected,
		route: req.Route,
		err:   kind.Err(),
	})
	return e.deny(kind, 0, nil)
}
