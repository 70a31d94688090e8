package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis failures. Callers must treat it as a denial.
var ErrUnavailable = errors.New("rate limit backend unavailable")

const keyPrefix = "rl:"

// Request identifies what is being limited. Identity is the caller key,
// usually from [IPIdentity] or [PrincipalIdentity].
type Request struct {
	Route    string
	TenantID string
	Identity string
}

// IPIdentity keys anonymous callers by source address.
func IPIdentity(addr string) string {
	return "ip:" + addr
}

// PrincipalIdentity keys authenticated callers by principal id.
func PrincipalIdentity(id string) string {
	return "user:" + id
}

// APIKeyIdentity keys API-key callers by key id.
func APIKeyIdentity(id string) string {
	return "apikey:" + id
}

type rule struct {
	scope    string
	strategy Strategy
}

type ruleSet struct {
	enabled      bool
	fallback     rule
	tenantRoutes map[string]rule
	routes       map[string]rule
	tenants      map[string]rule
}

// Limiter resolves the policy for a request and applies its strategy.
//
// Resolution order is tenant+route, route, tenant, then the default
// policy. Each resolved scope keeps its own counters.
type Limiter struct {
	redis redis.UniversalClient
	rules atomic.Pointer[ruleSet]
	now   func() time.Time
}

// New returns a Limiter. now may be nil.
func New(rdb redis.UniversalClient, cfg Config, now func() time.Time) (*Limiter, error) {
	if now == nil {
		now = time.Now
	}
	l := &Limiter{redis: rdb, now: now}
	if err := l.SetConfig(cfg); err != nil {
		return nil, err
	}
	return l, nil
}

// SetConfig validates cfg and swaps the policy set atomically.
func (l *Limiter) SetConfig(cfg Config) error {
	rs, err := compile(cfg)
	if err != nil {
		return err
	}
	l.rules.Store(rs)
	return nil
}

func compile(cfg Config) (*ruleSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rs := &ruleSet{
		enabled:      cfg.Enabled,
		tenantRoutes: map[string]rule{},
		routes:       map[string]rule{},
		tenants:      map[string]rule{},
	}
	if !cfg.Enabled {
		return rs, nil
	}
	s, err := NewStrategy(cfg.Default)
	if err != nil {
		return nil, err
	}
	rs.fallback = rule{scope: scopeID("", ""), strategy: s}

	for _, o := range cfg.Overrides {
		s, err := NewStrategy(o.Policy)
		if err != nil {
			return nil, err
		}
		r := rule{scope: scopeID(o.Tenant, o.Route), strategy: s}
		switch {
		case o.Tenant != "" && o.Route != "":
			rs.tenantRoutes[o.Tenant+"\x00"+o.Route] = r
		case o.Route != "":
			rs.routes[o.Route] = r
		default:
			rs.tenants[o.Tenant] = r
		}
	}
	return rs, nil
}

func (rs *ruleSet) resolve(req Request) rule {
	if req.TenantID != "" && req.Route != "" {
		if r, ok := rs.tenantRoutes[req.TenantID+"\x00"+req.Route]; ok {
			return r
		}
	}
	if req.Route != "" {
		if r, ok := rs.routes[req.Route]; ok {
			return r
		}
	}
	if req.TenantID != "" {
		if r, ok := rs.tenants[req.TenantID]; ok {
			return r
		}
	}
	return rs.fallback
}

// Enabled reports whether limiting is switched on.
func (l *Limiter) Enabled() bool {
	return l.rules.Load().enabled
}

// Allow consumes one unit of quota for req. When limiting is disabled it
// always admits.
func (l *Limiter) Allow(ctx context.Context, req Request) (Result, error) {
	return l.take(ctx, req, true)
}

// AllowPolicy consumes one unit for identity under p, bypassing the
// configured policy set. It applies even when limiting is disabled.
func (l *Limiter) AllowPolicy(ctx context.Context, p Policy, identity string) (Result, error) {
	if identity == "" {
		return Result{}, errors.New("ratelimit: empty identity")
	}
	s, err := NewStrategy(p)
	if err != nil {
		return Result{}, err
	}
	key := keyPrefix + string(s.Algorithm()) + ":own:" + identity
	return s.Take(ctx, l.redis, key, l.now(), true)
}

// Status reports the quota for req without consuming any.
func (l *Limiter) Status(ctx context.Context, req Request) (Status, error) {
	res, err := l.take(ctx, req, false)
	return res.Status, err
}

// Algorithm returns the algorithm that applies to req.
func (l *Limiter) Algorithm(req Request) Algorithm {
	rs := l.rules.Load()
	if !rs.enabled {
		return ""
	}
	return rs.resolve(req).strategy.Algorithm()
}

func (l *Limiter) take(ctx context.Context, req Request, consume bool) (Result, error) {
	rs := l.rules.Load()
	if !rs.enabled {
		return Result{Allowed: true}, nil
	}
	if req.Identity == "" {
		return Result{}, errors.New("ratelimit: empty identity")
	}
	r := rs.resolve(req)
	key := keyPrefix + string(r.strategy.Algorithm()) + ":" + r.scope + ":" + req.Identity
	return r.strategy.Take(ctx, l.redis, key, l.now(), consume)
}
