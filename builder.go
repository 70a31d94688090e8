package panelauth

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/panelAuth/apikey"
	"github.com/MrEthical07/panelAuth/credential"
	"github.com/MrEthical07/panelAuth/internal/audit"
	"github.com/MrEthical07/panelAuth/password"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/principal"
	"github.com/MrEthical07/panelAuth/ratelimit"
	"github.com/MrEthical07/panelAuth/session"
	"github.com/MrEthical07/panelAuth/threat"
	"github.com/MrEthical07/panelAuth/throttle"
	"github.com/MrEthical07/panelAuth/token"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	principals principal.Store
	logger     *slog.Logger
	auditSink  AuditSink
	now        func() time.Time
	routes     map[string]permission.Scope

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client shared by every stateful component. A
// standalone, cluster or sentinel client all work.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithPrincipalStore(store principal.Store) *Builder {
	b.principals = store
	return b
}

// WithLogger sets the operational logger. The default discards.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination. It only takes effect when
// Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now for every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithRoutes replaces permission.DefaultRoutes as the route table.
func (b *Builder) WithRoutes(routes map[string]permission.Scope) *Builder {
	b.routes = routes
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.principals == nil {
		return nil, errors.New("principal store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	routes := b.routes
	if routes == nil {
		routes = permission.DefaultRoutes()
	}

	// -------- ROUTE TABLE --------
	routeTable, err := permission.NewRouteTable(routes)
	if err != nil {
		return nil, err
	}

	// -------- CREDENTIALS --------
	hasher, err := password.NewHasher(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxBytes,
	})
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	var previous *token.SigningKey
	if len(cfg.Token.PreviousKey) > 0 {
		previous = &token.SigningKey{
			ID:        cfg.Token.PreviousKeyID,
			Algorithm: cfg.Token.Algorithm,
			Material:  cfg.Token.PreviousKey,
		}
	}
	keyring, err := token.NewKeyring(token.SigningKey{
		ID:        cfg.Token.KeyID,
		Algorithm: cfg.Token.Algorithm,
		Material:  cfg.Token.SigningKey,
	}, previous)
	if err != nil {
		return nil, fmt.Errorf("signing keys: %w", err)
	}
	tokens, err := token.NewManager(keyring, cfg.tokenManagerConfig(), now)
	if err != nil {
		return nil, err
	}

	// -------- RATE LIMIT / THREAT --------
	limiter, err := ratelimit.New(b.redis, cfg.RateLimit, now)
	if err != nil {
		return nil, err
	}
	monitor, err := threat.New(b.redis, cfg.Threat, now)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		logger:     logger,
		now:        now,
		redis:      b.redis,
		principals: b.principals,
		hasher:     hasher,
		verifier:   credential.NewVerifier(b.principals, hasher, now),
		ledger:     throttle.New(b.redis, cfg.throttleConfig(), now),
		sessions:   session.NewStore(b.redis, cfg.sessionConfig(), now),
		tokens:     tokens,
		refresh:    token.NewRefreshStore(b.redis, now),
		denylist:   token.NewDenylist(b.redis, now),
		apikeys:    apikey.NewStore(b.redis, now),
		limiter:    limiter,
		threat:     monitor,
		routes:     routeTable,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		metrics:    NewMetrics(cfg.Metrics),
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.config.Store(&cfg)

	b.built = true
	logger.Info("panelauth engine built",
		"token_alg", string(cfg.Token.Algorithm),
		"key_id", cfg.Token.KeyID,
		"rate_limit", cfg.RateLimit.Enabled,
		"threat", cfg.Threat.Enabled,
		"audit", cfg.Audit.Enabled,
	)
	return engine, nil
}

func (c *Config) throttleConfig() throttle.Config {
	return throttle.Config{
		MaxAttempts:     c.Login.MaxAttempts,
		Window:          c.Login.FailureWindow,
		LockoutDuration: c.Login.LockoutDuration,
	}
}

func (c *Config) sessionConfig() session.Config {
	return session.Config{
		IdleTimeout: c.Session.IdleTimeout,
		MaxLifetime: c.Session.MaxLifetime,
	}
}
