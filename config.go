package panelauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/panelAuth/ratelimit"
	"github.com/MrEthical07/panelAuth/threat"
	"github.com/MrEthical07/panelAuth/token"
)

// Config is the complete engine configuration. Sections marked hot are
// swapped by Engine.ApplyConfig without a restart; the rest are read once
// by Builder.Build.
type Config struct {
	Login     LoginConfig      `mapstructure:"login"`      // hot
	Session   SessionConfig    `mapstructure:"session"`    // hot
	Token     TokenConfig      `mapstructure:"token"`      // lifetimes hot, keys not
	Password  PasswordConfig   `mapstructure:"password"`   // MinLength hot
	RateLimit ratelimit.Config `mapstructure:"rate_limit"` // hot
	Threat    threat.Config    `mapstructure:"threat"`     // hot
	Store     StoreConfig      `mapstructure:"store"`
	Audit     AuditConfig      `mapstructure:"audit"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Cookie    CookieConfig     `mapstructure:"cookie"`
	APIKey    APIKeyConfig     `mapstructure:"api_key"` // hot
}

/*
====================================
LOGIN CONFIG
====================================
*/

// LoginConfig controls the throttle ledger. Principal and source-address
// records share the same thresholds.
type LoginConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	FailureWindow   time.Duration `mapstructure:"failure_window"`
	LockoutDuration time.Duration `mapstructure:"lockout_duration"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls cookie sessions.
type SessionConfig struct {
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	CSRFProtection bool          `mapstructure:"csrf_protection"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls API tokens.
//
// SigningKey is HMAC material for HS256, or an Ed25519 private key (raw,
// seed or PEM) for EdDSA. PreviousKey, when set, keeps verifying tokens
// signed before the last rotation. LoadConfig fills both from plain
// values or key files.
type TokenConfig struct {
	AccessTTL     time.Duration   `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration   `mapstructure:"refresh_ttl"`
	Issuer        string          `mapstructure:"issuer"`
	Audience      string          `mapstructure:"audience"`
	Leeway        time.Duration   `mapstructure:"leeway"`
	Algorithm     token.Algorithm `mapstructure:"algorithm"`
	KeyID         string          `mapstructure:"key_id"`
	SigningKey    []byte          `mapstructure:"-"`
	PreviousKeyID string          `mapstructure:"previous_key_id"`
	PreviousKey   []byte          `mapstructure:"-"`
	CheckDenylist bool            `mapstructure:"check_denylist"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the password policy and Argon2id parameters.
type PasswordConfig struct {
	MinLength      int    `mapstructure:"min_length"`
	MaxBytes       int    `mapstructure:"max_bytes"`
	Memory         uint32 `mapstructure:"memory"` // in KB
	Time           uint32 `mapstructure:"time"`
	Parallelism    uint8  `mapstructure:"parallelism"`
	SaltLength     uint32 `mapstructure:"salt_length"`
	KeyLength      uint32 `mapstructure:"key_length"`
	UpgradeOnLogin bool   `mapstructure:"upgrade_on_login"`
}

/*
====================================
STORE / AUDIT / METRICS CONFIG
====================================
*/

// StoreConfig bounds every backing-store call made by one engine operation.
type StoreConfig struct {
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig shapes the session cookie and CSRF header used by the HTTP
// boundary.
type CookieConfig struct {
	Name       string `mapstructure:"name"`
	Path       string `mapstructure:"path"`
	Domain     string `mapstructure:"domain"`
	Secure     bool   `mapstructure:"secure"`
	SameSite   string `mapstructure:"same_site"` // lax, strict or none
	CSRFHeader string `mapstructure:"csrf_header"`
}

// SameSiteMode maps SameSite to its net/http value.
func (c CookieConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

/*
====================================
API KEY CONFIG
====================================
*/

// APIKeyConfig controls named API keys. Each key carries its own request
// budget; DefaultPerMinute applies when a key is created without one.
type APIKeyConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	DefaultPerMinute int           `mapstructure:"default_per_minute"`
	MaxPerMinute     int           `mapstructure:"max_per_minute"`
	MaxPerPrincipal  int           `mapstructure:"max_per_principal"`
	DefaultTTL       time.Duration `mapstructure:"default_ttl"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the panel defaults. The signing key is left empty
// and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Login: LoginConfig{
			MaxAttempts:     5,
			FailureWindow:   time.Hour,
			LockoutDuration: 15 * time.Minute,
		},
		Session: SessionConfig{
			IdleTimeout:    3600 * time.Second,
			MaxLifetime:    12 * time.Hour,
			CSRFProtection: true,
		},
		Token: TokenConfig{
			AccessTTL:     3600 * time.Second,
			RefreshTTL:    604800 * time.Second,
			Issuer:        "panelauth",
			Leeway:        0,
			Algorithm:     token.AlgHS256,
			KeyID:         "k1",
			CheckDenylist: true,
		},
		Password: PasswordConfig{
			MinLength:      8,
			MaxBytes:       1024,
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		RateLimit: ratelimit.Config{
			Enabled: true,
			Default: ratelimit.Policy{
				Algorithm: ratelimit.TokenBucket,
				Capacity:  100,
				Rate:      10,
			},
			Overrides: []ratelimit.Override{
				{
					Route: "api",
					Policy: ratelimit.Policy{
						Algorithm: ratelimit.SlidingWindow,
						Limit:     1000,
						Window:    3600 * time.Second,
						Weighted:  true,
					},
				},
			},
		},
		Threat: threat.Config{
			Enabled:       true,
			AutoBlock:     true,
			Sensitivity:   threat.SensitivityMedium,
			HalfLife:      10 * time.Minute,
			BlockDuration: 3600 * time.Second,
		},
		Store: StoreConfig{
			OperationTimeout: 2 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Cookie: CookieConfig{
			Name:       "admini_session",
			Path:       "/",
			Secure:     true,
			SameSite:   "lax",
			CSRFHeader: "X-CSRF-Token",
		},
		APIKey: APIKeyConfig{
			Enabled:          true,
			DefaultPerMinute: 60,
			MaxPerMinute:     600,
			MaxPerPrincipal:  10,
		},
	}
}

// HighSecurityConfig tightens the defaults for panels exposed to the
// internet: shorter sessions and tokens, stricter throttling, strict
// cookies, high threat sensitivity and auditing on.
func HighSecurityConfig() Config {
	cfg := defaultConfig()
	cfg.Login.MaxAttempts = 3
	cfg.Login.LockoutDuration = 30 * time.Minute
	cfg.Session.IdleTimeout = 15 * time.Minute
	cfg.Session.MaxLifetime = 8 * time.Hour
	cfg.Token.AccessTTL = 15 * time.Minute
	cfg.Token.RefreshTTL = 24 * time.Hour
	cfg.Token.Algorithm = token.AlgEdDSA
	cfg.Password.MinLength = 12
	cfg.Password.Memory = 128 * 1024
	cfg.Threat.Sensitivity = threat.SensitivityHigh
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	cfg.Cookie.SameSite = "strict"
	cfg.APIKey.MaxPerPrincipal = 5
	cfg.APIKey.DefaultTTL = 90 * 24 * time.Hour
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.SigningKey = cloneBytes(cfg.Token.SigningKey)
	out.Token.PreviousKey = cloneBytes(cfg.Token.PreviousKey)
	if cfg.RateLimit.Overrides != nil {
		out.RateLimit.Overrides = append([]ratelimit.Override(nil), cfg.RateLimit.Overrides...)
	}
	if cfg.Threat.Weights != nil {
		out.Threat.Weights = make(map[threat.Signal]float64, len(cfg.Threat.Weights))
		for k, v := range cfg.Threat.Weights {
			out.Threat.Weights[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks every section. Signing key material is checked by
// Builder.Build, which has to parse it anyway.
func (c *Config) Validate() error {
	// Login
	if c.Login.MaxAttempts <= 0 {
		return errors.New("Login MaxAttempts must be > 0")
	}
	if c.Login.FailureWindow <= 0 {
		return errors.New("Login FailureWindow must be > 0")
	}
	if c.Login.LockoutDuration <= 0 {
		return errors.New("Login LockoutDuration must be > 0")
	}

	// Session
	if c.Session.IdleTimeout <= 0 {
		return errors.New("Session IdleTimeout must be > 0")
	}
	if c.Session.MaxLifetime < c.Session.IdleTimeout {
		return errors.New("Session MaxLifetime must be >= IdleTimeout")
	}

	// Token
	if err := c.tokenManagerConfig().Validate(); err != nil {
		return err
	}
	switch c.Token.Algorithm {
	case token.AlgHS256, token.AlgEdDSA:
	default:
		return fmt.Errorf("unsupported token algorithm %q", c.Token.Algorithm)
	}
	if c.Token.KeyID == "" {
		return errors.New("Token KeyID is required")
	}
	if len(c.Token.SigningKey) == 0 {
		return errors.New("Token SigningKey is required")
	}
	if len(c.Token.PreviousKey) > 0 && (c.Token.PreviousKeyID == "" || c.Token.PreviousKeyID == c.Token.KeyID) {
		return errors.New("Token PreviousKeyID must be set and differ from KeyID")
	}

	// Password
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxBytes < c.Password.MinLength {
		return errors.New("Password MaxBytes must be >= MinLength")
	}
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.Threat.Validate(); err != nil {
		return err
	}

	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	if c.Cookie.Name == "" {
		return errors.New("Cookie Name is required")
	}
	switch strings.ToLower(c.Cookie.SameSite) {
	case "lax", "strict":
	case "none":
		if !c.Cookie.Secure {
			return errors.New("Cookie SameSite=none requires Secure")
		}
	default:
		return fmt.Errorf("Cookie SameSite %q is invalid", c.Cookie.SameSite)
	}
	if c.Session.CSRFProtection && c.Cookie.CSRFHeader == "" {
		return errors.New("Cookie CSRFHeader is required when CSRFProtection is on")
	}

	if c.APIKey.Enabled {
		if c.APIKey.DefaultPerMinute <= 0 {
			return errors.New("APIKey DefaultPerMinute must be > 0")
		}
		if c.APIKey.MaxPerMinute < c.APIKey.DefaultPerMinute {
			return errors.New("APIKey MaxPerMinute must be >= DefaultPerMinute")
		}
		if c.APIKey.MaxPerPrincipal <= 0 {
			return errors.New("APIKey MaxPerPrincipal must be > 0")
		}
		if c.APIKey.DefaultTTL < 0 {
			return errors.New("APIKey DefaultTTL must be >= 0")
		}
	}

	return nil
}

func (c *Config) tokenManagerConfig() token.Config {
	return token.Config{
		AccessTTL:  c.Token.AccessTTL,
		RefreshTTL: c.Token.RefreshTTL,
		Issuer:     c.Token.Issuer,
		Audience:   c.Token.Audience,
		Leeway:     c.Token.Leeway,
	}
}
