package panelauth

import (
	"time"

	"github.com/MrEthical07/panelAuth/ratelimit"
	"github.com/MrEthical07/panelAuth/threat"
)

// SecurityReport summarizes the active security posture for the admin
// security center. It never contains key material.
type SecurityReport struct {
	SigningAlgorithm   string
	SigningKeyIDs      []string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	DenylistEnabled    bool
	Argon2             PasswordConfigReport
	MaxLoginAttempts   int
	LockoutDuration    time.Duration
	SessionIdleTimeout time.Duration
	SessionMaxLifetime time.Duration
	CSRFProtection     bool
	RateLimitingActive bool
	DefaultRateLimit   ratelimit.Algorithm
	RateLimitOverrides int
	ThreatMonitoring   bool
	ThreatAutoBlock    bool
	ThreatSensitivity  threat.Sensitivity
	APIKeysEnabled     bool
	APIKeyMaxPerMinute int
	APIKeyDefaultTTL   time.Duration
	AuditEnabled       bool
	AuditDropped       uint64
	Routes             int
}

type PasswordConfigReport struct {
	MinLength   int
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.cfg()

	return SecurityReport{
		SigningAlgorithm: string(cfg.Token.Algorithm),
		SigningKeyIDs:    e.tokens.Keyring().KeyIDs(),
		AccessTTL:        cfg.Token.AccessTTL,
		RefreshTTL:       cfg.Token.RefreshTTL,
		DenylistEnabled:  cfg.Token.CheckDenylist,
		Argon2: PasswordConfigReport{
			MinLength:   cfg.Password.MinLength,
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		MaxLoginAttempts:   cfg.Login.MaxAttempts,
		LockoutDuration:    cfg.Login.LockoutDuration,
		SessionIdleTimeout: cfg.Session.IdleTimeout,
		SessionMaxLifetime: cfg.Session.MaxLifetime,
		CSRFProtection:     cfg.Session.CSRFProtection,
		RateLimitingActive: e.limiter.Enabled(),
		DefaultRateLimit:   cfg.RateLimit.Default.Algorithm,
		RateLimitOverrides: len(cfg.RateLimit.Overrides),
		ThreatMonitoring:   cfg.Threat.Enabled,
		ThreatAutoBlock:    cfg.Threat.Enabled && cfg.Threat.AutoBlock,
		ThreatSensitivity:  cfg.Threat.Sensitivity,
		APIKeysEnabled:     cfg.APIKey.Enabled,
		APIKeyMaxPerMinute: cfg.APIKey.MaxPerMinute,
		APIKeyDefaultTTL:   cfg.APIKey.DefaultTTL,
		AuditEnabled:       e.audit.Enabled(),
		AuditDropped:       e.AuditDropped(),
		Routes:             len(e.routes.Routes()),
	}
}
