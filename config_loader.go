package panelauth

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// PANELAUTH_LOGIN_MAX_ATTEMPTS=10 or PANELAUTH_TOKEN_SIGNING_KEY=...
const EnvPrefix = "PANELAUTH"

// LoadConfig builds a Config from DefaultConfig, an optional file at path
// (any format viper reads; empty path skips it) and PANELAUTH_* environment
// variables, in increasing precedence. The returned viper instance can be
// passed to WatchConfig.
//
// Signing keys are read from token.signing_key (raw value) or
// token.signing_key_file (path, e.g. a PEM file); the file wins when both
// are set. The same applies to token.previous_key and
// token.previous_key_file.
func LoadConfig(path string) (Config, *viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, defaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg, err := decodeConfig(v)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

func decodeConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}

	var err error
	if cfg.Token.SigningKey, err = readKey(v, "token.signing_key"); err != nil {
		return Config{}, err
	}
	if cfg.Token.PreviousKey, err = readKey(v, "token.previous_key"); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func readKey(v *viper.Viper, key string) ([]byte, error) {
	if path := v.GetString(key + "_file"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s_file: %w", key, err)
		}
		return b, nil
	}
	if s := v.GetString(key); s != "" {
		return []byte(s), nil
	}
	return nil, nil
}

// WatchConfig re-reads the config file on every change and applies it to
// engine. Invalid files are logged and ignored; the engine keeps its
// current configuration.
func WatchConfig(v *viper.Viper, engine *Engine, logger *slog.Logger) error {
	if v == nil || engine == nil {
		return errors.New("config: WatchConfig needs a viper instance and an engine")
	}
	if v.ConfigFileUsed() == "" {
		return errors.New("config: no config file to watch")
	}
	if logger == nil {
		logger = engine.logger
	}

	v.OnConfigChange(func(ev fsnotify.Event) {
		cfg, err := decodeConfig(v)
		if err == nil {
			err = engine.ApplyConfig(cfg)
		}
		if err != nil {
			logger.Warn("config reload rejected", "file", ev.Name, "error", err)
			return
		}
		logger.Info("config reloaded", "file", ev.Name)
	})
	v.WatchConfig()
	return nil
}

// setDefaults registers every scalar key so that AutomaticEnv can override
// keys absent from the file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("login.max_attempts", d.Login.MaxAttempts)
	v.SetDefault("login.failure_window", d.Login.FailureWindow)
	v.SetDefault("login.lockout_duration", d.Login.LockoutDuration)

	v.SetDefault("session.idle_timeout", d.Session.IdleTimeout)
	v.SetDefault("session.max_lifetime", d.Session.MaxLifetime)
	v.SetDefault("session.csrf_protection", d.Session.CSRFProtection)

	v.SetDefault("token.access_ttl", d.Token.AccessTTL)
	v.SetDefault("token.refresh_ttl", d.Token.RefreshTTL)
	v.SetDefault("token.issuer", d.Token.Issuer)
	v.SetDefault("token.audience", d.Token.Audience)
	v.SetDefault("token.leeway", d.Token.Leeway)
	v.SetDefault("token.algorithm", string(d.Token.Algorithm))
	v.SetDefault("token.key_id", d.Token.KeyID)
	v.SetDefault("token.previous_key_id", d.Token.PreviousKeyID)
	v.SetDefault("token.check_denylist", d.Token.CheckDenylist)
	v.SetDefault("token.signing_key", "")
	v.SetDefault("token.signing_key_file", "")
	v.SetDefault("token.previous_key", "")
	v.SetDefault("token.previous_key_file", "")

	v.SetDefault("password.min_length", d.Password.MinLength)
	v.SetDefault("password.max_bytes", d.Password.MaxBytes)
	v.SetDefault("password.memory", d.Password.Memory)
	v.SetDefault("password.time", d.Password.Time)
	v.SetDefault("password.parallelism", d.Password.Parallelism)
	v.SetDefault("password.salt_length", d.Password.SaltLength)
	v.SetDefault("password.key_length", d.Password.KeyLength)
	v.SetDefault("password.upgrade_on_login", d.Password.UpgradeOnLogin)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.default.algorithm", string(d.RateLimit.Default.Algorithm))
	v.SetDefault("rate_limit.default.capacity", d.RateLimit.Default.Capacity)
	v.SetDefault("rate_limit.default.rate", d.RateLimit.Default.Rate)
	v.SetDefault("rate_limit.default.limit", d.RateLimit.Default.Limit)
	v.SetDefault("rate_limit.default.window", d.RateLimit.Default.Window)
	v.SetDefault("rate_limit.default.weighted", d.RateLimit.Default.Weighted)
	overrides := make([]map[string]interface{}, 0, len(d.RateLimit.Overrides))
	for _, o := range d.RateLimit.Overrides {
		overrides = append(overrides, map[string]interface{}{
			"tenant":    o.Tenant,
			"route":     o.Route,
			"algorithm": string(o.Policy.Algorithm),
			"capacity":  o.Policy.Capacity,
			"rate":      o.Policy.Rate,
			"limit":     o.Policy.Limit,
			"window":    o.Policy.Window,
			"weighted":  o.Policy.Weighted,
		})
	}
	v.SetDefault("rate_limit.overrides", overrides)

	v.SetDefault("threat.enabled", d.Threat.Enabled)
	v.SetDefault("threat.auto_block", d.Threat.AutoBlock)
	v.SetDefault("threat.sensitivity", string(d.Threat.Sensitivity))
	v.SetDefault("threat.threshold", d.Threat.Threshold)
	v.SetDefault("threat.half_life", d.Threat.HalfLife)
	v.SetDefault("threat.block_duration", d.Threat.BlockDuration)

	v.SetDefault("store.operation_timeout", d.Store.OperationTimeout)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)

	v.SetDefault("cookie.name", d.Cookie.Name)
	v.SetDefault("cookie.path", d.Cookie.Path)
	v.SetDefault("cookie.domain", d.Cookie.Domain)
	v.SetDefault("cookie.secure", d.Cookie.Secure)
	v.SetDefault("cookie.same_site", d.Cookie.SameSite)
	v.SetDefault("cookie.csrf_header", d.Cookie.CSRFHeader)

	v.SetDefault("api_key.enabled", d.APIKey.Enabled)
	v.SetDefault("api_key.default_per_minute", d.APIKey.DefaultPerMinute)
	v.SetDefault("api_key.max_per_minute", d.APIKey.MaxPerMinute)
	v.SetDefault("api_key.max_per_principal", d.APIKey.MaxPerPrincipal)
	v.SetDefault("api_key.default_ttl", d.APIKey.DefaultTTL)
}
