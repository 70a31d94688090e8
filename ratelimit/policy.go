package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Algorithm selects the accounting strategy of a Policy.
type Algorithm string

const (
	TokenBucket   Algorithm = "token_bucket"
	SlidingWindow Algorithm = "sliding_window"
	FixedWindow   Algorithm = "fixed_window"
	LeakyBucket   Algorithm = "leaky_bucket"
)

// Policy parameterises one strategy.
//
// Bucket algorithms use Capacity and Rate (tokens per second). Window
// algorithms use Limit and Window. Weighted enables interpolation with the
// previous window for SlidingWindow.
type Policy struct {
	Algorithm Algorithm     `mapstructure:"algorithm"`
	Capacity  int           `mapstructure:"capacity"`
	Rate      float64       `mapstructure:"rate"`
	Limit     int           `mapstructure:"limit"`
	Window    time.Duration `mapstructure:"window"`
	Weighted  bool          `mapstructure:"weighted"`
}

// Validate checks the fields required by the selected algorithm.
func (p Policy) Validate() error {
	switch p.Algorithm {
	case TokenBucket, LeakyBucket:
		if p.Capacity <= 0 {
			return fmt.Errorf("ratelimit: %s requires Capacity > 0", p.Algorithm)
		}
		if p.Rate <= 0 {
			return fmt.Errorf("ratelimit: %s requires Rate > 0", p.Algorithm)
		}
	case SlidingWindow, FixedWindow:
		if p.Limit <= 0 {
			return fmt.Errorf("ratelimit: %s requires Limit > 0", p.Algorithm)
		}
		if p.Window < time.Millisecond {
			return fmt.Errorf("ratelimit: %s requires Window >= 1ms", p.Algorithm)
		}
	case "":
		return errors.New("ratelimit: policy algorithm is required")
	default:
		return fmt.Errorf("ratelimit: unknown algorithm %q", p.Algorithm)
	}
	return nil
}

// Override applies Policy to a tenant, a route, or a route within a
// tenant. At least one of Tenant and Route must be set.
type Override struct {
	Tenant string `mapstructure:"tenant"`
	Route  string `mapstructure:"route"`
	Policy Policy `mapstructure:",squash"`
}

// Config is the complete limiter policy set.
type Config struct {
	Enabled   bool       `mapstructure:"enabled"`
	Default   Policy     `mapstructure:"default"`
	Overrides []Override `mapstructure:"overrides"`
}

// Validate checks every policy and rejects duplicate overrides.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := c.Default.Validate(); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Overrides))
	for i, o := range c.Overrides {
		if o.Tenant == "" && o.Route == "" {
			return fmt.Errorf("ratelimit: override %d has neither tenant nor route", i)
		}
		if err := o.Policy.Validate(); err != nil {
			return fmt.Errorf("override %d: %w", i, err)
		}
		id := scopeID(o.Tenant, o.Route)
		if _, dup := seen[id]; dup {
			return fmt.Errorf("ratelimit: duplicate override for %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func scopeID(tenant, route string) string {
	switch {
	case tenant != "" && route != "":
		return "t:" + tenant + ":r:" + route
	case route != "":
		return "r:" + route
	case tenant != "":
		return "t:" + tenant
	default:
		return "default"
	}
}
