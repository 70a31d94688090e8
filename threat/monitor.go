package threat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis failures.
var ErrUnavailable = errors.New("threat store unavailable")

// Signal is an abuse event reported to the monitor.
type Signal string

const (
	SignalInvalidCredentials Signal = "invalid_credentials"
	SignalAccountLocked      Signal = "account_locked"
	SignalTooManyAttempts    Signal = "too_many_attempts"
	SignalRateLimited        Signal = "rate_limited"
	SignalTokenReused        Signal = "token_reused"
	SignalCSRFViolation      Signal = "csrf_violation"
)

// DefaultWeights is the score added per signal.
func DefaultWeights() map[Signal]float64 {
	return map[Signal]float64{
		SignalInvalidCredentials: 1,
		SignalRateLimited:        1,
		SignalCSRFViolation:      1,
		SignalAccountLocked:      2,
		SignalTooManyAttempts:    3,
		SignalTokenReused:        5,
	}
}

// Sensitivity is a named threshold preset.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// Threshold returns the score at which the preset blocks. Higher
// sensitivity blocks sooner.
func (s Sensitivity) Threshold() (float64, bool) {
	switch s {
	case SensitivityLow:
		return 20, true
	case SensitivityMedium:
		return 10, true
	case SensitivityHigh:
		return 5, true
	default:
		return 0, false
	}
}

// Config controls scoring and blocking.
type Config struct {
	Enabled     bool        `mapstructure:"enabled"`
	AutoBlock   bool        `mapstructure:"auto_block"`
	Sensitivity Sensitivity `mapstructure:"sensitivity"`
	// Threshold overrides the Sensitivity preset when > 0.
	Threshold     float64            `mapstructure:"threshold"`
	HalfLife      time.Duration      `mapstructure:"half_life"`
	BlockDuration time.Duration      `mapstructure:"block_duration"`
	Weights       map[Signal]float64 `mapstructure:"weights"`
}

// Validate checks thresholds and durations.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Threshold < 0 {
		return errors.New("threat: Threshold must be >= 0")
	}
	if c.Threshold == 0 {
		if _, ok := c.Sensitivity.Threshold(); !ok {
			return fmt.Errorf("threat: unknown sensitivity %q", c.Sensitivity)
		}
	}
	if c.HalfLife <= 0 {
		return errors.New("threat: HalfLife must be > 0")
	}
	if c.AutoBlock && c.BlockDuration <= 0 {
		return errors.New("threat: BlockDuration must be > 0 when AutoBlock is on")
	}
	for s, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("threat: negative weight for %s", s)
		}
	}
	return nil
}

func (c Config) threshold() float64 {
	if c.Threshold > 0 {
		return c.Threshold
	}
	t, _ := c.Sensitivity.Threshold()
	return t
}

func (c Config) weight(s Signal) float64 {
	if w, ok := c.Weights[s]; ok {
		return w
	}
	return DefaultWeights()[s]
}

// Verdict is the state of a key after an observation.
type Verdict struct {
	Score        float64
	Blocked      bool
	BlockedUntil time.Time
}

const (
	scorePrefix = "th:"
	blockPrefix = "tb:"
)

// Monitor scores abuse signals per key and blocks keys whose score
// crosses the threshold.
type Monitor struct {
	redis  redis.UniversalClient
	config atomic.Pointer[Config]
	now    func() time.Time
}

// New returns a Monitor. now may be nil.
func New(rdb redis.UniversalClient, cfg Config, now func() time.Time) (*Monitor, error) {
	if now == nil {
		now = time.Now
	}
	m := &Monitor{redis: rdb, now: now}
	if err := m.SetConfig(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// SetConfig validates and swaps the configuration.
func (m *Monitor) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config.Store(&cfg)
	return nil
}

var observeLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local weight = tonumber(ARGV[2])
local halflife = tonumber(ARGV[3])
local threshold = tonumber(ARGV[4])
local autoblock = tonumber(ARGV[5])
local block = tonumber(ARGV[6])

local v = redis.call("HMGET", KEYS[1], "score", "ts")
local score = tonumber(v[1]) or 0
local ts = tonumber(v[2]) or now
if now > ts then
  score = score * math.pow(0.5, (now - ts) / halflife)
end
score = score + weight

if autoblock == 1 and score >= threshold then
  local untilMs = now + block
  redis.call("SET", KEYS[2], tostring(untilMs), "PX", block)
  redis.call("DEL", KEYS[1])
  return {tostring(score), untilMs}
end

redis.call("HSET", KEYS[1], "score", tostring(score), "ts", tostring(now))
redis.call("PEXPIRE", KEYS[1], halflife * 8)
return {tostring(score), 0}
`)

// Observe adds sig to key's decayed score. When auto-blocking is on and
// the score reaches the threshold, key is blocked for BlockDuration and
// its score starts over.
func (m *Monitor) Observe(ctx context.Context, key string, sig Signal) (Verdict, error) {
	cfg := m.config.Load()
	if !cfg.Enabled || key == "" {
		return Verdict{}, nil
	}
	autoBlock := 0
	if cfg.AutoBlock {
		autoBlock = 1
	}
	now := m.now()
	res, err := observeLua.Run(ctx, m.redis,
		[]string{scorePrefix + key, blockPrefix + key},
		now.UnixMilli(),
		strconv.FormatFloat(cfg.weight(sig), 'f', -1, 64),
		cfg.HalfLife.Milliseconds(),
		strconv.FormatFloat(cfg.threshold(), 'f', -1, 64),
		autoBlock,
		cfg.BlockDuration.Milliseconds(),
	).Slice()
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return Verdict{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	score, _ := strconv.ParseFloat(fmt.Sprint(res[0]), 64)
	v := Verdict{Score: score}
	if until, ok := res[1].(int64); ok && until > 0 {
		v.Blocked = true
		v.BlockedUntil = time.UnixMilli(until)
	}
	return v, nil
}

// IsBlocked reports whether key is blocked and for how much longer.
func (m *Monitor) IsBlocked(ctx context.Context, key string) (bool, time.Duration, error) {
	if !m.config.Load().Enabled || key == "" {
		return false, 0, nil
	}
	raw, err := m.redis.Get(ctx, blockPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	until, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, 0, fmt.Errorf("%w: corrupt block record", ErrUnavailable)
	}
	left := time.UnixMilli(until).Sub(m.now())
	if left <= 0 {
		return false, 0, nil
	}
	return true, left, nil
}

// Block blocks key for d regardless of its score.
func (m *Monitor) Block(ctx context.Context, key string, d time.Duration) error {
	if key == "" || d <= 0 {
		return errors.New("threat: invalid block request")
	}
	until := m.now().Add(d).UnixMilli()
	if err := m.redis.Set(ctx, blockPrefix+key, strconv.FormatInt(until, 10), d).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Unblock lifts a block and clears the score of key.
func (m *Monitor) Unblock(ctx context.Context, key string) error {
	if err := m.redis.Del(ctx, blockPrefix+key, scorePrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Score returns the current decayed score of key.
func (m *Monitor) Score(ctx context.Context, key string) (float64, error) {
	vals, err := m.redis.HMGet(ctx, scorePrefix+key, "score", "ts").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s, ok1 := vals[0].(string)
	ts, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return 0, nil
	}
	score, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt score", ErrUnavailable)
	}
	at, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt score", ErrUnavailable)
	}
	elapsed := m.now().Sub(time.UnixMilli(at))
	if elapsed > 0 {
		score *= math.Pow(0.5, float64(elapsed)/float64(m.config.Load().HalfLife))
	}
	return score, nil
}
