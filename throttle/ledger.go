package throttle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/panelAuth/internal"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable indicates the ledger backend could not be reached. Callers
	// must treat it as a denial.
	ErrUnavailable = errors.New("throttle ledger unavailable")
	// ErrLocked is returned by RecordSuccess when a concurrent failure locked
	// one of the checked keys.
	ErrLocked = errors.New("throttle key locked")
)

// Config holds ledger thresholds.
type Config struct {
	MaxAttempts     int
	Window          time.Duration
	LockoutDuration time.Duration
}

// Validate checks that thresholds are usable.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return errors.New("throttle: MaxAttempts must be > 0")
	}
	if c.Window <= 0 {
		return errors.New("throttle: Window must be > 0")
	}
	if c.LockoutDuration <= 0 {
		return errors.New("throttle: LockoutDuration must be > 0")
	}
	return nil
}

// Dimension separates principal and source-address records.
type Dimension string

const (
	DimensionPrincipal Dimension = "p"
	DimensionIP        Dimension = "ip"
)

// Key identifies one throttle record.
type Key struct {
	Dimension Dimension
	ID        string
}

// PrincipalKey keys a record by login identifier. Unknown usernames are
// throttled the same way as existing ones.
func PrincipalKey(username string) Key {
	return Key{Dimension: DimensionPrincipal, ID: internal.NormalizeUsername(username)}
}

// IPKey keys a record by source address.
func IPKey(ip string) Key {
	return Key{Dimension: DimensionIP, ID: ip}
}

func (k Key) redisKey() string {
	return "tl:" + string(k.Dimension) + ":" + k.ID
}

func (k Key) empty() bool {
	return k.ID == ""
}

// Decision is the outcome of a ledger operation for one key.
type Decision struct {
	Key        Key
	Locked     bool
	Failures   int
	Remaining  int
	RetryAfter time.Duration
}

// Ledger is a Redis-backed failed-attempt counter. Each record is a hash
// {c: failed_count, ws: window_start_ms, lu: locked_until_ms}; every
// mutation runs as a single Lua script so concurrent failures on one key
// never lose an update.
type Ledger struct {
	redis  redis.UniversalClient
	config atomic.Pointer[Config]
	now    func() time.Time
}

// New returns a Ledger. now may be nil.
func New(rdb redis.UniversalClient, cfg Config, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	l := &Ledger{redis: rdb, now: now}
	l.SetConfig(cfg)
	return l
}

// SetConfig swaps thresholds for subsequent operations.
func (l *Ledger) SetConfig(cfg Config) {
	l.config.Store(&cfg)
}

var recordFailureLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local lockout = tonumber(ARGV[4])

local vals = redis.call("HMGET", KEYS[1], "c", "ws", "lu")
local count = tonumber(vals[1]) or 0
local ws = tonumber(vals[2]) or now
local lu = tonumber(vals[3]) or 0

if lu > now then
  return {1, count, lu - now}
end

if lu > 0 or now - ws >= window then
  count = 0
  ws = now
end

count = count + 1
if count >= max then
  lu = now + lockout
  redis.call("HSET", KEYS[1], "c", count, "ws", ws, "lu", lu)
  redis.call("PEXPIRE", KEYS[1], lockout)
  return {1, count, lockout}
end

redis.call("HSET", KEYS[1], "c", count, "ws", ws, "lu", 0)
local ttl = ws + window - now
if ttl < 1 then
  ttl = 1
end
redis.call("PEXPIRE", KEYS[1], ttl)
return {0, count, 0}
`)

// RecordFailure counts one failed attempt against key. The attempt that
// reaches MaxAttempts locks the key for LockoutDuration. A failure after
// the window or after a lapsed lock starts a fresh window.
func (l *Ledger) RecordFailure(ctx context.Context, key Key) (Decision, error) {
	cfg := l.config.Load()
	if key.empty() {
		return Decision{Key: key, Remaining: cfg.MaxAttempts}, nil
	}

	res, err := recordFailureLua.Run(ctx, l.redis,
		[]string{key.redisKey()},
		l.now().UnixMilli(),
		cfg.Window.Milliseconds(),
		cfg.MaxAttempts,
		cfg.LockoutDuration.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	d := Decision{
		Key:        key,
		Locked:     res[0] == 1,
		Failures:   int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}
	if !d.Locked {
		d.Remaining = cfg.MaxAttempts - d.Failures
	}
	return d, nil
}

var lockedUntilLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local clear = tonumber(ARGV[2])
local worst = 0
local worstIdx = 0
for i, k in ipairs(KEYS) do
  local lu = tonumber(redis.call("HGET", k, "lu")) or 0
  if lu - now > worst then
    worst = lu - now
    worstIdx = i
  end
end
if worst > 0 then
  return {worst, worstIdx}
end
for i = 1, clear do
  redis.call("DEL", KEYS[i])
end
return {0, 0}
`)

// IsLocked reports the longest remaining lock among keys.
func (l *Ledger) IsLocked(ctx context.Context, keys ...Key) (Decision, error) {
	return l.lockedUntil(ctx, 0, keys)
}

// RecordSuccess clears the record for key after a verified login. The
// clear is skipped, and ErrLocked returned, if key or any of the checked
// keys is locked at that moment; check and clear are one atomic step.
func (l *Ledger) RecordSuccess(ctx context.Context, key Key, check ...Key) error {
	keys := append([]Key{key}, check...)
	d, err := l.lockedUntil(ctx, 1, keys)
	if err != nil {
		return err
	}
	if d.Locked {
		return ErrLocked
	}
	return nil
}

// Reset unconditionally removes the records for keys (administrative unlock).
func (l *Ledger) Reset(ctx context.Context, keys ...Key) error {
	redisKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		if !k.empty() {
			redisKeys = append(redisKeys, k.redisKey())
		}
	}
	if len(redisKeys) == 0 {
		return nil
	}
	if err := l.redis.Del(ctx, redisKeys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Status reads the current record for key without changing it. Failures
// from an elapsed window read as zero.
func (l *Ledger) Status(ctx context.Context, key Key) (Decision, error) {
	cfg := l.config.Load()
	d := Decision{Key: key, Remaining: cfg.MaxAttempts}
	if key.empty() {
		return d, nil
	}

	vals, err := l.redis.HMGet(ctx, key.redisKey(), "c", "ws", "lu").Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	now := l.now().UnixMilli()
	count, ws, lu := hashInt(vals[0]), hashInt(vals[1]), hashInt(vals[2])

	if lu > now {
		d.Locked = true
		d.Failures = int(count)
		d.Remaining = 0
		d.RetryAfter = time.Duration(lu-now) * time.Millisecond
		return d, nil
	}
	if lu > 0 || now-ws >= cfg.Window.Milliseconds() {
		return d, nil
	}
	d.Failures = int(count)
	d.Remaining = cfg.MaxAttempts - d.Failures
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

func hashInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (l *Ledger) lockedUntil(ctx context.Context, clear int, keys []Key) (Decision, error) {
	kept := make([]Key, 0, len(keys))
	redisKeys := make([]string, 0, len(keys))
	for i, k := range keys {
		if k.empty() {
			if i < clear {
				clear--
			}
			continue
		}
		kept = append(kept, k)
		redisKeys = append(redisKeys, k.redisKey())
	}
	if len(redisKeys) == 0 {
		return Decision{}, nil
	}

	res, err := lockedUntilLua.Run(ctx, l.redis, redisKeys, l.now().UnixMilli(), clear).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}
	if res[0] <= 0 || res[1] < 1 || int(res[1]) > len(kept) {
		return Decision{Key: kept[0]}, nil
	}
	return Decision{
		Key:        kept[res[1]-1],
		Locked:     true,
		RetryAfter: time.Duration(res[0]) * time.Millisecond,
	}, nil
}
