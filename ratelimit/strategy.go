package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of one acquisition attempt.
type Result struct {
	Allowed bool
	Status
}

// Status describes the quota left for a key.
type Status struct {
	// Remaining is the number of requests that would still be admitted.
	Remaining int
	// ResetAt is when the key returns to its full quota.
	ResetAt time.Time
	// RetryAfter is how long until the next request would be admitted.
	// Zero when one would be admitted now.
	RetryAfter time.Duration
}

// Strategy is one accounting algorithm. Take admits or denies a request
// for key at now; with consume false it only reports the current status.
// Implementations update state in a single Lua script so concurrent
// callers on the same key are serialised by Redis.
type Strategy interface {
	Algorithm() Algorithm
	Take(ctx context.Context, rdb redis.Scripter, key string, now time.Time, consume bool) (Result, error)
}

// NewStrategy builds the Strategy described by p.
func NewStrategy(p Policy) (Strategy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch p.Algorithm {
	case TokenBucket:
		return tokenBucket{capacity: p.Capacity, rate: p.Rate}, nil
	case LeakyBucket:
		return leakyBucket{capacity: p.Capacity, rate: p.Rate}, nil
	case SlidingWindow:
		return slidingWindow{limit: p.Limit, window: p.Window, weighted: p.Weighted}, nil
	default:
		return fixedWindow{limit: p.Limit, window: p.Window}, nil
	}
}

// Every script returns {allowed, remaining, retry_ms, reset_ms}.
func run(ctx context.Context, script *redis.Script, rdb redis.Scripter, key string, now time.Time, args ...interface{}) (Result, error) {
	vals, err := script.Run(ctx, rdb, []string{key}, args...).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vals) != 4 {
		return Result{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}
	res := Result{
		Allowed: vals[0] == 1,
		Status: Status{
			Remaining:  int(vals[1]),
			ResetAt:    now.Add(time.Duration(vals[3]) * time.Millisecond),
			RetryAfter: time.Duration(vals[2]) * time.Millisecond,
		},
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	return res, nil
}

func consumeFlag(consume bool) int {
	if consume {
		return 1
	}
	return 0
}

func formatRate(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}

type tokenBucket struct {
	capacity int
	rate     float64
}

var tokenBucketLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local consume = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local rate = tonumber(ARGV[4])

local v = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(v[1])
local ts = tonumber(v[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rate / 1000)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  if consume == 1 then
    tokens = tokens - 1
  end
end

local retry = 0
if tokens < 1 then
  retry = math.ceil((1 - tokens) * 1000 / rate)
end
local reset = math.ceil((capacity - tokens) * 1000 / rate)

if consume == 1 then
  redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", tostring(ts))
  redis.call("PEXPIRE", KEYS[1], reset + 1000)
end
return {allowed, math.floor(tokens), retry, reset}
`)

func (tokenBucket) Algorithm() Algorithm { return TokenBucket }

func (b tokenBucket) Take(ctx context.Context, rdb redis.Scripter, key string, now time.Time, consume bool) (Result, error) {
	return run(ctx, tokenBucketLua, rdb, key, now, now.UnixMilli(), consumeFlag(consume), b.capacity, formatRate(b.rate))
}

// leakyBucket meters requests into a bucket that drains at rate per
// second. A request is admitted while the level stays within capacity.
type leakyBucket struct {
	capacity int
	rate     float64
}

var leakyBucketLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local consume = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local rate = tonumber(ARGV[4])

local v = redis.call("HMGET", KEYS[1], "level", "ts")
local level = tonumber(v[1]) or 0
local ts = tonumber(v[2]) or now
if now > ts then
  level = math.max(0, level - (now - ts) * rate / 1000)
  ts = now
end

local allowed = 0
if level + 1 <= capacity then
  allowed = 1
  if consume == 1 then
    level = level + 1
  end
end

local retry = 0
if level + 1 > capacity then
  retry = math.ceil((level + 1 - capacity) * 1000 / rate)
end
local reset = math.ceil(level * 1000 / rate)

if consume == 1 then
  redis.call("HSET", KEYS[1], "level", tostring(level), "ts", tostring(ts))
  redis.call("PEXPIRE", KEYS[1], reset + 1000)
end
return {allowed, math.floor(capacity - level), retry, reset}
`)

func (leakyBucket) Algorithm() Algorithm { return LeakyBucket }

func (b leakyBucket) Take(ctx context.Context, rdb redis.Scripter, key string, now time.Time, consume bool) (Result, error) {
	return run(ctx, leakyBucketLua, rdb, key, now, now.UnixMilli(), consumeFlag(consume), b.capacity, formatRate(b.rate))
}

// slidingWindow counts hits in the current and previous window. Weighted
// mode estimates the rolling count as curr + prev*(overlap of the
// previous window).
type slidingWindow struct {
	limit    int
	window   time.Duration
	weighted bool
}

var slidingWindowLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local consume = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window = tonumber(ARGV[4])
local weighted = tonumber(ARGV[5])

local win = math.floor(now / window)
local v = redis.call("HMGET", KEYS[1], "win", "curr", "prev")
local w = tonumber(v[1])
local curr = tonumber(v[2]) or 0
local prev = tonumber(v[3]) or 0
if w == nil then
  curr = 0
  prev = 0
elseif w ~= win then
  if w == win - 1 then
    prev = curr
  else
    prev = 0
  end
  curr = 0
end

local elapsed = now - win * window
local remainingWindow = window - elapsed
local function estimate(c)
  if weighted == 1 then
    return c + prev * remainingWindow / window
  end
  return c
end

local allowed = 0
if estimate(curr) + 1 <= limit then
  allowed = 1
  if consume == 1 then
    curr = curr + 1
  end
end

local retry = 0
if estimate(curr) + 1 > limit then
  retry = remainingWindow
  if weighted == 1 and prev > 0 and curr + 1 <= limit then
    local at = window - (limit - 1 - curr) * window / prev
    retry = math.max(1, math.ceil(at - elapsed))
  end
end

if consume == 1 then
  redis.call("HSET", KEYS[1], "win", win, "curr", curr, "prev", prev)
  redis.call("PEXPIRE", KEYS[1], window * 2)
end

local reset = remainingWindow
if weighted == 1 and curr > 0 then
  reset = reset + window
end
return {allowed, math.floor(limit - estimate(curr)), retry, reset}
`)

func (slidingWindow) Algorithm() Algorithm { return SlidingWindow }

func (s slidingWindow) Take(ctx context.Context, rdb redis.Scripter, key string, now time.Time, consume bool) (Result, error) {
	weighted := 0
	if s.weighted {
		weighted = 1
	}
	return run(ctx, slidingWindowLua, rdb, key, now, now.UnixMilli(), consumeFlag(consume), s.limit, s.window.Milliseconds(), weighted)
}

// fixedWindow is a plain counter per clock-aligned window. The window
// index is part of the key so a new window starts from zero.
type fixedWindow struct {
	limit  int
	window time.Duration
}

var fixedWindowLua = redis.NewScript(`
local consume = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count < limit then
  if consume == 1 then
    count = redis.call("INCR", KEYS[1])
    if count == 1 then
      redis.call("PEXPIRE", KEYS[1], ttl)
    end
  end
  local retry = 0
  if count >= limit then
    retry = ttl
  end
  return {1, limit - count, retry, ttl}
end
return {0, 0, ttl, ttl}
`)

func (fixedWindow) Algorithm() Algorithm { return FixedWindow }

func (f fixedWindow) Take(ctx context.Context, rdb redis.Scripter, key string, now time.Time, consume bool) (Result, error) {
	w := f.window.Milliseconds()
	nowMs := now.UnixMilli()
	idx := nowMs / w
	reset := (idx+1)*w - nowMs
	return run(ctx, fixedWindowLua, rdb, key+":"+strconv.FormatInt(idx, 10), now, consumeFlag(consume), f.limit, reset)
}
