package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/panelAuth/internal"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned for unknown, revoked or malformed tokens.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when the idle or absolute expiry has passed.
	// The record is deleted as part of the check.
	ErrExpired = errors.New("session expired")
	// ErrUnavailable wraps Redis failures.
	ErrUnavailable = errors.New("session store unavailable")
)

// expiredGrace keeps an expired record around after its logical expiry so
// that Validate can report ErrExpired instead of ErrNotFound.
const expiredGrace = 5 * time.Minute

const (
	keyPrefix   = "ps:"
	indexPrefix = "psu:"
)

const (
	validateStatusNotFound int64 = 0
	validateStatusExpired  int64 = 1
	validateStatusOK       int64 = 2
)

// Config holds session lifetimes.
type Config struct {
	IdleTimeout time.Duration
	MaxLifetime time.Duration
}

// Validate checks lifetimes.
func (c Config) Validate() error {
	if c.IdleTimeout <= 0 {
		return errors.New("session: IdleTimeout must be > 0")
	}
	if c.MaxLifetime < c.IdleTimeout {
		return errors.New("session: MaxLifetime must be >= IdleTimeout")
	}
	return nil
}

// Store persists sessions as Redis hashes with a per-principal index set.
type Store struct {
	redis  redis.UniversalClient
	config atomic.Pointer[Config]
	now    func() time.Time
}

// NewStore returns a Store. now may be nil.
func NewStore(rdb redis.UniversalClient, cfg Config, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	s := &Store{redis: rdb, now: now}
	s.SetConfig(cfg)
	return s
}

// SetConfig swaps lifetimes for subsequent operations. Existing ceilings
// are not rewritten.
func (s *Store) SetConfig(cfg Config) {
	s.config.Store(&cfg)
}

func key(tokenHash string) string {
	return keyPrefix + tokenHash
}

func indexKey(principalID string) string {
	return indexPrefix + principalID
}

// Create mints a session with fresh random token and CSRF token.
func (s *Store) Create(ctx context.Context, p Params) (*Session, error) {
	if p.PrincipalID == "" {
		return nil, errors.New("session: empty principal id")
	}
	token, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	csrf, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, err
	}

	cfg := s.config.Load()
	now := s.now()
	ceiling := now.Add(cfg.MaxLifetime)
	expires := now.Add(cfg.IdleTimeout)
	if expires.After(ceiling) {
		expires = ceiling
	}

	sess := &Session{
		Token:       token,
		PrincipalID: p.PrincipalID,
		TenantID:    internal.NormalizeTenantID(p.TenantID),
		Role:        p.Role,
		CSRFToken:   csrf,
		SourceIP:    p.SourceIP,
		IssuedAt:    now,
		LastSeenAt:  now,
		ExpiresAt:   expires,
		Ceiling:     ceiling,
	}

	hash := internal.HashValue(token)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key(hash), map[string]interface{}{
			"pid":  sess.PrincipalID,
			"tid":  sess.TenantID,
			"role": sess.Role.String(),
			"csrf": sess.CSRFToken,
			"ip":   sess.SourceIP,
			"iat":  now.UnixMilli(),
			"seen": now.UnixMilli(),
			"exp":  expires.UnixMilli(),
			"max":  ceiling.UnixMilli(),
		})
		pipe.PExpire(ctx, key(hash), expires.Sub(now)+expiredGrace)
		pipe.SAdd(ctx, indexKey(sess.PrincipalID), hash)
		pipe.PExpire(ctx, indexKey(sess.PrincipalID), cfg.MaxLifetime+expiredGrace)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return sess, nil
}

var validateLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local idle = tonumber(ARGV[2])
local grace = tonumber(ARGV[3])
local renew = tonumber(ARGV[4])

local v = redis.call("HMGET", KEYS[1], "pid", "tid", "role", "csrf", "ip", "iat", "seen", "exp", "max")
if not v[1] then
  return {0}
end

local seen = tonumber(v[7])
local exp = tonumber(v[8])
local ceiling = tonumber(v[9])
if now > exp then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", ARGV[5] .. v[1], ARGV[6])
  return {1}
end

if renew == 1 then
  exp = now + idle
  if exp > ceiling then
    exp = ceiling
  end
  seen = now
  redis.call("HSET", KEYS[1], "exp", exp, "seen", seen)
  redis.call("PEXPIRE", KEYS[1], exp - now + grace)
end

return {2, v[1], v[2], v[3], v[4], v[5], tonumber(v[6]), seen, exp, ceiling}
`)

// Validate looks up token and, when valid, slides its expiry to
// min(now+IdleTimeout, Ceiling).
func (s *Store) Validate(ctx context.Context, token string) (*Session, error) {
	return s.load(ctx, token, true)
}

// Peek returns the session without renewing it.
func (s *Store) Peek(ctx context.Context, token string) (*Session, error) {
	return s.load(ctx, token, false)
}

func (s *Store) load(ctx context.Context, token string, renew bool) (*Session, error) {
	if err := internal.ParseOpaqueToken(token); err != nil {
		return nil, ErrNotFound
	}
	cfg := s.config.Load()
	hash := internal.HashValue(token)

	renewFlag := 0
	if renew {
		renewFlag = 1
	}
	res, err := validateLua.Run(ctx, s.redis,
		[]string{key(hash)},
		s.now().UnixMilli(),
		cfg.IdleTimeout.Milliseconds(),
		expiredGrace.Milliseconds(),
		renewFlag,
		indexPrefix,
		hash,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: empty script reply", ErrUnavailable)
	}

	switch asInt64(res[0]) {
	case validateStatusNotFound:
		return nil, ErrNotFound
	case validateStatusExpired:
		return nil, ErrExpired
	case validateStatusOK:
	default:
		return nil, fmt.Errorf("%w: unexpected status", ErrUnavailable)
	}
	if len(res) != 10 {
		return nil, fmt.Errorf("%w: short script reply", ErrUnavailable)
	}

	role, err := permission.ParseRole(asString(res[3]))
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt role", ErrUnavailable)
	}
	return &Session{
		Token:       token,
		PrincipalID: asString(res[1]),
		TenantID:    asString(res[2]),
		Role:        role,
		CSRFToken:   asString(res[4]),
		SourceIP:    asString(res[5]),
		IssuedAt:    time.UnixMilli(asInt64(res[6])),
		LastSeenAt:  time.UnixMilli(asInt64(res[7])),
		ExpiresAt:   time.UnixMilli(asInt64(res[8])),
		Ceiling:     time.UnixMilli(asInt64(res[9])),
	}, nil
}

var revokeLua = redis.NewScript(`
local pid = redis.call("HGET", KEYS[1], "pid")
if not pid then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. pid, ARGV[2])
return 1
`)

// Revoke deletes the session for token. Unknown tokens are not an error.
func (s *Store) Revoke(ctx context.Context, token string) error {
	if internal.ParseOpaqueToken(token) != nil {
		return nil
	}
	hash := internal.HashValue(token)
	if err := revokeLua.Run(ctx, s.redis, []string{key(hash)}, indexPrefix, hash).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

var revokeAllLua = redis.NewScript(`
local members = redis.call("SMEMBERS", KEYS[1])
for _, h in ipairs(members) do
  redis.call("DEL", ARGV[1] .. h)
end
redis.call("DEL", KEYS[1])
return #members
`)

// RevokeAll deletes every session of principalID and returns how many
// index entries were cleared. Repeated calls return 0.
func (s *Store) RevokeAll(ctx context.Context, principalID string) (int, error) {
	if principalID == "" {
		return 0, nil
	}
	n, err := revokeAllLua.Run(ctx, s.redis, []string{indexKey(principalID)}, keyPrefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

var countLua = redis.NewScript(`
local members = redis.call("SMEMBERS", KEYS[1])
local live = 0
for _, h in ipairs(members) do
  if redis.call("EXISTS", ARGV[1] .. h) == 1 then
    live = live + 1
  else
    redis.call("SREM", KEYS[1], h)
  end
end
return live
`)

// Count returns the number of stored sessions for principalID, pruning
// index entries whose records are gone.
func (s *Store) Count(ctx context.Context, principalID string) (int, error) {
	n, err := countLua.Run(ctx, s.redis, []string{indexKey(principalID)}, keyPrefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
