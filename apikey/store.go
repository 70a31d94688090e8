package apikey

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/panelAuth/internal"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/ratelimit"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned for unknown or malformed keys and for a
	// secret that does not match.
	ErrNotFound = errors.New("api key not found")
	// ErrRevoked is returned for a key that was revoked.
	ErrRevoked = errors.New("api key revoked")
	// ErrExpired is returned once a key's expiry has passed.
	ErrExpired = errors.New("api key expired")
	// ErrLimitReached is returned by Create when the principal already
	// holds the maximum number of live keys.
	ErrLimitReached = errors.New("api key limit reached")
	// ErrUnavailable wraps Redis failures.
	ErrUnavailable = errors.New("api key store unavailable")
)

// Prefix starts every presented key.
const Prefix = "pak_"

// retention keeps a record past its expiry so that Lookup can report
// ErrExpired and listings can show it.
const retention = 7 * 24 * time.Hour

const (
	keyPrefix   = "ak:"
	indexPrefix = "aku:"
)

const (
	lookupStatusNotFound int64 = 0
	lookupStatusOK       int64 = 1
	lookupStatusRevoked  int64 = 2
	lookupStatusExpired  int64 = 3
)

// Key is a stored API key without its secret.
type Key struct {
	ID          string
	Name        string
	PrincipalID string
	TenantID    string
	Role        permission.Role
	Scopes      permission.Mask64
	// PerMinute is the request budget over a sliding minute.
	PerMinute  int
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
	Revoked    bool
}

// Policy returns the rate-limit policy enforcing k.PerMinute.
func (k *Key) Policy() ratelimit.Policy {
	return ratelimit.Policy{
		Algorithm: ratelimit.SlidingWindow,
		Limit:     k.PerMinute,
		Window:    time.Minute,
		Weighted:  true,
	}
}

// Live reports whether k can authenticate at now.
func (k *Key) Live(now time.Time) bool {
	return !k.Revoked && (k.ExpiresAt.IsZero() || now.Before(k.ExpiresAt))
}

// Params describes a key to create.
type Params struct {
	Name        string
	PrincipalID string
	TenantID    string
	Role        permission.Role
	Scopes      permission.Mask64
	PerMinute   int
	// TTL of zero means the key never expires.
	TTL time.Duration
}

// Store persists keys as Redis hashes with a per-principal index set.
type Store struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewStore returns a Store. now may be nil.
func NewStore(rdb redis.UniversalClient, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{redis: rdb, now: now}
}

func key(id string) string {
	return keyPrefix + id
}

func indexKey(principalID string) string {
	return indexPrefix + principalID
}

// Parse splits a presented key into id and secret.
func Parse(raw string) (id, secret string, err error) {
	rest, ok := strings.CutPrefix(raw, Prefix)
	if !ok {
		return "", "", ErrNotFound
	}
	id, secret, ok = strings.Cut(rest, ".")
	if !ok {
		return "", "", ErrNotFound
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", "", ErrNotFound
	}
	if internal.ParseOpaqueToken(secret) != nil {
		return "", "", ErrNotFound
	}
	return id, secret, nil
}

var createLua = redis.NewScript(`
local max = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local live = 0
for _, id in ipairs(redis.call("SMEMBERS", KEYS[2])) do
  local v = redis.call("HMGET", ARGV[4] .. id, "revoked", "exp")
  if not v[1] then
    redis.call("SREM", KEYS[2], id)
  else
    local exp = tonumber(v[2])
    if v[1] == "0" and (exp == 0 or exp > now) then
      live = live + 1
    end
  end
end
if live >= max then
  return 0
end

local fields = {}
for i = 6, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call("HSET", KEYS[1], unpack(fields))
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
redis.call("SADD", KEYS[2], ARGV[5])
return 1
`)

// Create mints a key and returns the presented form with its record. A
// principal may hold at most limit live keys.
func (s *Store) Create(ctx context.Context, p Params, limit int) (string, *Key, error) {
	if p.PrincipalID == "" {
		return "", nil, errors.New("apikey: empty principal id")
	}
	if p.PerMinute <= 0 {
		return "", nil, errors.New("apikey: PerMinute must be > 0")
	}
	secret, err := internal.NewOpaqueToken()
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	k := &Key{
		ID:          uuid.NewString(),
		Name:        p.Name,
		PrincipalID: p.PrincipalID,
		TenantID:    internal.NormalizeTenantID(p.TenantID),
		Role:        p.Role,
		Scopes:      p.Scopes,
		PerMinute:   p.PerMinute,
		CreatedAt:   now,
	}
	var ttl, exp int64
	if p.TTL > 0 {
		k.ExpiresAt = now.Add(p.TTL)
		exp = k.ExpiresAt.UnixMilli()
		ttl = (p.TTL + retention).Milliseconds()
	}

	ok, err := createLua.Run(ctx, s.redis,
		[]string{key(k.ID), indexKey(k.PrincipalID)},
		limit,
		now.UnixMilli(),
		ttl,
		keyPrefix,
		k.ID,
		"hash", internal.HashValue(secret),
		"name", k.Name,
		"pid", k.PrincipalID,
		"tid", k.TenantID,
		"role", k.Role.String(),
		"scopes", strconv.FormatUint(k.Scopes.Raw(), 10),
		"rpm", k.PerMinute,
		"iat", now.UnixMilli(),
		"exp", exp,
		"used", 0,
		"revoked", "0",
	).Int64()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ok == 0 {
		return "", nil, ErrLimitReached
	}
	return Prefix + k.ID + "." + secret, k, nil
}

// Only hashes are compared; the raw secret never reaches Redis.
var lookupLua = redis.NewScript(`
local now = tonumber(ARGV[2])
local v = redis.call("HMGET", KEYS[1], "hash", "revoked", "exp")
if not v[1] or v[1] ~= ARGV[1] then
  return {0}
end
if v[2] == "1" then
  return {2}
end
local exp = tonumber(v[3])
if exp > 0 and now >= exp then
  return {3}
end
redis.call("HSET", KEYS[1], "used", now)
return {1, unpack(redis.call("HGETALL", KEYS[1]))}
`)

// Lookup authenticates a presented key and records its use.
func (s *Store) Lookup(ctx context.Context, raw string) (*Key, error) {
	id, secret, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	res, err := lookupLua.Run(ctx, s.redis, []string{key(id)},
		internal.HashValue(secret),
		s.now().UnixMilli(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: empty script reply", ErrUnavailable)
	}

	switch asInt64(res[0]) {
	case lookupStatusNotFound:
		return nil, ErrNotFound
	case lookupStatusRevoked:
		return nil, ErrRevoked
	case lookupStatusExpired:
		return nil, ErrExpired
	case lookupStatusOK:
	default:
		return nil, fmt.Errorf("%w: unexpected status", ErrUnavailable)
	}

	fields := make(map[string]string, (len(res)-1)/2)
	for i := 1; i+1 < len(res); i += 2 {
		fields[asString(res[i])] = asString(res[i+1])
	}
	return decode(id, fields)
}

// Get returns the record for id, live or not.
func (s *Store) Get(ctx context.Context, id string) (*Key, error) {
	fields, err := s.redis.HGetAll(ctx, key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decode(id, fields)
}

// List returns every stored key of principalID, oldest first.
func (s *Store) List(ctx context.Context, principalID string) ([]Key, error) {
	ids, err := s.redis.SMembers(ctx, indexKey(principalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]Key, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		k, err := decode(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var revokeLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1")
return 1
`)

// Revoke marks id revoked. It reports whether a record existed.
func (s *Store) Revoke(ctx context.Context, id string) (bool, error) {
	n, err := revokeLua.Run(ctx, s.redis, []string{key(id)}).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

var revokeAllLua = redis.NewScript(`
local n = 0
for _, id in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local k = ARGV[1] .. id
  local rev = redis.call("HGET", k, "revoked")
  if not rev then
    redis.call("SREM", KEYS[1], id)
  elseif rev == "0" then
    redis.call("HSET", k, "revoked", "1")
    n = n + 1
  end
end
return n
`)

// RevokeAll revokes every live key of principalID and returns how many
// were revoked.
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

func decode(id string, f map[string]string) (*Key, error) {
	role, err := permission.ParseRole(f["role"])
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt role", ErrUnavailable)
	}
	scopes, err := strconv.ParseUint(f["scopes"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt scopes", ErrUnavailable)
	}
	rpm, err := strconv.Atoi(f["rpm"])
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt budget", ErrUnavailable)
	}
	return &Key{
		ID:          id,
		Name:        f["name"],
		PrincipalID: f["pid"],
		TenantID:    f["tid"],
		Role:        role,
		Scopes:      permission.Mask64(scopes),
		PerMinute:   rpm,
		CreatedAt:   millis(f["iat"]),
		ExpiresAt:   millis(f["exp"]),
		LastUsedAt:  millis(f["used"]),
		Revoked:     f["revoked"] == "1",
	}, nil
}

func millis(v string) time.Time {
	n, _ := strconv.ParseInt(v, 10, 64)
	if n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
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
