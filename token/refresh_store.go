package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrReused is returned when a consumed refresh token is presented
	// again, or when its family has been revoked.
	ErrReused = errors.New("refresh token reused")
	// ErrNotFound is returned when no record exists for a refresh token,
	// either because it was revoked or because it aged out of Redis.
	ErrNotFound = errors.New("refresh token not found")
	// ErrUnavailable wraps Redis failures.
	ErrUnavailable = errors.New("token store unavailable")
)

const (
	refreshPrefix       = "rt:"
	familyPrefix        = "rf:"
	principalPrefix     = "rfp:"
	familyRevokedPrefix = "rfr:"
)

const (
	consumeNotFound      int64 = 0
	consumeExpired       int64 = 1
	consumeReused        int64 = 2
	consumeFamilyRevoked int64 = 3
	consumeMismatch      int64 = 4
	consumeOK            int64 = 5
)

// RefreshStore tracks issued refresh tokens by jti.
//
// Each token belongs to a family that starts at login and continues
// through every rotation. A token is single use: Consume marks it
// consumed, and presenting it again revokes the whole family.
type RefreshStore struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewRefreshStore returns a RefreshStore. now may be nil.
func NewRefreshStore(rdb redis.UniversalClient, now func() time.Time) *RefreshStore {
	if now == nil {
		now = time.Now
	}
	return &RefreshStore{redis: rdb, now: now}
}

// Register records a freshly issued refresh token.
func (s *RefreshStore) Register(ctx context.Context, c *Claims) error {
	if c == nil || c.Type != TypeRefresh || c.ID == "" || c.Family == "" || c.ExpiresAt == nil {
		return ErrMalformed
	}
	exp := c.ExpiresAt.Time
	ttl := exp.Sub(s.now())
	if ttl <= 0 {
		return ErrExpired
	}
	pid := c.PrincipalID()
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, refreshPrefix+c.ID, map[string]interface{}{
			"fam": c.Family,
			"pid": pid,
			"st":  "active",
			"exp": exp.UnixMilli(),
		})
		pipe.PExpire(ctx, refreshPrefix+c.ID, ttl)
		pipe.SAdd(ctx, familyPrefix+c.Family, c.ID)
		pipe.PExpire(ctx, familyPrefix+c.Family, ttl)
		pipe.SAdd(ctx, principalPrefix+pid, c.Family)
		pipe.PExpire(ctx, principalPrefix+pid, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

var consumeLua = redis.NewScript(`
local now = tonumber(ARGV[1])
if redis.call("EXISTS", KEYS[3]) == 1 then
  return 3
end

local v = redis.call("HMGET", KEYS[1], "fam", "st", "exp")
if not v[1] then
  return 0
end
if v[1] ~= ARGV[2] then
  return 4
end

if v[2] == "consumed" then
  local members = redis.call("SMEMBERS", KEYS[2])
  for _, j in ipairs(members) do
    redis.call("DEL", ARGV[3] .. j)
  end
  redis.call("DEL", KEYS[2])
  redis.call("SET", KEYS[3], "1", "PX", ARGV[4])
  return 2
end

if now >= tonumber(v[3]) then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[5])
  return 1
end

redis.call("HSET", KEYS[1], "st", "consumed")
return 5
`)

// Consume atomically marks the refresh token described by c as used.
//
// It returns ErrReused and revokes the family when the token was already
// consumed. revokeFor bounds how long the revoked-family marker is kept
// and should be at least the refresh TTL.
func (s *RefreshStore) Consume(ctx context.Context, c *Claims, revokeFor time.Duration) error {
	if c == nil || c.ID == "" || c.Family == "" {
		return ErrMalformed
	}
	if revokeFor <= 0 {
		revokeFor = time.Hour
	}
	status, err := consumeLua.Run(ctx, s.redis,
		[]string{refreshPrefix + c.ID, familyPrefix + c.Family, familyRevokedPrefix + c.Family},
		s.now().UnixMilli(),
		c.Family,
		refreshPrefix,
		revokeFor.Milliseconds(),
		c.ID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch status {
	case consumeOK:
		return nil
	case consumeNotFound:
		return ErrNotFound
	case consumeExpired:
		return ErrExpired
	case consumeReused, consumeFamilyRevoked:
		return ErrReused
	case consumeMismatch:
		return ErrMalformed
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, status)
	}
}

var revokeTokenLua = redis.NewScript(`
local fam = redis.call("HGET", KEYS[1], "fam")
if not fam then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. fam, ARGV[2])
return 1
`)

// Revoke deletes a single refresh token record. Other tokens of the same
// family are untouched. Unknown jtis are not an error.
func (s *RefreshStore) Revoke(ctx context.Context, jti string) error {
	if jti == "" {
		return nil
	}
	if err := revokeTokenLua.Run(ctx, s.redis, []string{refreshPrefix + jti}, familyPrefix, jti).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

var revokeAllLua = redis.NewScript(`
local fams = redis.call("SMEMBERS", KEYS[1])
for _, f in ipairs(fams) do
  local members = redis.call("SMEMBERS", ARGV[1] .. f)
  for _, j in ipairs(members) do
    redis.call("DEL", ARGV[2] .. j)
  end
  redis.call("DEL", ARGV[1] .. f)
  redis.call("SET", ARGV[3] .. f, "1", "PX", ARGV[4])
end
redis.call("DEL", KEYS[1])
return #fams
`)

// RevokeAll revokes every refresh family of principalID and returns how
// many families were revoked.
func (s *RefreshStore) RevokeAll(ctx context.Context, principalID string, revokeFor time.Duration) (int, error) {
	if principalID == "" {
		return 0, nil
	}
	if revokeFor <= 0 {
		revokeFor = time.Hour
	}
	n, err := revokeAllLua.Run(ctx, s.redis,
		[]string{principalPrefix + principalID},
		familyPrefix,
		refreshPrefix,
		familyRevokedPrefix,
		revokeFor.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}
