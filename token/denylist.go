package token

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/panelAuth/internal"
	"github.com/redis/go-redis/v9"
)

const denyPrefix = "ad:"

// Denylist records revoked access tokens until their natural expiry.
// Entries are keyed by sha256(jti).
type Denylist struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewDenylist returns a Denylist. now may be nil.
func NewDenylist(rdb redis.UniversalClient, now func() time.Time) *Denylist {
	if now == nil {
		now = time.Now
	}
	return &Denylist{redis: rdb, now: now}
}

// Deny marks jti revoked until expiresAt. Already expired tokens are
// skipped.
func (d *Denylist) Deny(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(d.now())
	if jti == "" || ttl <= 0 {
		return nil
	}
	if err := d.redis.Set(ctx, denyPrefix+internal.HashValue(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IsDenied reports whether jti has been revoked.
func (d *Denylist) IsDenied(ctx context.Context, jti string) (bool, error) {
	n, err := d.redis.Exists(ctx, denyPrefix+internal.HashValue(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}
