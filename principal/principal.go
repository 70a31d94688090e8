// Package principal defines the account record consumed by the engine and the
// store contract it is read through.
package principal

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/panelAuth/permission"
)

// ErrNotFound is returned when no principal matches the lookup.
var ErrNotFound = errors.New("principal not found")

// Status is the lifecycle state of a principal.
type Status string

const (
	StatusActive   Status = "active"
	StatusLocked   Status = "locked"
	StatusDisabled Status = "disabled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusLocked, StatusDisabled:
		return true
	}
	return false
}

// Principal is an account that can authenticate against the panel.
type Principal struct {
	ID             string
	TenantID       string
	Username       string
	Role           permission.Role
	CredentialHash string
	Status         Status
	// LockedUntil is zero for an indefinite (administrative) lock.
	LockedUntil time.Time
}

// LockedAt reports whether p is locked at now. A timed lock whose
// LockedUntil has passed no longer blocks authentication.
func (p *Principal) LockedAt(now time.Time) bool {
	if p == nil || p.Status != StatusLocked {
		return false
	}
	return p.LockedUntil.IsZero() || now.Before(p.LockedUntil)
}

// Store is the persistence boundary for principals. Implementations must
// be safe for concurrent use and honor ctx deadlines.
type Store interface {
	FindByUsername(ctx context.Context, username string) (*Principal, error)
	FindByID(ctx context.Context, id string) (*Principal, error)
	UpdateCredentialHash(ctx context.Context, id, hash string) error
	SetStatus(ctx context.Context, id string, status Status, lockedUntil time.Time) error
}
