// Package credential checks a username and password against the principal
// store. It records nothing; throttling is the caller's concern.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/panelAuth/password"
	"github.com/MrEthical07/panelAuth/principal"
)

var (
	// ErrInvalidCredentials covers wrong passwords, unknown usernames and
	// disabled accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned for a correct password on a locked account.
	ErrAccountLocked = errors.New("account locked")
	// ErrUnavailable wraps principal store failures.
	ErrUnavailable = errors.New("credential store unavailable")
)

type Verifier struct {
	store  principal.Store
	hasher *password.Hasher
	now    func() time.Time
}

func NewVerifier(store principal.Store, hasher *password.Hasher, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{store: store, hasher: hasher, now: now}
}

// Verify returns the principal for username when plaintext matches its
// stored hash. Every path that ends in ErrInvalidCredentials runs exactly
// one KDF evaluation so unknown and known usernames take similar time.
func (v *Verifier) Verify(ctx context.Context, username, plaintext string) (*principal.Principal, error) {
	p, err := v.store.FindByUsername(ctx, username)
	if err != nil {
		v.hasher.VerifyDummy(plaintext)
		if errors.Is(err, principal.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ok, err := v.hasher.Verify(plaintext, p.CredentialHash)
	if err != nil {
		// Unparseable stored hashes never authenticate; spend the KDF time anyway.
		if errors.Is(err, password.ErrMalformedHash) {
			v.hasher.VerifyDummy(plaintext)
		}
		return nil, ErrInvalidCredentials
	}
	if !ok || p.Status == principal.StatusDisabled {
		return nil, ErrInvalidCredentials
	}
	if p.LockedAt(v.now()) {
		return nil, ErrAccountLocked
	}
	return p, nil
}

// NeedsRehash reports whether p's stored hash should be upgraded.
func (v *Verifier) NeedsRehash(p *principal.Principal) bool {
	return p != nil && v.hasher.NeedsRehash(p.CredentialHash)
}
