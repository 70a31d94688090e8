package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm names a supported signing algorithm.
type Algorithm string

const (
	AlgHS256 Algorithm = "HS256"
	AlgEdDSA Algorithm = "EdDSA"
)

// SigningKey is key material for one kid. For HS256 Material is the shared
// secret; for EdDSA it is an Ed25519 private key, raw or PEM.
type SigningKey struct {
	ID        string
	Algorithm Algorithm
	Material  []byte
}

type keyEntry struct {
	id     string
	method jwt.SigningMethod
	sign   interface{}
	verify interface{}
}

type keySet struct {
	current  *keyEntry
	previous *keyEntry
}

// Keyring holds the issuing key and the previous key, which is still
// accepted for verification. Readers load an immutable snapshot; Rotate
// builds a new one and publishes it atomically.
type Keyring struct {
	set atomic.Pointer[keySet]
	mu  sync.Mutex
}

// NewKeyring returns a keyring issuing with current. previous, if non-nil,
// stays valid for verification only.
func NewKeyring(current SigningKey, previous *SigningKey) (*Keyring, error) {
	cur, err := newKeyEntry(current)
	if err != nil {
		return nil, err
	}
	set := &keySet{current: cur}
	if previous != nil {
		prev, err := newKeyEntry(*previous)
		if err != nil {
			return nil, err
		}
		if prev.id == cur.id {
			return nil, errors.New("token: previous key reuses current kid")
		}
		set.previous = prev
	}
	k := &Keyring{}
	k.set.Store(set)
	return k, nil
}

// Rotate makes next the issuing key and demotes the current key to
// verification-only. The key demoted before that is dropped.
func (k *Keyring) Rotate(next SigningKey) error {
	entry, err := newKeyEntry(next)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	old := k.set.Load()
	if entry.id == old.current.id || (old.previous != nil && entry.id == old.previous.id) {
		return fmt.Errorf("token: kid %q already in use", entry.id)
	}
	k.set.Store(&keySet{current: entry, previous: old.current})
	return nil
}

// CurrentKeyID returns the kid used for issuance.
func (k *Keyring) CurrentKeyID() string {
	return k.set.Load().current.id
}

// KeyIDs lists the kids accepted for verification, current first.
func (k *Keyring) KeyIDs() []string {
	set := k.set.Load()
	ids := []string{set.current.id}
	if set.previous != nil {
		ids = append(ids, set.previous.id)
	}
	return ids
}

func (k *Keyring) signer() *keyEntry {
	return k.set.Load().current
}

func (k *Keyring) lookup(kid string) (*keyEntry, bool) {
	set := k.set.Load()
	if set.current.id == kid {
		return set.current, true
	}
	if set.previous != nil && set.previous.id == kid {
		return set.previous, true
	}
	return nil, false
}

func newKeyEntry(k SigningKey) (*keyEntry, error) {
	id := strings.TrimSpace(k.ID)
	if id == "" {
		return nil, errors.New("token: signing key requires a kid")
	}
	switch k.Algorithm {
	case AlgHS256:
		if len(k.Material) < 32 {
			return nil, errors.New("token: hs256 secret must be at least 32 bytes")
		}
		secret := append([]byte(nil), k.Material...)
		return &keyEntry{id: id, method: jwt.SigningMethodHS256, sign: secret, verify: secret}, nil
	case AlgEdDSA:
		priv, err := parseEdPrivateKey(k.Material)
		if err != nil {
			return nil, err
		}
		return &keyEntry{
			id:     id,
			method: jwt.SigningMethodEdDSA,
			sign:   priv,
			verify: priv.Public().(ed25519.PublicKey),
		}, nil
	default:
		return nil, fmt.Errorf("token: unsupported algorithm %q", k.Algorithm)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	if len(key) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 private key type")
	}
	return edKey, nil
}
