package password

import "fmt"

// Hasher is the credential hashing front used by the engine. It produces
// Argon2id hashes and verifies both Argon2id and legacy bcrypt hashes.
//
// Hasher keeps a dummy hash so callers can spend the same KDF time on
// unknown or disabled accounts as on real ones.
type Hasher struct {
	argon *Argon2
	dummy string
}

// NewHasher builds a Hasher and precomputes its dummy hash.
func NewHasher(cfg Config) (*Hasher, error) {
	argon, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	dummy, err := argon.Hash("panelauth-dummy-credential")
	if err != nil {
		return nil, fmt.Errorf("precompute dummy hash: %w", err)
	}
	return &Hasher{argon: argon, dummy: dummy}, nil
}

// Hash returns a new Argon2id PHC string.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify checks password against encodedHash, dispatching on the hash prefix.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	switch {
	case isArgon2Hash(encodedHash):
		return h.argon.Verify(password, encodedHash)
	case isBcryptHash(encodedHash):
		if len(password) > h.argon.config.MaxPasswordBytes {
			return false, ErrPasswordTooLong
		}
		return verifyBcrypt(password, encodedHash)
	default:
		return false, ErrMalformedHash
	}
}

// VerifyDummy burns one verification against the dummy hash and always
// reports a mismatch.
func (h *Hasher) VerifyDummy(password string) {
	_, _ = h.argon.Verify(password, h.dummy)
}

// NeedsRehash reports whether a verified hash should be replaced. Legacy
// bcrypt hashes always qualify.
func (h *Hasher) NeedsRehash(encodedHash string) bool {
	if isBcryptHash(encodedHash) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encodedHash)
	return err == nil && upgrade
}
