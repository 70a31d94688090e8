package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// OpaqueTokenSize is the number of random bytes behind session and CSRF
// tokens (256 bits).
const OpaqueTokenSize = 32

// DefaultTenantID is used when a principal or request carries no tenant.
const DefaultTenantID = "0"

var errInvalidOpaqueToken = errors.New("invalid opaque token")

// NewOpaqueToken returns a base64url (no padding) encoded random token.
func NewOpaqueToken() (string, error) {
	var raw [OpaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ParseOpaqueToken checks that token decodes to exactly OpaqueTokenSize bytes.
func ParseOpaqueToken(token string) error {
	if token == "" || len(token) > base64.RawURLEncoding.EncodedLen(OpaqueTokenSize) {
		return errInvalidOpaqueToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return errInvalidOpaqueToken
	}
	if len(raw) != OpaqueTokenSize {
		return errInvalidOpaqueToken
	}
	return nil
}

// HashValue returns the lowercase hex SHA-256 of v. Raw tokens never reach
// the store; only their hashes are used as keys.
func HashValue(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// NormalizeTenantID trims tenantID and maps the empty value to DefaultTenantID.
func NormalizeTenantID(tenantID string) string {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return DefaultTenantID
	}
	return tenantID
}

// NormalizeUsername folds a login identifier into its ledger key form.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
