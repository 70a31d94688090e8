package token

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/panelAuth/internal"
	"github.com/MrEthical07/panelAuth/permission"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrExpired is returned for tokens past their exp claim.
	ErrExpired = errors.New("token expired")
	// ErrMalformed is returned for tokens that do not parse, carry the
	// wrong type, or miss required claims.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid is returned when the signature does not verify,
	// the algorithm is not accepted or the kid is unknown.
	ErrSignatureInvalid = errors.New("token signature invalid")
)

var errUnknownKey = errors.New("unknown kid")

// Type distinguishes access from refresh tokens inside the claims.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Subject identifies whom a token is issued to.
type Subject struct {
	PrincipalID string
	TenantID    string
	Role        permission.Role
}

// Claims is the JWT payload for both token types. Family is set on
// refresh tokens only.
type Claims struct {
	TenantID string          `json:"tid"`
	Role     permission.Role `json:"role"`
	Type     Type            `json:"typ"`
	Family   string          `json:"fam,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalID returns the sub claim.
func (c *Claims) PrincipalID() string {
	return c.Subject
}

// Config holds token lifetimes and registered-claim checks.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

// Validate checks lifetimes and leeway bounds.
func (c Config) Validate() error {
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token: TTLs must be > 0")
	}
	if c.RefreshTTL < c.AccessTTL {
		return errors.New("token: RefreshTTL must be >= AccessTTL")
	}
	if c.Leeway < 0 || c.Leeway > 2*time.Minute {
		return errors.New("token: Leeway must be within [0, 2m]")
	}
	return nil
}

// Manager signs and verifies tokens against a Keyring.
//
// Verification needs no store lookup. Refresh bookkeeping lives in
// RefreshStore.
type Manager struct {
	keys   *Keyring
	config atomic.Pointer[Config]
	now    func() time.Time
}

// NewManager returns a Manager. now may be nil.
func NewManager(keys *Keyring, cfg Config, now func() time.Time) (*Manager, error) {
	if keys == nil {
		return nil, errors.New("token: nil keyring")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	m := &Manager{keys: keys, now: now}
	m.config.Store(&cfg)
	return m, nil
}

// SetConfig swaps lifetimes and claim checks for subsequent calls.
func (m *Manager) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config.Store(&cfg)
	return nil
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	return *m.config.Load()
}

// Keyring returns the keyring used for signing.
func (m *Manager) Keyring() *Keyring {
	return m.keys
}

// IssueAccess signs a short-lived access token for sub.
func (m *Manager) IssueAccess(sub Subject) (string, *Claims, error) {
	return m.issue(sub, TypeAccess, "")
}

// IssueRefresh signs a refresh token in family. An empty family starts a
// new one.
func (m *Manager) IssueRefresh(sub Subject, family string) (string, *Claims, error) {
	if family == "" {
		family = uuid.NewString()
	}
	return m.issue(sub, TypeRefresh, family)
}

func (m *Manager) issue(sub Subject, typ Type, family string) (string, *Claims, error) {
	if sub.PrincipalID == "" {
		return "", nil, errors.New("token: empty principal id")
	}
	if !sub.Role.Valid() {
		return "", nil, permission.ErrUnknownRole
	}
	cfg := m.config.Load()
	ttl := cfg.AccessTTL
	if typ == TypeRefresh {
		ttl = cfg.RefreshTTL
	}

	now := m.now()
	claims := &Claims{
		TenantID: internal.NormalizeTenantID(sub.TenantID),
		Role:     sub.Role,
		Type:     typ,
		Family:   family,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.PrincipalID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	key := m.keys.signer()
	tok := jwt.NewWithClaims(key.method, claims)
	tok.Header["kid"] = key.id
	signed, err := tok.SignedString(key.sign)
	if err != nil {
		return "", nil, fmt.Errorf("token: sign: %w", err)
	}
	return signed, claims, nil
}

// ParseAccess verifies an access token.
func (m *Manager) ParseAccess(raw string) (*Claims, error) {
	return m.parse(raw, TypeAccess)
}

// ParseRefresh verifies a refresh token's signature and claims. Whether
// it is still usable is decided by RefreshStore.
func (m *Manager) ParseRefresh(raw string) (*Claims, error) {
	return m.parse(raw, TypeRefresh)
}

func (m *Manager) parse(raw string, want Type) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}
	cfg := m.config.Load()
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := m.keys.lookup(kid)
		if !ok {
			return nil, errUnknownKey
		}
		if t.Method.Alg() != key.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key.verify, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}
	if claims.Type != want || claims.Subject == "" || claims.ID == "" || !claims.Role.Valid() {
		return nil, ErrMalformed
	}
	if want == TypeRefresh && claims.Family == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}
