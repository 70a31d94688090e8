package session

import (
	"time"

	"github.com/MrEthical07/panelAuth/permission"
)

// Session is a cookie-bound authenticated state.
//
// Token is the raw opaque value handed to the client. The store keys the
// record by its SHA-256 and never persists the raw token.
type Session struct {
	Token       string
	PrincipalID string
	TenantID    string
	Role        permission.Role
	CSRFToken   string
	SourceIP    string

	IssuedAt   time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
	// Ceiling is IssuedAt + MaxLifetime; ExpiresAt never passes it.
	Ceiling time.Time
}

// Params describes a session to be created.
type Params struct {
	PrincipalID string
	TenantID    string
	Role        permission.Role
	SourceIP    string
}
