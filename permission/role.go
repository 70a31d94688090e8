package permission

import (
	"errors"
	"strings"
)

// ErrUnknownRole is returned by ParseRole for values outside the closed set.
var ErrUnknownRole = errors.New("unknown role")

// Role is the closed set of panel roles.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleUser
	RoleReseller
	RoleAdmin
	roleCount
)

var roleNames = [roleCount]string{
	RoleUnknown:  "",
	RoleUser:     "user",
	RoleReseller: "reseller",
	RoleAdmin:    "admin",
}

// ParseRole maps a stored role name to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "reseller":
		return RoleReseller, nil
	case "user":
		return RoleUser, nil
	default:
		return RoleUnknown, ErrUnknownRole
	}
}

func (r Role) String() string {
	if r >= roleCount {
		return ""
	}
	return roleNames[r]
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r > RoleUnknown && r < roleCount
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, ErrUnknownRole
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
