package permission

import "fmt"

// Scope is a bit position inside a Mask64.
type Scope uint8

const (
	// ScopeOwnAccount covers routes that act on the caller's own account.
	ScopeOwnAccount Scope = iota
	// ScopeTenant covers routes scoped to the caller's tenant.
	ScopeTenant
	// ScopeSubAccounts covers management of accounts owned by a reseller.
	ScopeSubAccounts
	// ScopeAdmin covers server-wide administration.
	ScopeAdmin

	// ScopeAll is the reserved highest bit; a mask holding it satisfies every scope.
	ScopeAll Scope = 63
)

var scopeNames = map[Scope]string{
	ScopeOwnAccount:  "own_account",
	ScopeTenant:      "tenant",
	ScopeSubAccounts: "sub_accounts",
	ScopeAdmin:       "admin",
	ScopeAll:         "all",
}

func (s Scope) String() string {
	if n, ok := scopeNames[s]; ok {
		return n
	}
	return fmt.Sprintf("scope(%d)", uint8(s))
}

// ParseScope maps a scope name back to its Scope.
func ParseScope(name string) (Scope, error) {
	for s, n := range scopeNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("permission: unknown scope %q", name)
}

// Names lists the named scopes in m in bit order.
func (m Mask64) Names() []string {
	var out []string
	for s := Scope(0); s < 64; s++ {
		if m&(1<<s) == 0 {
			continue
		}
		out = append(out, s.String())
	}
	return out
}

// Mask64 is a set of scopes.
type Mask64 uint64

// MaskOf builds a mask from scopes.
func MaskOf(scopes ...Scope) Mask64 {
	var m Mask64
	for _, s := range scopes {
		m.Set(s)
	}
	return m
}

// Has reports whether s is granted, either directly or through ScopeAll.
func (m Mask64) Has(s Scope) bool {
	if s >= 64 {
		return false
	}
	if m&(1<<ScopeAll) != 0 {
		return true
	}
	return m&(1<<s) != 0
}

func (m *Mask64) Set(s Scope) {
	if s >= 64 {
		return
	}
	*m |= 1 << s
}

func (m *Mask64) Clear(s Scope) {
	if s >= 64 {
		return
	}
	*m &^= 1 << s
}

func (m Mask64) Raw() uint64 {
	return uint64(m)
}
