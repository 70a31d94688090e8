package permission

import (
	"fmt"
	"sort"
)

// roleScopes is indexed by Role; an entry left out grants nothing.
var roleScopes = [roleCount]Mask64{
	RoleUnknown:  0,
	RoleUser:     MaskOf(ScopeOwnAccount),
	RoleReseller: MaskOf(ScopeOwnAccount, ScopeTenant, ScopeSubAccounts),
	RoleAdmin:    MaskOf(ScopeAll),
}

// Scopes returns the scope mask granted to role.
func Scopes(role Role) Mask64 {
	if role >= roleCount {
		return 0
	}
	return roleScopes[role]
}

// Allows reports whether role may use a route requiring scope.
func Allows(role Role, scope Scope) bool {
	return Scopes(role).Has(scope)
}

// Dashboard returns the landing page for role. It is a presentation hint,
// not an authorization decision.
func Dashboard(role Role) string {
	switch role {
	case RoleAdmin:
		return "/admin/dashboard"
	case RoleReseller:
		return "/reseller/dashboard"
	case RoleUser:
		return "/user/dashboard"
	default:
		return "/login"
	}
}

// RouteTable maps route identifiers to the scope they require. It is
// immutable after construction and safe for concurrent reads.
type RouteTable struct {
	routes map[string]Scope
}

// NewRouteTable copies routes into a new table.
func NewRouteTable(routes map[string]Scope) (*RouteTable, error) {
	t := &RouteTable{routes: make(map[string]Scope, len(routes))}
	for id, scope := range routes {
		if id == "" {
			return nil, fmt.Errorf("route table: empty route id")
		}
		if scope > ScopeAdmin && scope != ScopeAll {
			return nil, fmt.Errorf("route table: route %q has unknown scope %d", id, scope)
		}
		t.routes[id] = scope
	}
	return t, nil
}

// Required returns the scope for route. Unknown routes report false and
// must be denied by the caller.
func (t *RouteTable) Required(route string) (Scope, bool) {
	if t == nil {
		return 0, false
	}
	s, ok := t.routes[route]
	return s, ok
}

// Routes lists the registered route identifiers in sorted order.
func (t *RouteTable) Routes() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.routes))
	for id := range t.routes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DefaultRoutes is the panel's route inventory.
func DefaultRoutes() map[string]Scope {
	return map[string]Scope{
		"admin.dashboard":       ScopeAdmin,
		"admin.users":           ScopeAdmin,
		"admin.packages":        ScopeAdmin,
		"admin.services":        ScopeAdmin,
		"admin.dns":             ScopeAdmin,
		"admin.ip-manager":      ScopeAdmin,
		"admin.security-center": ScopeAdmin,
		"admin.mail-queue":      ScopeAdmin,
		"admin.performance":     ScopeAdmin,

		"reseller.dashboard": ScopeTenant,
		"reseller.packages":  ScopeTenant,
		"reseller.accounts":  ScopeSubAccounts,

		"user.dashboard":     ScopeOwnAccount,
		"user.domains":       ScopeOwnAccount,
		"user.subdomains":    ScopeOwnAccount,
		"user.email":         ScopeOwnAccount,
		"user.databases":     ScopeOwnAccount,
		"user.filemanager":   ScopeOwnAccount,
		"user.ftp":           ScopeOwnAccount,
		"user.ssl":           ScopeOwnAccount,
		"user.cron-jobs":     ScopeOwnAccount,
		"user.app-installer": ScopeOwnAccount,
		"user.containers":    ScopeOwnAccount,

		"account.password": ScopeOwnAccount,
		"account.logout":   ScopeOwnAccount,
		"account.api-keys": ScopeOwnAccount,
	}
}
