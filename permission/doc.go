// Package permission holds the closed role set, the scope bitmask and the
// static role to route mapping used by the access controller.
//
// # Model
//
// Each route requires exactly one [Scope]. Each [Role] is granted a fixed
// [Mask64] of scopes: admin holds [ScopeAll], reseller holds tenant,
// sub-account and own-account scopes, user holds own-account only.
// Routes missing from the [RouteTable] are denied.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Downgrade a denied request to a permitted route.
package permission
