// Package ratelimit enforces request quotas per caller, route and tenant.
//
// Four strategies are available: token bucket with lazy refill, sliding
// window with optional weighting against the previous window, fixed
// window, and leaky bucket. Each keeps its state in a Redis hash or
// counter and updates it with one Lua script, so there is no background
// refill and replicas see the same counts.
//
// Key layout:
//
//	rl:<algorithm>:<scope>:<identity>
//
// where scope is "default", "t:<tenant>", "r:<route>" or
// "t:<tenant>:r:<route>", and identity is "ip:<addr>" or "user:<id>".
//
// # What this package must NOT do
//
//   - Admit a request when Redis fails; errors wrap [ErrUnavailable].
//   - Decide who the caller is. Identity is supplied by the caller.
package ratelimit
