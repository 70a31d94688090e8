// Package panelauth is the authentication and access-control engine of a
// multi-role hosting control panel (administrators, resellers, end users).
//
// An [Engine] is assembled with [Builder] from a Redis client and a
// principal store. It verifies credentials, throttles failed logins,
// manages cookie sessions with CSRF tokens, issues and rotates JWT
// access/refresh tokens, rate-limits requests, scores abusive sources and
// decides route access by role scope and tenant boundary. All Engine
// methods are safe for concurrent use.
//
// # Failure model
//
// Every denial is an [*AuthError] whose Kind names the reason. Backing
// store failures deny with [KindStoreUnavailable]; nothing fails open.
// Unknown usernames and wrong passwords are reported identically.
//
// # Architecture boundaries
//
// The component packages (credential, throttle, session, token,
// ratelimit, threat, permission) own their Redis layouts and know
// nothing of each other. The Engine orchestrates them, emits audit
// events and counts metrics. HTTP concerns live in middleware.
//
// # What this package must NOT do
//
//   - Write HTTP responses or set cookies; [Decision] is rendered by the
//     boundary layer.
//   - Log or audit raw passwords, session tokens, CSRF tokens or JWTs.
//   - Mutate principal records beyond credential hash and status.
package panelauth
