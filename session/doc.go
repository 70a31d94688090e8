// Package session provides the Redis-backed session store.
//
// # Lifecycle
//
// Created → Active → (Renewed)* → Expired | Revoked. Each successful
// [Store.Validate] moves the expiry to min(now + idle timeout, ceiling),
// where the ceiling is fixed at issuance. An expired record is deleted by
// the call that observes it.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does not verify
// credentials, compare CSRF tokens or evaluate permissions; those belong to
// the Engine.
//
// # What this package must NOT do
//
//   - Persist raw session tokens (only their SHA-256 is used as key).
//   - Import the root panelauth package.
package session
