// Package apikey provides the Redis-backed store for named API keys.
//
// A key is presented as "pak_<id>.<secret>". The id selects the record;
// only SHA-256 of the secret is stored. Each record carries the owning
// principal, a scope mask narrowing the owner's role, a per-minute
// request budget, an optional expiry and a revoked flag.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Key] model. Rate accounting for
// a key's budget is done by the ratelimit package; scope checks and
// principal status are the Engine's.
//
// # What this package must NOT do
//
//   - Persist raw secrets.
//   - Delete revoked records before they expire; listings show them.
//   - Import the root panelauth package.
package apikey
