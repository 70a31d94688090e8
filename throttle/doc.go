// Package throttle implements the failed-login ledger.
//
// Records are kept per login identifier and per source address; either
// dimension reaching the attempt threshold blocks the login path for that
// dimension until its lock lapses. All bookkeeping is done in Redis Lua
// scripts so that replicas share one linearizable view per key.
//
// # What this package must NOT do
//
//   - Verify credentials or touch the principal store.
//   - Fail open: every backend error surfaces as [ErrUnavailable].
package throttle
