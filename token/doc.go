// Package token issues and verifies the signed access and refresh tokens
// used by API clients.
//
// Tokens are JWTs carrying a kid header. A [Keyring] holds the issuing key
// and the previously issuing key, so tokens signed before a rotation stay
// verifiable until they expire. Access tokens are verified from the
// signature alone; [Denylist] optionally records revoked ones.
//
// Refresh tokens rotate on every use. [RefreshStore] keeps one record per
// jti grouped into families; presenting a consumed token revokes its
// family.
//
// # What this package must NOT do
//
//   - Look up principals or sessions.
//   - Accept tokens signed by a kid that is no longer in the keyring.
package token
