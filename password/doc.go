// Package password implements credential hashing with Argon2id and
// verification of legacy bcrypt hashes.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports stored hashes that were produced with weaker
// parameters or with bcrypt, so the caller can re-hash after the next
// successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (minimum
// length) is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other panelAuth package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
