// Package internal holds helpers private to panelAuth: opaque token
// generation, token hashing and tenant normalization.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - testutil: miniredis and a settable clock for package tests
//
// # What this package must NOT do
//
//   - Export types that appear in the public panelAuth API.
//   - Be imported by any package outside the panelAuth module.
package internal
