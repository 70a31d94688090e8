// Package middleware adapts panelauth.Engine to net/http and chi.
//
// # Guards
//
//   - [Guard] accepts a bearer token or the session cookie.
//   - [RequireBearer] accepts API tokens only.
//   - [RequireSession] accepts the session cookie only.
//
// Each guard builds a panelauth.Request from the HTTP request, calls
// Engine.Authorize, writes X-RateLimit-* and Retry-After headers, and
// either renders a JSON denial or stores the Decision in the request
// context for the next handler.
//
// [Handler] serves the login, logout, token and refresh endpoints and
// manages the session cookie.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Every
// allow/deny decision comes from the Engine.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly.
//   - Access Redis or the principal store.
//   - Echo engine error causes to clients; bodies carry the error kind only.
package middleware
