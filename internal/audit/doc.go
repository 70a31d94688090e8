// Package audit implements async event dispatching for security-relevant operations.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured audit record with timestamp, type, principal, tenant, route, IP, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does not decide which events
// to emit; the Engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import panelauth or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
