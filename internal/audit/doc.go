// Package audit implements async event dispatching for recovery operations.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, fan-out, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: audit record with timestamp, type, flow, request, step, IP, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; the workflow engine and the proxy routes do.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goRecovery or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
