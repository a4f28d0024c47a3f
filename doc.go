// Package goRecovery implements the forgot-password / OTP identity-recovery
// workflow of the charging-network admin dashboard: choose a recovery channel
// (phone or email), request an OTP, verify it, and submit a new password.
//
// The package is split the same way on both sides of the wire:
//
//   - Pure request builders ([BuildForgotPasswordRequest],
//     [BuildVerifyOTPRequest], [BuildResetPasswordRequest]) that validate a
//     [State] slice and shape the tagged payload for one step.
//   - A [Workflow] state machine, created by [Engine.Start], that threads the
//     continuation token through the three network calls strictly in order.
//   - Schemas ([ValidateSchema]) shared with the server-side proxy routes in
//     package proxy, so both sides reject the same inputs.
//
// # Architecture boundaries
//
// goRecovery is the public surface. It exposes [Engine], [Builder], [Config],
// [Workflow] and the payload value types. Step orchestration, persistence of
// server-side flow sessions and rate limiting live under internal/ and are
// never exported. The HTTP transport lives in package client; the proxy
// routes live in package proxy.
//
// # What this package must NOT do
//
//   - Perform network I/O outside of [Transport] calls made by a [Workflow].
//   - Retry validation failures or session-expired failures.
//   - Import package client or package proxy (no import cycles).
//
// # Concurrency
//
// Engine methods are safe for concurrent use. A Workflow serializes its own
// steps: a second submission while one is in flight fails with
// [ErrSubmitInFlight]. Workflows never share mutable state with each other.
package goRecovery
