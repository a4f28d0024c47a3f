// Package stores provides the Redis-backed session store that carries a
// recovery flow's continuation state between proxy requests.
//
// # Design
//
// Each flow session is a versioned, binary-encoded record stored in Redis
// with a TTL. Token rotation uses a WATCH/MULTI optimistic transaction with
// bounded retry on contention and keeps the remaining TTL. Token comparisons
// use constant-time compare.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for flow sessions.
// It does NOT issue cookies, enforce rate limits, or talk to the upstream
// backend; those belong to package proxy.
//
// # What this package must NOT do
//
//   - Import goRecovery or any sibling internal package.
//   - Log or expose continuation tokens.
//   - Store passwords or OTP codes.
package stores
