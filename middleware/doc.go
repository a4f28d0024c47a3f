// Package middleware holds the gin middleware in front of the recovery proxy
// routes.
//
//   - [RequestContext]: client IP and request ID on the request context.
//   - [AccessLog]: one zap line per request.
//   - [SecurityHeaders]: nosniff, frame denial, no-store.
//
// # What this package must NOT do
//
//   - Read or log request bodies.
//   - Make recovery decisions. Routes live in package proxy.
package middleware
