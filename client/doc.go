// Package client is the HTTP transport of the recovery workflow. It posts
// JSON to the dashboard's /api/auth routes and maps non-2xx responses to
// *goRecovery.APIError, using the body's "message" when present and the
// step's default text otherwise.
//
// Base URL and locale come from an injected [Environment] on every call, so
// the transport can be driven from tests and terminals without a browser.
package client
