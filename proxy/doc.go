// Package proxy serves the dashboard's /api/auth recovery routes and relays
// them to the backend.
//
// Each route follows the same pipeline, stopping at the first failure:
//
//  1. Decode the JSON body (400 on malformed input, 413 when oversized).
//  2. Fill missing fields from the flow session named by the signed
//     recovery_flow cookie, when one is present and valid.
//  3. Re-validate with the schemas the workflow uses (422).
//  4. Refuse with 500 when no backend URL is configured.
//  5. Apply the OTP throttle (429, or 503 when the limiter is down).
//  6. Forward to the backend with the lang-id header and relay its status and
//     body. Unparseable bodies are replaced by {}. Transport failures map to 502.
//
// A successful OTP request opens a flow session. A successful verify rotates
// its token. A successful reset clears it and expires the cookie.
//
// Flows are independent. A second OTP request, for example from another
// tab, opens a new session and leaves older ones untouched; whether the
// backend still honors an older token is up to the backend.
//
// # What this package must NOT do
//
//   - Log or audit OTPs, passwords or continuation tokens.
//   - Rewrite upstream status codes or messages.
package proxy
