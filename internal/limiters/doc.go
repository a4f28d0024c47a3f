// Package limiters provides the Redis fixed-window throttles guarding the
// recovery proxy.
//
// # Limiters
//
//   - [OTPLimiter] counts per contact and per IP for OTP requests and OTP verification.
//
// The limiter is nil-safe: calling any method on a nil receiver returns nil.
//
// # Architecture boundaries
//
// The limiter owns its Redis key namespace and error types. Thresholds come
// from the Config struct supplied at construction time.
//
// # What this package must NOT do
//
//   - Import goRecovery or any sibling internal package.
//   - Make policy decisions beyond counting. The proxy decides the response.
package limiters
