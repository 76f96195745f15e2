// Package limiters provides Redis-backed throttles for token issuance.
//
//   - [IssuanceLimiter]: per-email + per-IP fixed window for reset and
//     verification requests.
//
// Limiters are nil-safe: a nil receiver never throttles.
//
// # What this package must NOT do
//
//   - Import accountguard.
//   - Decide consequences; the Engine maps limiter errors.
package limiters
