// Package middleware adapts the accountguard Engine to net/http.
//
// # Middleware
//
//   - [Guard]: records client IP, user agent and path in the context and
//     resolves a bearer access token into a principal.
//   - [RequireAuth]: 401 without a principal.
//   - [RequireAdmin]: delegates to Engine.Authorize; 401 or 403.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Decide admin membership itself; the allow-list lives in the Engine.
package middleware
