// Package accountguard is the account security core of the SecuryFlex
// marketplace: failed-login lockout, single-use password reset and email
// verification tokens, and the admin allow-list gate.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. Persistence is delegated to a [CredentialStore], a
// [TokenStore] and a [SecurityEventLog]; see store/memstore,
// store/redisstore and store/pgstore.
//
// # Architecture boundaries
//
// accountguard is the public surface. Token encoding, the allow-list and
// the issuance throttle live under internal/. Failure counting and token
// consumption are atomic inside the stores, which call
// [LockoutPolicy.ApplyFailure] and [TokenRecord.Check] within their own
// transactions.
//
// # What this package must NOT do
//
//   - Tell an end user whether an email has an account.
//   - Tell an end user why a token was rejected or when a lock expires.
//   - Skip the security event on an admin denial.
//   - Import any sub-package that re-imports accountguard.
package accountguard
