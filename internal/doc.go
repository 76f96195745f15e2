// Package internal contains helpers private to accountguard, currently the
// token codec (random id + secret, only the secret hash is persisted).
//
// # Sub-packages
//
//   - cli: the securyflexctl command tree
//   - flows: pure decisions shared by the Engine and store adapters
//   - limiters: Redis fixed-window throttles for token issuance
//   - perfgate: benchmark regression check behind cmd/perf-regression
//   - security: the configuration posture report
//   - stores: versioned binary codec for token records kept in Redis
//
// # What this package must NOT do
//
//   - Export types that appear in the public accountguard API.
package internal
