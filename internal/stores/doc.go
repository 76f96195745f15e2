// Package stores holds the compact binary encodings used by the Redis
// backend for token records.
//
// # Design
//
// Records are versioned so the layout can change without a flush. Only the
// hash of a token's secret is ever encoded.
//
// # What this package must NOT do
//
//   - Import accountguard or any sibling internal package.
//   - Talk to Redis; the store adapter owns I/O and transactions.
package stores
