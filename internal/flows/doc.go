// Package flows holds the pure decisions shared by the Engine and the store
// adapters: token classification, the admin allow-list and the enumeration
// timing jitter.
//
// # What this package must NOT do
//
//   - Import accountguard (store adapters import both).
//   - Perform I/O beyond the timer in SleepJitter.
package flows
