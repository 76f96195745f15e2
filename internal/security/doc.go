// Package security builds the operator-facing security posture report from
// effective configuration. It has no I/O and no dependency on the root
// package.
package security
