package accountguard

import "time"

// LockState is the security slice of an Account.
type LockState struct {
	FailedAttempts int
	LastFailedAt   *time.Time
	LockedUntil    *time.Time
}

// Locked reports whether the lock expiry is strictly after now.
func (s LockState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// LockoutPolicy decides whether an attempt may proceed and how a failure
// changes the counters. Stores mirror ApplyFailure inside their atomic update.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed     bool
	LockedUntil time.Time
}

// Evaluate returns Locked while the expiry is in the future and Allowed
// otherwise. An expired lock needs no explicit unlock.
func (p LockoutPolicy) Evaluate(s LockState, now time.Time) Decision {
	if s.Locked(now) {
		return Decision{LockedUntil: *s.LockedUntil}
	}
	return Decision{Allowed: true}
}

// ApplyFailure returns the state after one more failed attempt and whether
// this attempt crossed the threshold.
//
// The counter is capped at the threshold. Failures while locked only refresh
// LastFailedAt and never extend the lock. The first failure after a lock has
// expired starts a fresh window.
func (p LockoutPolicy) ApplyFailure(s LockState, now time.Time) (LockState, bool) {
	at := now
	if s.Locked(now) {
		s.LastFailedAt = &at
		return s, false
	}
	if s.LockedUntil != nil {
		s.FailedAttempts = 0
		s.LockedUntil = nil
	}

	s.FailedAttempts++
	s.LastFailedAt = &at
	if p.Threshold <= 0 || s.FailedAttempts < p.Threshold {
		return s, false
	}

	s.FailedAttempts = p.Threshold
	until := now.Add(p.Duration)
	s.LockedUntil = &until
	return s, true
}
