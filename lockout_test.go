package accountguard

import (
	"testing"
	"time"
)

var lockoutBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func applyN(p LockoutPolicy, s LockState, n int, now time.Time) (LockState, bool) {
	var locked bool
	for i := 0; i < n; i++ {
		s, locked = p.ApplyFailure(s, now)
	}
	return s, locked
}

func TestApplyFailureBelowThresholdNeverLocks(t *testing.T) {
	p := LockoutPolicy{Threshold: 5, Duration: 30 * time.Minute}

	for n := 1; n < p.Threshold; n++ {
		s, justLocked := applyN(p, LockState{}, n, lockoutBase)
		if justLocked || s.LockedUntil != nil {
			t.Fatalf("n=%d: expected no lock, got %+v", n, s)
		}
		if s.FailedAttempts != n {
			t.Fatalf("n=%d: expected counter %d, got %d", n, n, s.FailedAttempts)
		}
		if s.LastFailedAt == nil || !s.LastFailedAt.Equal(lockoutBase) {
			t.Fatalf("n=%d: expected last failure at %v", n, lockoutBase)
		}
	}
}

func TestApplyFailureAtThresholdLocksForDuration(t *testing.T) {
	p := LockoutPolicy{Threshold: 5, Duration: 30 * time.Minute}

	s, _ := applyN(p, LockState{}, 4, lockoutBase)
	s, justLocked := p.ApplyFailure(s, lockoutBase)
	if !justLocked {
		t.Fatal("expected the fifth failure to lock")
	}
	if s.FailedAttempts != 5 {
		t.Fatalf("expected counter 5, got %d", s.FailedAttempts)
	}
	if s.LockedUntil == nil || !s.LockedUntil.Equal(lockoutBase.Add(30*time.Minute)) {
		t.Fatalf("expected lock until now+30m, got %v", s.LockedUntil)
	}
}

func TestApplyFailureWhileLockedCapsCounterAndKeepsExpiry(t *testing.T) {
	p := LockoutPolicy{Threshold: 3, Duration: 10 * time.Minute}

	s, _ := applyN(p, LockState{}, 3, lockoutBase)
	until := *s.LockedUntil

	later := lockoutBase.Add(5 * time.Minute)
	s, justLocked := applyN(p, s, 4, later)
	if justLocked {
		t.Fatal("failures inside the lock window must not re-lock")
	}
	if s.FailedAttempts != 3 {
		t.Fatalf("expected counter capped at 3, got %d", s.FailedAttempts)
	}
	if !s.LockedUntil.Equal(until) {
		t.Fatalf("lock extended from %v to %v", until, s.LockedUntil)
	}
	if !s.LastFailedAt.Equal(later) {
		t.Fatalf("expected last failure refreshed to %v, got %v", later, s.LastFailedAt)
	}
}

func TestApplyFailureAfterExpiryStartsFreshWindow(t *testing.T) {
	p := LockoutPolicy{Threshold: 3, Duration: 10 * time.Minute}

	s, _ := applyN(p, LockState{}, 3, lockoutBase)
	after := lockoutBase.Add(11 * time.Minute)

	s, justLocked := p.ApplyFailure(s, after)
	if justLocked || s.LockedUntil != nil {
		t.Fatalf("expected a fresh window, got %+v", s)
	}
	if s.FailedAttempts != 1 {
		t.Fatalf("expected counter 1, got %d", s.FailedAttempts)
	}
}

func TestEvaluateLockedStrictlyUntilExpiry(t *testing.T) {
	p := LockoutPolicy{Threshold: 5, Duration: 30 * time.Minute}
	until := lockoutBase.Add(30 * time.Minute)
	s := LockState{FailedAttempts: 5, LockedUntil: &until}

	tests := []struct {
		name    string
		at      time.Time
		allowed bool
	}{
		{"just locked", lockoutBase, false},
		{"one second before expiry", until.Add(-time.Second), false},
		{"at expiry", until, true},
		{"31 minutes later", lockoutBase.Add(31 * time.Minute), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := p.Evaluate(s, tc.at)
			if d.Allowed != tc.allowed {
				t.Fatalf("expected allowed=%v, got %+v", tc.allowed, d)
			}
			if !d.Allowed && !d.LockedUntil.Equal(until) {
				t.Fatalf("expected locked until %v, got %v", until, d.LockedUntil)
			}
		})
	}
}

func TestEvaluateIgnoresCounterWithoutExpiry(t *testing.T) {
	p := LockoutPolicy{Threshold: 5, Duration: time.Minute}
	if d := p.Evaluate(LockState{FailedAttempts: 99}, lockoutBase); !d.Allowed {
		t.Fatalf("expected allowed without a lock expiry, got %+v", d)
	}
}
