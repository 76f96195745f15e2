package accountguard

import (
	"context"
	"errors"
	"time"
)

// Evaluate decides whether an authentication attempt against account may
// proceed right now. It has no side effects.
func (e *Engine) Evaluate(account Account) Decision {
	return e.policy.Evaluate(account.LockState(), e.now())
}

// RecordFailure counts one failed attempt with a single atomic store update.
// It records login_failed, plus account_locked when this attempt crossed the
// threshold.
func (e *Engine) RecordFailure(ctx context.Context, account Account) (Account, error) {
	outcome, err := e.recordFailure(ctx, account, auditErrInvalidCredentials)
	return outcome.Account, err
}

func (e *Engine) recordFailure(ctx context.Context, account Account, reason AuditErrorCode) (FailureOutcome, error) {
	if account.ID == "" {
		return FailureOutcome{}, ErrAccountNotFound
	}

	now := e.now()
	outcome, err := e.credentials.RecordLoginFailure(ctx, account.ID, now, e.policy)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return FailureOutcome{}, err
		}
		return FailureOutcome{}, unavailable(err)
	}

	e.metricInc(MetricLoginFailure)
	updated := outcome.Account
	e.emitEvent(ctx, EventLoginFailed, subjectOf(updated), Metadata{
		"reason":          string(reason),
		"failed_attempts": updated.FailedLoginAttempts,
	})

	if outcome.JustLocked && updated.LockedUntil != nil {
		e.metricInc(MetricAccountLocked)
		e.emitEvent(ctx, EventAccountLocked, subjectOf(updated), Metadata{
			"failed_attempts": updated.FailedLoginAttempts,
			"threshold":       e.policy.Threshold,
			"locked_until":    updated.LockedUntil.UTC().Format(time.RFC3339),
		})
	}

	return outcome, nil
}

// RecordSuccess clears the failure counter and lock, then records
// login_success. Calling it twice leaves the same state as once.
func (e *Engine) RecordSuccess(ctx context.Context, account Account) (Account, error) {
	updated, err := e.resetLockout(ctx, account)
	if err != nil {
		return Account{}, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitEvent(ctx, EventLoginSuccess, subjectOf(updated), nil)
	return updated, nil
}

// ForceUnlock performs the same reset as RecordSuccess on behalf of actor.
// It is always permitted; unlocking an unlocked account changes nothing but
// is still recorded.
func (e *Engine) ForceUnlock(ctx context.Context, account Account, actor string) (Account, error) {
	wasLocked := account.LockState().Locked(e.now())

	updated, err := e.resetLockout(ctx, account)
	if err != nil {
		return Account{}, err
	}

	e.metricInc(MetricAccountUnlocked)
	e.emitEvent(ctx, EventAccountUnlocked, subjectOf(updated), Metadata{
		"actor":      actor,
		"was_locked": wasLocked,
	})
	return updated, nil
}

func (e *Engine) resetLockout(ctx context.Context, account Account) (Account, error) {
	if account.ID == "" {
		return Account{}, ErrAccountNotFound
	}
	updated, err := e.credentials.ResetLoginFailures(ctx, account.ID, e.now())
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, err
		}
		return Account{}, unavailable(err)
	}
	return updated, nil
}
