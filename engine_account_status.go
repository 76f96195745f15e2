package accountguard

import (
	"context"
	"errors"
)

// SuspendAccount blocks logins for the account behind email until it is
// reactivated. Suspension does not touch the lockout counters.
func (e *Engine) SuspendAccount(ctx context.Context, email string) (Account, error) {
	return e.changeAccountStatus(ctx, email, "suspend_account", func(Account) AccountStatus {
		return StatusSuspended
	})
}

// ReactivateAccount lifts a suspension. Accounts that never verified their
// email go back to pending.
func (e *Engine) ReactivateAccount(ctx context.Context, email string) (Account, error) {
	return e.changeAccountStatus(ctx, email, "reactivate_account", func(a Account) AccountStatus {
		if a.Verified {
			return StatusActive
		}
		return StatusPending
	})
}

func (e *Engine) changeAccountStatus(ctx context.Context, email, action string, next func(Account) AccountStatus) (Account, error) {
	admin, err := e.Authorize(ctx)
	if err != nil {
		return Account{}, err
	}

	account, err := e.credentials.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, unavailable(err)
	}

	status := next(account)
	updated, err := e.credentials.UpdateStatus(ctx, account.ID, status, e.now())
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, err
		}
		return Account{}, unavailable(err)
	}

	e.emitEvent(ctx, EventAdminAction, eventSubject{accountID: admin.AccountID, email: admin.Email}, Metadata{
		"action":          action,
		"target_id":       account.ID,
		"target_email":    account.Email,
		"previous_status": string(account.Status),
		"status":          string(updated.Status),
		"admin_email":     admin.Email,
		"admin_id":        admin.AccountID,
	})
	return updated, nil
}
