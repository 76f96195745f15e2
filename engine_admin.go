package accountguard

import (
	"context"
	"errors"
	"time"

	"github.com/securyflex/accountguard/jwt"
)

// DefaultEventLimit caps SecurityEvents when the caller passes no limit.
const DefaultEventLimit = 100

// MaxEventLimit is the largest page SecurityEvents will return.
const MaxEventLimit = 1000

// IsPrivileged reports whether email is on the admin allow-list. Matching is
// exact after lowercasing and trimming.
func (e *Engine) IsPrivileged(email string) bool {
	return e.admins.Contains(email)
}

// Authorize gates a privileged operation on the principal in ctx. Without a
// principal it returns ErrUnauthenticated. The principal's email must be on
// the allow-list and belong to a verified, active account; the account is
// re-read on every call so a token minted before suspension or for a
// squatted address grants nothing. Every denial returns ErrForbidden and
// records suspicious_activity naming the path.
func (e *Engine) Authorize(ctx context.Context) (Principal, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	principal.Email = NormalizeEmail(principal.Email)

	reason := "admin_access_denied"
	if e.IsPrivileged(principal.Email) {
		account, err := e.adminAccount(ctx, principal)
		switch {
		case err == nil:
			e.metricInc(MetricAdminAllowed)
			principal.AccountID = account.ID
			return principal, nil
		case errors.Is(err, errAdminIneligible):
			reason = "admin_account_ineligible"
		default:
			return Principal{}, err
		}
	}

	e.metricInc(MetricAdminDenied)
	e.emitEvent(ctx, EventSuspiciousActivity, eventSubject{
		accountID: principal.AccountID,
		email:     principal.Email,
	}, Metadata{
		"reason": reason,
		"path":   requestPathFromContext(ctx),
		"role":   string(principal.Role),
	})
	return Principal{}, ErrForbidden
}

var errAdminIneligible = errors.New("admin account ineligible")

// adminAccount loads the account behind an allow-listed principal and
// requires it to be verified and active. A principal without an account id
// is resolved by email.
func (e *Engine) adminAccount(ctx context.Context, p Principal) (Account, error) {
	var (
		account Account
		err     error
	)
	if p.AccountID != "" {
		account, err = e.credentials.FindByID(ctx, p.AccountID)
	} else {
		account, err = e.credentials.FindByEmail(ctx, p.Email)
	}
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, errAdminIneligible
		}
		return Account{}, unavailable(err)
	}
	if NormalizeEmail(account.Email) != p.Email || !account.Verified || account.Status != StatusActive {
		return Account{}, errAdminIneligible
	}
	return account, nil
}

// AdminStatus answers whether the current principal passes the admin gate.
// It never records a denial.
func (e *Engine) AdminStatus(ctx context.Context) (AdminStatus, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return AdminStatus{}, ErrUnauthenticated
	}
	principal.Email = NormalizeEmail(principal.Email)
	if !e.IsPrivileged(principal.Email) {
		return AdminStatus{}, nil
	}
	if _, err := e.adminAccount(ctx, principal); err != nil {
		if errors.Is(err, errAdminIneligible) {
			return AdminStatus{}, nil
		}
		return AdminStatus{}, err
	}
	return AdminStatus{IsAdmin: true}, nil
}

// AuthenticateAccess turns a bearer access token into a Principal.
func (e *Engine) AuthenticateAccess(token string) (Principal, error) {
	if e.jwtManager == nil || token == "" {
		return Principal{}, ErrUnauthenticated
	}
	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return Principal{}, ErrUnauthenticated
	}
	return principalFromClaims(claims), nil
}

func principalFromClaims(c *jwt.AccessClaims) Principal {
	return Principal{
		AccountID: c.Subject,
		Email:     NormalizeEmail(c.Email),
		Role:      Role(c.Role),
	}
}

// AdminUnlockAccount clears the lockout on the account behind email. It
// requires an admin principal and records admin_action followed by
// account_unlocked.
func (e *Engine) AdminUnlockAccount(ctx context.Context, email string) (Account, error) {
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

	meta := Metadata{
		"action":         "unlock_account",
		"target_id":      account.ID,
		"target_email":   account.Email,
		"failed_before":  account.FailedLoginAttempts,
		"admin_email":    admin.Email,
		"admin_id":       admin.AccountID,
		"was_locked":     account.LockState().Locked(e.now()),
		"previous_until": formatOptionalTime(account.LockedUntil),
	}
	e.emitEvent(ctx, EventAdminAction, eventSubject{accountID: admin.AccountID, email: admin.Email}, meta)

	return e.ForceUnlock(ctx, account, admin.Email)
}

// SecurityEvents returns events matching filter, newest first. Callers gate
// it behind Authorize.
func (e *Engine) SecurityEvents(ctx context.Context, filter EventFilter, limit int) ([]SecurityEvent, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if limit > MaxEventLimit {
		limit = MaxEventLimit
	}
	events, err := e.events.Query(ctx, filter, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	return events, nil
}

// SecurityStats counts events per kind since the given time. A zero since
// means the last 24 hours.
func (e *Engine) SecurityStats(ctx context.Context, since time.Time) (SecurityStats, error) {
	if since.IsZero() {
		since = e.now().Add(-24 * time.Hour)
	}

	events, err := e.events.Query(ctx, EventFilter{Since: since}, 0)
	if err != nil {
		return SecurityStats{}, unavailable(err)
	}

	stats := SecurityStats{
		Since:  since,
		Total:  len(events),
		ByKind: make(map[EventKind]int),
	}
	for _, ev := range events {
		stats.ByKind[ev.Kind]++
	}
	return stats, nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
