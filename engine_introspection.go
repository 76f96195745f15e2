package accountguard

import (
	"context"
	"errors"
	"time"
)

// AccountSecurityView is the admin view of an account's security fields. It
// exposes the exact lock expiry, which end users never see.
type AccountSecurityView struct {
	AccountID           string        `json:"account_id"`
	Email               string        `json:"email"`
	Role                Role          `json:"role"`
	Status              AccountStatus `json:"status"`
	Verified            bool          `json:"verified"`
	Locked              bool          `json:"locked"`
	FailedLoginAttempts int           `json:"failed_login_attempts"`
	LastFailedLoginAt   *time.Time    `json:"last_failed_login_at,omitempty"`
	LockedUntil         *time.Time    `json:"locked_until,omitempty"`
}

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisConfigured bool          `json:"redis_configured"`
	RedisAvailable  bool          `json:"redis_available"`
	RedisLatency    time.Duration `json:"redis_latency"`
	EventLogOK      bool          `json:"event_log_ok"`
}

// AccountSecurity returns the security view of the account behind email. It
// requires an admin principal.
func (e *Engine) AccountSecurity(ctx context.Context, email string) (AccountSecurityView, error) {
	if _, err := e.Authorize(ctx); err != nil {
		return AccountSecurityView{}, err
	}

	account, err := e.credentials.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return AccountSecurityView{}, ErrAccountNotFound
		}
		return AccountSecurityView{}, unavailable(err)
	}

	return AccountSecurityView{
		AccountID:           account.ID,
		Email:               account.Email,
		Role:                account.Role,
		Status:              account.Status,
		Verified:            account.Verified,
		Locked:              !e.Evaluate(account).Allowed,
		FailedLoginAttempts: account.FailedLoginAttempts,
		LastFailedLoginAt:   account.LastFailedLoginAt,
		LockedUntil:         account.LockedUntil,
	}, nil
}

// Health probes the issuance limiter's Redis, when configured, and the
// security event log.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	var status HealthStatus
	if e == nil {
		return status
	}

	if e.issuance != nil {
		status.RedisConfigured = true
		latency, err := e.issuance.Ping(ctx)
		status.RedisAvailable = err == nil
		status.RedisLatency = latency
	}

	_, err := e.events.Query(ctx, EventFilter{Since: e.now()}, 1)
	status.EventLogOK = err == nil
	return status
}
