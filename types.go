package accountguard

import (
	"context"
	"strings"
	"time"
)

// Role is the marketplace role of an account.
type Role string

const (
	RoleGuard   Role = "guard"
	RoleCompany Role = "company"
	RoleClient  Role = "client"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleGuard, RoleCompany, RoleClient, RoleAdmin:
		return true
	default:
		return false
	}
}

// AccountStatus is the lifecycle status of an account. It is independent of
// the lockout state, which is derived from LockedUntil.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusPending   AccountStatus = "pending"
	StatusSuspended AccountStatus = "suspended"
)

func (s AccountStatus) Valid() bool {
	return s == StatusActive || s == StatusPending || s == StatusSuspended
}

// Account is the credential record owned by the CredentialStore.
type Account struct {
	ID                  string        `json:"id"`
	Email               string        `json:"email"`
	DisplayName         string        `json:"display_name"`
	Role                Role          `json:"role"`
	PasswordHash        string        `json:"-"`
	Verified            bool          `json:"verified"`
	VerifiedAt          *time.Time    `json:"verified_at,omitempty"`
	Status              AccountStatus `json:"status"`
	FailedLoginAttempts int           `json:"failed_login_attempts"`
	LastFailedLoginAt   *time.Time    `json:"last_failed_login_at,omitempty"`
	LockedUntil         *time.Time    `json:"locked_until,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// LockState returns the security fields the lockout policy operates on.
func (a Account) LockState() LockState {
	return LockState{
		FailedAttempts: a.FailedLoginAttempts,
		LastFailedAt:   a.LastFailedLoginAt,
		LockedUntil:    a.LockedUntil,
	}
}

// WithLockState returns a copy of a carrying s.
func (a Account) WithLockState(s LockState) Account {
	a.FailedLoginAttempts = s.FailedAttempts
	a.LastFailedLoginAt = s.LastFailedAt
	a.LockedUntil = s.LockedUntil
	return a
}

// NormalizeEmail lowercases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Purpose binds a token to the flow it was issued for.
type Purpose string

const (
	PurposeReset  Purpose = "reset"
	PurposeVerify Purpose = "verify"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeReset || p == PurposeVerify
}

// TokenRecord is the persisted form of an issued token. Only the hash of the
// secret half is stored.
type TokenRecord struct {
	ID         string
	AccountID  string
	Purpose    Purpose
	SecretHash [32]byte
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

// AccountMutation is applied to the owning account when a token is consumed.
type AccountMutation struct {
	PasswordHash string
	ClearLockout bool
	MarkVerified bool
	At           time.Time
}

// Apply returns a copy of a with m applied.
func (m AccountMutation) Apply(a Account) Account {
	if m.PasswordHash != "" {
		a.PasswordHash = m.PasswordHash
	}
	if m.ClearLockout {
		a = a.WithLockState(LockState{})
	}
	if m.MarkVerified {
		at := m.At
		a.Verified = true
		a.VerifiedAt = &at
		if a.Status == StatusPending {
			a.Status = StatusActive
		}
	}
	a.UpdatedAt = m.At
	return a
}

// ConsumeRequest describes one atomic token redemption.
type ConsumeRequest struct {
	TokenID    string
	AccountID  string
	Purpose    Purpose
	SecretHash [32]byte
	Now        time.Time
	Mutation   AccountMutation
}

// FailureOutcome is the result of an atomic failed-login update.
type FailureOutcome struct {
	Account    Account
	JustLocked bool
}

// EventKind enumerates security event types.
type EventKind string

const (
	EventLoginSuccess               EventKind = "login_success"
	EventLoginFailed                EventKind = "login_failed"
	EventAccountLocked              EventKind = "account_locked"
	EventAccountUnlocked            EventKind = "account_unlocked"
	EventSuspiciousActivity         EventKind = "suspicious_activity"
	EventAccountCreated             EventKind = "account_created"
	EventPasswordResetRequested     EventKind = "password_reset_requested"
	EventPasswordResetCompleted     EventKind = "password_reset_completed"
	EventEmailVerificationRequested EventKind = "email_verification_requested"
	EventEmailVerified              EventKind = "email_verified"
	EventAdminAction                EventKind = "admin_action"
)

// Metadata carries kind-specific event details. Values must be JSON encodable.
type Metadata map[string]any

// SecurityEvent is an append-only record of an authentication-relevant action.
type SecurityEvent struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	AccountID string    `json:"account_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventFilter narrows a SecurityEventLog query. Zero fields do not filter.
type EventFilter struct {
	Kinds     []EventKind
	AccountID string
	Email     string
	Since     time.Time
}

// Matches reports whether ev passes the filter.
func (f EventFilter) Matches(ev SecurityEvent) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == ev.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.AccountID != "" && f.AccountID != ev.AccountID {
		return false
	}
	if f.Email != "" && NormalizeEmail(f.Email) != ev.Email {
		return false
	}
	if !f.Since.IsZero() && ev.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// CredentialStore persists accounts. RecordLoginFailure must apply the policy
// as one atomic increment-and-compare so concurrent failures are never lost.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	Create(ctx context.Context, account Account) (Account, error)
	RecordLoginFailure(ctx context.Context, id string, now time.Time, policy LockoutPolicy) (FailureOutcome, error)
	ResetLoginFailures(ctx context.Context, id string, now time.Time) (Account, error)
	UpdateStatus(ctx context.Context, id string, status AccountStatus, now time.Time) (Account, error)
}

// TokenStore persists tokens. ConsumeToken must check the record, apply the
// mutation to the owning account and mark the token used in one transaction,
// so in practice the same backend implements CredentialStore and TokenStore.
type TokenStore interface {
	SaveToken(ctx context.Context, record TokenRecord) error
	FindToken(ctx context.Context, id string) (TokenRecord, error)
	RevokeOutstanding(ctx context.Context, accountID string, purpose Purpose, now time.Time) (int, error)
	ConsumeToken(ctx context.Context, req ConsumeRequest) (Account, error)
}

// SecurityEventLog is the append-only audit trail. Query returns newest
// first; a limit <= 0 returns every match.
type SecurityEventLog interface {
	Append(ctx context.Context, event SecurityEvent) error
	Query(ctx context.Context, filter EventFilter, limit int) ([]SecurityEvent, error)
}

// Mailer delivers tokens out of band.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, name, token string, expiresAt time.Time) error
	SendVerification(ctx context.Context, to, name, token string, expiresAt time.Time) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Principal is the authenticated identity attached to a request context.
type Principal struct {
	AccountID string
	Email     string
	Role      Role
}

// IssueResult is returned by Engine.IssueToken. Issued is false when the email
// is unknown; callers must report success either way.
type IssueResult struct {
	Issued    bool
	Token     string
	AccountID string
	ExpiresAt time.Time
}

// LoginResult is returned by Engine.Login.
type LoginResult struct {
	Account     Account
	AccessToken string
}

// CreateAccountInput describes a registration.
type CreateAccountInput struct {
	Email       string
	DisplayName string
	Role        Role
	Password    string
}

// AdminStatus answers whether the current principal is privileged.
type AdminStatus struct {
	IsAdmin bool `json:"isAdmin"`
}

// SecurityStats aggregates event counts per kind since a point in time.
type SecurityStats struct {
	Since  time.Time         `json:"since"`
	Total  int               `json:"total"`
	ByKind map[EventKind]int `json:"by_kind"`
}
