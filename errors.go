package accountguard

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTokenInvalid reports a token that is absent, malformed, bound to another purpose or account.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired reports a token whose expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenUsed reports a token that was already consumed.
	ErrTokenUsed = errors.New("token already used")
	// ErrAccountLocked reports an authentication attempt against a locked account.
	// The concrete error is a *LockedError carrying the lock expiry.
	ErrAccountLocked = errors.New("account locked")
	// ErrUnauthenticated reports a privileged request without an authenticated principal.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden reports an authenticated principal outside the admin allow-list.
	ErrForbidden = errors.New("access denied")
	// ErrAccountNotFound reports a missing target account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists reports a registration for an email that is already taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidCredentials reports an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountSuspended reports a login against a suspended account.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrAccountUnverified reports a login that requires a verified email.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrInvalidRole reports an unknown role on registration.
	ErrInvalidRole = errors.New("invalid account role")
	// ErrInvalidEmail reports an empty or malformed email address.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrPasswordPolicy reports a password rejected by the hasher policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrRateLimited reports a throttled token issuance.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable reports a backend failure (store, limiter, hasher).
	ErrUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady reports an Engine missing a required collaborator.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// PublicTokenMessage is the only text end users see for a failed token check.
// Invalid, expired and used tokens are deliberately indistinguishable.
const PublicTokenMessage = "This link is invalid or has expired. Please request a new one."

// PublicLockedMessage is shown to a locked-out end user instead of the unlock time.
const PublicLockedMessage = "Too many failed attempts. Please try again later."

// LockedError is returned when an account is locked. It matches ErrAccountLocked
// with errors.Is and exposes the expiry for internal callers and admin views.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Is reports whether target is ErrAccountLocked.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// IsTokenError reports whether err is one of the token lifecycle failures.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenUsed)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// PublicMessage maps an Engine error to the text an end user may see. It
// never distinguishes token failure modes or reveals a lock expiry.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsTokenError(err):
		return PublicTokenMessage
	case errors.Is(err, ErrAccountLocked):
		return PublicLockedMessage
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountSuspended):
		return "Invalid email or password."
	case errors.Is(err, ErrAccountUnverified):
		return "Please verify your email address first."
	case errors.Is(err, ErrUnauthenticated):
		return "Authentication required."
	case errors.Is(err, ErrForbidden):
		return "Access denied."
	case errors.Is(err, ErrAccountNotFound):
		return "Account not found."
	case errors.Is(err, ErrAccountExists):
		return "An account with this email already exists."
	case errors.Is(err, ErrInvalidEmail):
		return "Please enter a valid email address."
	case errors.Is(err, ErrInvalidRole):
		return "Unknown account type."
	case errors.Is(err, ErrPasswordPolicy):
		return "Password does not meet the requirements."
	case errors.Is(err, ErrRateLimited):
		return "Too many requests. Please try again later."
	default:
		return "Something went wrong. Please try again."
	}
}
