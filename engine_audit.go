package accountguard

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// eventSubject names the account an event is about. The account id is empty
// for events recorded before the email resolved to an account.
type eventSubject struct {
	accountID string
	email     string
}

func subjectOf(a Account) eventSubject {
	return eventSubject{accountID: a.ID, email: a.Email}
}

// emitEvent appends to the SecurityEventLog and then hands the event to the
// async sink. A failed append is logged and counted but never replaces the
// caller's result.
func (e *Engine) emitEvent(ctx context.Context, kind EventKind, subject eventSubject, metadata Metadata) SecurityEvent {
	event := SecurityEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		AccountID: subject.accountID,
		Email:     NormalizeEmail(subject.email),
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Metadata:  metadata,
		CreatedAt: e.now(),
	}

	// The append must survive a caller that already gave up on the request.
	appendCtx := context.WithoutCancel(ctx)
	if err := e.events.Append(appendCtx, event); err != nil {
		e.metricInc(MetricEventAppendFailure)
		e.logger.Error("security event append failed",
			zap.String("kind", string(kind)),
			zap.String("account_id", subject.accountID),
			zap.Error(err),
		)
	}

	e.audit.Emit(ctx, event)
	return event
}

// AuditErrorCode is a stable label for an error, used in event metadata and
// operator logs. Token codes distinguish failure modes, so never show them to
// end users.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountSuspended   AuditErrorCode = "account_suspended"
	auditErrAccountUnverified  AuditErrorCode = "account_unverified"
	auditErrUnknownAccount     AuditErrorCode = "unknown_account"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpiredToken       AuditErrorCode = "expired_token"
	auditErrUsedToken          AuditErrorCode = "used_token"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// ErrorCode maps an Engine error to its AuditErrorCode.
func ErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountSuspended):
		return auditErrAccountSuspended
	case errors.Is(err, ErrAccountUnverified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrAccountNotFound):
		return auditErrUnknownAccount
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenExpired):
		return auditErrExpiredToken
	case errors.Is(err, ErrTokenUsed):
		return auditErrUsedToken
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
