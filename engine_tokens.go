package accountguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/securyflex/accountguard/internal"
	"github.com/securyflex/accountguard/internal/flows"
	"github.com/securyflex/accountguard/internal/limiters"
	"github.com/securyflex/accountguard/password"
	"go.uber.org/zap"
)

// Check classifies a presented secret hash against r. Stores call it inside
// their consume transaction so the decision and the write see the same row.
// accountID may be empty when the owner is not known yet.
func (r TokenRecord) Check(purpose Purpose, accountID string, presented [32]byte, now time.Time) error {
	view := flows.TokenView{
		Found:      r.ID != "",
		AccountID:  r.AccountID,
		Purpose:    string(r.Purpose),
		SecretHash: r.SecretHash,
		ExpiresAt:  r.ExpiresAt,
		Used:       r.UsedAt != nil,
	}

	switch flows.ClassifyToken(view, string(purpose), accountID, presented, now) {
	case flows.TokenValid:
		return nil
	case flows.TokenUsed:
		return ErrTokenUsed
	case flows.TokenExpired:
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}

func (e *Engine) tokenTTL(purpose Purpose) time.Duration {
	if purpose == PurposeVerify {
		return e.config.Tokens.VerifyTTL
	}
	return e.config.Tokens.ResetTTL
}

// IssueToken creates a token for the account behind email. An unknown email
// yields IssueResult{Issued: false} and a nil error after a short random
// delay; callers must answer both cases identically.
func (e *Engine) IssueToken(ctx context.Context, email string, purpose Purpose) (IssueResult, error) {
	res, _, err := e.issue(ctx, email, purpose)
	return res, err
}

func (e *Engine) issue(ctx context.Context, email string, purpose Purpose) (IssueResult, Account, error) {
	if !purpose.Valid() {
		return IssueResult{}, Account{}, fmt.Errorf("unknown token purpose %q", purpose)
	}

	normalized := NormalizeEmail(email)
	if normalized == "" {
		return IssueResult{}, Account{}, ErrInvalidEmail
	}

	if err := e.issuance.Check(ctx, string(purpose), normalized, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, limiters.ErrIssuanceRateLimited) {
			e.metricInc(MetricTokenRateLimited)
			return IssueResult{}, Account{}, ErrRateLimited
		}
		return IssueResult{}, Account{}, unavailable(err)
	}

	account, err := e.credentials.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricTokenIssueUnknownEmail)
			return IssueResult{}, Account{}, e.enumerationDelay(ctx)
		}
		return IssueResult{}, Account{}, unavailable(err)
	}

	// Already verified accounts get the same silent answer as unknown ones.
	if purpose == PurposeVerify && account.Verified {
		return IssueResult{}, account, e.enumerationDelay(ctx)
	}

	now := e.now()
	if e.config.Tokens.RevokePreviousOnIssue {
		revoked, err := e.tokens.RevokeOutstanding(ctx, account.ID, purpose, now)
		if err != nil {
			return IssueResult{}, Account{}, unavailable(err)
		}
		for i := 0; i < revoked; i++ {
			e.metricInc(MetricTokenRevoked)
		}
	}

	id, token, secretHash, err := internal.NewToken()
	if err != nil {
		return IssueResult{}, Account{}, unavailable(err)
	}

	record := TokenRecord{
		ID:         id.String(),
		AccountID:  account.ID,
		Purpose:    purpose,
		SecretHash: secretHash,
		ExpiresAt:  now.Add(e.tokenTTL(purpose)),
		CreatedAt:  now,
	}
	if err := e.tokens.SaveToken(ctx, record); err != nil {
		return IssueResult{}, Account{}, unavailable(err)
	}

	e.metricInc(MetricTokenIssued)
	return IssueResult{
		Issued:    true,
		Token:     token,
		AccountID: account.ID,
		ExpiresAt: record.ExpiresAt,
	}, account, nil
}

func (e *Engine) enumerationDelay(ctx context.Context) error {
	err := flows.SleepJitter(ctx, e.config.Tokens.EnumerationDelayMin, e.config.Tokens.EnumerationDelayMax)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// ValidateToken checks token for purpose without consuming it and returns
// the owning account id.
func (e *Engine) ValidateToken(ctx context.Context, token string, purpose Purpose) (string, error) {
	id, presented, err := internal.ParseToken(token)
	if err != nil {
		e.metricInc(MetricTokenInvalid)
		return "", ErrTokenInvalid
	}

	record, err := e.tokens.FindToken(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			e.metricInc(MetricTokenInvalid)
			return "", ErrTokenInvalid
		}
		return "", unavailable(err)
	}

	if err := record.Check(purpose, "", presented, e.now()); err != nil {
		e.tokenFailure(ctx, err, record, purpose)
		return "", err
	}
	return record.AccountID, nil
}

// ConsumeToken re-checks token against accountID and purpose, applies
// mutation to the account and marks the token used, all in one store
// transaction. A second consume fails with ErrTokenUsed and changes nothing.
func (e *Engine) ConsumeToken(ctx context.Context, token, accountID string, purpose Purpose, mutation AccountMutation) (Account, error) {
	id, presented, err := internal.ParseToken(token)
	if err != nil || accountID == "" {
		e.metricInc(MetricTokenInvalid)
		return Account{}, ErrTokenInvalid
	}

	now := e.now()
	mutation.At = now
	account, err := e.tokens.ConsumeToken(ctx, ConsumeRequest{
		TokenID:    id,
		AccountID:  accountID,
		Purpose:    purpose,
		SecretHash: presented,
		Now:        now,
		Mutation:   mutation,
	})
	switch {
	case err == nil:
		return account, nil
	case IsTokenError(err):
		e.tokenFailure(ctx, err, TokenRecord{ID: id, AccountID: accountID}, purpose)
		return Account{}, err
	case errors.Is(err, ErrAccountNotFound):
		e.metricInc(MetricTokenInvalid)
		return Account{}, ErrTokenInvalid
	default:
		return Account{}, unavailable(err)
	}
}

// tokenFailure counts a rejected token. Replaying a consumed token is
// recorded as suspicious_activity against its owner.
func (e *Engine) tokenFailure(ctx context.Context, err error, record TokenRecord, purpose Purpose) {
	switch {
	case errors.Is(err, ErrTokenUsed):
		e.metricInc(MetricTokenReused)
		e.emitEvent(ctx, EventSuspiciousActivity, eventSubject{accountID: record.AccountID}, Metadata{
			"reason":   string(ErrorCode(err)),
			"purpose":  string(purpose),
			"token_id": record.ID,
		})
	case errors.Is(err, ErrTokenExpired):
		e.metricInc(MetricTokenExpired)
	default:
		e.metricInc(MetricTokenInvalid)
	}
}

// RequestPasswordReset issues a reset token and mails it. The result is nil
// whether or not the email belongs to an account; only throttling and
// backend failures surface.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	return e.requestToken(ctx, email, PurposeReset, EventPasswordResetRequested)
}

// RequestEmailVerification issues a verification token and mails it, with
// the same enumeration guarantees as RequestPasswordReset.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) error {
	return e.requestToken(ctx, email, PurposeVerify, EventEmailVerificationRequested)
}

func (e *Engine) requestToken(ctx context.Context, email string, purpose Purpose, kind EventKind) error {
	res, account, err := e.issue(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.emitEvent(ctx, EventSuspiciousActivity, eventSubject{email: email}, Metadata{
				"reason":  string(auditErrRateLimited),
				"purpose": string(purpose),
			})
		}
		return err
	}

	subject := eventSubject{email: email}
	if account.ID != "" {
		subject = subjectOf(account)
	}
	e.emitEvent(ctx, kind, subject, Metadata{"issued": res.Issued})

	if !res.Issued {
		return nil
	}

	if err := e.deliver(ctx, purpose, account, res); err != nil {
		// Surfacing this would reveal that the account exists.
		e.metricInc(MetricMailFailure)
		e.logger.Error("token delivery failed",
			zap.String("purpose", string(purpose)),
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}
	return nil
}

func (e *Engine) deliver(ctx context.Context, purpose Purpose, account Account, res IssueResult) error {
	if purpose == PurposeVerify {
		return e.mailer.SendVerification(ctx, account.Email, account.DisplayName, res.Token, res.ExpiresAt)
	}
	return e.mailer.SendPasswordReset(ctx, account.Email, account.DisplayName, res.Token, res.ExpiresAt)
}

// ConfirmPasswordReset sets a new password through a reset token. Success
// also clears any lockout, since the reset proves control of the email.
// A password rejected by policy leaves the token unused.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (Account, error) {
	accountID, err := e.ValidateToken(ctx, token, PurposeReset)
	if err != nil {
		return Account{}, err
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			return Account{}, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return Account{}, unavailable(err)
	}

	account, err := e.ConsumeToken(ctx, token, accountID, PurposeReset, AccountMutation{
		PasswordHash: hash,
		ClearLockout: true,
	})
	if err != nil {
		return Account{}, err
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitEvent(ctx, EventPasswordResetCompleted, subjectOf(account), Metadata{"lockout_cleared": true})
	return account, nil
}

// ConfirmEmailVerification marks the account behind token verified.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, token string) (Account, error) {
	accountID, err := e.ValidateToken(ctx, token, PurposeVerify)
	if err != nil {
		return Account{}, err
	}

	account, err := e.ConsumeToken(ctx, token, accountID, PurposeVerify, AccountMutation{MarkVerified: true})
	if err != nil {
		return Account{}, err
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitEvent(ctx, EventEmailVerified, subjectOf(account), nil)
	return account, nil
}

type discardMailer struct{}

func (discardMailer) SendPasswordReset(context.Context, string, string, string, time.Time) error {
	return nil
}

func (discardMailer) SendVerification(context.Context, string, string, string, time.Time) error {
	return nil
}
