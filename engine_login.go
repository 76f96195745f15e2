package accountguard

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Login authenticates email and password under the lockout policy.
//
// Unknown emails and wrong passwords both return ErrInvalidCredentials and
// cost one argon2 verification. A locked account returns *LockedError
// without touching the counters. The attempt that crosses the threshold
// also returns *LockedError.
func (e *Engine) Login(ctx context.Context, email, password string) (LoginResult, error) {
	start := time.Now()
	defer e.observeLatency(MetricLoginLatency, start)

	normalized := NormalizeEmail(email)
	account, err := e.credentials.FindByEmail(ctx, normalized)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return LoginResult{}, unavailable(err)
		}
		e.passwordHash.VerifyDummy(password)
		e.metricInc(MetricLoginFailure)
		e.emitEvent(ctx, EventLoginFailed, eventSubject{email: normalized}, Metadata{
			"reason": string(auditErrUnknownAccount),
		})
		return LoginResult{}, ErrInvalidCredentials
	}

	if decision := e.Evaluate(account); !decision.Allowed {
		e.metricInc(MetricLoginLockedAttempt)
		e.emitEvent(ctx, EventLoginFailed, subjectOf(account), Metadata{
			"reason":       string(auditErrAccountLocked),
			"locked_until": decision.LockedUntil.UTC().Format(time.RFC3339),
		})
		return LoginResult{}, &LockedError{Until: decision.LockedUntil}
	}

	if account.Status == StatusSuspended {
		e.passwordHash.VerifyDummy(password)
		e.metricInc(MetricLoginFailure)
		e.emitEvent(ctx, EventLoginFailed, subjectOf(account), Metadata{
			"reason": string(auditErrAccountSuspended),
		})
		return LoginResult{}, ErrAccountSuspended
	}

	ok, err := e.passwordHash.Verify(password, account.PasswordHash)
	if err != nil {
		e.logger.Error("stored password hash unreadable",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
		ok = false
	}
	if !ok {
		outcome, err := e.recordFailure(ctx, account, auditErrInvalidCredentials)
		if err != nil {
			return LoginResult{}, err
		}
		if outcome.JustLocked && outcome.Account.LockedUntil != nil {
			return LoginResult{}, &LockedError{Until: *outcome.Account.LockedUntil}
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if e.config.Login.RequireVerifiedEmail && !account.Verified {
		e.emitEvent(ctx, EventLoginFailed, subjectOf(account), Metadata{
			"reason": string(auditErrAccountUnverified),
		})
		return LoginResult{}, ErrAccountUnverified
	}

	account, err = e.RecordSuccess(ctx, account)
	if err != nil {
		return LoginResult{}, err
	}

	result := LoginResult{Account: account}
	if e.jwtManager != nil {
		token, err := e.jwtManager.CreateAccess(account.ID, account.Email, string(account.Role), e.now())
		if err != nil {
			return LoginResult{}, unavailable(err)
		}
		result.AccessToken = token
	}
	return result, nil
}

// CreateAccount registers a new account. Accounts start pending until the
// email is verified. The admin role is not self-service; see ProvisionAdmin.
func (e *Engine) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	if !in.Role.Valid() || in.Role == RoleAdmin {
		return Account{}, ErrInvalidRole
	}
	return e.createAccount(ctx, in, false)
}

// ProvisionAdmin creates a verified, active admin account for an
// allow-listed email. It is the operator path used for seeding; the email
// must already be on Config.Admin.Emails.
func (e *Engine) ProvisionAdmin(ctx context.Context, in CreateAccountInput) (Account, error) {
	if !e.IsPrivileged(in.Email) {
		return Account{}, ErrForbidden
	}
	in.Role = RoleAdmin
	return e.createAccount(ctx, in, true)
}

func (e *Engine) createAccount(ctx context.Context, in CreateAccountInput, provisioned bool) (Account, error) {
	email := NormalizeEmail(in.Email)
	if !validEmail(email) {
		return Account{}, ErrInvalidEmail
	}
	if err := e.passwordHash.CheckPolicy(in.Password); err != nil {
		return Account{}, errors.Join(ErrPasswordPolicy, err)
	}

	hash, err := e.passwordHash.Hash(in.Password)
	if err != nil {
		return Account{}, unavailable(err)
	}

	now := e.now()
	draft := Account{
		Email:        email,
		DisplayName:  in.DisplayName,
		Role:         in.Role,
		PasswordHash: hash,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if provisioned {
		draft.Verified = true
		draft.VerifiedAt = &now
		draft.Status = StatusActive
	}

	account, err := e.credentials.Create(ctx, draft)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricAccountCreationDuplicate)
			return Account{}, ErrAccountExists
		}
		return Account{}, unavailable(err)
	}

	e.metricInc(MetricAccountCreated)
	meta := Metadata{"role": string(account.Role)}
	if provisioned {
		meta["provisioned"] = true
	}
	e.emitEvent(ctx, EventAccountCreated, subjectOf(account), meta)
	return account, nil
}

// validEmail is a shape check only: one @, a non-empty local part and a
// dotted domain.
func validEmail(email string) bool {
	at := -1
	for i := 0; i < len(email); i++ {
		switch email[i] {
		case '@':
			if at >= 0 {
				return false
			}
			at = i
		case ' ', '\t', '\n', '\r':
			return false
		}
	}
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	for i := 1; i < len(domain)-1; i++ {
		if domain[i] == '.' {
			return true
		}
	}
	return false
}
