package accountguard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	accountguard "github.com/securyflex/accountguard"
)

func TestIssueTokenUnknownEmailIsIndistinguishable(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.createAccount(t, "user@example.com", accountguard.RoleClient)

	existingErr := h.engine.RequestPasswordReset(ctx, "user@example.com")
	ghostErr := h.engine.RequestPasswordReset(ctx, "ghost@example.com")
	if existingErr != nil || ghostErr != nil {
		t.Fatalf("expected nil for both, got %v and %v", existingErr, ghostErr)
	}

	if sent := h.mailer.Sent(); len(sent) != 1 || sent[0].To != "user@example.com" {
		t.Fatalf("expected exactly one mail to the real account, got %+v", sent)
	}

	res, err := h.engine.IssueToken(ctx, "ghost@example.com", accountguard.PurposeReset)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if res.Issued || res.Token != "" || res.AccountID != "" {
		t.Fatalf("unknown email leaked a result: %+v", res)
	}
}

func TestEnumerationDelayAppliesToUnknownEmail(t *testing.T) {
	h := newHarness(t, func(c *accountguard.Config) {
		c.Tokens.EnumerationDelayMin = 15 * time.Millisecond
		c.Tokens.EnumerationDelayMax = 20 * time.Millisecond
	})

	start := time.Now()
	if err := h.engine.RequestPasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("expected at least 15ms delay, got %v", elapsed)
	}
}

func TestPasswordResetConsumesOnceAndClearsLockout(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)
	h.failLogin(t, a.Email, 5)

	if err := h.engine.RequestPasswordReset(ctx, a.Email); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	mail := h.mailer.Last(t)
	if !mail.ExpiresAt.Equal(h.clock.Now().Add(time.Hour)) {
		t.Fatalf("expected a one hour token, got expiry %v", mail.ExpiresAt)
	}

	updated, err := h.engine.ConfirmPasswordReset(ctx, mail.Token, "brand-new-password")
	if err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	if updated.FailedLoginAttempts != 0 || updated.LockedUntil != nil || updated.LastFailedLoginAt != nil {
		t.Fatalf("reset must clear lock state, got %+v", updated.LockState())
	}
	hashAfterFirst := h.account(t, a.Email).PasswordHash

	if _, err := h.engine.Login(ctx, a.Email, "brand-new-password"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	_, err = h.engine.ConfirmPasswordReset(ctx, mail.Token, "another-password-1")
	if !errors.Is(err, accountguard.ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed, got %v", err)
	}
	if accountguard.PublicMessage(err) != accountguard.PublicTokenMessage {
		t.Fatalf("unexpected public message %q", accountguard.PublicMessage(err))
	}
	if h.account(t, a.Email).PasswordHash != hashAfterFirst {
		t.Fatal("second consume changed the password")
	}

	suspicious := h.events(t, accountguard.EventSuspiciousActivity)
	if len(suspicious) != 1 || suspicious[0].Metadata["reason"] != "used_token" {
		t.Fatalf("expected a used_token suspicious_activity event, got %+v", suspicious)
	}
	if got := len(h.events(t, accountguard.EventPasswordResetCompleted)); got != 1 {
		t.Fatalf("expected one password_reset_completed event, got %d", got)
	}
}

func TestConsumeTokenDirectlyRejectsSecondConsume(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)

	res, err := h.engine.IssueToken(ctx, a.Email, accountguard.PurposeReset)
	if err != nil || !res.Issued {
		t.Fatalf("IssueToken: %+v, %v", res, err)
	}

	mutation := accountguard.AccountMutation{PasswordHash: "first", ClearLockout: true}
	if _, err := h.engine.ConsumeToken(ctx, res.Token, a.ID, accountguard.PurposeReset, mutation); err != nil {
		t.Fatalf("ConsumeToken: %v", err)
	}

	mutation.PasswordHash = "second"
	if _, err := h.engine.ConsumeToken(ctx, res.Token, a.ID, accountguard.PurposeReset, mutation); !errors.Is(err, accountguard.ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed, got %v", err)
	}
	if h.account(t, a.Email).PasswordHash != "first" {
		t.Fatal("mutation applied twice")
	}
}

func TestValidateTokenClassification(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)
	other := h.createAccount(t, "other@securyflex.nl", accountguard.RoleGuard)

	res, err := h.engine.IssueToken(ctx, a.Email, accountguard.PurposeReset)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	id, err := h.engine.ValidateToken(ctx, res.Token, accountguard.PurposeReset)
	if err != nil || id != a.ID {
		t.Fatalf("expected valid token for %s, got %q, %v", a.ID, id, err)
	}
	// Validation does not consume.
	if _, err := h.engine.ValidateToken(ctx, res.Token, accountguard.PurposeReset); err != nil {
		t.Fatalf("second validate: %v", err)
	}

	if _, err := h.engine.ValidateToken(ctx, res.Token, accountguard.PurposeVerify); !errors.Is(err, accountguard.ErrTokenInvalid) {
		t.Fatalf("purpose mismatch: expected ErrTokenInvalid, got %v", err)
	}
	if _, err := h.engine.ValidateToken(ctx, "not-a-token", accountguard.PurposeReset); !errors.Is(err, accountguard.ErrTokenInvalid) {
		t.Fatalf("malformed: expected ErrTokenInvalid, got %v", err)
	}
	if _, err := h.engine.ConsumeToken(ctx, res.Token, other.ID, accountguard.PurposeReset, accountguard.AccountMutation{}); !errors.Is(err, accountguard.ErrTokenInvalid) {
		t.Fatalf("owner mismatch: expected ErrTokenInvalid, got %v", err)
	}

	h.clock.Advance(59 * time.Minute)
	if _, err := h.engine.ValidateToken(ctx, res.Token, accountguard.PurposeReset); err != nil {
		t.Fatalf("expected valid before expiry, got %v", err)
	}
	h.clock.Advance(time.Minute)
	if _, err := h.engine.ValidateToken(ctx, res.Token, accountguard.PurposeReset); !errors.Is(err, accountguard.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at expiry, got %v", err)
	}
}

func TestReissueRevokesEarlierTokens(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)

	first, _ := h.engine.IssueToken(ctx, a.Email, accountguard.PurposeReset)
	verify, _ := h.engine.IssueToken(ctx, a.Email, accountguard.PurposeVerify)
	second, _ := h.engine.IssueToken(ctx, a.Email, accountguard.PurposeReset)

	if _, err := h.engine.ValidateToken(ctx, first.Token, accountguard.PurposeReset); !errors.Is(err, accountguard.ErrTokenInvalid) {
		t.Fatalf("expected earlier reset token revoked, got %v", err)
	}
	if _, err := h.engine.ValidateToken(ctx, second.Token, accountguard.PurposeReset); err != nil {
		t.Fatalf("latest reset token: %v", err)
	}
	if _, err := h.engine.ValidateToken(ctx, verify.Token, accountguard.PurposeVerify); err != nil {
		t.Fatalf("verify token must survive a reset re-issue: %v", err)
	}
}

func TestReissueKeepsEarlierTokensWhenConfigured(t *testing.T) {
	h := newHarness(t, func(c *accountguard.Config) { c.Tokens.RevokePreviousOnIssue = false })
	ctx := context.Background()
	a := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)

	first, _ := h.engine.IssueToken(ctx, a.Email, accountguard.PurposeReset)
	second, _ := h.engine.IssueToken(ctx, a.Email, accountguard.PurposeReset)

	for _, tok := range []string{first.Token, second.Token} {
		if _, err := h.engine.ValidateToken(ctx, tok, accountguard.PurposeReset); err != nil {
			t.Fatalf("expected both tokens valid, got %v", err)
		}
	}
}

func TestPasswordPolicyFailureKeepsTokenUsable(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)
	res, _ := h.engine.IssueToken(ctx, a.Email, accountguard.PurposeReset)

	if _, err := h.engine.ConfirmPasswordReset(ctx, res.Token, "short"); !errors.Is(err, accountguard.ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if _, err := h.engine.ConfirmPasswordReset(ctx, res.Token, "long-enough-password"); err != nil {
		t.Fatalf("token should still be usable: %v", err)
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.createAccount(t, "company@securyflex.nl", accountguard.RoleCompany)

	if err := h.engine.RequestEmailVerification(ctx, a.Email); err != nil {
		t.Fatalf("RequestEmailVerification: %v", err)
	}
	mail := h.mailer.Last(t)
	if mail.Purpose != accountguard.PurposeVerify || !mail.ExpiresAt.Equal(h.clock.Now().Add(24*time.Hour)) {
		t.Fatalf("unexpected verification mail %+v", mail)
	}

	if _, err := h.engine.ConfirmPasswordReset(ctx, mail.Token, "long-enough-password"); !errors.Is(err, accountguard.ErrTokenInvalid) {
		t.Fatalf("verify token used for reset: expected ErrTokenInvalid, got %v", err)
	}

	verified, err := h.engine.ConfirmEmailVerification(ctx, mail.Token)
	if err != nil {
		t.Fatalf("ConfirmEmailVerification: %v", err)
	}
	if !verified.Verified || verified.VerifiedAt == nil || verified.Status != accountguard.StatusActive {
		t.Fatalf("unexpected account after verification %+v", verified)
	}

	// A verified account gets the silent answer and no mail.
	if err := h.engine.RequestEmailVerification(ctx, a.Email); err != nil {
		t.Fatalf("RequestEmailVerification: %v", err)
	}
	if got := len(h.mailer.Sent()); got != 1 {
		t.Fatalf("expected no second mail, got %d", got)
	}
}

func TestMailFailureIsNotSurfaced(t *testing.T) {
	h := newHarness(t, nil)
	h.mailer.err = errors.New("smtp: connection refused")
	a := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)

	if err := h.engine.RequestPasswordReset(context.Background(), a.Email); err != nil {
		t.Fatalf("mail failure must not surface, got %v", err)
	}
	if got := h.engine.MetricsSnapshot().Counters[accountguard.MetricMailFailure]; got != 1 {
		t.Fatalf("expected mail failure counted once, got %d", got)
	}
}

func TestIssuanceRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t, func(c *accountguard.Config) {
		c.RateLimit.MaxRequests = 2
		c.RateLimit.Window = time.Minute
	}, func(b *accountguard.Builder) { b.WithRedis(rdb) })

	ctx := accountguard.WithClientIP(context.Background(), "198.51.100.4")
	for i := 0; i < 2; i++ {
		if err := h.engine.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	err := h.engine.RequestPasswordReset(ctx, "ghost@example.com")
	if !errors.Is(err, accountguard.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	events := h.events(t, accountguard.EventSuspiciousActivity)
	if len(events) != 1 || events[0].IP != "198.51.100.4" || events[0].Metadata["reason"] != "rate_limited" {
		t.Fatalf("expected a rate_limited suspicious_activity event, got %+v", events)
	}

	// The per-IP window also covers other emails.
	if err := h.engine.RequestPasswordReset(ctx, "someone@example.com"); !errors.Is(err, accountguard.ErrRateLimited) {
		t.Fatalf("expected per-IP throttle, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := h.engine.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("expected window reset, got %v", err)
	}
}
