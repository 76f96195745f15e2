package accountguard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	accountguard "github.com/securyflex/accountguard"
)

func TestIsPrivilegedExactCaseInsensitive(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		email string
		want  bool
	}{
		{"admin@securyflex.nl", true},
		{"Admin@SecuryFlex.NL", true},
		{"  admin@securyflex.nl ", true},
		{"admin@securyflex.nl.evil.com", false},
		{"xadmin@securyflex.nl", false},
		{"admin", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := h.engine.IsPrivileged(tc.email); got != tc.want {
			t.Fatalf("IsPrivileged(%q) = %v, want %v", tc.email, got, tc.want)
		}
	}
}

func TestNonAdminUnlockIsForbiddenAndRecorded(t *testing.T) {
	h := newHarness(t, nil)
	target := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)
	h.failLogin(t, target.Email, 5)

	ctx := accountguard.WithPrincipal(context.Background(), accountguard.Principal{
		AccountID: "guard-2",
		Email:     "company@securyflex.nl",
		Role:      accountguard.RoleCompany,
	})
	ctx = accountguard.WithRequestPath(ctx, "/api/admin/unlock-account")
	ctx = accountguard.WithClientIP(ctx, "203.0.113.9")

	_, err := h.engine.AdminUnlockAccount(ctx, target.Email)
	if !errors.Is(err, accountguard.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	events := h.events(t, accountguard.EventSuspiciousActivity)
	if len(events) != 1 {
		t.Fatalf("expected one suspicious_activity event, got %d", len(events))
	}
	ev := events[0]
	if ev.Metadata["path"] != "/api/admin/unlock-account" || ev.Email != "company@securyflex.nl" || ev.IP != "203.0.113.9" {
		t.Fatalf("unexpected event %+v", ev)
	}

	if h.account(t, target.Email).LockedUntil == nil {
		t.Fatal("forbidden unlock must not touch the account")
	}
}

func TestUnlockWithoutPrincipalIsUnauthenticated(t *testing.T) {
	h := newHarness(t, nil)
	target := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)

	_, err := h.engine.AdminUnlockAccount(context.Background(), target.Email)
	if !errors.Is(err, accountguard.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if got := len(h.events(t, accountguard.EventSuspiciousActivity)); got != 0 {
		t.Fatalf("unauthenticated requests are not privilege escalation, got %d events", got)
	}
}

func TestAdminUnlockRecordsTwoEvents(t *testing.T) {
	h := newHarness(t, nil)
	target := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)
	h.failLogin(t, target.Email, 5)
	lockedUntil := *h.account(t, target.Email).LockedUntil

	unlocked, err := h.engine.AdminUnlockAccount(h.adminContext(t, "/api/admin/unlock-account"), "GUARD@securyflex.nl")
	if err != nil {
		t.Fatalf("AdminUnlockAccount: %v", err)
	}
	if unlocked.FailedLoginAttempts != 0 || unlocked.LockedUntil != nil {
		t.Fatalf("expected cleared lock state, got %+v", unlocked.LockState())
	}

	actions := h.events(t, accountguard.EventAdminAction)
	if len(actions) != 1 {
		t.Fatalf("expected one admin_action event, got %d", len(actions))
	}
	meta := actions[0].Metadata
	if meta["action"] != "unlock_account" || meta["target_email"] != target.Email || meta["failed_before"] != 5 {
		t.Fatalf("unexpected admin_action metadata %v", meta)
	}
	if meta["previous_until"] != lockedUntil.Format(time.RFC3339) || actions[0].Email != adminEmail {
		t.Fatalf("unexpected admin_action event %+v", actions[0])
	}

	unlocks := h.events(t, accountguard.EventAccountUnlocked)
	if len(unlocks) != 1 || unlocks[0].AccountID != target.ID || unlocks[0].Metadata["actor"] != adminEmail {
		t.Fatalf("unexpected account_unlocked events %+v", unlocks)
	}

	if _, err := h.engine.Login(context.Background(), target.Email, testPassword); err != nil {
		t.Fatalf("login after unlock: %v", err)
	}
}

func TestAdminUnlockUnknownAccount(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.AdminUnlockAccount(h.adminContext(t, "/api/admin/unlock-account"), "ghost@securyflex.nl")
	if !errors.Is(err, accountguard.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAdminStatus(t *testing.T) {
	h := newHarness(t, nil)

	status, err := h.engine.AdminStatus(h.adminContext(t, "/api/admin/status"))
	if err != nil || !status.IsAdmin {
		t.Fatalf("expected admin, got %+v, %v", status, err)
	}

	guardCtx := accountguard.WithPrincipal(context.Background(), accountguard.Principal{AccountID: "g", Email: "guard@securyflex.nl"})
	status, err = h.engine.AdminStatus(guardCtx)
	if err != nil || status.IsAdmin {
		t.Fatalf("expected non-admin, got %+v, %v", status, err)
	}
	if got := len(h.events(t, accountguard.EventSuspiciousActivity)); got != 0 {
		t.Fatalf("status checks must not record denials, got %d", got)
	}

	if _, err := h.engine.AdminStatus(context.Background()); !errors.Is(err, accountguard.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestAccessTokenAuthenticatesAdmin(t *testing.T) {
	h := newHarness(t, nil)
	h.provisionAdmin(t)

	res, err := h.engine.Login(context.Background(), adminEmail, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	principal, err := h.engine.AuthenticateAccess(res.AccessToken)
	if err != nil {
		t.Fatalf("AuthenticateAccess: %v", err)
	}
	if principal.Email != adminEmail || principal.AccountID != res.Account.ID || principal.Role != accountguard.RoleAdmin {
		t.Fatalf("unexpected principal %+v", principal)
	}

	if _, err := h.engine.Authorize(accountguard.WithPrincipal(context.Background(), principal)); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	h.clock.Advance(16 * time.Minute)
	if _, err := h.engine.AuthenticateAccess(res.AccessToken); !errors.Is(err, accountguard.ErrUnauthenticated) {
		t.Fatalf("expected expired access token rejected, got %v", err)
	}
	if _, err := h.engine.AuthenticateAccess("garbage"); !errors.Is(err, accountguard.ErrUnauthenticated) {
		t.Fatalf("expected garbage rejected, got %v", err)
	}
}

func TestSuspendAndReactivate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := h.adminContext(t, "/api/admin/accounts/suspend")
	a := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)

	suspended, err := h.engine.SuspendAccount(ctx, a.Email)
	if err != nil || suspended.Status != accountguard.StatusSuspended {
		t.Fatalf("SuspendAccount: %+v, %v", suspended, err)
	}

	reactivated, err := h.engine.ReactivateAccount(ctx, a.Email)
	if err != nil {
		t.Fatalf("ReactivateAccount: %v", err)
	}
	if reactivated.Status != accountguard.StatusPending {
		t.Fatalf("unverified account should return to pending, got %s", reactivated.Status)
	}

	actions := h.events(t, accountguard.EventAdminAction)
	if len(actions) != 2 || actions[0].Metadata["action"] != "reactivate_account" || actions[1].Metadata["action"] != "suspend_account" {
		t.Fatalf("unexpected admin actions %+v", actions)
	}

	guardCtx := accountguard.WithPrincipal(context.Background(), accountguard.Principal{AccountID: "g", Email: "guard@securyflex.nl"})
	if _, err := h.engine.SuspendAccount(guardCtx, a.Email); !errors.Is(err, accountguard.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAccountSecurityShowsLockExpiryToAdmins(t *testing.T) {
	h := newHarness(t, nil)
	a := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)
	h.failLogin(t, a.Email, 5)

	view, err := h.engine.AccountSecurity(h.adminContext(t, "/api/admin/accounts"), a.Email)
	if err != nil {
		t.Fatalf("AccountSecurity: %v", err)
	}
	if !view.Locked || view.FailedLoginAttempts != 5 || view.LockedUntil == nil {
		t.Fatalf("unexpected view %+v", view)
	}

	h.clock.Advance(31 * time.Minute)
	view, err = h.engine.AccountSecurity(h.adminContext(t, "/api/admin/accounts"), a.Email)
	if err != nil || view.Locked {
		t.Fatalf("expected expired lock to read unlocked, got %+v, %v", view, err)
	}
}

func TestSecurityEventsAndStats(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)
	h.failLogin(t, a.Email, 5)

	h.clock.Advance(25 * time.Hour)
	if _, err := h.engine.Login(ctx, "ghost@securyflex.nl", testPassword); err == nil {
		t.Fatal("expected unknown login to fail")
	}

	events, err := h.engine.SecurityEvents(ctx, accountguard.EventFilter{}, 3)
	if err != nil {
		t.Fatalf("SecurityEvents: %v", err)
	}
	if len(events) != 3 || events[0].Email != "ghost@securyflex.nl" {
		t.Fatalf("expected newest first, got %+v", events)
	}

	stats, err := h.engine.SecurityStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("SecurityStats: %v", err)
	}
	if stats.Total != 1 || stats.ByKind[accountguard.EventLoginFailed] != 1 {
		t.Fatalf("expected only the last day counted, got %+v", stats)
	}

	all, err := h.engine.SecurityStats(ctx, h.clock.Now().Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("SecurityStats: %v", err)
	}
	if all.ByKind[accountguard.EventLoginFailed] != 6 || all.ByKind[accountguard.EventAccountLocked] != 1 || all.ByKind[accountguard.EventAccountCreated] != 1 {
		t.Fatalf("unexpected totals %+v", all.ByKind)
	}
}

func TestSecurityReportAndHealth(t *testing.T) {
	h := newHarness(t, func(c *accountguard.Config) {
		c.Admin.Emails = nil
		c.Tokens.RevokePreviousOnIssue = false
	})

	report := h.engine.SecurityReport()
	if report.LockoutThreshold != 5 || report.AdminCount != 0 || report.RateLimitingActive {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Warnings) < 3 {
		t.Fatalf("expected warnings for empty allow-list, kept tokens and missing redis, got %v", report.Warnings)
	}

	health := h.engine.Health(context.Background())
	if health.RedisConfigured || !health.EventLogOK {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestUnverifiedAllowListedAccountIsNotAdmin(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	victim := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)
	h.failLogin(t, victim.Email, 5)

	squatter := h.createAccount(t, adminEmail, accountguard.RoleClient)
	if squatter.Verified || squatter.Status != accountguard.StatusPending {
		t.Fatalf("expected a pending account, got %+v", squatter)
	}
	res, err := h.engine.Login(ctx, adminEmail, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	principal, err := h.engine.AuthenticateAccess(res.AccessToken)
	if err != nil {
		t.Fatalf("AuthenticateAccess: %v", err)
	}
	pctx := accountguard.WithRequestPath(accountguard.WithPrincipal(ctx, principal), "/admin/accounts/unlock")

	if status, err := h.engine.AdminStatus(pctx); err != nil || status.IsAdmin {
		t.Fatalf("unverified account reported as admin: %+v, %v", status, err)
	}
	if _, err := h.engine.AdminUnlockAccount(pctx, victim.Email); !errors.Is(err, accountguard.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if h.account(t, victim.Email).LockedUntil == nil {
		t.Fatal("unverified account unlocked a victim")
	}
	denied := h.events(t, accountguard.EventSuspiciousActivity)
	if len(denied) != 1 || denied[0].Metadata["reason"] != "admin_account_ineligible" || denied[0].AccountID != squatter.ID {
		t.Fatalf("unexpected denial events %+v", denied)
	}

	if err := h.engine.RequestEmailVerification(ctx, adminEmail); err != nil {
		t.Fatalf("RequestEmailVerification: %v", err)
	}
	if _, err := h.engine.ConfirmEmailVerification(ctx, h.mailer.Last(t).Token); err != nil {
		t.Fatalf("ConfirmEmailVerification: %v", err)
	}
	if _, err := h.engine.AdminUnlockAccount(pctx, victim.Email); err != nil {
		t.Fatalf("verified owner of the address should pass the gate: %v", err)
	}

	if _, err := h.engine.SuspendAccount(pctx, adminEmail); err != nil {
		t.Fatalf("SuspendAccount: %v", err)
	}
	if _, err := h.engine.Authorize(pctx); !errors.Is(err, accountguard.ErrForbidden) {
		t.Fatalf("suspended admin must be denied, got %v", err)
	}
}

func TestAuthorizeRejectsPrincipalForAnotherAccount(t *testing.T) {
	h := newHarness(t, nil)
	h.provisionAdmin(t)
	other := h.createAccount(t, "guard@securyflex.nl", accountguard.RoleGuard)

	ctx := accountguard.WithPrincipal(context.Background(), accountguard.Principal{
		AccountID: other.ID,
		Email:     adminEmail,
	})
	if _, err := h.engine.Authorize(ctx); !errors.Is(err, accountguard.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAuthorizeResolvesPrincipalWithoutAccountID(t *testing.T) {
	h := newHarness(t, nil)
	admin := h.provisionAdmin(t)

	ctx := accountguard.WithPrincipal(context.Background(), accountguard.Principal{Email: "ADMIN@securyflex.nl"})
	got, err := h.engine.Authorize(ctx)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if got.AccountID != admin.ID {
		t.Fatalf("expected principal resolved to %s, got %q", admin.ID, got.AccountID)
	}
}

func TestProvisionAdmin(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.engine.ProvisionAdmin(ctx, accountguard.CreateAccountInput{
		Email: "someone@securyflex.nl", Password: testPassword,
	}); !errors.Is(err, accountguard.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for an address off the allow-list, got %v", err)
	}

	admin := h.provisionAdmin(t)
	if admin.Role != accountguard.RoleAdmin || !admin.Verified || admin.VerifiedAt == nil || admin.Status != accountguard.StatusActive {
		t.Fatalf("unexpected admin account %+v", admin)
	}
	created := h.events(t, accountguard.EventAccountCreated)
	if len(created) != 1 || created[0].Metadata["provisioned"] != true {
		t.Fatalf("unexpected account_created events %+v", created)
	}
}
