// Package storetest is a conformance suite every accountguard.Backend must
// pass. Adapters call Run from their own tests.
package storetest

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	accountguard "github.com/securyflex/accountguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty backend for one subtest.
type Factory func(t *testing.T) accountguard.Backend

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var policy = accountguard.LockoutPolicy{Threshold: 5, Duration: 30 * time.Minute}

// Run exercises the full Backend contract.
func Run(t *testing.T, newBackend Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newBackend(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, newBackend(t)) })
	t.Run("FailureLocksAtThreshold", func(t *testing.T) { testFailureLocksAtThreshold(t, newBackend(t)) })
	t.Run("ConcurrentFailuresAreCounted", func(t *testing.T) { testConcurrentFailures(t, newBackend(t)) })
	t.Run("ResetLoginFailures", func(t *testing.T) { testResetLoginFailures(t, newBackend(t)) })
	t.Run("UpdateStatus", func(t *testing.T) { testUpdateStatus(t, newBackend(t)) })
	t.Run("ConsumeResetToken", func(t *testing.T) { testConsumeResetToken(t, newBackend(t)) })
	t.Run("ConsumeRejects", func(t *testing.T) { testConsumeRejects(t, newBackend(t)) })
	t.Run("ConcurrentConsumeOnce", func(t *testing.T) { testConcurrentConsume(t, newBackend(t)) })
	t.Run("RevokeOutstanding", func(t *testing.T) { testRevokeOutstanding(t, newBackend(t)) })
	t.Run("EventsNewestFirst", func(t *testing.T) { testEvents(t, newBackend(t)) })
	t.Run("EventSubjectOutsideAccounts", func(t *testing.T) { testEventSubjectOutsideAccounts(t, newBackend(t)) })
}

func newAccount(t *testing.T, b accountguard.Backend, email string) accountguard.Account {
	t.Helper()
	a, err := b.Create(context.Background(), accountguard.Account{
		Email:        email,
		DisplayName:  "Test Guard",
		Role:         accountguard.RoleGuard,
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		Status:       accountguard.StatusPending,
		CreatedAt:    base,
		UpdatedAt:    base,
	})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	return a
}

func newToken(t *testing.T, b accountguard.Backend, accountID string, purpose accountguard.Purpose, secret string, ttl time.Duration) accountguard.TokenRecord {
	t.Helper()
	r := accountguard.TokenRecord{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Purpose:    purpose,
		SecretHash: sha256.Sum256([]byte(secret)),
		ExpiresAt:  base.Add(ttl),
		CreatedAt:  base,
	}
	require.NoError(t, b.SaveToken(context.Background(), r))
	return r
}

func testCreateAndFind(t *testing.T, b accountguard.Backend) {
	ctx := context.Background()
	created := newAccount(t, b, "Guard@SecuryFlex.nl")
	assert.Equal(t, "guard@securyflex.nl", created.Email)

	byEmail, err := b.FindByEmail(ctx, "GUARD@securyflex.nl")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
	assert.Equal(t, created.PasswordHash, byEmail.PasswordHash)
	assert.Equal(t, accountguard.RoleGuard, byEmail.Role)

	byID, err := b.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Email, byID.Email)

	_, err = b.FindByEmail(ctx, "ghost@securyflex.nl")
	assert.ErrorIs(t, err, accountguard.ErrAccountNotFound)
	_, err = b.FindByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, accountguard.ErrAccountNotFound)
}

func testDuplicateEmail(t *testing.T, b accountguard.Backend) {
	newAccount(t, b, "dup@securyflex.nl")
	_, err := b.Create(context.Background(), accountguard.Account{
		Email:        "DUP@securyflex.nl",
		Role:         accountguard.RoleClient,
		PasswordHash: "x",
		Status:       accountguard.StatusPending,
		CreatedAt:    base,
		UpdatedAt:    base,
	})
	assert.ErrorIs(t, err, accountguard.ErrAccountExists)
}

func testFailureLocksAtThreshold(t *testing.T, b accountguard.Backend) {
	ctx := context.Background()
	a := newAccount(t, b, "lock@securyflex.nl")

	var outcome accountguard.FailureOutcome
	var err error
	for i := 1; i < policy.Threshold; i++ {
		outcome, err = b.RecordLoginFailure(ctx, a.ID, base, policy)
		require.NoError(t, err)
		assert.False(t, outcome.JustLocked)
		assert.Equal(t, i, outcome.Account.FailedLoginAttempts)
		assert.Nil(t, outcome.Account.LockedUntil)
	}

	outcome, err = b.RecordLoginFailure(ctx, a.ID, base, policy)
	require.NoError(t, err)
	assert.True(t, outcome.JustLocked)
	assert.Equal(t, policy.Threshold, outcome.Account.FailedLoginAttempts)
	require.NotNil(t, outcome.Account.LockedUntil)
	assert.True(t, outcome.Account.LockedUntil.Equal(base.Add(policy.Duration)))

	// Failures inside the window neither grow the counter nor extend the lock.
	outcome, err = b.RecordLoginFailure(ctx, a.ID, base.Add(time.Minute), policy)
	require.NoError(t, err)
	assert.False(t, outcome.JustLocked)
	assert.Equal(t, policy.Threshold, outcome.Account.FailedLoginAttempts)
	assert.True(t, outcome.Account.LockedUntil.Equal(base.Add(policy.Duration)))

	stored, err := b.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, policy.Threshold, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LockedUntil)
}

func testConcurrentFailures(t *testing.T, b accountguard.Backend) {
	ctx := context.Background()
	a := newAccount(t, b, "race@securyflex.nl")
	wide := accountguard.LockoutPolicy{Threshold: 1000, Duration: time.Minute}

	const workers = 12
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.RecordLoginFailure(ctx, a.ID, base, wide)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := b.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, stored.FailedLoginAttempts)
}

func testResetLoginFailures(t *testing.T, b accountguard.Backend) {
	ctx := context.Background()
	a := newAccount(t, b, "reset@securyflex.nl")
	for i := 0; i < policy.Threshold; i++ {
		_, err := b.RecordLoginFailure(ctx, a.ID, base, policy)
		require.NoError(t, err)
	}

	first, err := b.ResetLoginFailures(ctx, a.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, first.FailedLoginAttempts)
	assert.Nil(t, first.LastFailedLoginAt)
	assert.Nil(t, first.LockedUntil)

	second, err := b.ResetLoginFailures(ctx, a.ID, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.LockState(), second.LockState())
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt), "no-op reset must not touch the row")

	_, err = b.ResetLoginFailures(ctx, uuid.NewString(), base)
	assert.ErrorIs(t, err, accountguard.ErrAccountNotFound)
}

func testUpdateStatus(t *testing.T, b accountguard.Backend) {
	ctx := context.Background()
	a := newAccount(t, b, "status@securyflex.nl")

	suspended, err := b.UpdateStatus(ctx, a.ID, accountguard.StatusSuspended, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, accountguard.StatusSuspended, suspended.Status)
	assert.True(t, suspended.UpdatedAt.Equal(base.Add(time.Minute)))

	again, err := b.UpdateStatus(ctx, a.ID, accountguard.StatusSuspended, base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, again.UpdatedAt.Equal(base.Add(time.Minute)))

	stored, err := b.FindByEmail(ctx, a.Email)
	require.NoError(t, err)
	assert.Equal(t, accountguard.StatusSuspended, stored.Status)

	_, err = b.UpdateStatus(ctx, uuid.NewString(), accountguard.StatusActive, base)
	assert.ErrorIs(t, err, accountguard.ErrAccountNotFound)
}

func testConsumeResetToken(t *testing.T, b accountguard.Backend) {
	ctx := context.Background()
	a := newAccount(t, b, "consume@securyflex.nl")
	for i := 0; i < policy.Threshold; i++ {
		_, err := b.RecordLoginFailure(ctx, a.ID, base, policy)
		require.NoError(t, err)
	}
	tok := newToken(t, b, a.ID, accountguard.PurposeReset, "s3cret", time.Hour)

	req := accountguard.ConsumeRequest{
		TokenID:    tok.ID,
		AccountID:  a.ID,
		Purpose:    accountguard.PurposeReset,
		SecretHash: sha256.Sum256([]byte("s3cret")),
		Now:        base.Add(10 * time.Minute),
		Mutation: accountguard.AccountMutation{
			PasswordHash: "new-hash",
			ClearLockout: true,
			At:           base.Add(10 * time.Minute),
		},
	}
	updated, err := b.ConsumeToken(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", updated.PasswordHash)
	assert.Zero(t, updated.FailedLoginAttempts)
	assert.Nil(t, updated.LockedUntil)

	stored, err := b.FindToken(ctx, tok.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.UsedAt)

	// A second consume fails and leaves the account alone.
	req.Mutation.PasswordHash = "second-hash"
	_, err = b.ConsumeToken(ctx, req)
	assert.ErrorIs(t, err, accountguard.ErrTokenUsed)

	after, err := b.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", after.PasswordHash)
}

func testConsumeRejects(t *testing.T, b accountguard.Backend) {
	ctx := context.Background()
	a := newAccount(t, b, "reject@securyflex.nl")
	other := newAccount(t, b, "other@securyflex.nl")
	tok := newToken(t, b, a.ID, accountguard.PurposeVerify, "verify-me", time.Hour)
	hash := sha256.Sum256([]byte("verify-me"))

	cases := []struct {
		name string
		req  accountguard.ConsumeRequest
		want error
	}{
		{"unknown", accountguard.ConsumeRequest{TokenID: uuid.NewString(), AccountID: a.ID, Purpose: accountguard.PurposeVerify, SecretHash: hash, Now: base}, accountguard.ErrTokenInvalid},
		{"wrong purpose", accountguard.ConsumeRequest{TokenID: tok.ID, AccountID: a.ID, Purpose: accountguard.PurposeReset, SecretHash: hash, Now: base}, accountguard.ErrTokenInvalid},
		{"wrong owner", accountguard.ConsumeRequest{TokenID: tok.ID, AccountID: other.ID, Purpose: accountguard.PurposeVerify, SecretHash: hash, Now: base}, accountguard.ErrTokenInvalid},
		{"wrong secret", accountguard.ConsumeRequest{TokenID: tok.ID, AccountID: a.ID, Purpose: accountguard.PurposeVerify, SecretHash: sha256.Sum256([]byte("nope")), Now: base}, accountguard.ErrTokenInvalid},
		{"at expiry", accountguard.ConsumeRequest{TokenID: tok.ID, AccountID: a.ID, Purpose: accountguard.PurposeVerify, SecretHash: hash, Now: base.Add(time.Hour)}, accountguard.ErrTokenExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.Mutation = accountguard.AccountMutation{MarkVerified: true, At: tc.req.Now}
			_, err := b.ConsumeToken(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	stored, err := b.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, stored.Verified)

	verified, err := b.ConsumeToken(ctx, accountguard.ConsumeRequest{
		TokenID: tok.ID, AccountID: a.ID, Purpose: accountguard.PurposeVerify, SecretHash: hash,
		Now:      base.Add(time.Minute),
		Mutation: accountguard.AccountMutation{MarkVerified: true, At: base.Add(time.Minute)},
	})
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Equal(t, accountguard.StatusActive, verified.Status)
	require.NotNil(t, verified.VerifiedAt)
}

func testConcurrentConsume(t *testing.T, b accountguard.Backend) {
	ctx := context.Background()
	a := newAccount(t, b, "once@securyflex.nl")
	tok := newToken(t, b, a.ID, accountguard.PurposeReset, "only-once", time.Hour)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.ConsumeToken(ctx, accountguard.ConsumeRequest{
				TokenID: tok.ID, AccountID: a.ID, Purpose: accountguard.PurposeReset,
				SecretHash: sha256.Sum256([]byte("only-once")),
				Now:        base.Add(time.Minute),
				Mutation:   accountguard.AccountMutation{PasswordHash: "h", ClearLockout: true, At: base.Add(time.Minute)},
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, accountguard.ErrTokenUsed)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func testRevokeOutstanding(t *testing.T, b accountguard.Backend) {
	ctx := context.Background()
	a := newAccount(t, b, "revoke@securyflex.nl")
	first := newToken(t, b, a.ID, accountguard.PurposeReset, "one", time.Hour)
	second := newToken(t, b, a.ID, accountguard.PurposeReset, "two", time.Hour)
	verify := newToken(t, b, a.ID, accountguard.PurposeVerify, "three", time.Hour)

	n, err := b.RevokeOutstanding(ctx, a.ID, accountguard.PurposeReset, base)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{first.ID, second.ID} {
		_, err := b.FindToken(ctx, id)
		assert.ErrorIs(t, err, accountguard.ErrTokenInvalid)
	}
	_, err = b.FindToken(ctx, verify.ID)
	assert.NoError(t, err)
}

func testEvents(t *testing.T, b accountguard.Backend) {
	ctx := context.Background()
	a := newAccount(t, b, "events@securyflex.nl")

	kinds := []accountguard.EventKind{
		accountguard.EventLoginFailed,
		accountguard.EventLoginFailed,
		accountguard.EventAccountLocked,
		accountguard.EventAccountUnlocked,
	}
	for i, kind := range kinds {
		require.NoError(t, b.Append(ctx, accountguard.SecurityEvent{
			ID:        uuid.NewString(),
			Kind:      kind,
			AccountID: a.ID,
			Email:     a.Email,
			IP:        "203.0.113.7",
			Metadata:  accountguard.Metadata{"seq": i},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, b.Append(ctx, accountguard.SecurityEvent{
		ID:        uuid.NewString(),
		Kind:      accountguard.EventLoginFailed,
		Email:     "ghost@securyflex.nl",
		CreatedAt: base.Add(10 * time.Second),
	}))

	all, err := b.Query(ctx, accountguard.EventFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt), "events must be newest first")
	}
	assert.Empty(t, all[0].AccountID)

	failed, err := b.Query(ctx, accountguard.EventFilter{
		Kinds:     []accountguard.EventKind{accountguard.EventLoginFailed},
		AccountID: a.ID,
	}, 0)
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	limited, err := b.Query(ctx, accountguard.EventFilter{Email: "EVENTS@securyflex.nl"}, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, accountguard.EventAccountUnlocked, limited[0].Kind)
	assert.EqualValues(t, 3, limited[0].Metadata["seq"])

	recent, err := b.Query(ctx, accountguard.EventFilter{Since: base.Add(3 * time.Second)}, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

// Denials and operator actions can name a subject that is not a stored
// account; the append must still land.
func testEventSubjectOutsideAccounts(t *testing.T, b accountguard.Backend) {
	ctx := context.Background()
	subjects := []string{"cli:admin@securyflex.nl", uuid.NewString(), ""}
	for i, id := range subjects {
		require.NoError(t, b.Append(ctx, accountguard.SecurityEvent{
			ID:        uuid.NewString(),
			Kind:      accountguard.EventAdminAction,
			AccountID: id,
			Email:     "admin@securyflex.nl",
			Metadata:  accountguard.Metadata{"action": "unlock_account"},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}), "subject %q", id)
	}

	all, err := b.Query(ctx, accountguard.EventFilter{Kinds: []accountguard.EventKind{accountguard.EventAdminAction}}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Empty(t, all[0].AccountID)

	byID, err := b.Query(ctx, accountguard.EventFilter{AccountID: subjects[0]}, 0)
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, subjects[0], byID[0].AccountID)
}
