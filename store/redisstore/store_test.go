package redisstore

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	accountguard "github.com/securyflex/accountguard"
	"github.com/securyflex/accountguard/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts Options) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, opts), mr
}

func TestBackendConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) accountguard.Backend {
		s, _ := newTestStore(t, Options{MaxRetries: 64})
		return s
	})
}

func TestTokenKeysCarryTTL(t *testing.T) {
	s, mr := newTestStore(t, Options{Prefix: "test", TokenRetention: time.Hour})
	ctx := context.Background()
	now := time.Now().UTC()

	a, err := s.Create(ctx, accountguard.Account{
		Email: "ttl@securyflex.nl", Role: accountguard.RoleGuard, PasswordHash: "h",
		Status: accountguard.StatusPending, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	require.NoError(t, s.SaveToken(ctx, accountguard.TokenRecord{
		ID: "tok-1", AccountID: a.ID, Purpose: accountguard.PurposeReset,
		SecretHash: sha256.Sum256([]byte("x")),
		ExpiresAt:  now.Add(time.Hour), CreatedAt: now,
	}))

	assert.True(t, mr.Exists("test:tok:tok-1"))
	ttl := mr.TTL("test:tok:tok-1")
	assert.Greater(t, ttl, time.Hour)
	assert.LessOrEqual(t, ttl, 2*time.Hour+time.Second)

	members, err := mr.Members("test:acctok:" + a.ID + ":reset")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-1"}, members)

	// Past retention the record is gone and classifies as invalid.
	mr.FastForward(3 * time.Hour)
	_, err = s.FindToken(ctx, "tok-1")
	assert.ErrorIs(t, err, accountguard.ErrTokenInvalid)
}

func TestEventsAreTrimmed(t *testing.T) {
	s, _ := newTestStore(t, Options{MaxEvents: 3})
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, accountguard.SecurityEvent{
			ID:        "ev-" + string(rune('a'+i)),
			Kind:      accountguard.EventLoginFailed,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := s.Query(ctx, accountguard.EventFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "ev-e", events[0].ID)
	assert.Equal(t, "ev-c", events[2].ID)
}

func TestUnavailableWrapsRedisErrors(t *testing.T) {
	s, mr := newTestStore(t, Options{})
	mr.Close()

	_, err := s.FindByEmail(context.Background(), "down@securyflex.nl")
	assert.ErrorIs(t, err, accountguard.ErrUnavailable)
}

func TestRevokeRacingConsumeKeepsUsedRecord(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	now := time.Now().UTC()

	a, err := s.Create(ctx, accountguard.Account{
		Email: "race@securyflex.nl", Role: accountguard.RoleGuard, PasswordHash: "h",
		Status: accountguard.StatusPending, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	secret := sha256.Sum256([]byte("secret"))
	require.NoError(t, s.SaveToken(ctx, accountguard.TokenRecord{
		ID: "tok-race", AccountID: a.ID, Purpose: accountguard.PurposeReset,
		SecretHash: secret, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))

	consumed := false
	s.beforeRevoke = func() {
		if consumed {
			return
		}
		consumed = true
		_, err := s.ConsumeToken(ctx, accountguard.ConsumeRequest{
			TokenID:    "tok-race",
			AccountID:  a.ID,
			Purpose:    accountguard.PurposeReset,
			SecretHash: secret,
			Now:        now,
			Mutation:   accountguard.AccountMutation{ClearLockout: true, At: now},
		})
		require.NoError(t, err)
	}

	n, err := s.RevokeOutstanding(ctx, a.ID, accountguard.PurposeReset, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "the consumed token is no longer outstanding")
	require.True(t, consumed)

	record, err := s.FindToken(ctx, "tok-race")
	require.NoError(t, err)
	assert.ErrorIs(t, record.Check(accountguard.PurposeReset, a.ID, secret, now), accountguard.ErrTokenUsed)
}

func TestCorruptAccountIsUnavailable(t *testing.T) {
	s, mr := newTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, mr.Set(s.accountKey("broken"), "{not json"))
	require.NoError(t, mr.Set(s.emailKey("broken@securyflex.nl"), "broken"))

	_, err := s.FindByID(ctx, "broken")
	assert.ErrorIs(t, err, accountguard.ErrUnavailable)
	_, err = s.FindByEmail(ctx, "broken@securyflex.nl")
	assert.ErrorIs(t, err, accountguard.ErrUnavailable)
}
