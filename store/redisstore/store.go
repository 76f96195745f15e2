// Package redisstore is a Redis Backend. Accounts are JSON documents,
// tokens use the versioned binary layout from internal/stores, and security
// events are a capped list, newest first.
//
// Failure counting and token consumption are WATCH/MULTI optimistic
// transactions retried on contention, so concurrent failures are never lost
// and a token is consumed at most once.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	accountguard "github.com/securyflex/accountguard"
	"github.com/securyflex/accountguard/internal/stores"
)

const defaultMaxRetries = 8

// ErrContention is returned when an optimistic transaction lost every retry.
var ErrContention = errors.New("redis transaction contention")

type Options struct {
	// Prefix namespaces every key. Default "sf".
	Prefix string
	// MaxEvents caps the event list. Default 100000.
	MaxEvents int64
	// TokenRetention keeps token records past expiry so late reuse is still
	// classified. Default 24h.
	TokenRetention time.Duration
	// MaxRetries bounds optimistic transaction attempts. Default 8.
	MaxRetries int
}

type Store struct {
	redis redis.UniversalClient
	opts  Options

	// beforeRevoke runs between reading and deleting outstanding tokens.
	beforeRevoke func()
}

var _ accountguard.Backend = (*Store)(nil)

func New(client redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "sf"
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 100000
	}
	if opts.TokenRetention <= 0 {
		opts.TokenRetention = 24 * time.Hour
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Store{redis: client, opts: opts}
}

func (s *Store) accountKey(id string) string { return s.opts.Prefix + ":acct:" + id }
func (s *Store) emailKey(email string) string {
	return s.opts.Prefix + ":email:" + accountguard.NormalizeEmail(email)
}
func (s *Store) tokenKey(id string) string { return s.opts.Prefix + ":tok:" + id }
func (s *Store) outstandingKey(accountID string, purpose accountguard.Purpose) string {
	return s.opts.Prefix + ":acctok:" + accountID + ":" + string(purpose)
}
func (s *Store) eventsKey() string { return s.opts.Prefix + ":events" }

// storedAccount keeps the password hash, which Account hides from JSON.
type storedAccount struct {
	accountguard.Account
	PasswordHash string `json:"password_hash"`
}

func encodeAccount(a accountguard.Account) ([]byte, error) {
	return json.Marshal(storedAccount{Account: a, PasswordHash: a.PasswordHash})
}

func decodeAccount(data []byte) (accountguard.Account, error) {
	var stored storedAccount
	if err := json.Unmarshal(data, &stored); err != nil {
		return accountguard.Account{}, err
	}
	a := stored.Account
	a.PasswordHash = stored.PasswordHash
	return a, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", accountguard.ErrUnavailable, err)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (accountguard.Account, error) {
	id, err := s.redis.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return accountguard.Account{}, accountguard.ErrAccountNotFound
		}
		return accountguard.Account{}, unavailable(err)
	}
	return s.FindByID(ctx, id)
}

func (s *Store) FindByID(ctx context.Context, id string) (accountguard.Account, error) {
	data, err := s.redis.Get(ctx, s.accountKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return accountguard.Account{}, accountguard.ErrAccountNotFound
		}
		return accountguard.Account{}, unavailable(err)
	}
	a, err := decodeAccount(data)
	if err != nil {
		return accountguard.Account{}, unavailable(err)
	}
	return a, nil
}

func (s *Store) Create(ctx context.Context, account accountguard.Account) (accountguard.Account, error) {
	account.Email = accountguard.NormalizeEmail(account.Email)
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	encoded, err := encodeAccount(account)
	if err != nil {
		return accountguard.Account{}, unavailable(err)
	}

	emailKey := s.emailKey(account.Email)
	acctKey := s.accountKey(account.ID)

	err = s.retry(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, emailKey, acctKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return accountguard.ErrAccountExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, emailKey, account.ID, 0)
			pipe.Set(ctx, acctKey, encoded, 0)
			return nil
		})
		return err
	}, emailKey, acctKey)
	if err != nil {
		return accountguard.Account{}, err
	}
	return account, nil
}

func (s *Store) RecordLoginFailure(ctx context.Context, id string, now time.Time, policy accountguard.LockoutPolicy) (accountguard.FailureOutcome, error) {
	var outcome accountguard.FailureOutcome
	key := s.accountKey(id)

	err := s.retry(ctx, func(tx *redis.Tx) error {
		account, err := s.loadAccount(ctx, tx, key)
		if err != nil {
			return err
		}

		state, justLocked := policy.ApplyFailure(account.LockState(), now)
		account = account.WithLockState(state)
		account.UpdatedAt = now

		encoded, err := encodeAccount(account)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		}); err != nil {
			return err
		}

		outcome = accountguard.FailureOutcome{Account: account, JustLocked: justLocked}
		return nil
	}, key)
	return outcome, err
}

func (s *Store) ResetLoginFailures(ctx context.Context, id string, now time.Time) (accountguard.Account, error) {
	var result accountguard.Account
	key := s.accountKey(id)

	err := s.retry(ctx, func(tx *redis.Tx) error {
		account, err := s.loadAccount(ctx, tx, key)
		if err != nil {
			return err
		}
		if account.FailedLoginAttempts == 0 && account.LastFailedLoginAt == nil && account.LockedUntil == nil {
			result = account
			return nil
		}

		account = account.WithLockState(accountguard.LockState{})
		account.UpdatedAt = now
		encoded, err := encodeAccount(account)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		}); err != nil {
			return err
		}
		result = account
		return nil
	}, key)
	return result, err
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status accountguard.AccountStatus, now time.Time) (accountguard.Account, error) {
	var result accountguard.Account
	key := s.accountKey(id)

	err := s.retry(ctx, func(tx *redis.Tx) error {
		account, err := s.loadAccount(ctx, tx, key)
		if err != nil {
			return err
		}
		if account.Status == status {
			result = account
			return nil
		}

		account.Status = status
		account.UpdatedAt = now
		encoded, err := encodeAccount(account)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		}); err != nil {
			return err
		}
		result = account
		return nil
	}, key)
	return result, err
}

func (s *Store) SaveToken(ctx context.Context, record accountguard.TokenRecord) error {
	encoded, err := stores.EncodeTokenRecord(toWire(record))
	if err != nil {
		return err
	}

	ttl := time.Until(record.ExpiresAt) + s.opts.TokenRetention
	if ttl <= 0 {
		ttl = s.opts.TokenRetention
	}
	setKey := s.outstandingKey(record.AccountID, record.Purpose)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(record.ID), encoded, ttl)
		pipe.SAdd(ctx, setKey, record.ID)
		pipe.Expire(ctx, setKey, ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) FindToken(ctx context.Context, id string) (accountguard.TokenRecord, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return accountguard.TokenRecord{}, accountguard.ErrTokenInvalid
		}
		return accountguard.TokenRecord{}, unavailable(err)
	}
	wire, err := stores.DecodeTokenRecord(data)
	if err != nil {
		return accountguard.TokenRecord{}, accountguard.ErrTokenInvalid
	}
	return fromWire(id, wire), nil
}

// RevokeOutstanding deletes every token still listed as outstanding for the
// account and purpose. Consumed tokens leave the list in the same
// transaction that marks them used, so the list is watched: a consume that
// lands mid-revoke forces a re-read and its used record survives.
func (s *Store) RevokeOutstanding(ctx context.Context, accountID string, purpose accountguard.Purpose, _ time.Time) (int, error) {
	setKey := s.outstandingKey(accountID, purpose)

	var revoked int
	err := s.retry(ctx, func(tx *redis.Tx) error {
		revoked = 0
		ids, err := tx.SMembers(ctx, setKey).Result()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if s.beforeRevoke != nil {
			s.beforeRevoke()
		}

		keys := make([]string, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, s.tokenKey(id))
		}

		var deleted *redis.IntCmd
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			deleted = pipe.Del(ctx, keys...)
			pipe.SRem(ctx, setKey, toAny(ids)...)
			return nil
		}); err != nil {
			return err
		}
		revoked = int(deleted.Val())
		return nil
	}, setKey)
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

func (s *Store) ConsumeToken(ctx context.Context, req accountguard.ConsumeRequest) (accountguard.Account, error) {
	var result accountguard.Account
	tokKey := s.tokenKey(req.TokenID)
	acctKey := s.accountKey(req.AccountID)

	err := s.retry(ctx, func(tx *redis.Tx) error {
		var record accountguard.TokenRecord
		data, err := tx.Get(ctx, tokKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			wire, err := stores.DecodeTokenRecord(data)
			if err != nil {
				return accountguard.ErrTokenInvalid
			}
			record = fromWire(req.TokenID, wire)
		}

		if err := record.Check(req.Purpose, req.AccountID, req.SecretHash, req.Now); err != nil {
			return err
		}

		account, err := s.loadAccount(ctx, tx, acctKey)
		if err != nil {
			return err
		}
		account = req.Mutation.Apply(account)

		usedAt := req.Now
		record.UsedAt = &usedAt
		encodedToken, err := stores.EncodeTokenRecord(toWire(record))
		if err != nil {
			return err
		}
		encodedAccount, err := encodeAccount(account)
		if err != nil {
			return err
		}

		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, acctKey, encodedAccount, 0)
			pipe.Set(ctx, tokKey, encodedToken, redis.KeepTTL)
			pipe.SRem(ctx, s.outstandingKey(record.AccountID, record.Purpose), record.ID)
			return nil
		}); err != nil {
			return err
		}
		result = account
		return nil
	}, tokKey, acctKey)
	return result, err
}

func (s *Store) Append(ctx context.Context, event accountguard.SecurityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return unavailable(err)
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.eventsKey(), data)
		pipe.LTrim(ctx, s.eventsKey(), 0, s.opts.MaxEvents-1)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter accountguard.EventFilter, limit int) ([]accountguard.SecurityEvent, error) {
	raw, err := s.redis.LRange(ctx, s.eventsKey(), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]accountguard.SecurityEvent, 0)
	for _, item := range raw {
		var ev accountguard.SecurityEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) loadAccount(ctx context.Context, tx *redis.Tx, key string) (accountguard.Account, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return accountguard.Account{}, accountguard.ErrAccountNotFound
		}
		return accountguard.Account{}, err
	}
	return decodeAccount(data)
}

// retry runs fn under WATCH on keys until it commits or a non-contention
// error occurs. Domain errors pass through; Redis errors are wrapped.
func (s *Store) retry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < s.opts.MaxRetries; i++ {
		err := s.redis.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err == nil || isDomainError(err) {
			return err
		}
		return unavailable(err)
	}
	return unavailable(ErrContention)
}

func isDomainError(err error) bool {
	return errors.Is(err, accountguard.ErrAccountNotFound) ||
		errors.Is(err, accountguard.ErrAccountExists) ||
		accountguard.IsTokenError(err)
}

func toWire(r accountguard.TokenRecord) *stores.TokenRecord {
	wire := &stores.TokenRecord{
		AccountID:  r.AccountID,
		Purpose:    string(r.Purpose),
		SecretHash: r.SecretHash,
		ExpiresAt:  r.ExpiresAt.UnixNano(),
		CreatedAt:  r.CreatedAt.UnixNano(),
	}
	if r.UsedAt != nil {
		wire.UsedAt = r.UsedAt.UnixNano()
	}
	return wire
}

func fromWire(id string, w *stores.TokenRecord) accountguard.TokenRecord {
	r := accountguard.TokenRecord{
		ID:         id,
		AccountID:  w.AccountID,
		Purpose:    accountguard.Purpose(w.Purpose),
		SecretHash: w.SecretHash,
		ExpiresAt:  time.Unix(0, w.ExpiresAt).UTC(),
		CreatedAt:  time.Unix(0, w.CreatedAt).UTC(),
	}
	if w.UsedAt != 0 {
		used := time.Unix(0, w.UsedAt).UTC()
		r.UsedAt = &used
	}
	return r
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
