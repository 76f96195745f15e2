// Package memstore is an in-process Backend for tests, examples and single
// instance deployments. One mutex guards everything, which makes failure
// counting and token consumption trivially atomic.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	accountguard "github.com/securyflex/accountguard"
)

// Store implements accountguard.Backend.
type Store struct {
	mu       sync.Mutex
	accounts map[string]accountguard.Account
	byEmail  map[string]string
	tokens   map[string]accountguard.TokenRecord
	events   []accountguard.SecurityEvent
}

var _ accountguard.Backend = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts: make(map[string]accountguard.Account),
		byEmail:  make(map[string]string),
		tokens:   make(map[string]accountguard.TokenRecord),
	}
}

func (s *Store) FindByEmail(_ context.Context, email string) (accountguard.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[accountguard.NormalizeEmail(email)]
	if !ok {
		return accountguard.Account{}, accountguard.ErrAccountNotFound
	}
	return s.accounts[id], nil
}

func (s *Store) FindByID(_ context.Context, id string) (accountguard.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return accountguard.Account{}, accountguard.ErrAccountNotFound
	}
	return account, nil
}

// Create stores account, assigning an id when it has none.
func (s *Store) Create(_ context.Context, account accountguard.Account) (accountguard.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account.Email = accountguard.NormalizeEmail(account.Email)
	if _, exists := s.byEmail[account.Email]; exists {
		return accountguard.Account{}, accountguard.ErrAccountExists
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if _, exists := s.accounts[account.ID]; exists {
		return accountguard.Account{}, accountguard.ErrAccountExists
	}

	s.accounts[account.ID] = account
	s.byEmail[account.Email] = account.ID
	return account, nil
}

func (s *Store) RecordLoginFailure(_ context.Context, id string, now time.Time, policy accountguard.LockoutPolicy) (accountguard.FailureOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return accountguard.FailureOutcome{}, accountguard.ErrAccountNotFound
	}

	state, justLocked := policy.ApplyFailure(account.LockState(), now)
	account = account.WithLockState(state)
	account.UpdatedAt = now
	s.accounts[id] = account

	return accountguard.FailureOutcome{Account: account, JustLocked: justLocked}, nil
}

func (s *Store) ResetLoginFailures(_ context.Context, id string, now time.Time) (accountguard.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return accountguard.Account{}, accountguard.ErrAccountNotFound
	}

	if account.FailedLoginAttempts != 0 || account.LastFailedLoginAt != nil || account.LockedUntil != nil {
		account = account.WithLockState(accountguard.LockState{})
		account.UpdatedAt = now
		s.accounts[id] = account
	}
	return account, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status accountguard.AccountStatus, now time.Time) (accountguard.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return accountguard.Account{}, accountguard.ErrAccountNotFound
	}
	if account.Status != status {
		account.Status = status
		account.UpdatedAt = now
		s.accounts[id] = account
	}
	return account, nil
}

func (s *Store) SaveToken(_ context.Context, record accountguard.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[record.ID] = record
	return nil
}

func (s *Store) FindToken(_ context.Context, id string) (accountguard.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[id]
	if !ok {
		return accountguard.TokenRecord{}, accountguard.ErrTokenInvalid
	}
	return record, nil
}

// RevokeOutstanding deletes unused tokens of the account and purpose.
func (s *Store) RevokeOutstanding(_ context.Context, accountID string, purpose accountguard.Purpose, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for id, record := range s.tokens {
		if record.AccountID == accountID && record.Purpose == purpose && record.UsedAt == nil {
			delete(s.tokens, id)
			revoked++
		}
	}
	return revoked, nil
}

func (s *Store) ConsumeToken(_ context.Context, req accountguard.ConsumeRequest) (accountguard.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.tokens[req.TokenID]
	if err := record.Check(req.Purpose, req.AccountID, req.SecretHash, req.Now); err != nil {
		return accountguard.Account{}, err
	}

	account, ok := s.accounts[record.AccountID]
	if !ok {
		return accountguard.Account{}, accountguard.ErrAccountNotFound
	}

	account = req.Mutation.Apply(account)
	usedAt := req.Now
	record.UsedAt = &usedAt

	s.accounts[account.ID] = account
	s.tokens[record.ID] = record
	return account, nil
}

func (s *Store) Append(_ context.Context, event accountguard.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, cloneEvent(event))
	return nil
}

func (s *Store) Query(_ context.Context, filter accountguard.EventFilter, limit int) ([]accountguard.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]accountguard.SecurityEvent, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if filter.Matches(s.events[i]) {
			out = append(out, cloneEvent(s.events[i]))
		}
	}

	// Appends can arrive out of clock order under concurrency.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneEvent(ev accountguard.SecurityEvent) accountguard.SecurityEvent {
	if ev.Metadata != nil {
		meta := make(accountguard.Metadata, len(ev.Metadata))
		for k, v := range ev.Metadata {
			meta[k] = v
		}
		ev.Metadata = meta
	}
	return ev
}
