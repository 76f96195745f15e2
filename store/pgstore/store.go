// Package pgstore is a PostgreSQL Backend built on pgx.
//
// Failure counting and token consumption each run in one transaction that
// locks the account row (and token row) with SELECT ... FOR UPDATE, so
// concurrent attempts serialize on the row and a crash leaves prior state
// untouched.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	accountguard "github.com/securyflex/accountguard"
)

const uniqueViolation = "23505"

const accountColumns = `id::text, email, display_name, role, password_hash, verified, verified_at,
	status, failed_login_attempts, last_failed_login_at, locked_until, created_at, updated_at`

type Store struct {
	pool *pgxpool.Pool
}

var _ accountguard.Backend = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects a pool from a connection string and pings it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), nil
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() { s.pool.Close() }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", accountguard.ErrUnavailable, err)
}

func scanAccount(row pgx.Row) (accountguard.Account, error) {
	var (
		a      accountguard.Account
		role   string
		status string
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.DisplayName, &role, &a.PasswordHash, &a.Verified, &a.VerifiedAt,
		&status, &a.FailedLoginAttempts, &a.LastFailedLoginAt, &a.LockedUntil, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accountguard.Account{}, accountguard.ErrAccountNotFound
		}
		return accountguard.Account{}, err
	}
	a.Role = accountguard.Role(role)
	a.Status = accountguard.AccountStatus(status)
	return a, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (accountguard.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(email) = $1`,
		accountguard.NormalizeEmail(email))
	a, err := scanAccount(row)
	if err != nil && !errors.Is(err, accountguard.ErrAccountNotFound) {
		return accountguard.Account{}, unavailable(err)
	}
	return a, err
}

func (s *Store) FindByID(ctx context.Context, id string) (accountguard.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return accountguard.Account{}, accountguard.ErrAccountNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1::uuid`, id)
	a, err := scanAccount(row)
	if err != nil && !errors.Is(err, accountguard.ErrAccountNotFound) {
		return accountguard.Account{}, unavailable(err)
	}
	return a, err
}

func (s *Store) Create(ctx context.Context, a accountguard.Account) (accountguard.Account, error) {
	a.Email = accountguard.NormalizeEmail(a.Email)
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, display_name, role, password_hash, verified, verified_at,
			status, failed_login_attempts, last_failed_login_at, locked_until, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+accountColumns,
		a.ID, a.Email, a.DisplayName, string(a.Role), a.PasswordHash, a.Verified, a.VerifiedAt,
		string(a.Status), a.FailedLoginAttempts, a.LastFailedLoginAt, a.LockedUntil, a.CreatedAt, a.UpdatedAt,
	)
	created, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return accountguard.Account{}, accountguard.ErrAccountExists
		}
		return accountguard.Account{}, unavailable(err)
	}
	return created, nil
}

func lockAccount(ctx context.Context, tx pgx.Tx, id string) (accountguard.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return accountguard.Account{}, accountguard.ErrAccountNotFound
	}
	return scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1::uuid FOR UPDATE`, id))
}

func writeAccount(ctx context.Context, tx pgx.Tx, a accountguard.Account) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET
			password_hash = $2,
			verified = $3,
			verified_at = $4,
			status = $5,
			failed_login_attempts = $6,
			last_failed_login_at = $7,
			locked_until = $8,
			updated_at = $9
		WHERE id = $1::uuid`,
		a.ID, a.PasswordHash, a.Verified, a.VerifiedAt, string(a.Status),
		a.FailedLoginAttempts, a.LastFailedLoginAt, a.LockedUntil, a.UpdatedAt,
	)
	return err
}

// inTx runs fn in a transaction. Domain errors from fn pass through
// unwrapped; everything else reports the backend unavailable.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	err := pgx.BeginFunc(ctx, s.pool, fn)
	if err == nil || isDomainError(err) {
		return err
	}
	return unavailable(err)
}

func isDomainError(err error) bool {
	return errors.Is(err, accountguard.ErrAccountNotFound) ||
		errors.Is(err, accountguard.ErrAccountExists) ||
		accountguard.IsTokenError(err)
}

func (s *Store) RecordLoginFailure(ctx context.Context, id string, now time.Time, policy accountguard.LockoutPolicy) (accountguard.FailureOutcome, error) {
	var outcome accountguard.FailureOutcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		account, err := lockAccount(ctx, tx, id)
		if err != nil {
			return err
		}

		state, justLocked := policy.ApplyFailure(account.LockState(), now)
		account = account.WithLockState(state)
		account.UpdatedAt = now
		if err := writeAccount(ctx, tx, account); err != nil {
			return err
		}

		outcome = accountguard.FailureOutcome{Account: account, JustLocked: justLocked}
		return nil
	})
	return outcome, err
}

func (s *Store) ResetLoginFailures(ctx context.Context, id string, now time.Time) (accountguard.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return accountguard.Account{}, accountguard.ErrAccountNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE accounts SET
			failed_login_attempts = 0,
			last_failed_login_at = NULL,
			locked_until = NULL,
			updated_at = CASE
				WHEN failed_login_attempts = 0 AND last_failed_login_at IS NULL AND locked_until IS NULL
				THEN updated_at ELSE $2 END
		WHERE id = $1::uuid
		RETURNING `+accountColumns, id, now)
	a, err := scanAccount(row)
	if err != nil && !errors.Is(err, accountguard.ErrAccountNotFound) {
		return accountguard.Account{}, unavailable(err)
	}
	return a, err
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status accountguard.AccountStatus, now time.Time) (accountguard.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return accountguard.Account{}, accountguard.ErrAccountNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE accounts SET
			status = $2,
			updated_at = CASE WHEN status = $2 THEN updated_at ELSE $3 END
		WHERE id = $1::uuid
		RETURNING `+accountColumns, id, string(status), now)
	a, err := scanAccount(row)
	if err != nil && !errors.Is(err, accountguard.ErrAccountNotFound) {
		return accountguard.Account{}, unavailable(err)
	}
	return a, err
}

func (s *Store) SaveToken(ctx context.Context, r accountguard.TokenRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_tokens (id, account_id, purpose, secret_hash, expires_at, used_at, created_at)
		VALUES ($1, $2::uuid, $3, $4, $5, $6, $7)`,
		r.ID, r.AccountID, string(r.Purpose), r.SecretHash[:], r.ExpiresAt, r.UsedAt, r.CreatedAt,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

const tokenColumns = `id, account_id::text, purpose, secret_hash, expires_at, used_at, created_at`

func scanToken(row pgx.Row) (accountguard.TokenRecord, error) {
	var (
		r       accountguard.TokenRecord
		purpose string
		hash    []byte
	)
	if err := row.Scan(&r.ID, &r.AccountID, &purpose, &hash, &r.ExpiresAt, &r.UsedAt, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accountguard.TokenRecord{}, accountguard.ErrTokenInvalid
		}
		return accountguard.TokenRecord{}, err
	}
	if len(hash) != len(r.SecretHash) {
		return accountguard.TokenRecord{}, accountguard.ErrTokenInvalid
	}
	copy(r.SecretHash[:], hash)
	r.Purpose = accountguard.Purpose(purpose)
	return r, nil
}

func (s *Store) FindToken(ctx context.Context, id string) (accountguard.TokenRecord, error) {
	r, err := scanToken(s.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM account_tokens WHERE id = $1`, id))
	if err != nil && !accountguard.IsTokenError(err) {
		return accountguard.TokenRecord{}, unavailable(err)
	}
	return r, err
}

func (s *Store) RevokeOutstanding(ctx context.Context, accountID string, purpose accountguard.Purpose, _ time.Time) (int, error) {
	if _, err := uuid.Parse(accountID); err != nil {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM account_tokens WHERE account_id = $1::uuid AND purpose = $2 AND used_at IS NULL`,
		accountID, string(purpose))
	if err != nil {
		return 0, unavailable(err)
	}
	return int(tag.RowsAffected()), nil
}

// ConsumeToken locks the token row, checks it, applies the mutation to the
// locked account row and marks the token used as the last write before
// commit.
func (s *Store) ConsumeToken(ctx context.Context, req accountguard.ConsumeRequest) (accountguard.Account, error) {
	var result accountguard.Account
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		record, err := scanToken(tx.QueryRow(ctx,
			`SELECT `+tokenColumns+` FROM account_tokens WHERE id = $1 FOR UPDATE`, req.TokenID))
		if err != nil && !accountguard.IsTokenError(err) {
			return err
		}
		if err := record.Check(req.Purpose, req.AccountID, req.SecretHash, req.Now); err != nil {
			return err
		}

		account, err := lockAccount(ctx, tx, record.AccountID)
		if err != nil {
			return err
		}
		account = req.Mutation.Apply(account)
		if err := writeAccount(ctx, tx, account); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE account_tokens SET used_at = $2 WHERE id = $1`, record.ID, req.Now); err != nil {
			return err
		}
		result = account
		return nil
	})
	return result, err
}

func (s *Store) Append(ctx context.Context, ev accountguard.SecurityEvent) error {
	var metadata []byte
	if len(ev.Metadata) > 0 {
		encoded, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		metadata = encoded
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO security_events (id, kind, account_id, email, ip, user_agent, metadata, created_at)
		VALUES ($1::uuid, $2, NULLIF($3, ''), $4, $5, $6, $7::jsonb, $8)`,
		ev.ID, string(ev.Kind), ev.AccountID, ev.Email, ev.IP, ev.UserAgent, metadata, ev.CreatedAt,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter accountguard.EventFilter, limit int) ([]accountguard.SecurityEvent, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		where = append(where, "kind = ANY("+arg(kinds)+")")
	}
	if filter.AccountID != "" {
		where = append(where, "account_id::text = "+arg(filter.AccountID))
	}
	if filter.Email != "" {
		where = append(where, "email = "+arg(accountguard.NormalizeEmail(filter.Email)))
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= "+arg(filter.Since))
	}

	sql := `SELECT id::text, kind, COALESCE(account_id::text, ''), email, ip, user_agent, metadata, created_at
		FROM security_events`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC"
	if limit > 0 {
		sql += " LIMIT " + arg(limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	out := make([]accountguard.SecurityEvent, 0)
	for rows.Next() {
		var (
			ev       accountguard.SecurityEvent
			kind     string
			metadata []byte
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.AccountID, &ev.Email, &ev.IP, &ev.UserAgent, &metadata, &ev.CreatedAt); err != nil {
			return nil, unavailable(err)
		}
		ev.Kind = accountguard.EventKind(kind)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, unavailable(err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}
