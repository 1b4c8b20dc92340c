// Package postgres provides a PostgreSQL-backed AccountRepository.
//
// Accounts live in a single table with a unique external_id column. Creation
// uses INSERT ... ON CONFLICT DO NOTHING so concurrent first contacts from
// several processes converge on one row, and balance changes are single
// UPDATE ... RETURNING statements.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/rewritegate"
)

// Store is a PostgreSQL-backed AccountRepository.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ rewritegate.AccountRepository = (*Store)(nil)
	_ rewritegate.SchemaInitializer = (*Store)(nil)
	_ rewritegate.AccountAdmin      = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "rewritegate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed AccountRepository.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "rewritegate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accountsTable() string { return s.tablePrefix + "accounts" }

const columns = `id, external_id, COALESCE(display_name, ''), provider, model, token_balance, is_exempt, created_at, updated_at`

// EnsureSchema creates the accounts table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			external_id BIGINT NOT NULL UNIQUE,
			display_name TEXT,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			token_balance BIGINT NOT NULL DEFAULT %d,
			is_exempt BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, s.accountsTable(), rewritegate.DefaultTokenBalance)
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("rewritegate/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) FindByExternalID(ctx context.Context, externalID int64) (rewritegate.Account, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE external_id = $1`, columns, s.accountsTable()),
		externalID,
	)
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rewritegate.Account{}, rewritegate.ErrAccountNotFound
	}
	if err != nil {
		return rewritegate.Account{}, fmt.Errorf("rewritegate/postgres: find account: %w", err)
	}
	return acc, nil
}

func (s *Store) Insert(ctx context.Context, acc rewritegate.NewAccount) (rewritegate.Account, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (external_id, display_name, provider, model, token_balance)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5)
			ON CONFLICT (external_id) DO NOTHING
			RETURNING %s`, s.accountsTable(), columns),
		acc.ExternalID, acc.DisplayName, string(acc.Provider), string(acc.Model), acc.TokenBalance,
	)
	created, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return rewritegate.Account{}, rewritegate.ErrDuplicateAccount
	}
	if err != nil {
		return rewritegate.Account{}, fmt.Errorf("rewritegate/postgres: insert account: %w", err)
	}
	return created, nil
}

func (s *Store) DecrementBalance(ctx context.Context, id int64, amount int64) (rewritegate.Account, error) {
	return s.updateOne(ctx, "decrement balance",
		`token_balance = token_balance - $2`, "id", id, amount)
}

func (s *Store) UpdateSelection(ctx context.Context, id int64, provider rewritegate.ProviderName, model rewritegate.ModelName) (rewritegate.Account, error) {
	return s.updateOne(ctx, "update selection",
		`provider = $2, model = $3`, "id", id, string(provider), string(model))
}

func (s *Store) SetExempt(ctx context.Context, externalID int64, exempt bool) (rewritegate.Account, error) {
	return s.updateOne(ctx, "set exempt",
		`is_exempt = $2`, "external_id", externalID, exempt)
}

func (s *Store) SetBalance(ctx context.Context, externalID int64, balance int64) (rewritegate.Account, error) {
	return s.updateOne(ctx, "set balance",
		`token_balance = $2`, "external_id", externalID, balance)
}

// updateOne applies set to the row whose key column equals key ($1) and
// returns the updated row.
func (s *Store) updateOne(ctx context.Context, op, set, keyColumn string, key int64, args ...any) (rewritegate.Account, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %s SET %s, updated_at = now() WHERE %s = $1 RETURNING %s`,
			s.accountsTable(), set, keyColumn, columns),
		append([]any{key}, args...)...,
	)
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rewritegate.Account{}, rewritegate.ErrAccountNotFound
	}
	if err != nil {
		return rewritegate.Account{}, fmt.Errorf("rewritegate/postgres: %s: %w", op, err)
	}
	return acc, nil
}

func scanAccount(row pgx.Row) (rewritegate.Account, error) {
	var (
		acc             rewritegate.Account
		provider, model string
	)
	err := row.Scan(&acc.ID, &acc.ExternalID, &acc.DisplayName, &provider, &model,
		&acc.TokenBalance, &acc.Exempt, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return rewritegate.Account{}, err
	}
	acc.Provider = rewritegate.ProviderName(provider)
	acc.Model = rewritegate.ModelName(model)
	return acc, nil
}

// isUniqueViolation reports a PostgreSQL unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
