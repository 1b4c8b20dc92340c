// Package sqlite provides a SQLite-backed AccountRepository for single-node
// deployments and local runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/ineyio/rewritegate"
)

// Store is a SQLite-backed AccountRepository.
type Store struct {
	db          *sql.DB
	tablePrefix string
	now         func() time.Time
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

// Open opens the database file at path, creating its directory if needed.
// The returned handle uses a single connection.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("rewritegate/sqlite: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("rewritegate/sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("rewritegate/sqlite: ping: %w", err)
	}
	return db, nil
}

// New creates a new SQLite-backed AccountRepository.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		tablePrefix: "rewritegate_",
		now:         time.Now,
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
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id INTEGER NOT NULL UNIQUE,
			display_name TEXT,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			token_balance INTEGER NOT NULL DEFAULT %d,
			is_exempt INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`, s.accountsTable(), rewritegate.DefaultTokenBalance)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("rewritegate/sqlite: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) FindByExternalID(ctx context.Context, externalID int64) (rewritegate.Account, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE external_id = ?`, columns, s.accountsTable()),
		externalID,
	)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rewritegate.Account{}, rewritegate.ErrAccountNotFound
	}
	if err != nil {
		return rewritegate.Account{}, fmt.Errorf("rewritegate/sqlite: find account: %w", err)
	}
	return acc, nil
}

func (s *Store) Insert(ctx context.Context, acc rewritegate.NewAccount) (rewritegate.Account, error) {
	now := s.now().Unix()
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (external_id, display_name, provider, model, token_balance, created_at, updated_at)
			VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?)
			ON CONFLICT (external_id) DO NOTHING
			RETURNING %s`, s.accountsTable(), columns),
		acc.ExternalID, acc.DisplayName, string(acc.Provider), string(acc.Model), acc.TokenBalance, now, now,
	)
	created, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return rewritegate.Account{}, rewritegate.ErrDuplicateAccount
	}
	if err != nil {
		return rewritegate.Account{}, fmt.Errorf("rewritegate/sqlite: insert account: %w", err)
	}
	return created, nil
}

func (s *Store) DecrementBalance(ctx context.Context, id int64, amount int64) (rewritegate.Account, error) {
	return s.updateOne(ctx, "decrement balance",
		`token_balance = token_balance - ?`, "id", id, amount)
}

func (s *Store) UpdateSelection(ctx context.Context, id int64, provider rewritegate.ProviderName, model rewritegate.ModelName) (rewritegate.Account, error) {
	return s.updateOne(ctx, "update selection",
		`provider = ?, model = ?`, "id", id, string(provider), string(model))
}

func (s *Store) SetExempt(ctx context.Context, externalID int64, exempt bool) (rewritegate.Account, error) {
	return s.updateOne(ctx, "set exempt",
		`is_exempt = ?`, "external_id", externalID, exempt)
}

func (s *Store) SetBalance(ctx context.Context, externalID int64, balance int64) (rewritegate.Account, error) {
	return s.updateOne(ctx, "set balance",
		`token_balance = ?`, "external_id", externalID, balance)
}

// updateOne applies set to the row whose key column equals key. The set
// clause's placeholders are bound to args, in order.
func (s *Store) updateOne(ctx context.Context, op, set, keyColumn string, key int64, args ...any) (rewritegate.Account, error) {
	bind := append(args, s.now().Unix(), key)
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s, updated_at = ? WHERE %s = ? RETURNING %s`,
			s.accountsTable(), set, keyColumn, columns),
		bind...,
	)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rewritegate.Account{}, rewritegate.ErrAccountNotFound
	}
	if err != nil {
		return rewritegate.Account{}, fmt.Errorf("rewritegate/sqlite: %s: %w", op, err)
	}
	return acc, nil
}

func scanAccount(row *sql.Row) (rewritegate.Account, error) {
	var (
		acc                  rewritegate.Account
		provider, model      string
		createdAt, updatedAt int64
	)
	err := row.Scan(&acc.ID, &acc.ExternalID, &acc.DisplayName, &provider, &model,
		&acc.TokenBalance, &acc.Exempt, &createdAt, &updatedAt)
	if err != nil {
		return rewritegate.Account{}, err
	}
	acc.Provider = rewritegate.ProviderName(provider)
	acc.Model = rewritegate.ModelName(model)
	acc.CreatedAt = time.Unix(createdAt, 0).UTC()
	acc.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return acc, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
