//go:generate go run go.uber.org/mock/mockgen -source=account.go -destination=mocks/mock_account_repository.go -package=mocks

package rewritegate

import (
	"context"
	"time"
)

// Account is the persistent per-identity record.
type Account struct {
	ID           int64
	ExternalID   int64
	DisplayName  string
	Provider     ProviderName
	Model        ModelName
	TokenBalance int64
	Exempt       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountSummary is the read-only view returned to users.
type AccountSummary struct {
	Provider     ProviderName
	Model        ModelName
	TokenBalance int64
	Exempt       bool
}

// Summary returns the user-facing view of a.
func (a Account) Summary() AccountSummary {
	return AccountSummary{
		Provider:     a.Provider,
		Model:        a.Model,
		TokenBalance: a.TokenBalance,
		Exempt:       a.Exempt,
	}
}

// NewAccount holds the fields of an account about to be created.
type NewAccount struct {
	ExternalID   int64
	DisplayName  string
	Provider     ProviderName
	Model        ModelName
	TokenBalance int64
}

// AccountRepository is the persistence port behind AccountStore.
type AccountRepository interface {
	// FindByExternalID returns ErrAccountNotFound when no row exists.
	FindByExternalID(ctx context.Context, externalID int64) (Account, error)

	// Insert creates the row and returns it with its assigned ID. It returns
	// ErrDuplicateAccount when a row with the same external ID exists.
	Insert(ctx context.Context, acc NewAccount) (Account, error)

	// DecrementBalance subtracts amount in a single atomic statement and
	// returns the updated row.
	DecrementBalance(ctx context.Context, id int64, amount int64) (Account, error)

	// UpdateSelection stores a new provider/model pair.
	UpdateSelection(ctx context.Context, id int64, provider ProviderName, model ModelName) (Account, error)
}

// SchemaInitializer is implemented by repositories that can create their
// own tables.
type SchemaInitializer interface {
	EnsureSchema(ctx context.Context) error
}

// AccountAdmin is implemented by repositories that support operator edits
// keyed by external identity.
type AccountAdmin interface {
	SetExempt(ctx context.Context, externalID int64, exempt bool) (Account, error)
	SetBalance(ctx context.Context, externalID int64, balance int64) (Account, error)
}
