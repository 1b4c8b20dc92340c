package rewritegate

import (
	"context"
	"fmt"
)

// Decision is the result of a quota check.
type Decision int

const (
	Allow Decision = iota
	Deny
)

func (d Decision) String() string {
	if d == Deny {
		return "deny"
	}
	return "allow"
}

// QuotaGuard decides whether an account may spend tokens and debits it
// after a successful call.
type QuotaGuard struct {
	store *AccountStore
}

// NewQuotaGuard creates a QuotaGuard debiting through store.
func NewQuotaGuard(store *AccountStore) *QuotaGuard {
	return &QuotaGuard{store: store}
}

// Check denies exactly when the account is not exempt and its balance is
// zero or below. The cost of the next call is not known up front, so a
// positive balance always passes.
func (g *QuotaGuard) Check(acc Account) Decision {
	if acc.Exempt {
		return Allow
	}
	if acc.TokenBalance <= 0 {
		return Deny
	}
	return Allow
}

// Debit charges tokens to acc. Exempt accounts and zero-token calls are not
// written. The returned account reflects the persisted balance.
func (g *QuotaGuard) Debit(ctx context.Context, acc Account, tokens int64) (Account, error) {
	if tokens < 0 {
		return acc, fmt.Errorf("%w: negative token count %d", ErrInvalidRequest, tokens)
	}
	if acc.Exempt || tokens == 0 {
		return acc, nil
	}
	return g.store.Debit(ctx, acc, tokens)
}
