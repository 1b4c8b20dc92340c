// Package memory provides an in-process AccountRepository.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ineyio/rewritegate"
)

// Store is an in-memory AccountRepository. Rows live as long as the process.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	byID     map[int64]*rewritegate.Account
	external map[int64]int64
}

var (
	_ rewritegate.AccountRepository = (*Store)(nil)
	_ rewritegate.AccountAdmin      = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{
		byID:     make(map[int64]*rewritegate.Account),
		external: make(map[int64]int64),
	}
}

func (s *Store) FindByExternalID(ctx context.Context, externalID int64) (rewritegate.Account, error) {
	if err := ctx.Err(); err != nil {
		return rewritegate.Account{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.external[externalID]
	if !ok {
		return rewritegate.Account{}, rewritegate.ErrAccountNotFound
	}
	return *s.byID[id], nil
}

func (s *Store) Insert(ctx context.Context, acc rewritegate.NewAccount) (rewritegate.Account, error) {
	if err := ctx.Err(); err != nil {
		return rewritegate.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.external[acc.ExternalID]; ok {
		return rewritegate.Account{}, rewritegate.ErrDuplicateAccount
	}

	s.nextID++
	now := time.Now().UTC()
	row := &rewritegate.Account{
		ID:           s.nextID,
		ExternalID:   acc.ExternalID,
		DisplayName:  acc.DisplayName,
		Provider:     acc.Provider,
		Model:        acc.Model,
		TokenBalance: acc.TokenBalance,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[row.ID] = row
	s.external[acc.ExternalID] = row.ID
	return *row, nil
}

func (s *Store) DecrementBalance(ctx context.Context, id int64, amount int64) (rewritegate.Account, error) {
	return s.update(ctx, id, func(a *rewritegate.Account) { a.TokenBalance -= amount })
}

func (s *Store) UpdateSelection(ctx context.Context, id int64, provider rewritegate.ProviderName, model rewritegate.ModelName) (rewritegate.Account, error) {
	return s.update(ctx, id, func(a *rewritegate.Account) {
		a.Provider = provider
		a.Model = model
	})
}

// SetExempt marks an account as exempt from quota.
func (s *Store) SetExempt(ctx context.Context, externalID int64, exempt bool) (rewritegate.Account, error) {
	return s.update(ctx, s.idOf(externalID), func(a *rewritegate.Account) { a.Exempt = exempt })
}

// SetBalance overwrites an account balance.
func (s *Store) SetBalance(ctx context.Context, externalID int64, balance int64) (rewritegate.Account, error) {
	return s.update(ctx, s.idOf(externalID), func(a *rewritegate.Account) { a.TokenBalance = balance })
}

func (s *Store) idOf(externalID int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.external[externalID]
}

// ForceSelection writes a provider/model pair without validation, as a
// hand-edited row would.
func (s *Store) ForceSelection(id int64, provider rewritegate.ProviderName, model rewritegate.ModelName) {
	_, _ = s.UpdateSelection(context.Background(), id, provider, model)
}

// Count returns the number of accounts.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) update(ctx context.Context, id int64, fn func(*rewritegate.Account)) (rewritegate.Account, error) {
	if err := ctx.Err(); err != nil {
		return rewritegate.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[id]
	if !ok {
		return rewritegate.Account{}, rewritegate.ErrAccountNotFound
	}
	fn(row)
	row.UpdatedAt = time.Now().UTC()
	return *row, nil
}
