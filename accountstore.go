package rewritegate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize    = 1024
	defaultCacheTTL     = 4 * time.Hour
	defaultStoreTimeout = 5 * time.Second
)

// AccountDefaults are the values a newly created account starts with.
type AccountDefaults struct {
	Provider     ProviderName
	Model        ModelName
	TokenBalance int64
}

// AccountStore resolves identities to accounts through a bounded TTL cache in
// front of an AccountRepository.
//
// All cache writes and invalidations for one identity happen under the same
// per-identity lock, so a lookup that raced a debit can never put the
// pre-debit row back into the cache.
type AccountStore struct {
	repo     AccountRepository
	cache    *expirable.LRU[int64, Account]
	locks    *keyedMutex[int64]
	defaults AccountDefaults
	timeout  time.Duration
	logger   *slog.Logger

	cacheSize int
	cacheTTL  time.Duration
}

// StoreOption configures an AccountStore.
type StoreOption func(*AccountStore)

// WithCache sets the cache capacity and entry lifetime.
func WithCache(size int, ttl time.Duration) StoreOption {
	return func(s *AccountStore) {
		s.cacheSize = size
		s.cacheTTL = ttl
	}
}

// WithStoreTimeout bounds every repository call.
func WithStoreTimeout(d time.Duration) StoreOption {
	return func(s *AccountStore) { s.timeout = d }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *AccountStore) { s.logger = l }
}

// NewAccountStore creates an AccountStore.
func NewAccountStore(repo AccountRepository, defaults AccountDefaults, opts ...StoreOption) *AccountStore {
	s := &AccountStore{
		repo:      repo,
		locks:     newKeyedMutex[int64](),
		defaults:  defaults,
		timeout:   defaultStoreTimeout,
		logger:    slog.Default(),
		cacheSize: defaultCacheSize,
		cacheTTL:  defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheSize <= 0 {
		s.cacheSize = defaultCacheSize
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}
	s.cache = expirable.NewLRU[int64, Account](s.cacheSize, nil, s.cacheTTL)
	return s
}

// Resolve returns the account for externalID, creating it with the
// configured defaults on first contact. displayName is only used on creation.
func (s *AccountStore) Resolve(ctx context.Context, externalID int64, displayName string) (Account, error) {
	if acc, ok := s.cache.Get(externalID); ok {
		return acc, nil
	}

	unlock, err := s.locks.Lock(ctx, externalID)
	if err != nil {
		return Account{}, persistenceErr("lock account", err)
	}
	defer unlock()

	if acc, ok := s.cache.Get(externalID); ok {
		return acc, nil
	}

	acc, err := s.lookupOrCreate(ctx, externalID, displayName)
	if err != nil {
		return Account{}, err
	}

	s.cache.Add(externalID, acc)
	return acc, nil
}

// Refresh drops the cached entry for externalID and reloads it from the
// repository, so writes made by other processes become visible.
func (s *AccountStore) Refresh(ctx context.Context, externalID int64) (Account, error) {
	unlock, err := s.locks.Lock(ctx, externalID)
	if err != nil {
		return Account{}, persistenceErr("lock account", err)
	}
	defer unlock()

	s.cache.Remove(externalID)

	acc, err := s.lookupOrCreate(ctx, externalID, "")
	if err != nil {
		return Account{}, err
	}

	s.cache.Add(externalID, acc)
	return acc, nil
}

func (s *AccountStore) lookupOrCreate(ctx context.Context, externalID int64, displayName string) (Account, error) {
	acc, err := s.find(ctx, externalID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, persistenceErr("find account", err)
	}

	insertCtx, cancel := s.bound(ctx)
	acc, err = s.repo.Insert(insertCtx, NewAccount{
		ExternalID:   externalID,
		DisplayName:  displayName,
		Provider:     s.defaults.Provider,
		Model:        s.defaults.Model,
		TokenBalance: s.defaults.TokenBalance,
	})
	cancel()

	if errors.Is(err, ErrDuplicateAccount) {
		// Another process created the row between our lookup and insert.
		acc, err = s.find(ctx, externalID)
	}
	if err != nil {
		return Account{}, persistenceErr("create account", err)
	}

	s.logger.Info("account created",
		"external_id", externalID,
		"account_id", acc.ID,
		"provider", acc.Provider,
		"model", acc.Model,
		"balance", acc.TokenBalance,
	)
	return acc, nil
}

func (s *AccountStore) find(ctx context.Context, externalID int64) (Account, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.repo.FindByExternalID(ctx, externalID)
}

// Debit atomically subtracts tokens from the account balance and drops the
// cached entry. It returns the account as persisted after the update.
func (s *AccountStore) Debit(ctx context.Context, acc Account, tokens int64) (Account, error) {
	unlock, err := s.locks.Lock(ctx, acc.ExternalID)
	if err != nil {
		return Account{}, persistenceErr("lock account", err)
	}
	defer unlock()

	defer s.cache.Remove(acc.ExternalID)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	updated, err := s.repo.DecrementBalance(ctx, acc.ID, tokens)
	if err != nil {
		return Account{}, persistenceErr("decrement balance", err)
	}
	return updated, nil
}

// UpdateSelection stores a new provider/model pair for externalID. Invalid
// pairs are rejected and never written.
func (s *AccountStore) UpdateSelection(ctx context.Context, externalID int64, provider ProviderName, model ModelName) (Account, error) {
	if !IsValidPair(provider, model) {
		return Account{}, &ConfigurationError{Provider: provider, Model: model, Reason: "invalid provider/model combination"}
	}

	acc, err := s.Resolve(ctx, externalID, "")
	if err != nil {
		return Account{}, err
	}

	unlock, err := s.locks.Lock(ctx, externalID)
	if err != nil {
		return Account{}, persistenceErr("lock account", err)
	}
	defer unlock()

	defer s.cache.Remove(externalID)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	updated, err := s.repo.UpdateSelection(ctx, acc.ID, provider, model)
	if err != nil {
		return Account{}, persistenceErr("update selection", err)
	}
	return updated, nil
}

// Invalidate drops the cached entry for externalID.
func (s *AccountStore) Invalidate(externalID int64) {
	unlock, err := s.locks.Lock(context.Background(), externalID)
	if err != nil {
		return
	}
	defer unlock()
	s.cache.Remove(externalID)
}

// Cached reports whether externalID currently has a live cache entry.
func (s *AccountStore) Cached(externalID int64) bool {
	_, ok := s.cache.Peek(externalID)
	return ok
}

// EnsureSchema creates the repository's tables when it supports it.
func (s *AccountStore) EnsureSchema(ctx context.Context) error {
	initializer, ok := s.repo.(SchemaInitializer)
	if !ok {
		return nil
	}
	if err := initializer.EnsureSchema(ctx); err != nil {
		return persistenceErr("ensure schema", err)
	}
	return nil
}

func (s *AccountStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// SetExempt changes the quota exemption of externalID. It fails when the
// repository does not support operator edits.
func (s *AccountStore) SetExempt(ctx context.Context, externalID int64, exempt bool) (Account, error) {
	return s.admin(ctx, externalID, "set exempt", func(ctx context.Context, a AccountAdmin) (Account, error) {
		return a.SetExempt(ctx, externalID, exempt)
	})
}

// SetBalance overwrites the token balance of externalID.
func (s *AccountStore) SetBalance(ctx context.Context, externalID int64, balance int64) (Account, error) {
	return s.admin(ctx, externalID, "set balance", func(ctx context.Context, a AccountAdmin) (Account, error) {
		return a.SetBalance(ctx, externalID, balance)
	})
}

func (s *AccountStore) admin(ctx context.Context, externalID int64, op string, fn func(context.Context, AccountAdmin) (Account, error)) (Account, error) {
	a, ok := s.repo.(AccountAdmin)
	if !ok {
		return Account{}, fmt.Errorf("rewritegate: %s: repository does not support account administration", op)
	}

	if _, err := s.Resolve(ctx, externalID, ""); err != nil {
		return Account{}, err
	}

	unlock, err := s.locks.Lock(ctx, externalID)
	if err != nil {
		return Account{}, persistenceErr("lock account", err)
	}
	defer unlock()

	defer s.cache.Remove(externalID)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	acc, err := fn(ctx, a)
	if err != nil {
		return Account{}, persistenceErr(op, err)
	}
	return acc, nil
}
