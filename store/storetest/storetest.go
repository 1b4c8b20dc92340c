// Package storetest holds the behaviour every AccountRepository must share.
// Backend packages run it from their own tests.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/rewritegate"
)

// Factory returns an empty repository with its schema in place.
type Factory func(t *testing.T) rewritegate.AccountRepository

func newAccount(externalID int64) rewritegate.NewAccount {
	return rewritegate.NewAccount{
		ExternalID:   externalID,
		DisplayName:  "alice",
		Provider:     rewritegate.ProviderGroq,
		Model:        rewritegate.ModelGemma7B,
		TokenBalance: rewritegate.DefaultTokenBalance,
	}
}

// Run executes the repository suite.
func Run(t *testing.T, factory Factory) {
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, factory(t)) })
	t.Run("FindMissing", func(t *testing.T) { testFindMissing(t, factory(t)) })
	t.Run("DuplicateInsert", func(t *testing.T) { testDuplicateInsert(t, factory(t)) })
	t.Run("EmptyDisplayName", func(t *testing.T) { testEmptyDisplayName(t, factory(t)) })
	t.Run("DecrementBalance", func(t *testing.T) { testDecrementBalance(t, factory(t)) })
	t.Run("DecrementMissing", func(t *testing.T) { testDecrementMissing(t, factory(t)) })
	t.Run("ConcurrentDecrement", func(t *testing.T) { testConcurrentDecrement(t, factory(t)) })
	t.Run("ConcurrentInsert", func(t *testing.T) { testConcurrentInsert(t, factory(t)) })
	t.Run("UpdateSelection", func(t *testing.T) { testUpdateSelection(t, factory(t)) })
	t.Run("Admin", func(t *testing.T) { testAdmin(t, factory(t)) })
}

func testInsertAndFind(t *testing.T, repo rewritegate.AccountRepository) {
	ctx := context.Background()

	created, err := repo.Insert(ctx, newAccount(1001))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, int64(1001), created.ExternalID)
	assert.Equal(t, "alice", created.DisplayName)
	assert.Equal(t, rewritegate.ProviderGroq, created.Provider)
	assert.Equal(t, rewritegate.ModelGemma7B, created.Model)
	assert.Equal(t, rewritegate.DefaultTokenBalance, created.TokenBalance)
	assert.False(t, created.Exempt)

	found, err := repo.FindByExternalID(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, created.TokenBalance, found.TokenBalance)
	assert.Equal(t, created.Provider, found.Provider)
	assert.Equal(t, created.Model, found.Model)
}

func testFindMissing(t *testing.T, repo rewritegate.AccountRepository) {
	_, err := repo.FindByExternalID(context.Background(), 404)
	assert.ErrorIs(t, err, rewritegate.ErrAccountNotFound)
}

func testDuplicateInsert(t *testing.T, repo rewritegate.AccountRepository) {
	ctx := context.Background()

	first, err := repo.Insert(ctx, newAccount(7))
	require.NoError(t, err)

	_, err = repo.Insert(ctx, newAccount(7))
	assert.ErrorIs(t, err, rewritegate.ErrDuplicateAccount)

	found, err := repo.FindByExternalID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func testEmptyDisplayName(t *testing.T, repo rewritegate.AccountRepository) {
	acc := newAccount(8)
	acc.DisplayName = ""

	created, err := repo.Insert(context.Background(), acc)
	require.NoError(t, err)
	assert.Equal(t, "", created.DisplayName)
}

func testDecrementBalance(t *testing.T, repo rewritegate.AccountRepository) {
	ctx := context.Background()

	created, err := repo.Insert(ctx, newAccount(9))
	require.NoError(t, err)

	updated, err := repo.DecrementBalance(ctx, created.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(999_958), updated.TokenBalance)

	// Balances may go below zero.
	updated, err = repo.DecrementBalance(ctx, created.ID, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(-42), updated.TokenBalance)
}

func testDecrementMissing(t *testing.T, repo rewritegate.AccountRepository) {
	_, err := repo.DecrementBalance(context.Background(), 123456, 1)
	assert.ErrorIs(t, err, rewritegate.ErrAccountNotFound)
}

func testConcurrentDecrement(t *testing.T, repo rewritegate.AccountRepository) {
	ctx := context.Background()

	created, err := repo.Insert(ctx, newAccount(10))
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	var failures atomic.Int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.DecrementBalance(ctx, created.ID, 100); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Zero(t, failures.Load())

	found, err := repo.FindByExternalID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, rewritegate.DefaultTokenBalance-workers*100, found.TokenBalance)
}

func testConcurrentInsert(t *testing.T, repo rewritegate.AccountRepository) {
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	var created, duplicates atomic.Int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Insert(ctx, newAccount(11))
			switch {
			case err == nil:
				created.Add(1)
			case assert.ErrorIs(t, err, rewritegate.ErrDuplicateAccount):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), created.Load())
	assert.Equal(t, int64(workers-1), duplicates.Load())
}

func testUpdateSelection(t *testing.T, repo rewritegate.AccountRepository) {
	ctx := context.Background()

	created, err := repo.Insert(ctx, newAccount(12))
	require.NoError(t, err)

	updated, err := repo.UpdateSelection(ctx, created.ID, rewritegate.ProviderOpenAI, rewritegate.ModelGPT4Turbo)
	require.NoError(t, err)
	assert.Equal(t, rewritegate.ProviderOpenAI, updated.Provider)
	assert.Equal(t, rewritegate.ModelGPT4Turbo, updated.Model)
	assert.Equal(t, created.TokenBalance, updated.TokenBalance)

	found, err := repo.FindByExternalID(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, rewritegate.ProviderOpenAI, found.Provider)
	assert.Equal(t, rewritegate.ModelGPT4Turbo, found.Model)
}

func testAdmin(t *testing.T, repo rewritegate.AccountRepository) {
	admin, ok := repo.(rewritegate.AccountAdmin)
	if !ok {
		t.Skip("repository does not support administration")
	}
	ctx := context.Background()

	_, err := repo.Insert(ctx, newAccount(13))
	require.NoError(t, err)

	acc, err := admin.SetExempt(ctx, 13, true)
	require.NoError(t, err)
	assert.True(t, acc.Exempt)

	acc, err = admin.SetBalance(ctx, 13, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), acc.TokenBalance)
	assert.True(t, acc.Exempt)

	found, err := repo.FindByExternalID(ctx, 13)
	require.NoError(t, err)
	assert.True(t, found.Exempt)
	assert.Equal(t, int64(5), found.TokenBalance)

	_, err = admin.SetExempt(ctx, 999, true)
	assert.ErrorIs(t, err, rewritegate.ErrAccountNotFound)
}
