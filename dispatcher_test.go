package rewritegate_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	rw "github.com/ineyio/rewritegate"
	"github.com/ineyio/rewritegate/provider/mock"
	"github.com/ineyio/rewritegate/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingMeter struct {
	mu         sync.Mutex
	dispatches []rw.DispatchEvent
	results    []rw.ResultEvent
}

func (m *recordingMeter) OnDispatch(e rw.DispatchEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches = append(m.dispatches, e)
}

func (m *recordingMeter) OnResult(e rw.ResultEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, e)
}

func (m *recordingMeter) snapshot() ([]rw.DispatchEvent, []rw.ResultEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rw.DispatchEvent(nil), m.dispatches...), append([]rw.ResultEvent(nil), m.results...)
}

type fixture struct {
	repo       *memory.Store
	store      *rw.AccountStore
	provider   *mock.Provider
	breaker    *rw.Breaker
	meter      *recordingMeter
	dispatcher *rw.Dispatcher
}

func newFixture(t *testing.T, creds rw.MapCredentials, opts ...mock.Option) *fixture {
	t.Helper()

	f := &fixture{
		repo:     memory.New(),
		provider: mock.New(opts...),
		breaker:  rw.NewBreaker(time.Minute),
		meter:    &recordingMeter{},
	}

	cfg := rw.DefaultConfig()
	f.store = rw.NewAccountStore(f.repo, cfg.AccountDefaults(), rw.WithStoreLogger(discard))
	registry := rw.NewProviderRegistry([]rw.Provider{f.provider},
		rw.WithCredentials(creds),
		rw.WithBreaker(f.breaker),
		rw.WithRegistryLogger(discard),
	)

	d, err := rw.NewDispatcher(cfg, registry, f.store,
		rw.WithMeter(f.meter),
		rw.WithLogger(discard),
	)
	require.NoError(t, err)
	f.dispatcher = d
	return f
}

func groqCreds() rw.MapCredentials {
	return rw.MapCredentials{"GROQ_API_KEY": "test-key"}
}

// seed creates the account for externalID and overwrites its balance.
func (f *fixture) seed(t *testing.T, externalID, balance int64) rw.Account {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.Resolve(ctx, externalID, "alice")
	require.NoError(t, err)
	acc, err := f.store.SetBalance(ctx, externalID, balance)
	require.NoError(t, err)
	return acc
}

func (f *fixture) balance(t *testing.T, externalID int64) int64 {
	t.Helper()
	acc, err := f.repo.FindByExternalID(context.Background(), externalID)
	require.NoError(t, err)
	return acc.TokenBalance
}

func msg(externalID int64, text string) rw.InboundMessage {
	return rw.InboundMessage{ExternalID: externalID, DisplayName: "alice", Text: text}
}

func TestHandleMessage_FirstContactDebitsReportedTokens(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithTotalTokens(42), mock.WithContent("Hello, how are you?"))

	reply, err := f.dispatcher.HandleMessage(context.Background(), msg(1, "helo how r u"))
	require.NoError(t, err)

	assert.Equal(t, rw.OutcomeCompleted, reply.Outcome)
	assert.Equal(t, "Hello, how are you?", reply.Text)
	assert.Equal(t, int64(42), reply.TokensUsed)
	assert.Equal(t, int64(999_958), reply.Balance)
	assert.Equal(t, rw.ProviderGroq, reply.Provider)
	assert.Equal(t, rw.ModelGemma7B, reply.Model)
	assert.NotEmpty(t, reply.DispatchID)

	assert.Equal(t, int64(999_958), f.balance(t, 1))
	assert.Equal(t, 1, f.repo.Count())

	req := f.provider.LastRequest()
	assert.Equal(t, "gemma-7b-it", req.Model)
	assert.Equal(t, "test-key", req.Auth.APIKey)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.5, *req.Temperature, 1e-9)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, `"helo how r u"`, req.Messages[1].Content)
}

func TestHandleMessage_OverdraftThenDenied(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithTotalTokens(50))
	f.seed(t, 2, 10)

	reply, err := f.dispatcher.HandleMessage(context.Background(), msg(2, "first"))
	require.NoError(t, err)
	assert.Equal(t, rw.OutcomeCompleted, reply.Outcome)
	assert.Equal(t, int64(-40), reply.Balance)

	reply, err = f.dispatcher.HandleMessage(context.Background(), msg(2, "second"))
	require.NoError(t, err)
	assert.Equal(t, rw.OutcomeDenied, reply.Outcome)
	assert.Equal(t, rw.ReplyQuotaExhausted, reply.Text)
	assert.Equal(t, int64(-40), reply.Balance)

	assert.Equal(t, int64(1), f.provider.CallCount())
	assert.Equal(t, int64(-40), f.balance(t, 2))
}

func TestHandleMessage_ZeroBalanceDenied(t *testing.T) {
	f := newFixture(t, groqCreds())
	f.seed(t, 3, 0)

	reply, err := f.dispatcher.HandleMessage(context.Background(), msg(3, "hello"))
	require.NoError(t, err)
	assert.Equal(t, rw.OutcomeDenied, reply.Outcome)
	assert.Zero(t, f.provider.CallCount())

	_, results := f.meter.snapshot()
	require.Len(t, results, 1)
	assert.Equal(t, rw.OutcomeDenied, results[0].Outcome)
	assert.Equal(t, rw.StateDenied, results[0].State)
}

func TestHandleMessage_ExemptNeverDebited(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithTotalTokens(500))
	f.seed(t, 4, 0)
	_, err := f.store.SetExempt(context.Background(), 4, true)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		reply, err := f.dispatcher.HandleMessage(context.Background(), msg(4, "hello"))
		require.NoError(t, err)
		assert.Equal(t, rw.OutcomeCompleted, reply.Outcome)
		assert.True(t, reply.Exempt)
		assert.Equal(t, int64(500), reply.TokensUsed)
	}

	assert.Zero(t, f.balance(t, 4))
	assert.Equal(t, int64(3), f.provider.CallCount())
}

func TestHandleMessage_NoUsageLeavesBalance(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithoutUsage())

	reply, err := f.dispatcher.HandleMessage(context.Background(), msg(5, "hello"))
	require.NoError(t, err)
	assert.Equal(t, rw.OutcomeCompleted, reply.Outcome)
	assert.Zero(t, reply.TokensUsed)
	assert.Equal(t, rw.DefaultTokenBalance, f.balance(t, 5))
}

func TestHandleMessage_PromptAndCompletionSummed(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithUsage(rw.Usage{PromptTokens: 12, CompletionTokens: 30}))

	reply, err := f.dispatcher.HandleMessage(context.Background(), msg(6, "hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), reply.TokensUsed)
	assert.Equal(t, int64(999_958), f.balance(t, 6))
}

func TestHandleMessage_InvalidStoredPairFailsWithoutCall(t *testing.T) {
	f := newFixture(t, groqCreds())
	acc := f.seed(t, 7, 100)
	f.repo.ForceSelection(acc.ID, rw.ProviderGroq, rw.ModelGPT4Turbo)
	f.store.Invalidate(7)

	reply, err := f.dispatcher.HandleMessage(context.Background(), msg(7, "hello"))
	require.Error(t, err)
	assert.True(t, rw.IsConfiguration(err))
	assert.False(t, rw.IsRetryable(err))

	var de *rw.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, rw.StatePermitted, de.State)
	assert.Equal(t, int64(7), de.ExternalID)

	assert.Equal(t, rw.OutcomeFailed, reply.Outcome)
	assert.Equal(t, rw.ReplyServiceUnavailable, reply.Text)
	assert.Zero(t, reply.TokensUsed)
	assert.Zero(t, f.provider.CallCount())
	assert.Equal(t, int64(100), f.balance(t, 7))

	dispatches, results := f.meter.snapshot()
	assert.Empty(t, dispatches)
	require.Len(t, results, 1)
	assert.Equal(t, rw.OutcomeFailed, results[0].Outcome)
}

func TestHandleMessage_MissingCredentialOpensBreaker(t *testing.T) {
	f := newFixture(t, rw.MapCredentials{})

	for i := 0; i < 2; i++ {
		reply, err := f.dispatcher.HandleMessage(context.Background(), msg(8, "hello"))
		require.Error(t, err)
		assert.True(t, rw.IsConfiguration(err))
		assert.Equal(t, rw.OutcomeFailed, reply.Outcome)
		assert.Contains(t, err.Error(), "GROQ_API_KEY")
	}

	assert.Equal(t, rw.BreakerOpen, f.breaker.State(rw.ProviderGroq))
	assert.Zero(t, f.provider.CallCount())
	assert.Equal(t, rw.DefaultTokenBalance, f.balance(t, 8))
}

func TestHandleMessage_UpstreamFailureNotDebited(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithError(rw.ErrRateLimited))

	reply, err := f.dispatcher.HandleMessage(context.Background(), msg(9, "hello"))
	require.Error(t, err)
	assert.True(t, rw.IsUpstream(err))
	assert.ErrorIs(t, err, rw.ErrRateLimited)
	assert.True(t, rw.IsRetryable(err))

	assert.Equal(t, rw.OutcomeFailed, reply.Outcome)
	assert.Equal(t, rw.ReplyTryAgain, reply.Text)
	assert.Equal(t, rw.DefaultTokenBalance, f.balance(t, 9))

	var de *rw.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, rw.StatePermitted, de.State)
}

func TestHandleMessage_RequestTimeout(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithLatency(time.Second))

	cfg := rw.DefaultConfig()
	registry := rw.NewProviderRegistry([]rw.Provider{f.provider},
		rw.WithCredentials(groqCreds()),
		rw.WithRegistryLogger(discard),
	)
	d, err := rw.NewDispatcher(cfg, registry, f.store,
		rw.WithLogger(discard),
		rw.WithRequestTimeout(20*time.Millisecond),
	)
	require.NoError(t, err)

	start := time.Now()
	reply, err := d.HandleMessage(context.Background(), msg(10, "hello"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, rw.IsUpstream(err))
	assert.Equal(t, rw.OutcomeFailed, reply.Outcome)
	assert.Equal(t, rw.DefaultTokenBalance, f.balance(t, 10))
}

func TestHandleMessage_CallerCancelledAfterRewriteStillDebits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, groqCreds(), mock.WithResponseFunc(func(req rw.ProviderRequest) (rw.ProviderResponse, error) {
		cancel()
		return rw.ProviderResponse{
			Content: "Rewritten.",
			Usage:   &rw.Usage{TotalTokens: 42},
		}, nil
	}))

	reply, err := f.dispatcher.HandleMessage(ctx, msg(11, "hello"))
	require.NoError(t, err)
	assert.Equal(t, rw.OutcomeCompleted, reply.Outcome)
	assert.Equal(t, int64(999_958), f.balance(t, 11))
}

func TestHandleMessage_SameIdentitySerialized(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithTotalTokens(100), mock.WithLatency(5*time.Millisecond))
	f.seed(t, 12, 1)

	const n = 10
	var wg sync.WaitGroup
	replies := make([]rw.Reply, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replies[i], _ = f.dispatcher.HandleMessage(context.Background(), msg(12, "hello"))
		}(i)
	}
	wg.Wait()

	var completed, denied int
	for _, r := range replies {
		switch r.Outcome {
		case rw.OutcomeCompleted:
			completed++
		case rw.OutcomeDenied:
			denied++
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, n-1, denied)
	assert.Equal(t, int64(1), f.provider.CallCount())
	assert.Equal(t, int64(-99), f.balance(t, 12))
}

func TestHandleMessage_WaitForIdentityBoundedByCallerDeadline(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, groqCreds(), mock.WithResponseFunc(func(req rw.ProviderRequest) (rw.ProviderResponse, error) {
		close(started)
		<-release
		return rw.ProviderResponse{Content: "Rewritten.", Usage: &rw.Usage{TotalTokens: 42}}, nil
	}))

	first := make(chan rw.Reply, 1)
	go func() {
		reply, _ := f.dispatcher.HandleMessage(context.Background(), msg(13, "first"))
		first <- reply
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	reply, err := f.dispatcher.HandleMessage(ctx, msg(13, "second"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.ErrorIs(t, err, rw.ErrIdentityBusy)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, rw.ErrPersistence)
	assert.True(t, rw.IsRetryable(err))
	assert.Equal(t, rw.OutcomeFailed, reply.Outcome)
	assert.Equal(t, rw.ReplyBusy, reply.Text)

	var de *rw.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, rw.StateReceived, de.State)

	close(release)
	assert.Equal(t, rw.OutcomeCompleted, (<-first).Outcome)
	assert.Equal(t, int64(1), f.provider.CallCount())
	assert.Equal(t, int64(999_958), f.balance(t, 13))
}

func TestHandleMessage_DeniedAccountSeesTopUpFromOtherStore(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithTotalTokens(42))
	f.seed(t, 14, 0)

	reply, err := f.dispatcher.HandleMessage(context.Background(), msg(14, "hello"))
	require.NoError(t, err)
	require.Equal(t, rw.OutcomeDenied, reply.Outcome)
	require.True(t, f.store.Cached(14))

	// A second process shares the repository but not the cache.
	operator := rw.NewAccountStore(f.repo, rw.DefaultConfig().AccountDefaults(), rw.WithStoreLogger(discard))
	_, err = operator.SetBalance(context.Background(), 14, 1000)
	require.NoError(t, err)

	reply, err = f.dispatcher.HandleMessage(context.Background(), msg(14, "hello"))
	require.NoError(t, err)
	assert.Equal(t, rw.OutcomeCompleted, reply.Outcome)
	assert.Equal(t, int64(958), reply.Balance)
	assert.Equal(t, int64(958), f.balance(t, 14))
}

func TestHandleMessage_DeniedAccountSeesExemptionFromOtherStore(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithTotalTokens(42))
	f.seed(t, 15, -10)

	reply, err := f.dispatcher.HandleMessage(context.Background(), msg(15, "hello"))
	require.NoError(t, err)
	require.Equal(t, rw.OutcomeDenied, reply.Outcome)

	operator := rw.NewAccountStore(f.repo, rw.DefaultConfig().AccountDefaults(), rw.WithStoreLogger(discard))
	_, err = operator.SetExempt(context.Background(), 15, true)
	require.NoError(t, err)

	reply, err = f.dispatcher.HandleMessage(context.Background(), msg(15, "hello"))
	require.NoError(t, err)
	assert.Equal(t, rw.OutcomeCompleted, reply.Outcome)
	assert.True(t, reply.Exempt)
	assert.Equal(t, int64(-10), f.balance(t, 15))
}

func TestHandleMessage_EmptyCompletionLogsUnbilledTokens(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithContent("  "), mock.WithTotalTokens(17))

	var buf bytes.Buffer
	registry := rw.NewProviderRegistry([]rw.Provider{f.provider},
		rw.WithCredentials(groqCreds()),
		rw.WithRegistryLogger(discard),
	)
	d, err := rw.NewDispatcher(rw.DefaultConfig(), registry, f.store,
		rw.WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))),
	)
	require.NoError(t, err)

	reply, err := d.HandleMessage(context.Background(), msg(16, "hello"))
	require.Error(t, err)
	assert.True(t, rw.IsUpstream(err))
	assert.Equal(t, rw.OutcomeFailed, reply.Outcome)
	assert.Zero(t, reply.TokensUsed)
	assert.Equal(t, rw.DefaultTokenBalance, f.balance(t, 16))

	assert.Contains(t, buf.String(), `"unbilled_tokens":17`)
}

func TestHandleMessage_ConcurrentDebitsNotLost(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithTotalTokens(42))

	const perUser = 10
	users := []int64{20, 21, 22}

	var wg sync.WaitGroup
	for _, u := range users {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(u int64) {
				defer wg.Done()
				reply, err := f.dispatcher.HandleMessage(context.Background(), msg(u, "hello"))
				assert.NoError(t, err)
				assert.Equal(t, rw.OutcomeCompleted, reply.Outcome)
			}(u)
		}
	}
	wg.Wait()

	for _, u := range users {
		assert.Equal(t, rw.DefaultTokenBalance-perUser*42, f.balance(t, u))
	}
	assert.Equal(t, len(users), f.repo.Count())
}

func TestHandleMessage_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t, groqCreds())

	tests := []struct {
		name  string
		msg   rw.InboundMessage
		reply string
	}{
		{"empty text", msg(30, ""), rw.ReplyEmptyText},
		{"blank text", msg(30, " \n\t "), rw.ReplyEmptyText},
		{"missing identity", msg(0, "hello"), rw.ReplyEmptyText},
		{"too long", msg(30, strings.Repeat("я", 4097)), rw.ReplyTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := f.dispatcher.HandleMessage(context.Background(), tt.msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, rw.ErrInvalidRequest)
			assert.Equal(t, rw.OutcomeFailed, reply.Outcome)
			assert.Equal(t, tt.reply, reply.Text)
		})
	}

	assert.Zero(t, f.repo.Count())
	assert.Zero(t, f.provider.CallCount())
}

func TestHandleMessage_MeterEvents(t *testing.T) {
	f := newFixture(t, groqCreds(), mock.WithTotalTokens(42))

	reply, err := f.dispatcher.HandleMessage(context.Background(), msg(40, "hello"))
	require.NoError(t, err)

	dispatches, results := f.meter.snapshot()
	require.Len(t, dispatches, 1)
	require.Len(t, results, 1)

	assert.Equal(t, reply.DispatchID, dispatches[0].DispatchID)
	assert.Equal(t, rw.ProviderGroq, dispatches[0].Provider)
	assert.Equal(t, rw.DefaultTokenBalance, dispatches[0].Balance)
	assert.Positive(t, dispatches[0].EstimatedIn)

	assert.Equal(t, reply.DispatchID, results[0].DispatchID)
	assert.Equal(t, rw.OutcomeCompleted, results[0].Outcome)
	assert.Equal(t, rw.StateCompleted, results[0].State)
	assert.Equal(t, int64(42), results[0].Tokens)
	assert.Equal(t, int64(999_958), results[0].Balance)
	assert.NoError(t, results[0].Error)
}

func TestAccountSummary_CreatesOnceWithDefaults(t *testing.T) {
	f := newFixture(t, groqCreds())

	first, err := f.dispatcher.AccountSummary(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, rw.AccountSummary{
		Provider:     rw.ProviderGroq,
		Model:        rw.ModelGemma7B,
		TokenBalance: rw.DefaultTokenBalance,
	}, first)

	second, err := f.dispatcher.AccountSummary(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.repo.Count())
}

func TestConfigureModel(t *testing.T) {
	f := newFixture(t, groqCreds())

	summary, err := f.dispatcher.ConfigureModel(context.Background(), 60, rw.ProviderGroq, rw.ModelLlama3_70B)
	require.NoError(t, err)
	assert.Equal(t, rw.ModelLlama3_70B, summary.Model)

	_, err = f.dispatcher.HandleMessage(context.Background(), msg(60, "hello"))
	require.NoError(t, err)
	assert.Equal(t, "llama3-70b-8192", f.provider.LastRequest().Model)
}

func TestConfigureModel_RejectsInvalidPair(t *testing.T) {
	f := newFixture(t, groqCreds())

	_, err := f.dispatcher.ConfigureModel(context.Background(), 61, rw.ProviderGroq, rw.ModelGPT4Turbo)
	require.Error(t, err)
	assert.True(t, rw.IsConfiguration(err))

	var ce *rw.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, rw.ProviderGroq, ce.Provider)

	assert.Zero(t, f.repo.Count())
}

func TestNewDispatcher_RequiresDependencies(t *testing.T) {
	cfg := rw.DefaultConfig()
	store := rw.NewAccountStore(memory.New(), cfg.AccountDefaults())
	registry := rw.NewProviderRegistry(nil)

	_, err := rw.NewDispatcher(cfg, nil, store)
	assert.Error(t, err)

	_, err = rw.NewDispatcher(cfg, registry, nil)
	assert.Error(t, err)

	bad := cfg
	bad.DefaultModel = rw.ModelGPT4Turbo
	_, err = rw.NewDispatcher(bad, registry, store)
	assert.Error(t, err)
}
