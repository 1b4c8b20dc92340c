package rewritegate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

const maxMessageRunes = 4096

// User-facing replies for non-completed messages.
const (
	ReplyQuotaExhausted     = "Your token balance is exhausted. Please contact an administrator to top it up."
	ReplyServiceUnavailable = "The service is temporarily unavailable. Please try again later."
	ReplyTryAgain           = "Sorry, I couldn't rewrite your text right now. Please try again."
	ReplyInternalError      = "Something went wrong while processing your message. Please try again."
	ReplyEmptyText          = "Please send the text you want rewritten."
	ReplyTooLong            = "Your message is too long. Please send at most 4096 characters at a time."
	ReplyBusy               = "I'm still working on your previous message. Please wait for it and try again."
)

// Validate checks the inbound message before any account is touched.
func (m InboundMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.ExternalID, validation.Required),
		validation.Field(&m.Text,
			validation.Required,
			validation.By(func(any) error {
				if strings.TrimSpace(m.Text) == "" {
					return errors.New("must not be blank")
				}
				return nil
			}),
			validation.RuneLength(1, maxMessageRunes),
		),
	)
}

// Dispatcher runs resolve, quota check, build, rewrite and debit for each
// inbound message. Messages for the same identity are serialized; messages
// for different identities never wait on each other.
type Dispatcher struct {
	registry       *ProviderRegistry
	store          *AccountStore
	guard          *QuotaGuard
	meter          Meter
	logger         *slog.Logger
	locks          *keyedMutex[int64]
	temperature    float64
	requestTimeout time.Duration
	debitTimeout   time.Duration
	now            func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(d *Dispatcher) { d.meter = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRequestTimeout bounds the model call.
func WithRequestTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.requestTimeout = t }
}

// WithDebitTimeout bounds the post-call debit, which runs detached from
// the caller's cancellation.
func WithDebitTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.debitTimeout = t }
}

// NewDispatcher creates a Dispatcher. Temperature and timeouts come from cfg
// unless overridden via options.
func NewDispatcher(cfg Config, registry *ProviderRegistry, store *AccountStore, opts ...Option) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("rewritegate: provider registry is required")
	}
	if store == nil {
		return nil, errors.New("rewritegate: account store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		registry:       registry,
		store:          store,
		guard:          NewQuotaGuard(store),
		logger:         slog.Default(),
		locks:          newKeyedMutex[int64](),
		temperature:    cfg.Temperature,
		requestTimeout: cfg.Timeouts.Request,
		debitTimeout:   cfg.Timeouts.Store,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.meter == nil {
		d.meter = noopMeter{}
	}

	return d, nil
}

// dispatch carries the state of one message through the machine.
type dispatch struct {
	id      string
	msg     InboundMessage
	started time.Time
	state   State
	account Account
	tokens  int64
}

// HandleMessage runs the dispatch state machine once for msg. The returned
// Reply always carries text suitable for the user. The error is non-nil
// only when the outcome is OutcomeFailed.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg InboundMessage) (Reply, error) {
	dp := &dispatch{
		id:      uuid.New().String(),
		msg:     msg,
		started: d.now(),
		state:   StateReceived,
	}

	if err := msg.Validate(); err != nil {
		text := ReplyEmptyText
		if utf8.RuneCountInString(msg.Text) > maxMessageRunes {
			text = ReplyTooLong
		}
		return d.fail(dp, text, errors.Join(ErrInvalidRequest, err))
	}

	unlock, err := d.locks.Lock(ctx, msg.ExternalID)
	if err != nil {
		return d.fail(dp, ReplyBusy, fmt.Errorf("%w: %w", ErrIdentityBusy, err))
	}
	defer unlock()

	acc, err := d.store.Resolve(ctx, msg.ExternalID, msg.DisplayName)
	if err != nil {
		return d.fail(dp, ReplyInternalError, err)
	}
	dp.account = acc
	dp.state = StateResolved

	if d.guard.Check(acc) == Deny {
		// The cached row may predate a top-up or exemption written elsewhere.
		acc, err = d.store.Refresh(ctx, msg.ExternalID)
		if err != nil {
			return d.fail(dp, ReplyInternalError, err)
		}
		dp.account = acc
	}

	if d.guard.Check(acc) == Deny {
		dp.state = StateDenied
		reply := d.reply(dp, ReplyQuotaExhausted, OutcomeDenied)
		d.logger.Info("quota exhausted",
			"dispatch_id", dp.id,
			"external_id", msg.ExternalID,
			"balance", acc.TokenBalance,
		)
		d.finish(dp, OutcomeDenied, nil)
		return reply, nil
	}
	dp.state = StatePermitted

	gw, err := d.registry.Build(acc.Provider, acc.Model, d.temperature)
	if err != nil {
		return d.fail(dp, ReplyServiceUnavailable, err)
	}

	d.meter.OnDispatch(DispatchEvent{
		DispatchID:  dp.id,
		ExternalID:  msg.ExternalID,
		AccountID:   acc.ID,
		Provider:    acc.Provider,
		Model:       acc.Model,
		Exempt:      acc.Exempt,
		Balance:     acc.TokenBalance,
		EstimatedIn: EstimateTokens(msg.Text),
		StartedAt:   dp.started,
	})

	callCtx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	text, tokens, err := gw.Rewrite(callCtx, msg.Text)
	cancel()
	if err != nil {
		return d.fail(dp, ReplyTryAgain, err)
	}
	dp.state = StateRewritten
	dp.tokens = tokens

	// The model has already been paid for; the debit must not be lost to a
	// caller that went away.
	debitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.debitTimeout)
	defer cancel()

	updated, err := d.guard.Debit(debitCtx, acc, tokens)
	if err != nil {
		return d.fail(dp, ReplyInternalError, err)
	}
	dp.account = updated
	dp.state = StateCompleted

	reply := d.reply(dp, text, OutcomeCompleted)
	d.finish(dp, OutcomeCompleted, nil)
	return reply, nil
}

// AccountSummary returns the caller's provider, model and balance,
// creating the account on first contact.
func (d *Dispatcher) AccountSummary(ctx context.Context, externalID int64) (AccountSummary, error) {
	acc, err := d.store.Resolve(ctx, externalID, "")
	if err != nil {
		return AccountSummary{}, err
	}
	return acc.Summary(), nil
}

// ConfigureModel changes the caller's provider/model selection. Invalid
// pairs are rejected with a ConfigurationError.
func (d *Dispatcher) ConfigureModel(ctx context.Context, externalID int64, provider ProviderName, model ModelName) (AccountSummary, error) {
	if !d.registry.IsValidPair(provider, model) {
		return AccountSummary{}, &ConfigurationError{Provider: provider, Model: model, Reason: "invalid provider/model combination"}
	}

	unlock, err := d.locks.Lock(ctx, externalID)
	if err != nil {
		return AccountSummary{}, fmt.Errorf("%w: %w", ErrIdentityBusy, err)
	}
	defer unlock()

	acc, err := d.store.UpdateSelection(ctx, externalID, provider, model)
	if err != nil {
		return AccountSummary{}, err
	}

	d.logger.Info("model selected",
		"external_id", externalID,
		"provider", provider,
		"model", model,
	)
	return acc.Summary(), nil
}

func (d *Dispatcher) reply(dp *dispatch, text string, outcome Outcome) Reply {
	return Reply{
		Text:       text,
		Outcome:    outcome,
		DispatchID: dp.id,
		Provider:   dp.account.Provider,
		Model:      dp.account.Model,
		TokensUsed: dp.tokens,
		Balance:    dp.account.TokenBalance,
		Exempt:     dp.account.Exempt,
	}
}

func (d *Dispatcher) fail(dp *dispatch, text string, err error) (Reply, error) {
	failedAt := dp.state
	dp.state = StateFailed

	attrs := []any{
		"dispatch_id", dp.id,
		"external_id", dp.msg.ExternalID,
		"state", failedAt,
		"provider", dp.account.Provider,
		"model", dp.account.Model,
		"error", err,
	}
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Tokens > 0 {
		attrs = append(attrs, "unbilled_tokens", ue.Tokens)
	}
	switch {
	case IsConfiguration(err):
		d.logger.Error("provider configuration error", attrs...)
	case failedAt == StateRewritten:
		d.logger.Error("debit failed after rewrite", append(attrs, "tokens", dp.tokens)...)
	default:
		d.logger.Warn("dispatch failed", attrs...)
	}

	reply := d.reply(dp, text, OutcomeFailed)
	reply.TokensUsed = 0
	d.finish(dp, OutcomeFailed, err)

	return reply, &DispatchError{
		Err:        err,
		DispatchID: dp.id,
		ExternalID: dp.msg.ExternalID,
		State:      failedAt,
	}
}

func (d *Dispatcher) finish(dp *dispatch, outcome Outcome, err error) {
	tokens := dp.tokens
	if outcome != OutcomeCompleted {
		tokens = 0
	}
	d.meter.OnResult(ResultEvent{
		DispatchID: dp.id,
		ExternalID: dp.msg.ExternalID,
		AccountID:  dp.account.ID,
		Provider:   dp.account.Provider,
		Model:      dp.account.Model,
		Outcome:    outcome,
		State:      dp.state,
		Tokens:     tokens,
		Balance:    dp.account.TokenBalance,
		StartedAt:  dp.started,
		Duration:   d.now().Sub(dp.started),
		Error:      err,
	})
}

type noopMeter struct{}

func (noopMeter) OnDispatch(DispatchEvent) {}
func (noopMeter) OnResult(ResultEvent)     {}

// Greeting is the reply to a user's first /start.
const Greeting = "Hi there! I'm a bot designed to assist you in rephrasing your text into polished English. " +
	"Please type whatever you want to be rewritten, and I'll rework it into proper English for you."
