package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/rewritegate"
)

// Provider is a mock LLM provider for testing. By default it poses as
// groq and serves every groq model.
type Provider struct {
	name         string
	models       []string
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	content      string
	usage        *rewritegate.Usage
	responseFunc func(rewritegate.ProviderRequest) (rewritegate.ProviderResponse, error)

	mu      sync.Mutex
	lastReq rewritegate.ProviderRequest
}

var _ rewritegate.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:    string(rewritegate.ProviderGroq),
		content: "Hello from mock provider",
		usage: &rewritegate.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
	for _, m := range rewritegate.ModelsFor(rewritegate.ProviderGroq) {
		p.models = append(p.models, string(m))
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name rewritegate.ProviderName) Option {
	return func(p *Provider) {
		p.name = string(name)
		p.models = nil
		for _, m := range rewritegate.ModelsFor(name) {
			p.models = append(p.models, string(m))
		}
	}
}

// WithModels sets supported models.
func WithModels(models ...string) Option {
	return func(p *Provider) { p.models = models }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithContent sets the completion text.
func WithContent(s string) Option {
	return func(p *Provider) { p.content = s }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u rewritegate.Usage) Option {
	return func(p *Provider) { p.usage = &u }
}

// WithTotalTokens reports total tokens only.
func WithTotalTokens(n int64) Option {
	return func(p *Provider) { p.usage = &rewritegate.Usage{TotalTokens: n} }
}

// WithoutUsage makes responses carry no usage metadata.
func WithoutUsage() Option {
	return func(p *Provider) { p.usage = nil }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(rewritegate.ProviderRequest) (rewritegate.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsModel(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *Provider) ChatCompletion(ctx context.Context, req rewritegate.ProviderRequest) (rewritegate.ProviderResponse, error) {
	p.mu.Lock()
	p.lastReq = req
	p.mu.Unlock()

	count := p.callCount.Add(1)

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return rewritegate.ProviderResponse{}, ctx.Err()
		}
	}

	if p.staticErr != nil {
		return rewritegate.ProviderResponse{}, p.staticErr
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return rewritegate.ProviderResponse{}, rewritegate.ErrProviderUnavailable
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	resp := rewritegate.ProviderResponse{
		ID:           "mock-response-id",
		Content:      p.content,
		FinishReason: "stop",
		Model:        req.Model,
	}
	if p.usage != nil {
		u := *p.usage
		resp.Usage = &u
	}
	return resp, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// LastRequest returns the most recent request.
func (p *Provider) LastRequest() rewritegate.ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReq
}
