package rewritegate

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/lo"
)

// ProviderName identifies a model vendor.
type ProviderName string

const (
	ProviderOpenAI ProviderName = "openai"
	ProviderGroq   ProviderName = "groq"
	ProviderGemini ProviderName = "gemini"
)

// ModelName identifies a model offered by a provider.
type ModelName string

const (
	ModelGPT35Turbo    ModelName = "gpt-3.5-turbo"
	ModelGPT4Turbo     ModelName = "gpt-4-turbo"
	ModelMixtral8x7B   ModelName = "mixtral-8x7b-32768"
	ModelGemma7B       ModelName = "gemma-7b-it"
	ModelLlama3_8B     ModelName = "llama3-8b-8192"
	ModelLlama3_70B    ModelName = "llama3-70b-8192"
	ModelGemini15Flash ModelName = "gemini-1.5-flash"
	ModelGemini15Pro   ModelName = "gemini-1.5-pro"
)

// validPairs is the complete set of selectable provider/model combinations.
// Anything not listed here is rejected.
var validPairs = map[ProviderName][]ModelName{
	ProviderOpenAI: {ModelGPT35Turbo, ModelGPT4Turbo},
	ProviderGroq:   {ModelMixtral8x7B, ModelGemma7B, ModelLlama3_8B, ModelLlama3_70B},
	ProviderGemini: {ModelGemini15Flash, ModelGemini15Pro},
}

// credentialKeys names the single credential each provider is built with.
var credentialKeys = map[ProviderName]string{
	ProviderOpenAI: "OPENAI_API_KEY",
	ProviderGroq:   "GROQ_API_KEY",
	ProviderGemini: "GEMINI_API_KEY",
}

// IsValidPair reports whether model may be served by provider.
func IsValidPair(provider ProviderName, model ModelName) bool {
	models, ok := validPairs[provider]
	return ok && lo.Contains(models, model)
}

// Providers returns the known providers in a stable order.
func Providers() []ProviderName {
	return []ProviderName{ProviderOpenAI, ProviderGroq, ProviderGemini}
}

// ModelsFor returns the models selectable for provider.
func ModelsFor(provider ProviderName) []ModelName {
	return append([]ModelName(nil), validPairs[provider]...)
}

// CredentialKey returns the designated credential key for provider.
func CredentialKey(provider ProviderName) string {
	return credentialKeys[provider]
}

// CredentialSource resolves a credential by key.
type CredentialSource interface {
	Lookup(key string) (string, bool)
}

// EnvCredentials reads credentials from the process environment.
type EnvCredentials struct{}

func (EnvCredentials) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapCredentials is a static credential source.
type MapCredentials map[string]string

func (m MapCredentials) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// ProviderRegistry turns a provider/model selection into a ModelGateway.
type ProviderRegistry struct {
	adapters    map[ProviderName]Provider
	credentials CredentialSource
	keys        map[ProviderName]string
	breaker     *Breaker
	logger      *slog.Logger
}

// RegistryOption configures a ProviderRegistry.
type RegistryOption func(*ProviderRegistry)

// WithCredentials sets the credential source (default: environment).
func WithCredentials(src CredentialSource) RegistryOption {
	return func(r *ProviderRegistry) { r.credentials = src }
}

// WithCredentialKey overrides the credential key read for provider.
func WithCredentialKey(provider ProviderName, key string) RegistryOption {
	return func(r *ProviderRegistry) { r.keys[provider] = key }
}

// WithBreaker sets the breaker used to fail fast on repeated
// configuration errors.
func WithBreaker(b *Breaker) RegistryOption {
	return func(r *ProviderRegistry) { r.breaker = b }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *ProviderRegistry) { r.logger = l }
}

// NewProviderRegistry creates a registry over the given adapters. Adapters
// whose name is not a known provider are ignored.
func NewProviderRegistry(adapters []Provider, opts ...RegistryOption) *ProviderRegistry {
	r := &ProviderRegistry{
		adapters:    make(map[ProviderName]Provider, len(adapters)),
		credentials: EnvCredentials{},
		keys:        make(map[ProviderName]string, len(credentialKeys)),
		logger:      slog.Default(),
	}
	for p, k := range credentialKeys {
		r.keys[p] = k
	}
	for _, a := range adapters {
		name := ProviderName(a.Name())
		if _, ok := validPairs[name]; ok {
			r.adapters[name] = a
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = NewBreaker(0)
	}
	return r
}

// IsValidPair reports whether the registry accepts the pair.
func (r *ProviderRegistry) IsValidPair(provider ProviderName, model ModelName) bool {
	return IsValidPair(provider, model)
}

// Build resolves the credential for provider and returns a gateway bound to
// model and temperature. An invalid pair fails before any credential lookup
// or network access.
func (r *ProviderRegistry) Build(provider ProviderName, model ModelName, temperature float64) (*ModelGateway, error) {
	if !IsValidPair(provider, model) {
		return nil, &ConfigurationError{Provider: provider, Model: model, Reason: "invalid provider/model combination"}
	}

	if err := r.breaker.Check(provider); err != nil {
		return nil, &ConfigurationError{Provider: provider, Model: model, Reason: "provider breaker open", Err: err}
	}

	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, r.fail(provider, model, "no adapter registered")
	}
	if !adapter.SupportsModel(string(model)) {
		return nil, r.fail(provider, model, "adapter does not serve model")
	}

	key := r.keys[provider]
	secret, ok := r.credentials.Lookup(key)
	if !ok || strings.TrimSpace(secret) == "" {
		return nil, r.fail(provider, model, fmt.Sprintf("credential %s is not set", key))
	}

	r.breaker.RecordSuccess(provider)

	return newModelGateway(adapter, Auth{APIKey: secret}, provider, model, temperature), nil
}

func (r *ProviderRegistry) fail(provider ProviderName, model ModelName, reason string) error {
	err := &ConfigurationError{Provider: provider, Model: model, Reason: reason}
	r.breaker.RecordFailure(provider, errors.New(reason))
	r.logger.Warn("provider breaker opened",
		"provider", provider,
		"model", model,
		"reason", reason,
	)
	return err
}
