package rewritegate

import (
	"errors"
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// DefaultTokenBalance is the balance a new account starts with.
const DefaultTokenBalance int64 = 1_000_000

// Config is the top-level gateway configuration.
type Config struct {
	DefaultProvider     ProviderName            `yaml:"default_provider"`
	DefaultModel        ModelName               `yaml:"default_model"`
	Temperature         float64                 `yaml:"temperature"`
	DefaultTokenBalance int64                   `yaml:"default_token_balance"`
	Cache               CacheConfig             `yaml:"cache"`
	Timeouts            TimeoutConfig           `yaml:"timeouts"`
	ConfigRetryAfter    time.Duration           `yaml:"config_retry_after"`
	DatabaseURL         string                  `yaml:"database_url"`
	Credentials         map[ProviderName]string `yaml:"credentials"`
	Tracing             TracingConfig           `yaml:"tracing"`
	LogLevel            string                  `yaml:"log_level"`
}

// CacheConfig sizes the account lookup cache.
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// TimeoutConfig bounds the blocking calls of a dispatch.
type TimeoutConfig struct {
	Request time.Duration `yaml:"request"`
	Store   time.Duration `yaml:"store"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	return Config{
		DefaultProvider:     ProviderGroq,
		DefaultModel:        ModelGemma7B,
		Temperature:         0.5,
		DefaultTokenBalance: DefaultTokenBalance,
		Cache: CacheConfig{
			Size: defaultCacheSize,
			TTL:  defaultCacheTTL,
		},
		Timeouts: TimeoutConfig{
			Request: 60 * time.Second,
			Store:   defaultStoreTimeout,
		},
		ConfigRetryAfter: defaultBreakerCooldown,
		DatabaseURL:      "sqlite://rewritegate.db",
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "rewritegate",
		},
		LogLevel: "info",
	}
}

// LoadConfig reads and parses a YAML config file on top of DefaultConfig.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("rewritegate: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config data on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("rewritegate: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.DefaultProvider, validation.Required),
		validation.Field(&c.DefaultModel, validation.Required,
			validation.By(func(any) error {
				if !IsValidPair(c.DefaultProvider, c.DefaultModel) {
					return fmt.Errorf("%s is not offered by provider %q", c.DefaultModel, c.DefaultProvider)
				}
				return nil
			})),
		validation.Field(&c.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&c.DefaultTokenBalance, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Cache),
		validation.Field(&c.Timeouts),
		validation.Field(&c.ConfigRetryAfter, validation.Min(time.Duration(0))),
		validation.Field(&c.DatabaseURL, validation.Required),
		validation.Field(&c.Credentials, validation.By(validateCredentialKeys)),
		validation.Field(&c.Tracing),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
	)
	if err != nil {
		return fmt.Errorf("rewritegate: config: %w", err)
	}
	return nil
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Size, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Second)),
	)
}

func (c TimeoutConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Request, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Store, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (c TracingConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Exporter, validation.In("", "none", "stdout", "otlp")),
		validation.Field(&c.Endpoint, validation.When(c.Exporter == "otlp", validation.Required)),
	)
}

func validateCredentialKeys(v any) error {
	keys, _ := v.(map[ProviderName]string)
	for p, key := range keys {
		if _, ok := validPairs[p]; !ok {
			return fmt.Errorf("unknown provider %q", p)
		}
		if key == "" {
			return errors.New("credential key must not be empty")
		}
	}
	return nil
}

// RegistryOptions returns the registry options implied by the config.
func (c Config) RegistryOptions() []RegistryOption {
	opts := []RegistryOption{WithBreaker(NewBreaker(c.ConfigRetryAfter))}
	for p, key := range c.Credentials {
		opts = append(opts, WithCredentialKey(p, key))
	}
	return opts
}

// AccountDefaults returns the defaults applied to new accounts.
func (c Config) AccountDefaults() AccountDefaults {
	return AccountDefaults{
		Provider:     c.DefaultProvider,
		Model:        c.DefaultModel,
		TokenBalance: c.DefaultTokenBalance,
	}
}

// StoreOptions returns the account store options implied by the config.
func (c Config) StoreOptions() []StoreOption {
	return []StoreOption{
		WithCache(c.Cache.Size, c.Cache.TTL),
		WithStoreTimeout(c.Timeouts.Store),
	}
}
