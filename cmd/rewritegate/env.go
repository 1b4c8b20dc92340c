package main

import (
	"fmt"

	env "github.com/Netflix/go-env"

	"github.com/ineyio/rewritegate"
)

// envOverrides are process environment settings that take precedence over
// the YAML config file.
type envOverrides struct {
	ConfigPath      *string `env:"REWRITEGATE_CONFIG"`
	DatabaseURL     *string `env:"REWRITEGATE_DATABASE_URL"`
	DefaultProvider *string `env:"REWRITEGATE_DEFAULT_PROVIDER"`
	DefaultModel    *string `env:"REWRITEGATE_DEFAULT_MODEL"`
	LogLevel        *string `env:"REWRITEGATE_LOG_LEVEL"`
	TraceExporter   *string `env:"REWRITEGATE_TRACE_EXPORTER"`
	TraceEndpoint   *string `env:"REWRITEGATE_TRACE_ENDPOINT"`
}

func readEnvOverrides() (envOverrides, error) {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return envOverrides{}, fmt.Errorf("read environment: %w", err)
	}
	return o, nil
}

func (o envOverrides) apply(cfg *rewritegate.Config) {
	if o.DatabaseURL != nil {
		cfg.DatabaseURL = *o.DatabaseURL
	}
	if o.DefaultProvider != nil {
		cfg.DefaultProvider = rewritegate.ProviderName(*o.DefaultProvider)
	}
	if o.DefaultModel != nil {
		cfg.DefaultModel = rewritegate.ModelName(*o.DefaultModel)
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.TraceExporter != nil {
		cfg.Tracing.Exporter = *o.TraceExporter
	}
	if o.TraceEndpoint != nil {
		cfg.Tracing.Endpoint = *o.TraceEndpoint
	}
}

// loadConfig reads the config file, when one is given, and applies
// environment overrides on top.
func loadConfig(path string) (rewritegate.Config, error) {
	o, err := readEnvOverrides()
	if err != nil {
		return rewritegate.Config{}, err
	}
	if path == "" && o.ConfigPath != nil {
		path = *o.ConfigPath
	}

	cfg := rewritegate.DefaultConfig()
	if path != "" {
		cfg, err = rewritegate.LoadConfig(path)
		if err != nil {
			return rewritegate.Config{}, err
		}
	}

	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return rewritegate.Config{}, err
	}
	return cfg, nil
}
