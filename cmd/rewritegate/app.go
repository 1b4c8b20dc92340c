package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/rewritegate"
	"github.com/ineyio/rewritegate/meter"
	"github.com/ineyio/rewritegate/provider/gemini"
	"github.com/ineyio/rewritegate/provider/openaicompat"
	"github.com/ineyio/rewritegate/store/memory"
	"github.com/ineyio/rewritegate/store/postgres"
	"github.com/ineyio/rewritegate/store/redis"
	"github.com/ineyio/rewritegate/store/sqlite"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg        rewritegate.Config
	logger     *slog.Logger
	store      *rewritegate.AccountStore
	dispatcher *rewritegate.Dispatcher
	closers    []func(context.Context) error
}

func newApp(ctx context.Context, cfg rewritegate.Config) (*app, error) {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	repo, closeRepo, err := openRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeRepo)

	tp, shutdown, err := setupTracing(ctx, cfg.Tracing)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	a.store = rewritegate.NewAccountStore(repo, cfg.AccountDefaults(),
		append(cfg.StoreOptions(), rewritegate.WithStoreLogger(logger))...)

	adapters := []rewritegate.Provider{
		openaicompat.NewOpenAI(),
		openaicompat.NewGroq(),
		gemini.New(),
	}
	registry := rewritegate.NewProviderRegistry(adapters,
		append(cfg.RegistryOptions(), rewritegate.WithRegistryLogger(logger))...)

	meters := meter.Multi{meter.NewLogMeter(logger)}
	if tp != nil {
		meters = append(meters, meter.NewOtelMeter(tp))
	}

	a.dispatcher, err = rewritegate.NewDispatcher(cfg, registry, a.store,
		rewritegate.WithMeter(meters),
		rewritegate.WithLogger(logger),
	)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	return a, nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openRepository picks the account backend from the database URL scheme.
func openRepository(ctx context.Context, databaseURL string) (rewritegate.AccountRepository, func(context.Context) error, error) {
	scheme, rest, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return nil, nil, fmt.Errorf("database url %q has no scheme", databaseURL)
	}

	noop := func(context.Context) error { return nil }

	switch scheme {
	case "postgres", "postgresql":
		pool, err := postgres.Connect(ctx, databaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool), func(context.Context) error { pool.Close(); return nil }, nil

	case "redis", "rediss":
		opts, err := goredis.ParseURL(databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis not available: %w", err)
		}
		return redis.New(client), func(context.Context) error { return client.Close() }, nil

	case "sqlite", "file":
		db, err := sqlite.Open(rest)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.New(db), func(context.Context) error { return db.Close() }, nil

	case "memory":
		return memory.New(), noop, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
