package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/llm-immersive/immersive/pkg/cache"
	"github.com/llm-immersive/immersive/pkg/config"
	"github.com/llm-immersive/immersive/pkg/dispatch"
	"github.com/llm-immersive/immersive/pkg/llm"
	"github.com/llm-immersive/immersive/pkg/logging"
	"github.com/llm-immersive/immersive/pkg/settings"
	"github.com/llm-immersive/immersive/pkg/store"
	"github.com/llm-immersive/immersive/pkg/store/redis"
	"github.com/llm-immersive/immersive/pkg/store/sqlite"
	"github.com/llm-immersive/immersive/pkg/translator"
	"github.com/llm-immersive/immersive/pkg/usage"
)

// app is the process-wide object graph shared by every command.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	backend    store.Backend
	settings   *settings.Provider
	cache      *cache.Cache
	usage      *usage.SQLiteTracker
	translator *translator.Service
	dispatcher *dispatch.Dispatcher
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Environment, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	a := &app{cfg: cfg, logger: logger, backend: backend}

	llmOpts := []llm.Option{
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithLogger(logger.With().Str("component", "llm").Logger()),
	}
	if cfg.Usage.Enabled {
		a.usage, err = usage.New(cfg.DBPath)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("init usage tracker: %w", err)
		}
		llmOpts = append(llmOpts, llm.WithRecorder(a.usage))
	}

	a.settings = settings.New(backend.Area(store.AreaSync), logger.With().Str("component", "settings").Logger())
	a.cache = cache.New(backend.Area(store.AreaLocal),
		cache.WithCapacity(cfg.Cache.Capacity),
		cache.WithStorageKey(cfg.Cache.StorageKey),
		cache.WithLogger(logger.With().Str("component", "cache").Logger()),
	)
	a.translator = translator.New(a.settings, a.cache, llm.New(llmOpts...),
		translator.WithLogger(logger.With().Str("component", "translator").Logger()))
	a.dispatcher = dispatch.New(a.translator, a.settings, a.cache,
		logger.With().Str("component", "dispatch").Logger())
	return a, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendRedis:
		s, err := redis.New(ctx, redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// warmCache loads the persisted cache up front; a failure is retried on
// first use.
func (a *app) warmCache(ctx context.Context) {
	if err := a.cache.Load(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("translation cache not loaded")
		return
	}
	a.logger.Debug().Int("entries", a.cache.Len()).Msg("translation cache ready")
}

func (a *app) Close() error {
	var errs []error
	if a.usage != nil {
		errs = append(errs, a.usage.Close())
	}
	errs = append(errs, a.backend.Close())
	return errors.Join(errs...)
}
