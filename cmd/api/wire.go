package main

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"pageforge/internal/adapter/repo"
	"pageforge/internal/cache"
	"pageforge/internal/domain"
	"pageforge/internal/imagegen"
	"pageforge/internal/infra"
	"pageforge/internal/pipeline"
	"pageforge/internal/providers/text"
	"pageforge/internal/rehost"
	"pageforge/internal/storage"
)

type jobStore struct {
	repo  domain.JobRepository
	ping  func(ctx context.Context) error
	close func()
}

func openJobStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*jobStore, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		pg := repo.NewJobRepository(infra.NewSQLRunner(pool, logger))
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate jobs table: %w", err)
		}
		return &jobStore{repo: pg, ping: pool.Ping, close: pool.Close}, nil
	case "sqlite":
		db, err := infra.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		lite := repo.NewSQLiteJobRepository(db)
		if err := lite.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate jobs table: %w", err)
		}
		return &jobStore{repo: lite, ping: db.PingContext, close: func() { _ = db.Close() }}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func buildService(cfg *infra.Config, jobs domain.JobRepository, logger *infra.Logger) (*pipeline.Service, domain.ObjectStore, error) {
	providerChain, err := infra.LoadProviderChain(cfg.ProviderChainFile)
	if err != nil {
		return nil, nil, err
	}
	objects, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	client := &http.Client{Timeout: cfg.Retry.AttemptTimeout}

	texts := text.NewRegistry(
		text.NewOpenAIGenerator(text.OpenAIOptions{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL, Logger: logger}),
		text.NewGeminiGenerator(text.GeminiOptions{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel, BaseURL: cfg.GeminiBaseURL, Logger: logger}),
		text.NewStaticGenerator(),
	)
	images := imagegen.NewRegistry(
		imagegen.NewOpenAIProvider(imagegen.OpenAIOptions{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, HTTPClient: client, Logger: logger}),
		imagegen.NewQwenProvider(imagegen.QwenOptions{APIKey: cfg.QwenAPIKey, BaseURL: cfg.QwenBaseURL, HTTPClient: client, Logger: logger}),
		imagegen.NewGeminiProvider(imagegen.GeminiOptions{APIKey: cfg.GeminiAPIKey, BaseURL: cfg.GeminiBaseURL, HTTPClient: client, Logger: logger}),
		imagegen.NewPicsumProvider(imagegen.FreeOptions{}),
		imagegen.NewPollinationsProvider(imagegen.FreeOptions{}),
		imagegen.NewPlaceholderProvider(),
	)

	var limiter *rate.Limiter
	if cfg.Retry.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Retry.RatePerSecond), max(1, cfg.Retry.Parallelism))
	}
	chain := imagegen.NewFallbackChain(imagegen.NewDispatcher(images, providerChain), imagegen.ChainOptions{
		Policy:  imagegen.PolicyFromConfig(cfg.Retry),
		Limiter: limiter,
		Logger:  logger,
	})

	statusCache := cache.NewMemoryStatusCache(cfg.StatusCacheTTL)
	orchestrator := pipeline.NewOrchestrator(pipeline.OrchestratorOptions{
		Repo:          jobs,
		Cache:         statusCache,
		Resolver:      chain,
		ProviderChain: providerChain,
		Rehoster: rehost.New(rehost.Options{
			Store:   objects,
			BaseURL: cfg.StorageBaseURL,
			TTL:     cfg.AssetTTL,
			Logger:  logger,
		}),
		LockTTL:     cfg.LockTTL,
		Parallelism: cfg.Retry.Parallelism,
		Logger:      logger,
	})

	validator, err := pipeline.NewValidator(pipeline.ValidatorOptions{
		TextProviders:  texts.Names(),
		ImageProviders: images.Names(),
		ServerTextKeys: map[string]bool{
			"openai": cfg.OpenAIAPIKey != "",
			"gemini": cfg.GeminiAPIKey != "",
			"static": true,
		},
		ForceTestMode: cfg.TestMode,
	})
	if err != nil {
		return nil, nil, err
	}

	svc := pipeline.NewService(pipeline.ServiceOptions{
		Repo:         jobs,
		Cache:        statusCache,
		Validator:    validator,
		Structure:    pipeline.NewStructureGenerator(texts, cfg.MaxPlaceholders, logger),
		Orchestrator: orchestrator,
		Logger:       logger,
	})
	return svc, objects, nil
}
