package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pageforge/internal/domain"
	"pageforge/internal/infra"
	"pageforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	store, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("janitor: failed to configure storage")
	}

	j := &janitor{store: store, interval: cfg.JanitorInterval, logger: logger, now: time.Now}
	if err := j.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("janitor: stopped with error")
	}
	logger.Info().Msg("janitor: stopped")
}

// janitor removes expired rehosted assets on an interval.
type janitor struct {
	store    domain.ObjectStore
	interval time.Duration
	logger   infra.Logger
	now      func() time.Time
}

func (j *janitor) Run(ctx context.Context) error {
	interval := j.interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	j.logger.Info().Dur("interval", interval).Msg("janitor: started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		j.sweep(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (j *janitor) sweep(ctx context.Context) {
	start := j.now()
	removed, err := j.store.Sweep(ctx, start)
	if err != nil {
		j.logger.Error().Err(err).Int("removed", removed).Msg("janitor: sweep failed")
		return
	}
	j.logger.Info().Int("removed", removed).Dur("took", time.Since(start)).Msg("janitor: sweep finished")
}
