package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pageforge/internal/http/handlers"
	httpapi "pageforge/internal/http/httpapi"
	"pageforge/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	store, err := openJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open job store")
	}
	defer store.close()

	svc, objects, err := buildService(cfg, store.repo, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build job service")
	}

	app := handlers.NewApp(svc, objects)
	app.Health["store"] = store.ping
	app.Health["storage"] = func(context.Context) error {
		_, err := os.Stat(cfg.StoragePath)
		return err
	}

	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMin,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("driver", cfg.StoreDriver).Bool("test_mode", cfg.TestMode).Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
