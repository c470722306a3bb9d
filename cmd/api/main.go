package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/adapter/repo"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/batch"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/cosmos"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/db"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/http/handlers"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/http/httpapi"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/infra"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/queue"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/reconcile"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to connect database")
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("api: failed to ensure schema")
	}

	store, err := storage.NewFileStore(cfg.OutputsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure output storage")
	}

	backend := cosmos.NewClient(cosmos.Options{
		BaseURL: cfg.CosmosBaseURL,
		APIKey:  cfg.CosmosAPIKey,
		Logger:  &logger,
	})
	if cfg.CosmosBaseURL == "" {
		logger.Warn().Msg("api: COSMOS_BASE_URL not set, backend runs in synthetic mode")
	}

	jobs := repo.NewJobRepository(pool)
	runs := repo.NewRunRepository(pool)
	prompts := repo.NewPromptRepository(pool)

	// No orphan recovery here: a running job belongs to the live worker
	// process, which restarts independently of the API.
	queueSvc := queue.NewService(jobs, runs, prompts, backend, logger)
	engine := batch.NewEngine(jobs, cfg.MaxBatchSize, logger)
	reconciler := reconcile.NewService(runs, backend, store, logger)

	app := &handlers.App{
		Log:     logger,
		Prompts: prompts,
		Runs:    runs,
		Reader:  reconciler,
		Queue:   queueSvc,
		Batch:   engine,
		DB:      pool,
	}
	router := httpapi.NewRouter(app, logger, cfg.AllowedOrigins)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: failed to shutdown server")
	}
	logger.Info().Msg("api: stopped")
}
