package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/adapter/repo"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/cosmos"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/db"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/infra"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/queue"
)

// The worker is the single GPU consumer: one claim, one synchronous
// execution, repeat. Concurrency safety against other claimers (a second
// worker started by mistake, a CLI trigger) rests entirely on the atomic
// claim in the queue service.
type gpuWorker struct {
	queue    *queue.Service
	interval time.Duration
	logger   zerolog.Logger
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to ensure schema")
	}

	backend := cosmos.NewClient(cosmos.Options{
		BaseURL: cfg.CosmosBaseURL,
		APIKey:  cfg.CosmosAPIKey,
		Logger:  &logger,
	})
	if cfg.CosmosBaseURL == "" {
		logger.Warn().Msg("worker: COSMOS_BASE_URL not set, backend runs in synthetic mode")
	}

	queueSvc := queue.NewService(
		repo.NewJobRepository(pool),
		repo.NewRunRepository(pool),
		repo.NewPromptRepository(pool),
		backend,
		logger,
	)
	// Jobs still marked running belong to a previous worker process; only
	// the worker may sweep them.
	if err := queueSvc.RecoverOrphans(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: orphan recovery failed")
	}

	w := &gpuWorker{queue: queueSvc, interval: cfg.JobPollInterval, logger: logger}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

// Run polls the queue until ctx is cancelled. Each tick processes at most
// one job; execution blocks for the job's full GPU duration by design.
func (w *gpuWorker) Run(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.interval).Msg("worker: started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		result, processed := w.queue.ProcessNextJob(ctx)
		if !processed {
			continue
		}
		if errMsg, failed := result["error"]; failed {
			w.logger.Warn().Any("error", errMsg).Msg("worker: job finished with error")
		}
	}
}
