package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/batch"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/domain"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/queue"
)

// QueueService is the queue surface the handlers consume.
type QueueService interface {
	AddJob(ctx context.Context, promptIDs []string, jobType domain.JobType, config domain.JobConfig, priority int) (string, error)
	CancelJob(ctx context.Context, jobID string) (bool, error)
	GetJobStatus(ctx context.Context, jobID string) (*domain.Job, error)
	GetQueueStatus(ctx context.Context) (*queue.Status, error)
	ClearCompletedJobs(ctx context.Context) (int64, error)
	SetPaused(paused bool)
	IsPaused() bool
}

// BatchEngine is the smart-batching surface the handlers consume.
type BatchEngine interface {
	Analyze(ctx context.Context, mixControls bool) (*batch.Analysis, error)
	Execute(ctx context.Context) (*batch.ExecuteResult, error)
}

// RunReader reads runs, reconciling non-terminal ones against the backend.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	GetRunWithSync(ctx context.Context, runID string) (*domain.Run, error)
	ListRunsWithSync(ctx context.Context, limit, offset int) ([]domain.Run, error)
}

// Pinger is the liveness probe for the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App bundles handler dependencies.
type App struct {
	Log     zerolog.Logger
	Prompts domain.PromptRepository
	Runs    domain.RunRepository
	Reader  RunReader
	Queue   QueueService
	Batch   BatchEngine
	DB      Pinger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
