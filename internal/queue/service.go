package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/cosmos"
	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/domain"
)

// StaleRunThreshold is how old a non-terminal run must be before the
// startup sweep considers it abandoned.
const StaleRunThreshold = 10 * time.Minute

const restartFailureReason = "interrupted by restart"

// Service owns the job queue lifecycle: enqueue, atomic claim, synchronous
// execution against the Cosmos backend, cancellation and status reporting.
// The paused flag is process-local; run exactly one service instance per
// database.
type Service struct {
	jobs    domain.JobRepository
	runs    domain.RunRepository
	prompts domain.PromptRepository
	backend cosmos.Backend
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	paused bool
}

// QueuedJobInfo is one entry in the queue status snapshot. Position is the
// 1-based FIFO index among queued jobs.
type QueuedJobInfo struct {
	ID          string `json:"id"`
	Position    int    `json:"position"`
	Type        string `json:"type"`
	PromptCount int    `json:"prompt_count"`
	Priority    int    `json:"priority"`
}

// RunningJobInfo describes the in-flight job, if any.
type RunningJobInfo struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	PromptCount    int     `json:"prompt_count"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Status is a read-only snapshot of the queue.
type Status struct {
	TotalQueued int             `json:"total_queued"`
	Queued      []QueuedJobInfo `json:"queued"`
	Running     *RunningJobInfo `json:"running,omitempty"`
	Paused      bool            `json:"paused"`
}

// NewService constructs the queue service.
func NewService(jobs domain.JobRepository, runs domain.RunRepository, prompts domain.PromptRepository, backend cosmos.Backend, logger zerolog.Logger) *Service {
	return &Service{
		jobs:    jobs,
		runs:    runs,
		prompts: prompts,
		backend: backend,
		log:     logger,
		now:     time.Now,
	}
}

// RecoverOrphans fails work abandoned by a dead worker: any job still
// marked running is a crash artifact of the previous worker process and
// is failed along with its prompts' non-terminal runs. A second sweep
// fails non-terminal runs older than StaleRunThreshold that never had a
// job wrapper. Only the worker calls this at startup — from the API's
// point of view a running job belongs to a live worker, so sweeping on
// API restart would destroy in-flight work.
func (s *Service) RecoverOrphans(ctx context.Context) error {
	orphans, err := s.jobs.FailRunning(ctx, restartFailureReason)
	if err != nil {
		return fmt.Errorf("queue: orphan recovery: %w", err)
	}
	for _, job := range orphans {
		s.log.Warn().Str("job_id", job.ID).Msg("queue: failed orphaned job from previous process")
		if len(job.PromptIDs) == 0 {
			continue
		}
		if _, err := s.runs.FailNonTerminalByPromptIDs(ctx, job.PromptIDs, restartFailureReason); err != nil {
			return fmt.Errorf("queue: orphan recovery: %w", err)
		}
	}
	cutoff := s.now().Add(-StaleRunThreshold)
	n, err := s.runs.FailStale(ctx, cutoff, "abandoned: no status update before restart")
	if err != nil {
		return fmt.Errorf("queue: orphan recovery: %w", err)
	}
	if n > 0 {
		s.log.Warn().Int64("count", n).Msg("queue: failed stale runs")
	}
	return nil
}

// AddJob validates and persists a new queued job, returning its id.
func (s *Service) AddJob(ctx context.Context, promptIDs []string, jobType domain.JobType, config domain.JobConfig, priority int) (string, error) {
	if !jobType.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidJobType, jobType)
	}
	if config == nil {
		config = domain.JobConfig{}
	}
	switch jobType {
	case domain.JobTypeUpscale:
		if config.String("video_source", "") == "" {
			return "", fmt.Errorf("%w: upscale requires video_source", domain.ErrInvalidConfig)
		}
	default:
		if len(promptIDs) == 0 {
			return "", fmt.Errorf("%w: %s requires at least one prompt id", domain.ErrInvalidConfig, jobType)
		}
		for _, id := range promptIDs {
			if _, err := s.prompts.GetByID(ctx, id); err != nil {
				return "", fmt.Errorf("prompt %s: %w", id, err)
			}
		}
	}
	job := &domain.Job{
		ID:        domain.NewJobID(),
		PromptIDs: promptIDs,
		Type:      jobType,
		Status:    domain.JobStatusQueued,
		Config:    config,
		Priority:  priority,
		CreatedAt: s.now(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", err
	}
	s.log.Info().Str("job_id", job.ID).Str("type", string(jobType)).Int("prompts", len(promptIDs)).Msg("queue: job added")
	return job.ID, nil
}

// ClaimNextJob atomically claims the oldest queued job. It returns
// found=false when the queue is paused, empty, or the GPU host already
// reports an active container (single-worker admission control; nothing
// is mutated in that case).
func (s *Service) ClaimNextJob(ctx context.Context) (*domain.Job, bool, error) {
	if s.IsPaused() {
		return nil, false, nil
	}
	containers, err := s.backend.GetActiveContainers(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("queue: container probe: %w", err)
	}
	if len(containers) > 0 {
		s.log.Debug().Int("active", len(containers)).Msg("queue: claim deferred, worker busy")
		return nil, false, nil
	}
	job, err := s.jobs.ClaimOldestQueued(ctx)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	s.log.Info().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("queue: job claimed")
	return job, true, nil
}

// ExecuteJob dispatches a claimed job to the backend and records the
// outcome. Successful jobs are deleted (the run store is the authoritative
// record); failed jobs are retained with their error for inspection.
// Backend errors are converted to the failed terminal state, never
// propagated as a crash.
func (s *Service) ExecuteJob(ctx context.Context, jobID string) (map[string]any, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue: load job %s: %w", jobID, err)
	}
	result, execErr := s.dispatch(ctx, job)
	if execErr != nil {
		s.log.Error().Err(execErr).Str("job_id", job.ID).Msg("queue: job failed")
		if err := s.jobs.Fail(ctx, job.ID, execErr.Error()); err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("queue: record failure")
		}
		if len(job.PromptIDs) > 0 {
			if _, err := s.runs.FailNonTerminalByPromptIDs(ctx, job.PromptIDs, execErr.Error()); err != nil {
				s.log.Error().Err(err).Str("job_id", job.ID).Msg("queue: fail associated runs")
			}
		}
		return nil, execErr
	}
	if err := s.jobs.Complete(ctx, job.ID, result); err != nil {
		return nil, fmt.Errorf("queue: record completion: %w", err)
	}
	// Completed jobs are redundant with run records; only failures stay
	// queryable.
	if err := s.jobs.Delete(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("queue: delete completed job: %w", err)
	}
	s.log.Info().Str("job_id", job.ID).Msg("queue: job completed")
	return result, nil
}

// ProcessNextJob claims and executes one job. It is the unit a polling
// loop invokes each tick. The second return reports whether a job was
// claimed at all; execution failures still count as processed.
func (s *Service) ProcessNextJob(ctx context.Context) (map[string]any, bool) {
	job, found, err := s.ClaimNextJob(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("queue: claim failed")
		return nil, false
	}
	if !found {
		return nil, false
	}
	result, err := s.ExecuteJob(ctx, job.ID)
	if err != nil {
		return map[string]any{"error": err.Error()}, true
	}
	return result, true
}

// CancelJob cancels a queued job. Running and terminal jobs are left
// untouched and false is returned; there is no preemption for in-flight
// work.
func (s *Service) CancelJob(ctx context.Context, jobID string) (bool, error) {
	ok, err := s.jobs.CancelQueued(ctx, jobID, "User cancelled")
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Info().Str("job_id", jobID).Msg("queue: job cancelled")
	}
	return ok, nil
}

// GetJobStatus fetches a job by id. Returns domain.ErrNotFound for
// unknown ids, including successfully completed (and therefore deleted)
// jobs.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// GetQueueStatus returns a read-only snapshot of queued and running work.
func (s *Service) GetQueueStatus(ctx context.Context) (*Status, error) {
	queued, err := s.jobs.ListQueued(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		TotalQueued: len(queued),
		Queued:      make([]QueuedJobInfo, 0, len(queued)),
		Paused:      s.IsPaused(),
	}
	for i, job := range queued {
		st.Queued = append(st.Queued, QueuedJobInfo{
			ID:          job.ID,
			Position:    i + 1,
			Type:        string(job.Type),
			PromptCount: len(job.PromptIDs),
			Priority:    job.Priority,
		})
	}
	running, err := s.jobs.GetRunning(ctx)
	if err != nil && err != domain.ErrNotFound {
		return nil, err
	}
	if running != nil {
		info := &RunningJobInfo{
			ID:          running.ID,
			Type:        string(running.Type),
			PromptCount: len(running.PromptIDs),
		}
		if running.StartedAt != nil {
			info.ElapsedSeconds = s.now().Sub(*running.StartedAt).Seconds()
		}
		st.Running = info
	}
	return st, nil
}

// ClearCompletedJobs removes failed and cancelled rows from the queue
// table and returns how many were deleted.
func (s *Service) ClearCompletedJobs(ctx context.Context) (int64, error) {
	return s.jobs.ClearFinished(ctx)
}

// SetPaused toggles claim admission. In-flight jobs continue.
func (s *Service) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
	s.log.Info().Bool("paused", paused).Msg("queue: pause state changed")
}

// IsPaused reports the pause flag.
func (s *Service) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}
