package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for queue entries.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// ClaimOldestQueued atomically selects the oldest queued job and
	// transitions it to running. Concurrent callers never receive the
	// same job. Returns ErrNotFound when no job is eligible.
	ClaimOldestQueued(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, jobID string, result map[string]any) error
	Fail(ctx context.Context, jobID string, errMsg string) error
	Delete(ctx context.Context, jobID string) error
	// CancelQueued flips a queued job to cancelled. Returns false without
	// mutation for any other status.
	CancelQueued(ctx context.Context, jobID, reason string) (bool, error)
	ListQueued(ctx context.Context) ([]Job, error)
	GetRunning(ctx context.Context) (*Job, error)
	// FailRunning marks every running job failed and returns the affected
	// jobs. Startup-only orphan recovery; not concurrent-safe.
	FailRunning(ctx context.Context, reason string) ([]Job, error)
	ClearFinished(ctx context.Context) (int64, error)
	// ReplaceWithBatches deletes the source jobs and inserts the batch
	// jobs within a single transaction.
	ReplaceWithBatches(ctx context.Context, deleteIDs []string, batches []*Job) error
}

// RunRepository defines persistence for execution attempts.
type RunRepository interface {
	Create(ctx context.Context, run *Run) error
	GetByID(ctx context.Context, runID string) (*Run, error)
	Update(ctx context.Context, run *Run) error
	List(ctx context.Context, limit, offset int) ([]Run, error)
	ListByPromptID(ctx context.Context, promptID string) ([]Run, error)
	Delete(ctx context.Context, runID string) error
	SetRating(ctx context.Context, runID string, rating int) error
	// FailNonTerminalByPromptIDs force-fails every non-terminal run of the
	// given prompts, as part of job failure handling and orphan recovery.
	FailNonTerminalByPromptIDs(ctx context.Context, promptIDs []string, reason string) (int64, error)
	// FailStale force-fails non-terminal runs created before cutoff,
	// covering runs that never got a job wrapper.
	FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// PromptRepository defines persistence for prompts.
type PromptRepository interface {
	Create(ctx context.Context, prompt *Prompt) error
	GetByID(ctx context.Context, promptID string) (*Prompt, error)
	List(ctx context.Context, limit, offset int) ([]Prompt, error)
	// Update amends text and parameters only; inputs are immutable.
	Update(ctx context.Context, promptID, text string, parameters map[string]any) error
	// Delete removes the prompt and cascades to its runs.
	Delete(ctx context.Context, promptID string) error
}
