package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/domain"
)

const jobColumns = "id, prompt_ids, job_type, status, config, priority, created_at, started_at, completed_at, result"

// JobRepositoryPG implements domain.JobRepository over PostgreSQL.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new queue entry.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO job_queue (id, prompt_ids, job_type, status, config, priority, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		mustJSON(job.PromptIDs),
		job.Type,
		job.Status,
		mustJSON(job.Config),
		job.Priority,
		job.CreatedAt,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_queue WHERE id = $1;`, jobID)
	return scanJob(row)
}

// ClaimOldestQueued atomically transitions the oldest queued job to
// running. FOR UPDATE SKIP LOCKED guarantees concurrent claimers either
// receive distinct jobs or none; nobody blocks and nobody double-claims.
func (r *JobRepositoryPG) ClaimOldestQueued(ctx context.Context) (*domain.Job, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM job_queue
    WHERE status = 'queued'
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
UPDATE job_queue
SET status = 'running', started_at = now()
WHERE id IN (SELECT id FROM next_job)
RETURNING ` + jobColumns + `;
`
	return scanJob(r.pool.QueryRow(ctx, query))
}

// Complete records a successful result. completed_at is written only once.
func (r *JobRepositoryPG) Complete(ctx context.Context, jobID string, result map[string]any) error {
	query := `
UPDATE job_queue
SET status = 'completed',
    completed_at = COALESCE(completed_at, now()),
    result = $2
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, jobID, mustJSON(result))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Fail records a failed result. The row is retained for inspection.
func (r *JobRepositoryPG) Fail(ctx context.Context, jobID string, errMsg string) error {
	query := `
UPDATE job_queue
SET status = 'failed',
    completed_at = COALESCE(completed_at, now()),
    result = $2
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, jobID, mustJSON(map[string]any{"error": errMsg}))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a queue entry.
func (r *JobRepositoryPG) Delete(ctx context.Context, jobID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM job_queue WHERE id = $1;`, jobID)
	return err
}

// CancelQueued cancels a job only while it is still queued. Any other
// status leaves the row untouched and returns false.
func (r *JobRepositoryPG) CancelQueued(ctx context.Context, jobID, reason string) (bool, error) {
	query := `
UPDATE job_queue
SET status = 'cancelled',
    completed_at = COALESCE(completed_at, now()),
    result = $2
WHERE id = $1 AND status = 'queued';
`
	tag, err := r.pool.Exec(ctx, query, jobID, mustJSON(map[string]any{"reason": reason}))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListQueued returns queued jobs in FIFO creation order.
func (r *JobRepositoryPG) ListQueued(ctx context.Context) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job_queue WHERE status = 'queued' ORDER BY created_at ASC;`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// GetRunning returns the in-flight job, if any.
func (r *JobRepositoryPG) GetRunning(ctx context.Context) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job_queue WHERE status = 'running' ORDER BY started_at ASC LIMIT 1;`
	return scanJob(r.pool.QueryRow(ctx, query))
}

// FailRunning marks every running job failed and returns the affected
// rows. Startup-only orphan recovery.
func (r *JobRepositoryPG) FailRunning(ctx context.Context, reason string) ([]domain.Job, error) {
	query := `
UPDATE job_queue
SET status = 'failed',
    completed_at = COALESCE(completed_at, now()),
    result = $1
WHERE status = 'running'
RETURNING ` + jobColumns + `;
`
	rows, err := r.pool.Query(ctx, query, mustJSON(map[string]any{"error": reason}))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ClearFinished deletes completed, failed and cancelled rows.
func (r *JobRepositoryPG) ClearFinished(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM job_queue WHERE status IN ('completed', 'failed', 'cancelled');`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReplaceWithBatches deletes the source jobs and inserts the batch jobs in
// one transaction, so a crash mid-rewrite never drops or duplicates work.
func (r *JobRepositoryPG) ReplaceWithBatches(ctx context.Context, deleteIDs []string, batches []*domain.Job) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM job_queue WHERE id = ANY($1);`, deleteIDs); err != nil {
		return fmt.Errorf("delete source jobs: %w", err)
	}
	for _, job := range batches {
		_, err := tx.Exec(ctx, `
INSERT INTO job_queue (id, prompt_ids, job_type, status, config, priority, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now());
`,
			job.ID,
			mustJSON(job.PromptIDs),
			job.Type,
			job.Status,
			mustJSON(job.Config),
			job.Priority,
		)
		if err != nil {
			return fmt.Errorf("insert batch job: %w", err)
		}
	}
	return tx.Commit(ctx)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*domain.Job, error) {
	var (
		job       domain.Job
		promptIDs []byte
		config    []byte
		result    []byte
	)
	err := row.Scan(
		&job.ID,
		&promptIDs,
		&job.Type,
		&job.Status,
		&config,
		&job.Priority,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&result,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := unmarshalInto(promptIDs, &job.PromptIDs); err != nil {
		return nil, err
	}
	if err := unmarshalInto(config, &job.Config); err != nil {
		return nil, err
	}
	if err := unmarshalInto(result, &job.Result); err != nil {
		return nil, err
	}
	return &job, nil
}

func mustJSON(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("repo: json marshal: %w", err))
	}
	return b
}

func unmarshalInto(data []byte, dest any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}
