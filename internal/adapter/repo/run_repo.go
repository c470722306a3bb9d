package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/domain"
)

const runColumns = "id, prompt_id, model_type, status, execution_config, outputs, metadata, log_path, error_message, COALESCE(rating, 0), created_at, updated_at, started_at, completed_at"

// RunRepositoryPG implements domain.RunRepository over PostgreSQL.
type RunRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewRunRepository creates a run repository backed by PostgreSQL.
func NewRunRepository(pool *pgxpool.Pool) *RunRepositoryPG {
	return &RunRepositoryPG{pool: pool}
}

// Create inserts a new execution attempt.
func (r *RunRepositoryPG) Create(ctx context.Context, run *domain.Run) error {
	query := `
INSERT INTO runs (id, prompt_id, model_type, status, execution_config, metadata, log_path, created_at, updated_at, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9);
`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.PromptID,
		run.ModelType,
		run.Status,
		mustJSON(run.ExecutionConfig),
		mustJSON(run.Metadata),
		run.LogPath,
		run.CreatedAt,
		run.StartedAt,
	)
	return err
}

// GetByID fetches a run by its identifier.
func (r *RunRepositoryPG) GetByID(ctx context.Context, runID string) (*domain.Run, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1;`, runID)
	return scanRun(row)
}

// Update persists the mutable fields of a run.
func (r *RunRepositoryPG) Update(ctx context.Context, run *domain.Run) error {
	query := `
UPDATE runs
SET status = $2,
    execution_config = $3,
    outputs = $4,
    metadata = $5,
    log_path = $6,
    error_message = $7,
    started_at = $8,
    completed_at = $9,
    updated_at = now()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		mustJSON(run.ExecutionConfig),
		mustJSON(run.Outputs),
		mustJSON(run.Metadata),
		run.LogPath,
		run.ErrorMessage,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns runs ordered newest first.
func (r *RunRepositoryPG) List(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC LIMIT $1 OFFSET $2;`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListByPromptID returns all runs of one prompt, newest first.
func (r *RunRepositoryPG) ListByPromptID(ctx context.Context, promptID string) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE prompt_id = $1 ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, query, promptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// Delete removes a run.
func (r *RunRepositoryPG) Delete(ctx context.Context, runID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1;`, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetRating stores a 1-5 triage rating.
func (r *RunRepositoryPG) SetRating(ctx context.Context, runID string, rating int) error {
	if rating < 1 || rating > 5 {
		return domain.ErrInvalidRating
	}
	tag, err := r.pool.Exec(ctx, `UPDATE runs SET rating = $2, updated_at = now() WHERE id = $1;`, runID, rating)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FailNonTerminalByPromptIDs force-fails every non-terminal run of the
// given prompts.
func (r *RunRepositoryPG) FailNonTerminalByPromptIDs(ctx context.Context, promptIDs []string, reason string) (int64, error) {
	query := `
UPDATE runs
SET status = 'failed',
    error_message = left($2, 1000),
    completed_at = COALESCE(completed_at, now()),
    updated_at = now()
WHERE prompt_id = ANY($1) AND status NOT IN ('completed', 'failed');
`
	tag, err := r.pool.Exec(ctx, query, promptIDs, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FailStale force-fails non-terminal runs created before cutoff. Covers
// runs created outside the queue that never got a job wrapper.
func (r *RunRepositoryPG) FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	query := `
UPDATE runs
SET status = 'failed',
    error_message = left($2, 1000),
    completed_at = COALESCE(completed_at, now()),
    updated_at = now()
WHERE created_at < $1 AND status NOT IN ('completed', 'failed');
`
	tag, err := r.pool.Exec(ctx, query, cutoff, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row scannable) (*domain.Run, error) {
	var (
		run             domain.Run
		executionConfig []byte
		outputs         []byte
		metadata        []byte
	)
	err := row.Scan(
		&run.ID,
		&run.PromptID,
		&run.ModelType,
		&run.Status,
		&executionConfig,
		&outputs,
		&metadata,
		&run.LogPath,
		&run.ErrorMessage,
		&run.Rating,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := unmarshalInto(executionConfig, &run.ExecutionConfig); err != nil {
		return nil, err
	}
	if err := unmarshalInto(outputs, &run.Outputs); err != nil {
		return nil, err
	}
	if err := unmarshalInto(metadata, &run.Metadata); err != nil {
		return nil, err
	}
	return &run, nil
}
