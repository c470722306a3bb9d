package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/domain"
)

const promptColumns = "id, text, inputs, parameters, created_at"

// PromptRepositoryPG implements domain.PromptRepository over PostgreSQL.
type PromptRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPromptRepository creates a prompt repository backed by PostgreSQL.
func NewPromptRepository(pool *pgxpool.Pool) *PromptRepositoryPG {
	return &PromptRepositoryPG{pool: pool}
}

// Create inserts a new prompt.
func (r *PromptRepositoryPG) Create(ctx context.Context, prompt *domain.Prompt) error {
	query := `
INSERT INTO prompts (id, text, inputs, parameters, created_at)
VALUES ($1, $2, $3, $4, $5);
`
	_, err := r.pool.Exec(ctx, query,
		prompt.ID,
		prompt.Text,
		mustJSON(prompt.Inputs),
		mustJSON(prompt.Parameters),
		prompt.CreatedAt,
	)
	return err
}

// GetByID fetches a prompt by its identifier.
func (r *PromptRepositoryPG) GetByID(ctx context.Context, promptID string) (*domain.Prompt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id = $1;`, promptID)
	return scanPrompt(row)
}

// List returns prompts ordered newest first.
func (r *PromptRepositoryPG) List(ctx context.Context, limit, offset int) ([]domain.Prompt, error) {
	query := `SELECT ` + promptColumns + ` FROM prompts ORDER BY created_at DESC LIMIT $1 OFFSET $2;`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var prompts []domain.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, *p)
	}
	return prompts, rows.Err()
}

// Update amends text and parameters. Inputs are identity-defining and
// deliberately not updatable.
func (r *PromptRepositoryPG) Update(ctx context.Context, promptID, text string, parameters map[string]any) error {
	query := `UPDATE prompts SET text = $2, parameters = $3 WHERE id = $1;`
	tag, err := r.pool.Exec(ctx, query, promptID, text, mustJSON(parameters))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes the prompt; its runs go with it via the FK cascade.
func (r *PromptRepositoryPG) Delete(ctx context.Context, promptID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM prompts WHERE id = $1;`, promptID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanPrompt(row scannable) (*domain.Prompt, error) {
	var (
		prompt     domain.Prompt
		inputs     []byte
		parameters []byte
	)
	err := row.Scan(&prompt.ID, &prompt.Text, &inputs, &parameters, &prompt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := unmarshalInto(inputs, &prompt.Inputs); err != nil {
		return nil, err
	}
	if err := unmarshalInto(parameters, &prompt.Parameters); err != nil {
		return nil, err
	}
	return &prompt, nil
}
