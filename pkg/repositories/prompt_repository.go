package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vibelab/vibelab-engine/pkg/models"
)

// PromptRepository provides data access for prompts. Prompts are append-only.
type PromptRepository interface {
	Create(ctx context.Context, prompt *models.Prompt) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Prompt, error)
	ListByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*models.Prompt, error)
}

type promptRepository struct{}

// NewPromptRepository creates a new PromptRepository.
func NewPromptRepository() PromptRepository {
	return &promptRepository{}
}

var _ PromptRepository = (*promptRepository)(nil)

const promptColumns = `id, experiment_id, type, content, parent_prompt_id, modifier_used, tags, created_at`

func (r *promptRepository) Create(ctx context.Context, prompt *models.Prompt) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if prompt.ID == uuid.Nil {
		prompt.ID = uuid.New()
	}
	prompt.Tags = jsonbStrings(prompt.Tags)

	query := `
		INSERT INTO prompts (id, experiment_id, type, content, parent_prompt_id, modifier_used, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err = q.QueryRow(ctx, query,
		prompt.ID,
		prompt.ExperimentID,
		prompt.Type,
		prompt.Content,
		prompt.ParentPromptID,
		prompt.ModifierUsed,
		prompt.Tags,
		time.Now().UTC(),
	).Scan(&prompt.CreatedAt)
	if err != nil {
		return writeError(err, "create prompt")
	}

	return nil
}

func (r *promptRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + promptColumns + ` FROM prompts WHERE id = $1`

	prompt, err := scanPrompt(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, readError(err, "get prompt")
	}
	return prompt, nil
}

func (r *promptRepository) ListByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*models.Prompt, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + promptColumns + `
		FROM prompts
		WHERE experiment_id = $1
		ORDER BY created_at, id`

	rows, err := q.Query(ctx, query, experimentID)
	if err != nil {
		return nil, readError(err, "list prompts")
	}
	defer rows.Close()

	prompts := make([]*models.Prompt, 0)
	for rows.Next() {
		prompt, err := scanPrompt(rows)
		if err != nil {
			return nil, readError(err, "scan prompt")
		}
		prompts = append(prompts, prompt)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err, "iterate prompts")
	}

	return prompts, nil
}

func scanPrompt(row pgx.Row) (*models.Prompt, error) {
	var p models.Prompt
	var tags []byte

	err := row.Scan(
		&p.ID,
		&p.ExperimentID,
		&p.Type,
		&p.Content,
		&p.ParentPromptID,
		&p.ModifierUsed,
		&tags,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.Tags, err = unmarshalStrings(tags, "tags"); err != nil {
		return nil, err
	}
	return &p, nil
}
