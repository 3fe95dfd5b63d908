package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vibelab/vibelab-engine/pkg/models"
)

// GenerationRepository provides data access for generations. Generations are immutable.
type GenerationRepository interface {
	Create(ctx context.Context, gen *models.Generation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Generation, error)
	// ListByExperiment returns generations enriched with prompt content, prompt type and model name.
	ListByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*models.GenerationView, error)
	// ListByConversation returns the turns of a conversation in step order.
	// A non-nil experimentID restricts the turns to that experiment.
	ListByConversation(ctx context.Context, experimentID *uuid.UUID, conversationID string) ([]*models.GenerationView, error)
}

type generationRepository struct{}

// NewGenerationRepository creates a new GenerationRepository.
func NewGenerationRepository() GenerationRepository {
	return &generationRepository{}
}

var _ GenerationRepository = (*generationRepository)(nil)

const generationColumns = `g.id, g.experiment_id, g.prompt_id, g.model_id, g.conversation_id, g.step_number,
	g.output, g.svg_content, g.generation_time_ms, g.metadata, g.created_at`

const generationViewSelect = `
	SELECT ` + generationColumns + `, p.content, p.type, m.name
	FROM generations g
	JOIN prompts p ON p.id = g.prompt_id
	JOIN models m ON m.id = g.model_id`

func (r *generationRepository) Create(ctx context.Context, gen *models.Generation) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if gen.ID == uuid.Nil {
		gen.ID = uuid.New()
	}
	if gen.StepNumber < 1 {
		gen.StepNumber = 1
	}
	gen.Metadata = jsonbMap(gen.Metadata)

	query := `
		INSERT INTO generations (
			id, experiment_id, prompt_id, model_id, conversation_id, step_number,
			output, svg_content, generation_time_ms, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`

	err = q.QueryRow(ctx, query,
		gen.ID,
		gen.ExperimentID,
		gen.PromptID,
		gen.ModelID,
		gen.ConversationID,
		gen.StepNumber,
		gen.Output,
		gen.SVGContent,
		gen.GenerationTimeMs,
		gen.Metadata,
		time.Now().UTC(),
	).Scan(&gen.CreatedAt)
	if err != nil {
		return writeError(err, "create generation")
	}

	return nil
}

func (r *generationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + generationColumns + ` FROM generations g WHERE g.id = $1`

	gen, err := scanGeneration(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, readError(err, "get generation")
	}
	return gen, nil
}

func (r *generationRepository) ListByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*models.GenerationView, error) {
	query := generationViewSelect + `
		WHERE g.experiment_id = $1
		ORDER BY g.created_at, g.id`
	return r.listViews(ctx, "list generations", query, experimentID)
}

func (r *generationRepository) ListByConversation(ctx context.Context, experimentID *uuid.UUID, conversationID string) ([]*models.GenerationView, error) {
	if experimentID == nil {
		query := generationViewSelect + `
		WHERE g.conversation_id = $1
		ORDER BY g.step_number, g.created_at`
		return r.listViews(ctx, "list conversation", query, conversationID)
	}
	query := generationViewSelect + `
		WHERE g.conversation_id = $1 AND g.experiment_id = $2
		ORDER BY g.step_number, g.created_at`
	return r.listViews(ctx, "list conversation", query, conversationID, *experimentID)
}

func (r *generationRepository) listViews(ctx context.Context, action, query string, args ...any) ([]*models.GenerationView, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, readError(err, action)
	}
	defer rows.Close()

	views := make([]*models.GenerationView, 0)
	for rows.Next() {
		view, err := scanGenerationView(rows)
		if err != nil {
			return nil, readError(err, "scan generation")
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err, action)
	}

	return views, nil
}

func generationDest(g *models.Generation, metadata *[]byte) []any {
	return []any{
		&g.ID,
		&g.ExperimentID,
		&g.PromptID,
		&g.ModelID,
		&g.ConversationID,
		&g.StepNumber,
		&g.Output,
		&g.SVGContent,
		&g.GenerationTimeMs,
		metadata,
		&g.CreatedAt,
	}
}

func scanGeneration(row pgx.Row) (*models.Generation, error) {
	var g models.Generation
	var metadata []byte

	if err := row.Scan(generationDest(&g, &metadata)...); err != nil {
		return nil, err
	}

	var err error
	if g.Metadata, err = unmarshalMap(metadata, "metadata"); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanGenerationView(row pgx.Row) (*models.GenerationView, error) {
	var v models.GenerationView
	var metadata []byte

	dest := append(generationDest(&v.Generation, &metadata), &v.PromptContent, &v.PromptType, &v.ModelName)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	if v.Metadata, err = unmarshalMap(metadata, "metadata"); err != nil {
		return nil, err
	}
	return &v, nil
}
