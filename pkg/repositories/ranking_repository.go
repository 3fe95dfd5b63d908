package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vibelab/vibelab-engine/pkg/models"
)

// RankingRepository provides data access for rankings. Rankings are immutable.
type RankingRepository interface {
	Create(ctx context.Context, ranking *models.Ranking) error
	// ListByExperiment returns enriched rankings ordered by (prompt_id, rank).
	ListByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*models.RankingView, error)
}

type rankingRepository struct{}

// NewRankingRepository creates a new RankingRepository.
func NewRankingRepository() RankingRepository {
	return &rankingRepository{}
}

var _ RankingRepository = (*rankingRepository)(nil)

func (r *rankingRepository) Create(ctx context.Context, ranking *models.Ranking) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if ranking.ID == uuid.Nil {
		ranking.ID = uuid.New()
	}
	if ranking.EvaluatorID == "" {
		ranking.EvaluatorID = models.DefaultEvaluatorID
	}

	// The composite foreign key onto generations rejects a generation whose
	// experiment or prompt differs from the declared pair.
	query := `
		INSERT INTO rankings (id, experiment_id, prompt_id, generation_id, rank, quality_score, evaluator_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err = q.QueryRow(ctx, query,
		ranking.ID,
		ranking.ExperimentID,
		ranking.PromptID,
		ranking.GenerationID,
		ranking.Rank,
		ranking.QualityScore,
		ranking.EvaluatorID,
		time.Now().UTC(),
	).Scan(&ranking.CreatedAt)
	if err != nil {
		return writeError(err, "create ranking")
	}

	return nil
}

func (r *rankingRepository) ListByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*models.RankingView, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT r.id, r.experiment_id, r.prompt_id, r.generation_id, r.rank, r.quality_score,
		       r.evaluator_id, r.created_at,
		       g.output, p.content, p.type, m.name
		FROM rankings r
		JOIN generations g ON g.id = r.generation_id
		JOIN prompts p ON p.id = r.prompt_id
		JOIN models m ON m.id = g.model_id
		WHERE r.experiment_id = $1
		ORDER BY r.prompt_id, r.rank, r.created_at`

	rows, err := q.Query(ctx, query, experimentID)
	if err != nil {
		return nil, readError(err, "list rankings")
	}
	defer rows.Close()

	views := make([]*models.RankingView, 0)
	for rows.Next() {
		view, err := scanRankingView(rows)
		if err != nil {
			return nil, readError(err, "scan ranking")
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err, "iterate rankings")
	}

	return views, nil
}

func scanRankingView(row pgx.Row) (*models.RankingView, error) {
	var v models.RankingView
	err := row.Scan(
		&v.ID,
		&v.ExperimentID,
		&v.PromptID,
		&v.GenerationID,
		&v.Rank,
		&v.QualityScore,
		&v.EvaluatorID,
		&v.CreatedAt,
		&v.Output,
		&v.PromptContent,
		&v.PromptType,
		&v.ModelName,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
