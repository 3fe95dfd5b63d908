package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vibelab/vibelab-engine/pkg/models"
)

// AnalysisRepository provides data access for analysis results. Append-only.
type AnalysisRepository interface {
	Create(ctx context.Context, result *models.AnalysisResult) error
	ListByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*models.AnalysisResult, error)
}

type analysisRepository struct{}

// NewAnalysisRepository creates a new AnalysisRepository.
func NewAnalysisRepository() AnalysisRepository {
	return &analysisRepository{}
}

var _ AnalysisRepository = (*analysisRepository)(nil)

func (r *analysisRepository) Create(ctx context.Context, result *models.AnalysisResult) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	result.Results = jsonbMap(result.Results)

	query := `
		INSERT INTO analysis_results (id, experiment_id, analysis_type, results, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err = q.QueryRow(ctx, query,
		result.ID,
		result.ExperimentID,
		result.AnalysisType,
		result.Results,
		time.Now().UTC(),
	).Scan(&result.CreatedAt)
	if err != nil {
		return writeError(err, "save analysis result")
	}

	return nil
}

func (r *analysisRepository) ListByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*models.AnalysisResult, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, experiment_id, analysis_type, results, created_at
		FROM analysis_results
		WHERE experiment_id = $1
		ORDER BY created_at, id`

	rows, err := q.Query(ctx, query, experimentID)
	if err != nil {
		return nil, readError(err, "list analysis results")
	}
	defer rows.Close()

	results := make([]*models.AnalysisResult, 0)
	for rows.Next() {
		res, err := scanAnalysisResult(rows)
		if err != nil {
			return nil, readError(err, "scan analysis result")
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err, "iterate analysis results")
	}

	return results, nil
}

func scanAnalysisResult(row pgx.Row) (*models.AnalysisResult, error) {
	var a models.AnalysisResult
	var results []byte

	if err := row.Scan(&a.ID, &a.ExperimentID, &a.AnalysisType, &results, &a.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if a.Results, err = unmarshalMap(results, "results"); err != nil {
		return nil, err
	}
	return &a, nil
}
