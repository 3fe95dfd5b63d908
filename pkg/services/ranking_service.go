package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/repositories"
)

// SubmitRankingRequest is a single ranking of one generation.
type SubmitRankingRequest struct {
	ExperimentID uuid.UUID `json:"experiment_id"`
	PromptID     uuid.UUID `json:"prompt_id"`
	GenerationID uuid.UUID `json:"generation_id"`
	Rank         int       `json:"rank"`
	QualityScore *float64  `json:"quality_score,omitempty"`
	EvaluatorID  string    `json:"evaluator_id,omitempty"`
}

// RankingService validates and stores rankings and aggregates technique win rates.
type RankingService interface {
	// Submit stores a ranking after checking that the generation belongs to the
	// declared experiment and prompt.
	Submit(ctx context.Context, req *SubmitRankingRequest) (*models.Ranking, error)

	// SubmitBatch stores each entry independently and reports per-entry failures.
	SubmitBatch(ctx context.Context, experimentID uuid.UUID, entries []models.RankingEntry) (*models.BatchRankingResult, error)

	// List returns an experiment's rankings ordered by (prompt_id, rank).
	List(ctx context.Context, experimentID uuid.UUID) ([]*models.RankingView, error)

	// TechniqueStats returns win/total counts per prompt type.
	TechniqueStats(ctx context.Context, experimentID uuid.UUID) ([]models.TechniqueStat, error)
}

type rankingService struct {
	experimentRepo repositories.ExperimentRepository
	generationRepo repositories.GenerationRepository
	rankingRepo    repositories.RankingRepository
	logger         *zap.Logger
}

var _ RankingService = (*rankingService)(nil)

// NewRankingService creates a new ranking service.
func NewRankingService(
	experimentRepo repositories.ExperimentRepository,
	generationRepo repositories.GenerationRepository,
	rankingRepo repositories.RankingRepository,
	logger *zap.Logger,
) RankingService {
	return &rankingService{
		experimentRepo: experimentRepo,
		generationRepo: generationRepo,
		rankingRepo:    rankingRepo,
		logger:         logger.Named("ranking-service"),
	}
}

func (s *rankingService) Submit(ctx context.Context, req *SubmitRankingRequest) (*models.Ranking, error) {
	if req.Rank < 1 {
		return nil, apperrors.Validation("rank must be at least 1, got %d", req.Rank)
	}
	if req.GenerationID == uuid.Nil {
		return nil, apperrors.Validation("generation_id is required")
	}

	gen, err := s.generationRepo.GetByID(ctx, req.GenerationID)
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	if gen == nil {
		return nil, apperrors.NotFound("generation %s not found", req.GenerationID)
	}
	if gen.ExperimentID != req.ExperimentID || gen.PromptID != req.PromptID {
		return nil, apperrors.Referential(
			"generation %s belongs to experiment %s / prompt %s, not experiment %s / prompt %s",
			gen.ID, gen.ExperimentID, gen.PromptID, req.ExperimentID, req.PromptID)
	}

	evaluator := strings.TrimSpace(req.EvaluatorID)
	if evaluator == "" {
		evaluator = models.DefaultEvaluatorID
	}

	ranking := &models.Ranking{
		ExperimentID: req.ExperimentID,
		PromptID:     req.PromptID,
		GenerationID: req.GenerationID,
		Rank:         req.Rank,
		QualityScore: req.QualityScore,
		EvaluatorID:  evaluator,
	}
	if err := s.rankingRepo.Create(ctx, ranking); err != nil {
		return nil, fmt.Errorf("create ranking: %w", err)
	}

	s.logger.Debug("Stored ranking",
		zap.String("ranking_id", ranking.ID.String()),
		zap.String("generation_id", ranking.GenerationID.String()),
		zap.Int("rank", ranking.Rank))

	return ranking, nil
}

func (s *rankingService) SubmitBatch(ctx context.Context, experimentID uuid.UUID, entries []models.RankingEntry) (*models.BatchRankingResult, error) {
	if len(entries) == 0 {
		return nil, apperrors.Validation("batch must contain at least one ranking")
	}

	result := &models.BatchRankingResult{
		CreatedIDs: []uuid.UUID{},
		Errors:     []models.BatchRankingError{},
	}

	for i, entry := range entries {
		ranking, err := s.Submit(ctx, &SubmitRankingRequest{
			ExperimentID: experimentID,
			PromptID:     entry.PromptID,
			GenerationID: entry.GenerationID,
			Rank:         entry.Rank,
			QualityScore: entry.QualityScore,
			EvaluatorID:  entry.EvaluatorID,
		})
		if err != nil {
			result.Errors = append(result.Errors, models.BatchRankingError{
				Index:        i,
				GenerationID: entry.GenerationID,
				Kind:         string(apperrors.KindOf(err)),
				Message:      apperrors.MessageOf(err),
			})
			continue
		}
		result.CreatedIDs = append(result.CreatedIDs, ranking.ID)
	}

	result.Status = models.BatchStatus(len(result.CreatedIDs), len(result.Errors))

	if len(result.Errors) > 0 {
		s.logger.Warn("Batch ranking had failures",
			zap.String("experiment_id", experimentID.String()),
			zap.Int("created", len(result.CreatedIDs)),
			zap.Int("failed", len(result.Errors)))
	}

	return result, nil
}

func (s *rankingService) List(ctx context.Context, experimentID uuid.UUID) ([]*models.RankingView, error) {
	if err := s.requireExperiment(ctx, experimentID); err != nil {
		return nil, err
	}
	rankings, err := s.rankingRepo.ListByExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("list rankings: %w", err)
	}
	return rankings, nil
}

func (s *rankingService) TechniqueStats(ctx context.Context, experimentID uuid.UUID) ([]models.TechniqueStat, error) {
	rankings, err := s.List(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	input := make([]models.TechniqueRanking, 0, len(rankings))
	for _, r := range rankings {
		input = append(input, models.TechniqueRanking{Technique: r.PromptType, Rank: r.Rank})
	}
	return models.ComputeTechniqueStats(input), nil
}

func (s *rankingService) requireExperiment(ctx context.Context, id uuid.UUID) error {
	exp, err := s.experimentRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get experiment: %w", err)
	}
	if exp == nil {
		return apperrors.NotFound("experiment %s not found", id)
	}
	return nil
}
