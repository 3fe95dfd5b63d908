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

// CreateExperimentRequest holds the fields for a new experiment.
type CreateExperimentRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
}

// CreatePromptRequest holds the fields for a new prompt.
type CreatePromptRequest struct {
	Content        string     `json:"content"`
	Type           string     `json:"type"`
	ParentPromptID *uuid.UUID `json:"parent_prompt_id,omitempty"`
	ModifierUsed   *string    `json:"modifier_used,omitempty"`
	Tags           []string   `json:"tags"`
}

// SaveAnalysisRequest holds a derived analysis to append to an experiment.
type SaveAnalysisRequest struct {
	AnalysisType string         `json:"analysis_type"`
	Results      map[string]any `json:"results"`
}

// ExperimentService manages experiments, their prompts and analysis rows.
type ExperimentService interface {
	// Create creates a new experiment with status "active".
	Create(ctx context.Context, req *CreateExperimentRequest) (*models.Experiment, error)

	// Get returns an experiment or NotFound.
	Get(ctx context.Context, id uuid.UUID) (*models.Experiment, error)

	// GetDetail returns an experiment together with its enriched generations.
	GetDetail(ctx context.Context, id uuid.UUID) (*models.ExperimentDetail, error)

	// List returns all experiments, newest first.
	List(ctx context.Context) ([]*models.Experiment, error)

	// Update applies the set fields of update and returns the stored experiment.
	Update(ctx context.Context, id uuid.UUID, update models.ExperimentUpdate) (*models.Experiment, error)

	// CreatePrompt appends a prompt to an experiment.
	CreatePrompt(ctx context.Context, experimentID uuid.UUID, req *CreatePromptRequest) (*models.Prompt, error)

	// ListPrompts returns an experiment's prompts in creation order.
	ListPrompts(ctx context.Context, experimentID uuid.UUID) ([]*models.Prompt, error)

	// ListGenerations returns an experiment's generations enriched with prompt and model.
	ListGenerations(ctx context.Context, experimentID uuid.UUID) ([]*models.GenerationView, error)

	// SaveAnalysis appends an analysis result.
	SaveAnalysis(ctx context.Context, experimentID uuid.UUID, req *SaveAnalysisRequest) (*models.AnalysisResult, error)

	// ListAnalysis returns an experiment's analysis results.
	ListAnalysis(ctx context.Context, experimentID uuid.UUID) ([]*models.AnalysisResult, error)
}

type experimentService struct {
	experimentRepo repositories.ExperimentRepository
	promptRepo     repositories.PromptRepository
	generationRepo repositories.GenerationRepository
	analysisRepo   repositories.AnalysisRepository
	logger         *zap.Logger
}

var _ ExperimentService = (*experimentService)(nil)

// NewExperimentService creates a new experiment service.
func NewExperimentService(
	experimentRepo repositories.ExperimentRepository,
	promptRepo repositories.PromptRepository,
	generationRepo repositories.GenerationRepository,
	analysisRepo repositories.AnalysisRepository,
	logger *zap.Logger,
) ExperimentService {
	return &experimentService{
		experimentRepo: experimentRepo,
		promptRepo:     promptRepo,
		generationRepo: generationRepo,
		analysisRepo:   analysisRepo,
		logger:         logger.Named("experiment-service"),
	}
}

func (s *experimentService) Create(ctx context.Context, req *CreateExperimentRequest) (*models.Experiment, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("experiment name is required")
	}

	exp := &models.Experiment{
		Name:        name,
		Description: req.Description,
		Config:      req.Config,
		Status:      models.ExperimentStatusActive,
	}
	if err := s.experimentRepo.Create(ctx, exp); err != nil {
		return nil, fmt.Errorf("create experiment: %w", err)
	}

	s.logger.Info("Created experiment",
		zap.String("experiment_id", exp.ID.String()),
		zap.String("name", exp.Name))

	return exp, nil
}

func (s *experimentService) Get(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	exp, err := s.experimentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	if exp == nil {
		return nil, apperrors.NotFound("experiment %s not found", id)
	}
	return exp, nil
}

func (s *experimentService) GetDetail(ctx context.Context, id uuid.UUID) (*models.ExperimentDetail, error) {
	exp, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	gens, err := s.generationRepo.ListByExperiment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}

	return &models.ExperimentDetail{Experiment: exp, Generations: gens}, nil
}

func (s *experimentService) List(ctx context.Context) ([]*models.Experiment, error) {
	exps, err := s.experimentRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return exps, nil
}

func (s *experimentService) Update(ctx context.Context, id uuid.UUID, update models.ExperimentUpdate) (*models.Experiment, error) {
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		if trimmed == "" {
			return nil, apperrors.Validation("experiment name cannot be empty")
		}
		update.Name = &trimmed
	}
	if update.Status != nil && !isValidExperimentStatus(*update.Status) {
		return nil, apperrors.Validation("invalid experiment status %q (must be active, completed or archived)", *update.Status)
	}

	if update.IsEmpty() {
		return s.Get(ctx, id)
	}

	if err := s.experimentRepo.Update(ctx, id, update); err != nil {
		return nil, fmt.Errorf("update experiment: %w", err)
	}

	s.logger.Debug("Updated experiment", zap.String("experiment_id", id.String()))

	return s.Get(ctx, id)
}

func (s *experimentService) CreatePrompt(ctx context.Context, experimentID uuid.UUID, req *CreatePromptRequest) (*models.Prompt, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, apperrors.Validation("prompt content is required")
	}
	if _, err := s.Get(ctx, experimentID); err != nil {
		return nil, err
	}

	if req.ParentPromptID != nil {
		parent, err := s.promptRepo.GetByID(ctx, *req.ParentPromptID)
		if err != nil {
			return nil, fmt.Errorf("get parent prompt: %w", err)
		}
		if parent == nil {
			return nil, apperrors.NotFound("parent prompt %s not found", *req.ParentPromptID)
		}
		if parent.ExperimentID != experimentID {
			return nil, apperrors.Referential("parent prompt %s belongs to experiment %s, not %s",
				parent.ID, parent.ExperimentID, experimentID)
		}
	}

	prompt := &models.Prompt{
		ExperimentID:   experimentID,
		Type:           models.NormalizePromptType(req.Type),
		Content:        req.Content,
		ParentPromptID: req.ParentPromptID,
		ModifierUsed:   req.ModifierUsed,
		Tags:           req.Tags,
	}
	if err := s.promptRepo.Create(ctx, prompt); err != nil {
		return nil, fmt.Errorf("create prompt: %w", err)
	}
	return prompt, nil
}

func (s *experimentService) ListPrompts(ctx context.Context, experimentID uuid.UUID) ([]*models.Prompt, error) {
	if _, err := s.Get(ctx, experimentID); err != nil {
		return nil, err
	}
	prompts, err := s.promptRepo.ListByExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return prompts, nil
}

func (s *experimentService) ListGenerations(ctx context.Context, experimentID uuid.UUID) ([]*models.GenerationView, error) {
	if _, err := s.Get(ctx, experimentID); err != nil {
		return nil, err
	}
	gens, err := s.generationRepo.ListByExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return gens, nil
}

func (s *experimentService) SaveAnalysis(ctx context.Context, experimentID uuid.UUID, req *SaveAnalysisRequest) (*models.AnalysisResult, error) {
	analysisType := strings.TrimSpace(req.AnalysisType)
	if analysisType == "" {
		return nil, apperrors.Validation("analysis_type is required")
	}
	if _, err := s.Get(ctx, experimentID); err != nil {
		return nil, err
	}

	result := &models.AnalysisResult{
		ExperimentID: experimentID,
		AnalysisType: analysisType,
		Results:      req.Results,
	}
	if err := s.analysisRepo.Create(ctx, result); err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}
	return result, nil
}

func (s *experimentService) ListAnalysis(ctx context.Context, experimentID uuid.UUID) ([]*models.AnalysisResult, error) {
	if _, err := s.Get(ctx, experimentID); err != nil {
		return nil, err
	}
	results, err := s.analysisRepo.ListByExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("list analysis: %w", err)
	}
	return results, nil
}

func isValidExperimentStatus(status string) bool {
	switch status {
	case models.ExperimentStatusActive, models.ExperimentStatusCompleted, models.ExperimentStatusArchived:
		return true
	}
	return false
}
