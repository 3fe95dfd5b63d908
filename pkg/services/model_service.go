package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/llm"
	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/repositories"
)

// RegisterModelRequest registers or replaces a model by name.
type RegisterModelRequest struct {
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	ConsortiumConfig map[string]any `json:"consortium_config"`
	IsActive         *bool          `json:"is_active,omitempty"`
}

// ModelService manages the model registry.
type ModelService interface {
	// Register upserts a model by name. Re-registering keeps the existing id.
	Register(ctx context.Context, req *RegisterModelRequest) (*models.Model, error)

	// Get returns a model by name or NotFound.
	Get(ctx context.Context, name string) (*models.Model, error)

	// List returns models ordered by name.
	List(ctx context.Context, activeOnly bool) ([]*models.Model, error)
}

type modelService struct {
	modelRepo repositories.ModelRepository
	logger    *zap.Logger
}

var _ ModelService = (*modelService)(nil)

// NewModelService creates a new model registry service.
func NewModelService(modelRepo repositories.ModelRepository, logger *zap.Logger) ModelService {
	return &modelService{
		modelRepo: modelRepo,
		logger:    logger.Named("model-service"),
	}
}

func (s *modelService) Register(ctx context.Context, req *RegisterModelRequest) (*models.Model, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("model name is required")
	}

	modelType := strings.ToLower(strings.TrimSpace(req.Type))
	if modelType == "" {
		modelType = models.ModelTypeBase
	}
	if !models.IsValidModelType(modelType) {
		return nil, apperrors.Validation("invalid model type %q (must be base or consortium)", req.Type)
	}
	if modelType == models.ModelTypeConsortium {
		if _, err := llm.ParseConsortiumConfig(req.ConsortiumConfig); err != nil {
			return nil, apperrors.Validation("invalid consortium config: %s", err.Error())
		}
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	model := &models.Model{
		Name:             name,
		Type:             modelType,
		ConsortiumConfig: req.ConsortiumConfig,
		IsActive:         isActive,
	}
	if err := s.modelRepo.Upsert(ctx, model); err != nil {
		return nil, fmt.Errorf("register model: %w", err)
	}

	s.logger.Info("Registered model",
		zap.String("model_id", model.ID.String()),
		zap.String("name", model.Name),
		zap.String("type", model.Type))

	return model, nil
}

func (s *modelService) Get(ctx context.Context, name string) (*models.Model, error) {
	model, err := s.modelRepo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	if model == nil {
		return nil, apperrors.NotFound("model %q not found", name)
	}
	return model, nil
}

func (s *modelService) List(ctx context.Context, activeOnly bool) ([]*models.Model, error) {
	list, err := s.modelRepo.List(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return list, nil
}
