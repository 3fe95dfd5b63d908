package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/repositories"
)

// CreateTemplateRequest holds the fields for a new template.
type CreateTemplateRequest struct {
	Name      string   `json:"name"`
	Prompt    string   `json:"prompt"`
	Tags      []string `json:"tags"`
	Animated  bool     `json:"animated"`
	CreatedBy string   `json:"created_by,omitempty"`
}

// TemplateService is CRUD over reusable prompt templates.
type TemplateService interface {
	Create(ctx context.Context, req *CreateTemplateRequest) (*models.Template, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Template, error)
	List(ctx context.Context) ([]*models.Template, error)
	// Update merges the set fields. An empty update returns the template unchanged.
	Update(ctx context.Context, id uuid.UUID, update models.TemplateUpdate) (*models.Template, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// LoadSeedFile imports templates from a YAML file when no templates exist yet.
	// Returns the number of templates created.
	LoadSeedFile(ctx context.Context, path string) (int, error)
}

type templateService struct {
	templateRepo repositories.TemplateRepository
	logger       *zap.Logger
}

var _ TemplateService = (*templateService)(nil)

// NewTemplateService creates a new template service.
func NewTemplateService(templateRepo repositories.TemplateRepository, logger *zap.Logger) TemplateService {
	return &templateService{
		templateRepo: templateRepo,
		logger:       logger.Named("template-service"),
	}
}

func (s *templateService) Create(ctx context.Context, req *CreateTemplateRequest) (*models.Template, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("template name is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperrors.Validation("template prompt is required")
	}

	tmpl := &models.Template{
		Name:      name,
		Prompt:    req.Prompt,
		Tags:      req.Tags,
		Animated:  req.Animated,
		CreatedBy: strings.TrimSpace(req.CreatedBy),
	}
	if err := s.templateRepo.Create(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return tmpl, nil
}

func (s *templateService) Get(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	tmpl, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if tmpl == nil {
		return nil, apperrors.NotFound("template %s not found", id)
	}
	return tmpl, nil
}

func (s *templateService) List(ctx context.Context) ([]*models.Template, error) {
	list, err := s.templateRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return list, nil
}

func (s *templateService) Update(ctx context.Context, id uuid.UUID, update models.TemplateUpdate) (*models.Template, error) {
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		if trimmed == "" {
			return nil, apperrors.Validation("template name cannot be empty")
		}
		update.Name = &trimmed
	}
	if update.Prompt != nil && strings.TrimSpace(*update.Prompt) == "" {
		return nil, apperrors.Validation("template prompt cannot be empty")
	}

	if update.IsEmpty() {
		return s.Get(ctx, id)
	}

	if err := s.templateRepo.Update(ctx, id, update); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *templateService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.templateRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	s.logger.Debug("Deleted template", zap.String("template_id", id.String()))
	return nil
}

type templateSeedFile struct {
	Templates []models.Template `yaml:"templates"`
}

func (s *templateService) LoadSeedFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read template seed file: %w", err)
	}

	var seed templateSeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse template seed file %s: %w", path, err)
	}

	count, err := s.templateRepo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	if count > 0 {
		s.logger.Debug("Templates already present, skipping seed", zap.Int("count", count))
		return 0, nil
	}

	created := 0
	for i := range seed.Templates {
		t := seed.Templates[i]
		if _, err := s.Create(ctx, &CreateTemplateRequest{
			Name:      t.Name,
			Prompt:    t.Prompt,
			Tags:      t.Tags,
			Animated:  t.Animated,
			CreatedBy: t.CreatedBy,
		}); err != nil {
			return created, fmt.Errorf("seed template %d (%q): %w", i, t.Name, err)
		}
		created++
	}

	s.logger.Info("Seeded templates", zap.String("path", path), zap.Int("count", created))
	return created, nil
}
