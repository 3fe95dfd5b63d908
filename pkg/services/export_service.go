package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/repositories"
)

const unknownLegacyModel = "unknown"

// ExportService composes an experiment's data for backup and imports legacy dumps.
type ExportService interface {
	// Export returns the experiment with its prompts, generations, rankings and analysis.
	Export(ctx context.Context, experimentID uuid.UUID) (*models.ExperimentExport, error)

	// Import re-creates experiments from a browser local-storage dump.
	Import(ctx context.Context, dump models.LegacyExport) (*models.ImportResult, error)
}

type exportService struct {
	experimentRepo repositories.ExperimentRepository
	promptRepo     repositories.PromptRepository
	modelRepo      repositories.ModelRepository
	generationRepo repositories.GenerationRepository
	rankingRepo    repositories.RankingRepository
	analysisRepo   repositories.AnalysisRepository
	tx             TxRunner
	logger         *zap.Logger
}

var _ ExportService = (*exportService)(nil)

// NewExportService creates a new export service.
func NewExportService(
	experimentRepo repositories.ExperimentRepository,
	promptRepo repositories.PromptRepository,
	modelRepo repositories.ModelRepository,
	generationRepo repositories.GenerationRepository,
	rankingRepo repositories.RankingRepository,
	analysisRepo repositories.AnalysisRepository,
	tx TxRunner,
	logger *zap.Logger,
) ExportService {
	return &exportService{
		experimentRepo: experimentRepo,
		promptRepo:     promptRepo,
		modelRepo:      modelRepo,
		generationRepo: generationRepo,
		rankingRepo:    rankingRepo,
		analysisRepo:   analysisRepo,
		tx:             tx,
		logger:         logger.Named("export-service"),
	}
}

// Export reads the child collections concurrently, so ctx must carry a
// pool-backed scope rather than a transaction.
func (s *exportService) Export(ctx context.Context, experimentID uuid.UUID) (*models.ExperimentExport, error) {
	exp, err := s.experimentRepo.GetByID(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	if exp == nil {
		return nil, apperrors.NotFound("experiment %s not found", experimentID)
	}

	out := &models.ExperimentExport{Experiment: exp}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prompts, err := s.promptRepo.ListByExperiment(gctx, experimentID)
		if err != nil {
			return fmt.Errorf("list prompts: %w", err)
		}
		out.Prompts = prompts
		return nil
	})
	g.Go(func() error {
		gens, err := s.generationRepo.ListByExperiment(gctx, experimentID)
		if err != nil {
			return fmt.Errorf("list generations: %w", err)
		}
		out.Generations = gens
		return nil
	})
	g.Go(func() error {
		rankings, err := s.rankingRepo.ListByExperiment(gctx, experimentID)
		if err != nil {
			return fmt.Errorf("list rankings: %w", err)
		}
		out.Rankings = rankings
		return nil
	})
	g.Go(func() error {
		analysis, err := s.analysisRepo.ListByExperiment(gctx, experimentID)
		if err != nil {
			return fmt.Errorf("list analysis: %w", err)
		}
		out.Analysis = analysis
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.ExportedAt = time.Now().UTC()

	s.logger.Info("Exported experiment",
		zap.String("experiment_id", experimentID.String()),
		zap.Int("prompts", len(out.Prompts)),
		zap.Int("generations", len(out.Generations)),
		zap.Int("rankings", len(out.Rankings)))

	return out, nil
}

// Import creates one experiment per LegacyStoragePrefix key in a single
// transaction, so a failed key leaves nothing behind. Keys are processed in
// sorted order.
func (s *exportService) Import(ctx context.Context, dump models.LegacyExport) (*models.ImportResult, error) {
	keys := make([]string, 0, len(dump))
	for key := range dump {
		if strings.HasPrefix(key, models.LegacyStoragePrefix) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, apperrors.Validation("no %s* experiments found in import", models.LegacyStoragePrefix)
	}
	sort.Strings(keys)

	result := &models.ImportResult{ExperimentIDs: []uuid.UUID{}}
	if err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		for _, key := range keys {
			if err := s.importExperiment(ctx, key, dump[key], result); err != nil {
				return fmt.Errorf("import %s: %w", key, err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Imported legacy experiments",
		zap.Int("experiments", len(result.ExperimentIDs)),
		zap.Int("generations", result.Generations),
		zap.Int("models_registered", result.ModelsRegistered))

	return result, nil
}

func (s *exportService) importExperiment(ctx context.Context, key string, legacy models.LegacyExperiment, result *models.ImportResult) error {
	name := strings.TrimSpace(strings.TrimPrefix(key, models.LegacyStoragePrefix))
	if name == "" {
		name = key
	}

	exp := &models.Experiment{
		Name:        name,
		Description: "Imported from legacy local storage",
		Config:      legacy.Config,
		Status:      models.ExperimentStatusActive,
	}
	if err := s.experimentRepo.Create(ctx, exp); err != nil {
		return fmt.Errorf("create experiment: %w", err)
	}

	modelIDs := make(map[string]uuid.UUID)
	prompts, generations, registered := 0, 0, 0

	for i, r := range legacy.Results {
		if strings.TrimSpace(r.Prompt) == "" {
			continue
		}

		modelName := strings.TrimSpace(r.Model)
		if modelName == "" {
			modelName = unknownLegacyModel
		}
		modelID, ok := modelIDs[modelName]
		if !ok {
			m, created, err := s.ensureModel(ctx, modelName)
			if err != nil {
				return err
			}
			if created {
				registered++
			}
			modelID = m.ID
			modelIDs[modelName] = modelID
		}

		prompt := &models.Prompt{
			ExperimentID: exp.ID,
			Type:         models.NormalizePromptType(r.Technique),
			Content:      r.Prompt,
		}
		if err := s.promptRepo.Create(ctx, prompt); err != nil {
			return fmt.Errorf("create prompt %d: %w", i, err)
		}
		prompts++

		gen := &models.Generation{
			ExperimentID: exp.ID,
			PromptID:     prompt.ID,
			ModelID:      modelID,
			Output:       r.Result,
			SVGContent:   models.ExtractSVG(r.Result),
			Metadata:     map[string]any{"imported_from": key, "legacy_index": i},
		}
		if err := s.generationRepo.Create(ctx, gen); err != nil {
			return fmt.Errorf("create generation %d: %w", i, err)
		}
		generations++
	}

	result.ExperimentIDs = append(result.ExperimentIDs, exp.ID)
	result.Prompts += prompts
	result.Generations += generations
	result.ModelsRegistered += registered
	return nil
}

func (s *exportService) ensureModel(ctx context.Context, name string) (*models.Model, bool, error) {
	m, err := s.modelRepo.GetByName(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("get model: %w", err)
	}
	if m != nil {
		return m, false, nil
	}
	m = &models.Model{Name: name, Type: models.ModelTypeBase, IsActive: true}
	if err := s.modelRepo.Upsert(ctx, m); err != nil {
		return nil, false, fmt.Errorf("register model: %w", err)
	}
	return m, true, nil
}
