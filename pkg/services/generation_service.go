package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/llm"
	"github.com/vibelab/vibelab-engine/pkg/logging"
	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/repositories"
)

// MaxBatchGenerations caps the number of requests in one batch.
const MaxBatchGenerations = 50

// GenerateRequest is one generation. Without ExperimentID nothing is persisted.
type GenerateRequest struct {
	Model          string         `json:"model"`
	Prompt         string         `json:"prompt"`
	ExperimentID   *uuid.UUID     `json:"experiment_id,omitempty"`
	PromptType     string         `json:"prompt_type,omitempty"`
	ConversationID *string        `json:"conversation_id,omitempty"`
	PromptID       *uuid.UUID     `json:"prompt_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// GenerateResult is the outcome of a generation. The id fields are nil in ephemeral mode.
type GenerateResult struct {
	Output         string     `json:"output"`
	ElapsedMs      int64      `json:"elapsed_ms"`
	GenerationID   *uuid.UUID `json:"generation_id,omitempty"`
	ConversationID *string    `json:"conversation_id,omitempty"`
	PromptID       *uuid.UUID `json:"prompt_id,omitempty"`
	ModelID        *uuid.UUID `json:"model_id,omitempty"`
	StepNumber     int        `json:"step_number"`
	SVGContent     *string    `json:"svg_content,omitempty"`
}

// BatchGenerateItem is the outcome of one request of a batch, in input order.
type BatchGenerateItem struct {
	Index  int             `json:"index"`
	Result *GenerateResult `json:"result,omitempty"`
	Kind   string          `json:"kind,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// GenerationService runs model calls through the worker pool and persists their outputs.
type GenerationService interface {
	// Generate invokes the model and, when an experiment is given, records the
	// model, prompt and generation in one transaction. A failed call writes nothing.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// GenerateBatch runs requests concurrently; each succeeds or fails on its own.
	GenerateBatch(ctx context.Context, reqs []*GenerateRequest) ([]BatchGenerateItem, error)
}

type generationService struct {
	experimentRepo repositories.ExperimentRepository
	promptRepo     repositories.PromptRepository
	modelRepo      repositories.ModelRepository
	generationRepo repositories.GenerationRepository
	tx             TxRunner
	invoker        llm.Invoker
	pool           *llm.WorkerPool
	logger         *zap.Logger
}

var _ GenerationService = (*generationService)(nil)

// NewGenerationService creates a new generation service.
func NewGenerationService(
	experimentRepo repositories.ExperimentRepository,
	promptRepo repositories.PromptRepository,
	modelRepo repositories.ModelRepository,
	generationRepo repositories.GenerationRepository,
	tx TxRunner,
	invoker llm.Invoker,
	pool *llm.WorkerPool,
	logger *zap.Logger,
) GenerationService {
	return &generationService{
		experimentRepo: experimentRepo,
		promptRepo:     promptRepo,
		modelRepo:      modelRepo,
		generationRepo: generationRepo,
		tx:             tx,
		invoker:        invoker,
		pool:           pool,
		logger:         logger.Named("generation-service"),
	}
}

func (s *generationService) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		return nil, apperrors.Validation("model is required")
	}
	if req.PromptID != nil && req.ExperimentID == nil {
		return nil, apperrors.Validation("prompt_id requires experiment_id")
	}

	promptText := req.Prompt
	if req.ExperimentID != nil {
		exp, err := s.experimentRepo.GetByID(ctx, *req.ExperimentID)
		if err != nil {
			return nil, fmt.Errorf("get experiment: %w", err)
		}
		if exp == nil {
			return nil, apperrors.NotFound("experiment %s not found", *req.ExperimentID)
		}

		if req.PromptID != nil {
			prompt, err := s.promptRepo.GetByID(ctx, *req.PromptID)
			if err != nil {
				return nil, fmt.Errorf("get prompt: %w", err)
			}
			if prompt == nil {
				return nil, apperrors.NotFound("prompt %s not found", *req.PromptID)
			}
			if prompt.ExperimentID != exp.ID {
				return nil, apperrors.Referential("prompt %s belongs to experiment %s, not %s",
					prompt.ID, prompt.ExperimentID, exp.ID)
			}
			if strings.TrimSpace(promptText) == "" {
				promptText = prompt.Content
			}
		}
	}
	if strings.TrimSpace(promptText) == "" {
		return nil, apperrors.Validation("prompt is required")
	}

	var convID string
	var history []llm.Turn
	if req.ConversationID != nil && *req.ConversationID != "" {
		convID = *req.ConversationID
		turns, err := s.generationRepo.ListByConversation(ctx, req.ExperimentID, convID)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		for _, t := range turns {
			history = append(history, llm.Turn{Prompt: t.PromptContent, Output: t.Output})
		}
	}
	step := len(history) + 1

	s.logger.Debug("Submitting generation",
		zap.String("model", modelName),
		zap.Bool("ephemeral", req.ExperimentID == nil),
		zap.Int("step", step),
		zap.String("prompt", logging.PromptPreview(promptText)))

	invokeReq := &llm.InvokeRequest{
		Model:          modelName,
		Prompt:         promptText,
		ConversationID: convID,
		History:        history,
	}
	future, err := llm.Submit(ctx, s.pool, llm.WorkItem[*llm.InvokeResult]{
		ID: "generate:" + modelName,
		Execute: func(callCtx context.Context) (*llm.InvokeResult, error) {
			return s.invoker.Invoke(callCtx, invokeReq)
		},
	})
	if err != nil {
		return nil, err
	}

	out, err := future.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Debug("Generation abandoned by caller", zap.String("model", modelName))
			return nil, ctx.Err()
		}
		s.logger.Warn("Generation failed",
			zap.String("model", modelName),
			zap.String("error", logging.SanitizeError(err)))
		return nil, invocationError(modelName, err)
	}

	result := &GenerateResult{
		Output:     out.Output,
		ElapsedMs:  out.Elapsed.Milliseconds(),
		StepNumber: step,
		SVGContent: models.ExtractSVG(out.Output),
	}
	if out.ConversationID != "" {
		id := out.ConversationID
		result.ConversationID = &id
	}

	if req.ExperimentID == nil {
		return result, nil
	}

	if err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		return s.persist(ctx, req, promptText, result)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Recorded generation",
		zap.String("generation_id", result.GenerationID.String()),
		zap.String("experiment_id", req.ExperimentID.String()),
		zap.String("model", modelName),
		zap.Int64("elapsed_ms", result.ElapsedMs))

	return result, nil
}

// persist writes model, prompt and generation. It runs inside one transaction.
func (s *generationService) persist(ctx context.Context, req *GenerateRequest, promptText string, result *GenerateResult) error {
	modelName := strings.TrimSpace(req.Model)

	model, err := s.modelRepo.GetByName(ctx, modelName)
	if err != nil {
		return fmt.Errorf("get model: %w", err)
	}
	if model == nil {
		model = &models.Model{Name: modelName, Type: models.ModelTypeBase, IsActive: true}
		if err := s.modelRepo.Upsert(ctx, model); err != nil {
			return fmt.Errorf("register model: %w", err)
		}
		s.logger.Info("Auto-registered model", zap.String("name", modelName))
	}

	promptID := req.PromptID
	if promptID == nil {
		prompt := &models.Prompt{
			ExperimentID: *req.ExperimentID,
			Type:         models.NormalizePromptType(req.PromptType),
			Content:      promptText,
		}
		if err := s.promptRepo.Create(ctx, prompt); err != nil {
			return fmt.Errorf("create prompt: %w", err)
		}
		promptID = &prompt.ID
	}

	elapsed := result.ElapsedMs
	gen := &models.Generation{
		ExperimentID:     *req.ExperimentID,
		PromptID:         *promptID,
		ModelID:          model.ID,
		ConversationID:   result.ConversationID,
		StepNumber:       result.StepNumber,
		Output:           result.Output,
		SVGContent:       result.SVGContent,
		GenerationTimeMs: &elapsed,
		Metadata:         req.Metadata,
	}
	if err := s.generationRepo.Create(ctx, gen); err != nil {
		return fmt.Errorf("create generation: %w", err)
	}

	result.GenerationID = &gen.ID
	result.PromptID = promptID
	result.ModelID = &model.ID
	return nil
}

func (s *generationService) GenerateBatch(ctx context.Context, reqs []*GenerateRequest) ([]BatchGenerateItem, error) {
	if len(reqs) == 0 {
		return nil, apperrors.Validation("batch must contain at least one request")
	}
	if len(reqs) > MaxBatchGenerations {
		return nil, apperrors.Validation("batch has %d requests, maximum is %d", len(reqs), MaxBatchGenerations)
	}

	items := make([]BatchGenerateItem, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			items[i].Index = i
			res, err := s.Generate(gctx, req)
			if err != nil {
				items[i].Kind = string(apperrors.KindOf(err))
				items[i].Error = apperrors.MessageOf(err)
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	_ = g.Wait()

	return items, nil
}

// invocationError keeps application errors (overload, lookup failures) as they
// are and turns provider failures into ExternalServiceErrors.
func invocationError(model string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return llm.ToExternalServiceError(model, err)
}
