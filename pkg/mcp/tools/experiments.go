// Package tools provides MCP tool implementations for vibelab-engine.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/auth"
	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/services"
)

// ScopeProvider attaches a database scope to a tool call's context.
// *database.ScopeProvider satisfies it.
type ScopeProvider interface {
	WithScope(ctx context.Context) (context.Context, func(), error)
}

// ExperimentToolDeps contains dependencies for experiment tools.
type ExperimentToolDeps struct {
	Scope       ScopeProvider
	Experiments services.ExperimentService
	Generations services.GenerationService
	Rankings    services.RankingService
	Exports     services.ExportService
	Logger      *zap.Logger
}

// RegisterExperimentTools registers the experiment, generation and ranking tools.
func RegisterExperimentTools(s *server.MCPServer, deps *ExperimentToolDeps) {
	registerListExperimentsTool(s, deps)
	registerGetExperimentTool(s, deps)
	registerGenerateTool(s, deps)
	registerSubmitRankingTool(s, deps)
	registerListRankingsTool(s, deps)
	registerTechniqueStatsTool(s, deps)
	registerExportExperimentTool(s, deps)
}

// toolHandler is the body of a tool once a database scope is attached.
type toolHandler func(ctx context.Context, req mcp.CallToolRequest) (any, error)

// scoped wraps h with scope acquisition, error conversion and JSON encoding.
func scoped(deps *ExperimentToolDeps, name string, h toolHandler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scopedCtx, cleanup, err := deps.Scope.WithScope(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire database scope: %w", err)
		}
		defer cleanup()

		result, err := h(scopedCtx, req)
		if err != nil {
			if IsInputError(err) {
				deps.Logger.Debug("Tool call rejected", zap.String("tool", name), zap.Error(err))
			} else {
				deps.Logger.Error("Tool call failed", zap.String("tool", name), zap.Error(err))
			}
			return toolError(err)
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	}
}

func registerListExperimentsTool(s *server.MCPServer, deps *ExperimentToolDeps) {
	tool := mcp.NewTool(
		"list_experiments",
		mcp.WithDescription("List all experiments, newest first, with their status and configuration."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, scoped(deps, "list_experiments", func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		experiments, err := deps.Experiments.List(ctx)
		if err != nil {
			return nil, err
		}
		return struct {
			Experiments []*models.Experiment `json:"experiments"`
			Count       int                  `json:"count"`
		}{Experiments: experiments, Count: len(experiments)}, nil
	}))
}

func registerGetExperimentTool(s *server.MCPServer, deps *ExperimentToolDeps) {
	tool := mcp.NewTool(
		"get_experiment",
		mcp.WithDescription("Get an experiment with all its generations, each enriched with prompt text, technique and model name."),
		mcp.WithString("experiment_id", mcp.Required(), mcp.Description("Experiment UUID")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, scoped(deps, "get_experiment", func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		experimentID, err := requireUUID(req, "experiment_id")
		if err != nil {
			return nil, err
		}
		return deps.Experiments.GetDetail(ctx, experimentID)
	}))
}

func registerGenerateTool(s *server.MCPServer, deps *ExperimentToolDeps) {
	tool := mcp.NewTool(
		"generate",
		mcp.WithDescription(
			"Run a prompt against a model. "+
				"With experiment_id the output is stored as a generation (the model is registered on first use); "+
				"without it the output is returned and nothing is stored. "+
				"Pass conversation_id to continue a multi-step conversation.",
		),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model name, e.g. gpt-4o")),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Prompt text")),
		mcp.WithString("experiment_id", mcp.Description("Experiment UUID to store the generation under")),
		mcp.WithString("prompt_type", mcp.Description("Prompting technique label, e.g. chain_of_thought")),
		mcp.WithString("prompt_id", mcp.Description("Existing prompt UUID to reuse instead of creating one")),
		mcp.WithString("conversation_id", mcp.Description("Conversation to continue")),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, scoped(deps, "generate", func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		model, err := req.RequireString("model")
		if err != nil {
			return nil, apperrors.Validation("model is required")
		}
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return nil, apperrors.Validation("prompt is required")
		}

		genReq := &services.GenerateRequest{
			Model:      model,
			Prompt:     prompt,
			PromptType: getOptionalString(req, "prompt_type"),
		}
		if genReq.ExperimentID, err = optionalUUID(req, "experiment_id"); err != nil {
			return nil, err
		}
		if genReq.PromptID, err = optionalUUID(req, "prompt_id"); err != nil {
			return nil, err
		}
		if conversationID := strings.TrimSpace(getOptionalString(req, "conversation_id")); conversationID != "" {
			genReq.ConversationID = &conversationID
		}

		return deps.Generations.Generate(ctx, genReq)
	}))
}

func registerSubmitRankingTool(s *server.MCPServer, deps *ExperimentToolDeps) {
	tool := mcp.NewTool(
		"submit_ranking",
		mcp.WithDescription(
			"Rank one generation against the other outputs for the same prompt. Rank 1 is best. "+
				"The generation must belong to the given experiment and prompt.",
		),
		mcp.WithString("experiment_id", mcp.Required(), mcp.Description("Experiment UUID")),
		mcp.WithString("prompt_id", mcp.Required(), mcp.Description("Prompt UUID")),
		mcp.WithString("generation_id", mcp.Required(), mcp.Description("Generation UUID")),
		mcp.WithNumber("rank", mcp.Required(), mcp.Description("Rank, 1 is best")),
		mcp.WithNumber("quality_score", mcp.Description("Optional quality score")),
		mcp.WithString("evaluator_id", mcp.Description("Who ranked it; defaults to the authenticated user or \"human\"")),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, scoped(deps, "submit_ranking", func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		experimentID, err := requireUUID(req, "experiment_id")
		if err != nil {
			return nil, err
		}
		promptID, err := requireUUID(req, "prompt_id")
		if err != nil {
			return nil, err
		}
		generationID, err := requireUUID(req, "generation_id")
		if err != nil {
			return nil, err
		}
		rank, ok := getOptionalFloat(req, "rank")
		if !ok {
			return nil, apperrors.Validation("rank is required")
		}
		if rank != float64(int(rank)) {
			return nil, apperrors.Validation("rank must be a whole number, got %v", rank)
		}

		rankReq := &services.SubmitRankingRequest{
			ExperimentID: experimentID,
			PromptID:     promptID,
			GenerationID: generationID,
			Rank:         int(rank),
			EvaluatorID:  auth.EvaluatorID(ctx, getOptionalString(req, "evaluator_id"), models.DefaultEvaluatorID),
		}
		if score, ok := getOptionalFloat(req, "quality_score"); ok {
			rankReq.QualityScore = &score
		}

		return deps.Rankings.Submit(ctx, rankReq)
	}))
}

func registerListRankingsTool(s *server.MCPServer, deps *ExperimentToolDeps) {
	tool := mcp.NewTool(
		"list_rankings",
		mcp.WithDescription("List an experiment's rankings ordered by prompt and rank, each with the ranked output and model."),
		mcp.WithString("experiment_id", mcp.Required(), mcp.Description("Experiment UUID")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, scoped(deps, "list_rankings", func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		experimentID, err := requireUUID(req, "experiment_id")
		if err != nil {
			return nil, err
		}
		rankings, err := deps.Rankings.List(ctx, experimentID)
		if err != nil {
			return nil, err
		}
		return struct {
			Rankings []*models.RankingView `json:"rankings"`
			Count    int                   `json:"count"`
		}{Rankings: rankings, Count: len(rankings)}, nil
	}))
}

func registerTechniqueStatsTool(s *server.MCPServer, deps *ExperimentToolDeps) {
	tool := mcp.NewTool(
		"technique_stats",
		mcp.WithDescription("Win counts per prompting technique: how often each technique's output was ranked first."),
		mcp.WithString("experiment_id", mcp.Required(), mcp.Description("Experiment UUID")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, scoped(deps, "technique_stats", func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		experimentID, err := requireUUID(req, "experiment_id")
		if err != nil {
			return nil, err
		}
		stats, err := deps.Rankings.TechniqueStats(ctx, experimentID)
		if err != nil {
			return nil, err
		}
		return struct {
			ExperimentID uuid.UUID              `json:"experiment_id"`
			Techniques   []models.TechniqueStat `json:"techniques"`
		}{ExperimentID: experimentID, Techniques: stats}, nil
	}))
}

func registerExportExperimentTool(s *server.MCPServer, deps *ExperimentToolDeps) {
	tool := mcp.NewTool(
		"export_experiment",
		mcp.WithDescription("Export an experiment with its prompts, generations, rankings and analysis results."),
		mcp.WithString("experiment_id", mcp.Required(), mcp.Description("Experiment UUID")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, scoped(deps, "export_experiment", func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
		experimentID, err := requireUUID(req, "experiment_id")
		if err != nil {
			return nil, err
		}
		return deps.Exports.Export(ctx, experimentID)
	}))
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return ""
	}
	val, ok := args[key].(string)
	if !ok {
		return ""
	}
	return val
}

// getOptionalFloat extracts an optional number argument from the request.
func getOptionalFloat(req mcp.CallToolRequest, key string) (float64, bool) {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return 0, false
	}
	val, ok := args[key].(float64)
	return val, ok
}

func requireUUID(req mcp.CallToolRequest, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(getOptionalString(req, key))
	if raw == "" {
		return uuid.Nil, apperrors.Validation("%s is required", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.Validation("%s is not a valid UUID: %q", key, raw)
	}
	return id, nil
}

func optionalUUID(req mcp.CallToolRequest, key string) (*uuid.UUID, error) {
	if strings.TrimSpace(getOptionalString(req, key)) == "" {
		return nil, nil
	}
	id, err := requireUUID(req, key)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
