package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/services"
)

type mockScope struct {
	err      error
	acquired int
	released int
}

func (m *mockScope) WithScope(ctx context.Context) (context.Context, func(), error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	m.acquired++
	return ctx, func() { m.released++ }, nil
}

type mockExperimentService struct {
	services.ExperimentService
	listFn      func(ctx context.Context) ([]*models.Experiment, error)
	getDetailFn func(ctx context.Context, id uuid.UUID) (*models.ExperimentDetail, error)
}

func (m *mockExperimentService) List(ctx context.Context) ([]*models.Experiment, error) {
	return m.listFn(ctx)
}

func (m *mockExperimentService) GetDetail(ctx context.Context, id uuid.UUID) (*models.ExperimentDetail, error) {
	return m.getDetailFn(ctx, id)
}

type mockGenerationService struct {
	services.GenerationService
	generateFn func(ctx context.Context, req *services.GenerateRequest) (*services.GenerateResult, error)
}

func (m *mockGenerationService) Generate(ctx context.Context, req *services.GenerateRequest) (*services.GenerateResult, error) {
	return m.generateFn(ctx, req)
}

type mockRankingService struct {
	services.RankingService
	submitFn func(ctx context.Context, req *services.SubmitRankingRequest) (*models.Ranking, error)
	listFn   func(ctx context.Context, experimentID uuid.UUID) ([]*models.RankingView, error)
	statsFn  func(ctx context.Context, experimentID uuid.UUID) ([]models.TechniqueStat, error)
}

func (m *mockRankingService) Submit(ctx context.Context, req *services.SubmitRankingRequest) (*models.Ranking, error) {
	return m.submitFn(ctx, req)
}

func (m *mockRankingService) List(ctx context.Context, experimentID uuid.UUID) ([]*models.RankingView, error) {
	return m.listFn(ctx, experimentID)
}

func (m *mockRankingService) TechniqueStats(ctx context.Context, experimentID uuid.UUID) ([]models.TechniqueStat, error) {
	return m.statsFn(ctx, experimentID)
}

type mockExportService struct {
	services.ExportService
	exportFn func(ctx context.Context, experimentID uuid.UUID) (*models.ExperimentExport, error)
}

func (m *mockExportService) Export(ctx context.Context, experimentID uuid.UUID) (*models.ExperimentExport, error) {
	return m.exportFn(ctx, experimentID)
}

func newTestToolServer(deps *ExperimentToolDeps) *server.MCPServer {
	if deps.Scope == nil {
		deps.Scope = &mockScope{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterExperimentTools(s, deps)
	return s
}

func TestListExperimentsTool(t *testing.T) {
	scope := &mockScope{}
	deps := &ExperimentToolDeps{
		Scope: scope,
		Experiments: &mockExperimentService{
			listFn: func(ctx context.Context) ([]*models.Experiment, error) {
				return []*models.Experiment{
					{ID: uuid.New(), Name: "pelicans", Status: models.ExperimentStatusActive},
					{ID: uuid.New(), Name: "otters", Status: models.ExperimentStatusArchived},
				}, nil
			},
		},
	}
	s := newTestToolServer(deps)

	result := callTool(t, s, "list_experiments", map[string]any{})

	require.False(t, result.IsError)
	var got struct {
		Experiments []*models.Experiment `json:"experiments"`
		Count       int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &got))
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, "pelicans", got.Experiments[0].Name)
	assert.Equal(t, 1, scope.acquired)
	assert.Equal(t, 1, scope.released)
}

func TestGetExperimentTool(t *testing.T) {
	expID := uuid.New()
	deps := &ExperimentToolDeps{
		Experiments: &mockExperimentService{
			getDetailFn: func(ctx context.Context, id uuid.UUID) (*models.ExperimentDetail, error) {
				if id != expID {
					return nil, apperrors.NotFound("experiment %s not found", id)
				}
				return &models.ExperimentDetail{
					Experiment:  &models.Experiment{ID: expID, Name: "pelicans"},
					Generations: []*models.GenerationView{},
				}, nil
			},
		},
	}
	s := newTestToolServer(deps)

	t.Run("found", func(t *testing.T) {
		result := callTool(t, s, "get_experiment", map[string]any{"experiment_id": expID.String()})
		require.False(t, result.IsError)

		var got models.ExperimentDetail
		require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &got))
		assert.Equal(t, "pelicans", got.Experiment.Name)
	})

	t.Run("not found", func(t *testing.T) {
		result := callTool(t, s, "get_experiment", map[string]any{"experiment_id": uuid.NewString()})
		assert.Equal(t, "not_found", decodeErrorResult(t, result).Code)
	})

	t.Run("invalid uuid", func(t *testing.T) {
		result := callTool(t, s, "get_experiment", map[string]any{"experiment_id": "nope"})
		errResp := decodeErrorResult(t, result)
		assert.Equal(t, "validation_error", errResp.Code)
		assert.Contains(t, errResp.Message, "experiment_id")
	})

	t.Run("missing id", func(t *testing.T) {
		result := callTool(t, s, "get_experiment", map[string]any{})
		assert.Equal(t, "validation_error", decodeErrorResult(t, result).Code)
	})
}

func TestGenerateTool(t *testing.T) {
	expID := uuid.New()
	genID := uuid.New()

	t.Run("persisted with optional args", func(t *testing.T) {
		var captured *services.GenerateRequest
		deps := &ExperimentToolDeps{
			Generations: &mockGenerationService{
				generateFn: func(ctx context.Context, req *services.GenerateRequest) (*services.GenerateResult, error) {
					captured = req
					conv := "conv-1"
					return &services.GenerateResult{Output: "<svg/>", GenerationID: &genID, ConversationID: &conv, StepNumber: 2}, nil
				},
			},
		}
		s := newTestToolServer(deps)

		result := callTool(t, s, "generate", map[string]any{
			"model":           "gpt-4o",
			"prompt":          "Draw a pelican",
			"experiment_id":   expID.String(),
			"prompt_type":     "chain_of_thought",
			"conversation_id": "conv-1",
		})

		require.False(t, result.IsError)
		require.NotNil(t, captured)
		assert.Equal(t, "gpt-4o", captured.Model)
		assert.Equal(t, "chain_of_thought", captured.PromptType)
		require.NotNil(t, captured.ExperimentID)
		assert.Equal(t, expID, *captured.ExperimentID)
		require.NotNil(t, captured.ConversationID)
		assert.Equal(t, "conv-1", *captured.ConversationID)
		assert.Nil(t, captured.PromptID)

		var got services.GenerateResult
		require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &got))
		assert.Equal(t, 2, got.StepNumber)
		require.NotNil(t, got.GenerationID)
		assert.Equal(t, genID, *got.GenerationID)
	})

	t.Run("ephemeral", func(t *testing.T) {
		var captured *services.GenerateRequest
		deps := &ExperimentToolDeps{
			Generations: &mockGenerationService{
				generateFn: func(ctx context.Context, req *services.GenerateRequest) (*services.GenerateResult, error) {
					captured = req
					return &services.GenerateResult{Output: "hello"}, nil
				},
			},
		}
		s := newTestToolServer(deps)

		result := callTool(t, s, "generate", map[string]any{"model": "gpt-4o", "prompt": "hi"})

		require.False(t, result.IsError)
		assert.Nil(t, captured.ExperimentID)
		assert.Nil(t, captured.ConversationID)
	})

	t.Run("missing prompt", func(t *testing.T) {
		s := newTestToolServer(&ExperimentToolDeps{Generations: &mockGenerationService{}})

		result := callTool(t, s, "generate", map[string]any{"model": "gpt-4o"})
		assert.Equal(t, "validation_error", decodeErrorResult(t, result).Code)
	})

	t.Run("overloaded", func(t *testing.T) {
		deps := &ExperimentToolDeps{
			Generations: &mockGenerationService{
				generateFn: func(ctx context.Context, req *services.GenerateRequest) (*services.GenerateResult, error) {
					return nil, apperrors.Overloaded("executor queue is full")
				},
			},
		}
		s := newTestToolServer(deps)

		result := callTool(t, s, "generate", map[string]any{"model": "gpt-4o", "prompt": "hi"})
		assert.Equal(t, "overloaded", decodeErrorResult(t, result).Code)
	})
}

func TestSubmitRankingTool(t *testing.T) {
	expID, promptID, genID := uuid.New(), uuid.New(), uuid.New()

	var captured *services.SubmitRankingRequest
	deps := &ExperimentToolDeps{
		Rankings: &mockRankingService{
			submitFn: func(ctx context.Context, req *services.SubmitRankingRequest) (*models.Ranking, error) {
				captured = req
				if req.GenerationID != genID {
					return nil, apperrors.Referential("generation %s does not belong to prompt %s", req.GenerationID, req.PromptID)
				}
				return &models.Ranking{ID: uuid.New(), ExperimentID: req.ExperimentID, PromptID: req.PromptID,
					GenerationID: req.GenerationID, Rank: req.Rank, QualityScore: req.QualityScore, EvaluatorID: req.EvaluatorID}, nil
			},
		},
	}
	s := newTestToolServer(deps)

	t.Run("defaults evaluator", func(t *testing.T) {
		result := callTool(t, s, "submit_ranking", map[string]any{
			"experiment_id": expID.String(),
			"prompt_id":     promptID.String(),
			"generation_id": genID.String(),
			"rank":          1,
			"quality_score": 8.5,
		})

		require.False(t, result.IsError)
		assert.Equal(t, 1, captured.Rank)
		assert.Equal(t, models.DefaultEvaluatorID, captured.EvaluatorID)
		require.NotNil(t, captured.QualityScore)
		assert.InDelta(t, 8.5, *captured.QualityScore, 0.0001)
	})

	t.Run("explicit evaluator", func(t *testing.T) {
		result := callTool(t, s, "submit_ranking", map[string]any{
			"experiment_id": expID.String(),
			"prompt_id":     promptID.String(),
			"generation_id": genID.String(),
			"rank":          2,
			"evaluator_id":  "alice",
		})

		require.False(t, result.IsError)
		assert.Equal(t, "alice", captured.EvaluatorID)
		assert.Nil(t, captured.QualityScore)
	})

	t.Run("fractional rank", func(t *testing.T) {
		result := callTool(t, s, "submit_ranking", map[string]any{
			"experiment_id": expID.String(),
			"prompt_id":     promptID.String(),
			"generation_id": genID.String(),
			"rank":          1.5,
		})
		assert.Equal(t, "validation_error", decodeErrorResult(t, result).Code)
	})

	t.Run("referential mismatch", func(t *testing.T) {
		result := callTool(t, s, "submit_ranking", map[string]any{
			"experiment_id": expID.String(),
			"prompt_id":     promptID.String(),
			"generation_id": uuid.NewString(),
			"rank":          1,
		})
		assert.Equal(t, "referential_error", decodeErrorResult(t, result).Code)
	})
}

func TestRankingReadTools(t *testing.T) {
	expID := uuid.New()
	winRate := 0.75
	deps := &ExperimentToolDeps{
		Rankings: &mockRankingService{
			listFn: func(ctx context.Context, experimentID uuid.UUID) ([]*models.RankingView, error) {
				return []*models.RankingView{{Ranking: models.Ranking{ExperimentID: experimentID, Rank: 1}, ModelName: "gpt-4o"}}, nil
			},
			statsFn: func(ctx context.Context, experimentID uuid.UUID) ([]models.TechniqueStat, error) {
				return []models.TechniqueStat{{Technique: "base", Wins: 3, Total: 4, WinRate: &winRate}}, nil
			},
		},
	}
	s := newTestToolServer(deps)

	result := callTool(t, s, "list_rankings", map[string]any{"experiment_id": expID.String()})
	require.False(t, result.IsError)
	var rankings struct {
		Rankings []*models.RankingView `json:"rankings"`
		Count    int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &rankings))
	assert.Equal(t, 1, rankings.Count)
	assert.Equal(t, "gpt-4o", rankings.Rankings[0].ModelName)

	result = callTool(t, s, "technique_stats", map[string]any{"experiment_id": expID.String()})
	require.False(t, result.IsError)
	var stats struct {
		ExperimentID uuid.UUID              `json:"experiment_id"`
		Techniques   []models.TechniqueStat `json:"techniques"`
	}
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &stats))
	assert.Equal(t, expID, stats.ExperimentID)
	require.Len(t, stats.Techniques, 1)
	assert.Equal(t, 3, stats.Techniques[0].Wins)
}

func TestExportExperimentTool(t *testing.T) {
	expID := uuid.New()
	deps := &ExperimentToolDeps{
		Exports: &mockExportService{
			exportFn: func(ctx context.Context, experimentID uuid.UUID) (*models.ExperimentExport, error) {
				return &models.ExperimentExport{Experiment: &models.Experiment{ID: experimentID, Name: "pelicans"}}, nil
			},
		},
	}
	s := newTestToolServer(deps)

	result := callTool(t, s, "export_experiment", map[string]any{"experiment_id": expID.String()})

	require.False(t, result.IsError)
	var got models.ExperimentExport
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &got))
	assert.Equal(t, expID, got.Experiment.ID)
}

func TestScopedTool_ScopeFailure(t *testing.T) {
	s := newTestToolServer(&ExperimentToolDeps{Scope: &mockScope{err: errors.New("pool exhausted")}})

	reqBytes, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": "list_experiments", "arguments": map[string]any{}},
	})
	require.NoError(t, err)

	resultBytes, err := json.Marshal(s.HandleMessage(context.Background(), reqBytes))
	require.NoError(t, err)

	var response struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))
	require.NotNil(t, response.Error)
	assert.Contains(t, response.Error.Message, "pool exhausted")
}
