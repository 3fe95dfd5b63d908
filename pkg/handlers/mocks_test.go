package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/services"
)

// mockExperimentService implements services.ExperimentService with optional func fields.
type mockExperimentService struct {
	createFn          func(ctx context.Context, req *services.CreateExperimentRequest) (*models.Experiment, error)
	getDetailFn       func(ctx context.Context, id uuid.UUID) (*models.ExperimentDetail, error)
	listFn            func(ctx context.Context) ([]*models.Experiment, error)
	updateFn          func(ctx context.Context, id uuid.UUID, update models.ExperimentUpdate) (*models.Experiment, error)
	createPromptFn    func(ctx context.Context, experimentID uuid.UUID, req *services.CreatePromptRequest) (*models.Prompt, error)
	listPromptsFn     func(ctx context.Context, experimentID uuid.UUID) ([]*models.Prompt, error)
	listGenerationsFn func(ctx context.Context, experimentID uuid.UUID) ([]*models.GenerationView, error)
	saveAnalysisFn    func(ctx context.Context, experimentID uuid.UUID, req *services.SaveAnalysisRequest) (*models.AnalysisResult, error)
	listAnalysisFn    func(ctx context.Context, experimentID uuid.UUID) ([]*models.AnalysisResult, error)
}

var _ services.ExperimentService = (*mockExperimentService)(nil)

func (m *mockExperimentService) Create(ctx context.Context, req *services.CreateExperimentRequest) (*models.Experiment, error) {
	return m.createFn(ctx, req)
}

func (m *mockExperimentService) Get(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	detail, err := m.getDetailFn(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail.Experiment, nil
}

func (m *mockExperimentService) GetDetail(ctx context.Context, id uuid.UUID) (*models.ExperimentDetail, error) {
	return m.getDetailFn(ctx, id)
}

func (m *mockExperimentService) List(ctx context.Context) ([]*models.Experiment, error) {
	return m.listFn(ctx)
}

func (m *mockExperimentService) Update(ctx context.Context, id uuid.UUID, update models.ExperimentUpdate) (*models.Experiment, error) {
	return m.updateFn(ctx, id, update)
}

func (m *mockExperimentService) CreatePrompt(ctx context.Context, experimentID uuid.UUID, req *services.CreatePromptRequest) (*models.Prompt, error) {
	return m.createPromptFn(ctx, experimentID, req)
}

func (m *mockExperimentService) ListPrompts(ctx context.Context, experimentID uuid.UUID) ([]*models.Prompt, error) {
	return m.listPromptsFn(ctx, experimentID)
}

func (m *mockExperimentService) ListGenerations(ctx context.Context, experimentID uuid.UUID) ([]*models.GenerationView, error) {
	return m.listGenerationsFn(ctx, experimentID)
}

func (m *mockExperimentService) SaveAnalysis(ctx context.Context, experimentID uuid.UUID, req *services.SaveAnalysisRequest) (*models.AnalysisResult, error) {
	return m.saveAnalysisFn(ctx, experimentID, req)
}

func (m *mockExperimentService) ListAnalysis(ctx context.Context, experimentID uuid.UUID) ([]*models.AnalysisResult, error) {
	return m.listAnalysisFn(ctx, experimentID)
}

// mockRankingService implements services.RankingService.
type mockRankingService struct {
	submitFn      func(ctx context.Context, req *services.SubmitRankingRequest) (*models.Ranking, error)
	submitBatchFn func(ctx context.Context, experimentID uuid.UUID, entries []models.RankingEntry) (*models.BatchRankingResult, error)
	listFn        func(ctx context.Context, experimentID uuid.UUID) ([]*models.RankingView, error)
	statsFn       func(ctx context.Context, experimentID uuid.UUID) ([]models.TechniqueStat, error)
}

var _ services.RankingService = (*mockRankingService)(nil)

func (m *mockRankingService) Submit(ctx context.Context, req *services.SubmitRankingRequest) (*models.Ranking, error) {
	return m.submitFn(ctx, req)
}

func (m *mockRankingService) SubmitBatch(ctx context.Context, experimentID uuid.UUID, entries []models.RankingEntry) (*models.BatchRankingResult, error) {
	return m.submitBatchFn(ctx, experimentID, entries)
}

func (m *mockRankingService) List(ctx context.Context, experimentID uuid.UUID) ([]*models.RankingView, error) {
	return m.listFn(ctx, experimentID)
}

func (m *mockRankingService) TechniqueStats(ctx context.Context, experimentID uuid.UUID) ([]models.TechniqueStat, error) {
	return m.statsFn(ctx, experimentID)
}

// mockGenerationService implements services.GenerationService.
type mockGenerationService struct {
	generateFn      func(ctx context.Context, req *services.GenerateRequest) (*services.GenerateResult, error)
	generateBatchFn func(ctx context.Context, reqs []*services.GenerateRequest) ([]services.BatchGenerateItem, error)
}

var _ services.GenerationService = (*mockGenerationService)(nil)

func (m *mockGenerationService) Generate(ctx context.Context, req *services.GenerateRequest) (*services.GenerateResult, error) {
	return m.generateFn(ctx, req)
}

func (m *mockGenerationService) GenerateBatch(ctx context.Context, reqs []*services.GenerateRequest) ([]services.BatchGenerateItem, error) {
	return m.generateBatchFn(ctx, reqs)
}

// mockModelService implements services.ModelService.
type mockModelService struct {
	registerFn func(ctx context.Context, req *services.RegisterModelRequest) (*models.Model, error)
	getFn      func(ctx context.Context, name string) (*models.Model, error)
	listFn     func(ctx context.Context, activeOnly bool) ([]*models.Model, error)
}

var _ services.ModelService = (*mockModelService)(nil)

func (m *mockModelService) Register(ctx context.Context, req *services.RegisterModelRequest) (*models.Model, error) {
	return m.registerFn(ctx, req)
}

func (m *mockModelService) Get(ctx context.Context, name string) (*models.Model, error) {
	return m.getFn(ctx, name)
}

func (m *mockModelService) List(ctx context.Context, activeOnly bool) ([]*models.Model, error) {
	return m.listFn(ctx, activeOnly)
}

// mockTemplateService implements services.TemplateService.
type mockTemplateService struct {
	createFn func(ctx context.Context, req *services.CreateTemplateRequest) (*models.Template, error)
	getFn    func(ctx context.Context, id uuid.UUID) (*models.Template, error)
	listFn   func(ctx context.Context) ([]*models.Template, error)
	updateFn func(ctx context.Context, id uuid.UUID, update models.TemplateUpdate) (*models.Template, error)
	deleteFn func(ctx context.Context, id uuid.UUID) error
}

var _ services.TemplateService = (*mockTemplateService)(nil)

func (m *mockTemplateService) Create(ctx context.Context, req *services.CreateTemplateRequest) (*models.Template, error) {
	return m.createFn(ctx, req)
}

func (m *mockTemplateService) Get(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	return m.getFn(ctx, id)
}

func (m *mockTemplateService) List(ctx context.Context) ([]*models.Template, error) {
	return m.listFn(ctx)
}

func (m *mockTemplateService) Update(ctx context.Context, id uuid.UUID, update models.TemplateUpdate) (*models.Template, error) {
	return m.updateFn(ctx, id, update)
}

func (m *mockTemplateService) Delete(ctx context.Context, id uuid.UUID) error {
	return m.deleteFn(ctx, id)
}

func (m *mockTemplateService) LoadSeedFile(ctx context.Context, path string) (int, error) {
	return 0, nil
}

// mockExportService implements services.ExportService.
type mockExportService struct {
	exportFn func(ctx context.Context, experimentID uuid.UUID) (*models.ExperimentExport, error)
	importFn func(ctx context.Context, dump models.LegacyExport) (*models.ImportResult, error)
}

var _ services.ExportService = (*mockExportService)(nil)

func (m *mockExportService) Export(ctx context.Context, experimentID uuid.UUID) (*models.ExperimentExport, error) {
	return m.exportFn(ctx, experimentID)
}

func (m *mockExportService) Import(ctx context.Context, dump models.LegacyExport) (*models.ImportResult, error) {
	return m.importFn(ctx, dump)
}

// serve routes req through a mux so path values are populated the way they are in production.
func serve(t *testing.T, register func(mux *http.ServeMux), method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	mux := http.NewServeMux()
	register(mux)

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// decodeEnvelope decodes an ApiResponse, unmarshalling data into dst when non-nil.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, dst any) ApiResponse {
	t.Helper()

	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&raw))
	if dst != nil {
		require.NoError(t, json.Unmarshal(raw.Data, dst))
	}
	return ApiResponse{Success: raw.Success, Error: raw.Error, Message: raw.Message}
}
