package services

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/llm"
	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/repositories"
)

// ============================================================================
// In-memory store shared by the repository mocks
// ============================================================================

// memStore keeps every entity in maps and enforces the same foreign keys as the
// schema. WithTx snapshots the maps and restores them when fn fails.
type memStore struct {
	mu sync.Mutex

	experiments map[uuid.UUID]*models.Experiment
	prompts     map[uuid.UUID]*models.Prompt
	modelRows   map[string]*models.Model
	generations map[uuid.UUID]*models.Generation
	rankings    []*models.Ranking
	templates   map[uuid.UUID]*models.Template
	analysis    []*models.AnalysisResult

	// failures injects an error for an operation name such as "generations.Create".
	failures map[string]error
	// calls counts operations by name.
	calls map[string]int

	clock time.Time
}

func newMemStore() *memStore {
	return &memStore{
		experiments: make(map[uuid.UUID]*models.Experiment),
		prompts:     make(map[uuid.UUID]*models.Prompt),
		modelRows:   make(map[string]*models.Model),
		generations: make(map[uuid.UUID]*models.Generation),
		templates:   make(map[uuid.UUID]*models.Template),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
		clock:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp so ordering by time is deterministic.
func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *memStore) enter(op string) error {
	s.calls[op]++
	return s.failures[op]
}

func (s *memStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	snapshot := struct {
		experiments map[uuid.UUID]*models.Experiment
		prompts     map[uuid.UUID]*models.Prompt
		modelRows   map[string]*models.Model
		generations map[uuid.UUID]*models.Generation
		rankings    []*models.Ranking
		analysis    []*models.AnalysisResult
	}{
		maps.Clone(s.experiments),
		maps.Clone(s.prompts),
		maps.Clone(s.modelRows),
		maps.Clone(s.generations),
		slices.Clone(s.rankings),
		slices.Clone(s.analysis),
	}
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.experiments = snapshot.experiments
		s.prompts = snapshot.prompts
		s.modelRows = snapshot.modelRows
		s.generations = snapshot.generations
		s.rankings = snapshot.rankings
		s.analysis = snapshot.analysis
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) repos() (
	repositories.ExperimentRepository,
	repositories.PromptRepository,
	repositories.ModelRepository,
	repositories.GenerationRepository,
	repositories.RankingRepository,
	repositories.TemplateRepository,
	repositories.AnalysisRepository,
) {
	return &memExperimentRepo{s}, &memPromptRepo{s}, &memModelRepo{s}, &memGenerationRepo{s},
		&memRankingRepo{s}, &memTemplateRepo{s}, &memAnalysisRepo{s}
}

// ============================================================================
// Experiments
// ============================================================================

type memExperimentRepo struct{ s *memStore }

var _ repositories.ExperimentRepository = (*memExperimentRepo)(nil)

func (r *memExperimentRepo) Create(ctx context.Context, exp *models.Experiment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("experiments.Create"); err != nil {
		return err
	}
	exp.ID = uuid.New()
	if exp.Status == "" {
		exp.Status = models.ExperimentStatusActive
	}
	if exp.Config == nil {
		exp.Config = map[string]any{}
	}
	now := r.s.tick()
	exp.CreatedAt, exp.UpdatedAt = now, now
	stored := *exp
	r.s.experiments[exp.ID] = &stored
	return nil
}

func (r *memExperimentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("experiments.GetByID"); err != nil {
		return nil, err
	}
	exp, ok := r.s.experiments[id]
	if !ok {
		return nil, nil
	}
	out := *exp
	return &out, nil
}

func (r *memExperimentRepo) List(ctx context.Context) ([]*models.Experiment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.Experiment, 0, len(r.s.experiments))
	for _, exp := range r.s.experiments {
		c := *exp
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memExperimentRepo) Update(ctx context.Context, id uuid.UUID, update models.ExperimentUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("experiments.Update"); err != nil {
		return err
	}
	if update.IsEmpty() {
		return nil
	}
	exp, ok := r.s.experiments[id]
	if !ok {
		return apperrors.NotFound("experiment %s not found", id)
	}
	c := *exp
	if update.Name != nil {
		c.Name = *update.Name
	}
	if update.Description != nil {
		c.Description = *update.Description
	}
	if update.Status != nil {
		c.Status = *update.Status
	}
	if update.Config != nil {
		c.Config = *update.Config
	}
	c.UpdatedAt = r.s.tick()
	r.s.experiments[id] = &c
	return nil
}

// ============================================================================
// Prompts
// ============================================================================

type memPromptRepo struct{ s *memStore }

var _ repositories.PromptRepository = (*memPromptRepo)(nil)

func (r *memPromptRepo) Create(ctx context.Context, p *models.Prompt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("prompts.Create"); err != nil {
		return err
	}
	if _, ok := r.s.experiments[p.ExperimentID]; !ok {
		return apperrors.Referential("cannot create prompt: experiment does not exist")
	}
	p.ID = uuid.New()
	if p.Tags == nil {
		p.Tags = []string{}
	}
	p.CreatedAt = r.s.tick()
	stored := *p
	r.s.prompts[p.ID] = &stored
	return nil
}

func (r *memPromptRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.prompts[id]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (r *memPromptRepo) ListByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*models.Prompt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Prompt
	for _, p := range r.s.prompts {
		if p.ExperimentID == experimentID {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ============================================================================
// Models
// ============================================================================

type memModelRepo struct{ s *memStore }

var _ repositories.ModelRepository = (*memModelRepo)(nil)

func (r *memModelRepo) Upsert(ctx context.Context, m *models.Model) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("models.Upsert"); err != nil {
		return err
	}
	if m.Type == "" {
		m.Type = models.ModelTypeBase
	}
	if existing, ok := r.s.modelRows[m.Name]; ok {
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
	} else {
		m.ID = uuid.New()
		m.CreatedAt = r.s.tick()
	}
	stored := *m
	r.s.modelRows[m.Name] = &stored
	return nil
}

func (r *memModelRepo) GetByName(ctx context.Context, name string) (*models.Model, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("models.GetByName"); err != nil {
		return nil, err
	}
	m, ok := r.s.modelRows[name]
	if !ok {
		return nil, nil
	}
	out := *m
	return &out, nil
}

func (r *memModelRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.modelRows {
		if m.ID == id {
			out := *m
			return &out, nil
		}
	}
	return nil, nil
}

func (r *memModelRepo) List(ctx context.Context, activeOnly bool) ([]*models.Model, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Model
	for _, m := range r.s.modelRows {
		if activeOnly && !m.IsActive {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// modelNameByID is only called with the store lock held.
func (s *memStore) modelNameByID(id uuid.UUID) string {
	for _, m := range s.modelRows {
		if m.ID == id {
			return m.Name
		}
	}
	return ""
}

// ============================================================================
// Generations
// ============================================================================

type memGenerationRepo struct{ s *memStore }

var _ repositories.GenerationRepository = (*memGenerationRepo)(nil)

func (r *memGenerationRepo) Create(ctx context.Context, g *models.Generation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("generations.Create"); err != nil {
		return err
	}
	p, ok := r.s.prompts[g.PromptID]
	if !ok || p.ExperimentID != g.ExperimentID {
		return apperrors.Referential("cannot create generation: prompt does not belong to experiment")
	}
	if r.s.modelNameByID(g.ModelID) == "" {
		return apperrors.Referential("cannot create generation: model does not exist")
	}
	g.ID = uuid.New()
	if g.StepNumber == 0 {
		g.StepNumber = 1
	}
	if g.Metadata == nil {
		g.Metadata = map[string]any{}
	}
	g.CreatedAt = r.s.tick()
	stored := *g
	r.s.generations[g.ID] = &stored
	return nil
}

func (r *memGenerationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("generations.GetByID"); err != nil {
		return nil, err
	}
	g, ok := r.s.generations[id]
	if !ok {
		return nil, nil
	}
	out := *g
	return &out, nil
}

func (r *memGenerationRepo) view(g *models.Generation) *models.GenerationView {
	v := &models.GenerationView{Generation: *g, ModelName: r.s.modelNameByID(g.ModelID)}
	if p, ok := r.s.prompts[g.PromptID]; ok {
		v.PromptContent = p.Content
		v.PromptType = p.Type
	}
	return v
}

func (r *memGenerationRepo) ListByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*models.GenerationView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.GenerationView
	for _, g := range r.s.generations {
		if g.ExperimentID == experimentID {
			out = append(out, r.view(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memGenerationRepo) ListByConversation(ctx context.Context, experimentID *uuid.UUID, conversationID string) ([]*models.GenerationView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.GenerationView
	for _, g := range r.s.generations {
		if experimentID != nil && g.ExperimentID != *experimentID {
			continue
		}
		if g.ConversationID != nil && *g.ConversationID == conversationID {
			out = append(out, r.view(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

// ============================================================================
// Rankings
// ============================================================================

type memRankingRepo struct{ s *memStore }

var _ repositories.RankingRepository = (*memRankingRepo)(nil)

func (r *memRankingRepo) Create(ctx context.Context, rk *models.Ranking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("rankings.Create"); err != nil {
		return err
	}
	if rk.Rank < 1 {
		return apperrors.Validation("cannot create ranking: rank must be positive")
	}
	g, ok := r.s.generations[rk.GenerationID]
	if !ok || g.ExperimentID != rk.ExperimentID || g.PromptID != rk.PromptID {
		return apperrors.Referential("cannot create ranking: generation does not match experiment/prompt")
	}
	rk.ID = uuid.New()
	if rk.EvaluatorID == "" {
		rk.EvaluatorID = models.DefaultEvaluatorID
	}
	rk.CreatedAt = r.s.tick()
	stored := *rk
	r.s.rankings = append(r.s.rankings, &stored)
	return nil
}

func (r *memRankingRepo) ListByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*models.RankingView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.RankingView
	for _, rk := range r.s.rankings {
		if rk.ExperimentID != experimentID {
			continue
		}
		v := &models.RankingView{Ranking: *rk}
		if g, ok := r.s.generations[rk.GenerationID]; ok {
			v.Output = g.Output
			v.ModelName = r.s.modelNameByID(g.ModelID)
		}
		if p, ok := r.s.prompts[rk.PromptID]; ok {
			v.PromptContent = p.Content
			v.PromptType = p.Type
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PromptID != out[j].PromptID {
			return out[i].PromptID.String() < out[j].PromptID.String()
		}
		return out[i].Rank < out[j].Rank
	})
	return out, nil
}

// ============================================================================
// Templates
// ============================================================================

type memTemplateRepo struct{ s *memStore }

var _ repositories.TemplateRepository = (*memTemplateRepo)(nil)

func (r *memTemplateRepo) Create(ctx context.Context, t *models.Template) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("templates.Create"); err != nil {
		return err
	}
	t.ID = uuid.New()
	if t.CreatedBy == "" {
		t.CreatedBy = models.DefaultTemplateCreator
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	now := r.s.tick()
	t.CreatedAt, t.UpdatedAt = now, now
	stored := *t
	r.s.templates[t.ID] = &stored
	return nil
}

func (r *memTemplateRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return nil, nil
	}
	out := *t
	return &out, nil
}

func (r *memTemplateRepo) List(ctx context.Context) ([]*models.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.Template, 0, len(r.s.templates))
	for _, t := range r.s.templates {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memTemplateRepo) Count(ctx context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.templates), nil
}

func (r *memTemplateRepo) Update(ctx context.Context, id uuid.UUID, update models.TemplateUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("templates.Update"); err != nil {
		return err
	}
	if update.IsEmpty() {
		return nil
	}
	t, ok := r.s.templates[id]
	if !ok {
		return apperrors.NotFound("template %s not found", id)
	}
	c := *t
	if update.Name != nil {
		c.Name = *update.Name
	}
	if update.Prompt != nil {
		c.Prompt = *update.Prompt
	}
	if update.Tags != nil {
		c.Tags = *update.Tags
	}
	if update.Animated != nil {
		c.Animated = *update.Animated
	}
	c.UpdatedAt = r.s.tick()
	r.s.templates[id] = &c
	return nil
}

func (r *memTemplateRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.templates[id]; !ok {
		return apperrors.NotFound("template %s not found", id)
	}
	delete(r.s.templates, id)
	return nil
}

// ============================================================================
// Analysis
// ============================================================================

type memAnalysisRepo struct{ s *memStore }

var _ repositories.AnalysisRepository = (*memAnalysisRepo)(nil)

func (r *memAnalysisRepo) Create(ctx context.Context, a *models.AnalysisResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("analysis.Create"); err != nil {
		return err
	}
	if _, ok := r.s.experiments[a.ExperimentID]; !ok {
		return apperrors.Referential("cannot save analysis: experiment does not exist")
	}
	a.ID = uuid.New()
	if a.Results == nil {
		a.Results = map[string]any{}
	}
	a.CreatedAt = r.s.tick()
	stored := *a
	r.s.analysis = append(r.s.analysis, &stored)
	return nil
}

func (r *memAnalysisRepo) ListByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*models.AnalysisResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("analysis.ListByExperiment"); err != nil {
		return nil, err
	}
	var out []*models.AnalysisResult
	for _, a := range r.s.analysis {
		if a.ExperimentID == experimentID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

// ============================================================================
// Test environment
// ============================================================================

type testEnv struct {
	store       *memStore
	invoker     *llm.MockInvoker
	pool        *llm.WorkerPool
	experiments ExperimentService
	modelSvc    ModelService
	generations GenerationService
	rankings    RankingService
	templates   TemplateService
	exports     ExportService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithPool(t, llm.WorkerPoolConfig{MaxConcurrent: 4, QueueLimit: 16, CallTimeout: 5 * time.Second})
}

func newTestEnvWithPool(t *testing.T, poolCfg llm.WorkerPoolConfig) *testEnv {
	t.Helper()

	store := newMemStore()
	expRepo, promptRepo, modelRepo, genRepo, rankingRepo, templateRepo, analysisRepo := store.repos()
	logger := zap.NewNop()
	invoker := llm.NewMockInvoker(`<svg viewBox="0 0 10 10"><circle r="4"/></svg>`)
	pool := llm.NewWorkerPool(poolCfg, logger)
	t.Cleanup(pool.Wait)

	return &testEnv{
		store:       store,
		invoker:     invoker,
		pool:        pool,
		experiments: NewExperimentService(expRepo, promptRepo, genRepo, analysisRepo, logger),
		modelSvc:    NewModelService(modelRepo, logger),
		generations: NewGenerationService(expRepo, promptRepo, modelRepo, genRepo, store, invoker, pool, logger),
		rankings:    NewRankingService(expRepo, genRepo, rankingRepo, logger),
		templates:   NewTemplateService(templateRepo, logger),
		exports:     NewExportService(expRepo, promptRepo, modelRepo, genRepo, rankingRepo, analysisRepo, store, logger),
	}
}

func (e *testEnv) createExperiment(t *testing.T, name string) *models.Experiment {
	t.Helper()
	exp, err := e.experiments.Create(context.Background(), &CreateExperimentRequest{Name: name})
	require.NoError(t, err)
	return exp
}

func (e *testEnv) generate(t *testing.T, expID uuid.UUID, model, prompt, promptType string) *GenerateResult {
	t.Helper()
	res, err := e.generations.Generate(context.Background(), &GenerateRequest{
		Model:        model,
		Prompt:       prompt,
		ExperimentID: &expID,
		PromptType:   promptType,
	})
	require.NoError(t, err)
	return res
}
