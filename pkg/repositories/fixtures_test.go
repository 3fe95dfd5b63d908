//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/testhelpers"
)

// repoTestContext holds test dependencies shared by the repository tests.
type repoTestContext struct {
	t           *testing.T
	engineDB    *testhelpers.EngineDB
	experiments ExperimentRepository
	prompts     PromptRepository
	models      ModelRepository
	generations GenerationRepository
	rankings    RankingRepository
	templates   TemplateRepository
	analysis    AnalysisRepository
}

// setupRepoTest initializes the test context with the shared testcontainer and
// truncates all tables when the test finishes.
func setupRepoTest(t *testing.T) *repoTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	tc := &repoTestContext{
		t:           t,
		engineDB:    engineDB,
		experiments: NewExperimentRepository(),
		prompts:     NewPromptRepository(),
		models:      NewModelRepository(),
		generations: NewGenerationRepository(),
		rankings:    NewRankingRepository(),
		templates:   NewTemplateRepository(),
		analysis:    NewAnalysisRepository(),
	}
	engineDB.Truncate(t)
	t.Cleanup(func() { engineDB.Truncate(t) })
	return tc
}

// ctx returns a context with a pool-backed database scope.
func (tc *repoTestContext) ctx() context.Context {
	return tc.engineDB.ScopedContext()
}

func (tc *repoTestContext) createExperiment(name string) *models.Experiment {
	tc.t.Helper()
	exp := &models.Experiment{Name: name, Config: map[string]any{"temperature": 0.7}}
	if err := tc.experiments.Create(tc.ctx(), exp); err != nil {
		tc.t.Fatalf("failed to create experiment: %v", err)
	}
	return exp
}

func (tc *repoTestContext) createPrompt(experimentID uuid.UUID, content, promptType string) *models.Prompt {
	tc.t.Helper()
	prompt := &models.Prompt{ExperimentID: experimentID, Content: content, Type: promptType}
	if err := tc.prompts.Create(tc.ctx(), prompt); err != nil {
		tc.t.Fatalf("failed to create prompt: %v", err)
	}
	return prompt
}

func (tc *repoTestContext) createModel(name string) *models.Model {
	tc.t.Helper()
	model := &models.Model{Name: name, Type: models.ModelTypeBase, IsActive: true}
	if err := tc.models.Upsert(tc.ctx(), model); err != nil {
		tc.t.Fatalf("failed to register model: %v", err)
	}
	return model
}

func (tc *repoTestContext) createGeneration(prompt *models.Prompt, model *models.Model, output string) *models.Generation {
	tc.t.Helper()
	gen := &models.Generation{
		ExperimentID: prompt.ExperimentID,
		PromptID:     prompt.ID,
		ModelID:      model.ID,
		Output:       output,
	}
	if err := tc.generations.Create(tc.ctx(), gen); err != nil {
		tc.t.Fatalf("failed to create generation: %v", err)
	}
	return gen
}
