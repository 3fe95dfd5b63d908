//go:build integration

package repositories

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/models"
)

func TestPromptRepository_CreateListAndParent(t *testing.T) {
	tc := setupRepoTest(t)
	ctx := tc.ctx()
	exp := tc.createExperiment("prompts")

	root := tc.createPrompt(exp.ID, "Draw a circle", "base")

	modifier := "make it blue"
	child := &models.Prompt{
		ExperimentID:   exp.ID,
		Type:           "refinement",
		Content:        "Draw a blue circle",
		ParentPromptID: &root.ID,
		ModifierUsed:   &modifier,
		Tags:           []string{"color", "refine"},
	}
	require.NoError(t, tc.prompts.Create(ctx, child))

	list, err := tc.prompts.ListByExperiment(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, root.ID, list[0].ID, "ordered by creation")
	assert.Empty(t, list[0].Tags)
	require.NotNil(t, list[1].ParentPromptID)
	assert.Equal(t, root.ID, *list[1].ParentPromptID)
	assert.Equal(t, []string{"color", "refine"}, list[1].Tags)
	assert.Equal(t, "make it blue", *list[1].ModifierUsed)
}

func TestPromptRepository_MissingExperimentIsReferential(t *testing.T) {
	tc := setupRepoTest(t)

	err := tc.prompts.Create(tc.ctx(), &models.Prompt{ExperimentID: uuid.New(), Content: "orphan", Type: "base"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrReferential))
}

func TestModelRepository_UpsertKeepsID(t *testing.T) {
	tc := setupRepoTest(t)
	ctx := tc.ctx()

	first := tc.createModel("model-a")

	replacement := &models.Model{
		Name:             "model-a",
		Type:             models.ModelTypeConsortium,
		ConsortiumConfig: map[string]any{"models": []any{"x", "y"}},
		IsActive:         false,
	}
	require.NoError(t, tc.models.Upsert(ctx, replacement))
	assert.Equal(t, first.ID, replacement.ID)

	got, err := tc.models.GetByName(ctx, "model-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.ModelTypeConsortium, got.Type)
	assert.False(t, got.IsActive)

	missing, err := tc.models.GetByName(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestModelRepository_ListOrderedByName(t *testing.T) {
	tc := setupRepoTest(t)
	ctx := tc.ctx()

	tc.createModel("zeta")
	tc.createModel("alpha")
	require.NoError(t, tc.models.Upsert(ctx, &models.Model{Name: "mid", IsActive: false}))

	all, err := tc.models.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, []string{all[0].Name, all[1].Name, all[2].Name})

	active, err := tc.models.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestGenerationRepository_EnrichedList(t *testing.T) {
	tc := setupRepoTest(t)
	ctx := tc.ctx()
	exp := tc.createExperiment("gens")
	prompt := tc.createPrompt(exp.ID, "Draw a circle", "few_shot")
	model := tc.createModel("model-a")

	ms := int64(420)
	gen := &models.Generation{
		ExperimentID:     exp.ID,
		PromptID:         prompt.ID,
		ModelID:          model.ID,
		Output:           "<svg><circle/></svg>",
		SVGContent:       models.ExtractSVG("<svg><circle/></svg>"),
		GenerationTimeMs: &ms,
		Metadata:         map[string]any{"iteration": float64(1)},
	}
	require.NoError(t, tc.generations.Create(ctx, gen))
	assert.Equal(t, 1, gen.StepNumber)

	list, err := tc.generations.ListByExperiment(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Draw a circle", list[0].PromptContent)
	assert.Equal(t, "few_shot", list[0].PromptType)
	assert.Equal(t, "model-a", list[0].ModelName)
	require.NotNil(t, list[0].SVGContent)
	assert.Equal(t, int64(420), *list[0].GenerationTimeMs)

	// Every generation resolves to its prompt and that prompt's experiment
	got, err := tc.generations.GetByID(ctx, gen.ID)
	require.NoError(t, err)
	p, err := tc.prompts.GetByID(ctx, got.PromptID)
	require.NoError(t, err)
	require.NotNil(t, p)
	e, err := tc.experiments.GetByID(ctx, p.ExperimentID)
	require.NoError(t, err)
	require.NotNil(t, e)
}

func TestGenerationRepository_PromptFromOtherExperimentIsReferential(t *testing.T) {
	tc := setupRepoTest(t)
	expA := tc.createExperiment("A")
	expB := tc.createExperiment("B")
	promptB := tc.createPrompt(expB.ID, "in B", "base")
	model := tc.createModel("model-a")

	err := tc.generations.Create(tc.ctx(), &models.Generation{
		ExperimentID: expA.ID,
		PromptID:     promptB.ID,
		ModelID:      model.ID,
		Output:       "x",
	})
	assert.True(t, errors.Is(err, apperrors.ErrReferential))
}

func TestGenerationRepository_ListByConversation(t *testing.T) {
	tc := setupRepoTest(t)
	ctx := tc.ctx()
	exp := tc.createExperiment("conv")
	model := tc.createModel("model-a")
	conv := "conv-1"

	for step := 2; step >= 1; step-- {
		p := tc.createPrompt(exp.ID, "turn", "base")
		require.NoError(t, tc.generations.Create(ctx, &models.Generation{
			ExperimentID:   exp.ID,
			PromptID:       p.ID,
			ModelID:        model.ID,
			ConversationID: &conv,
			StepNumber:     step,
			Output:         "out",
		}))
	}

	other := tc.createExperiment("other")
	otherPrompt := tc.createPrompt(other.ID, "foreign turn", "base")
	require.NoError(t, tc.generations.Create(ctx, &models.Generation{
		ExperimentID:   other.ID,
		PromptID:       otherPrompt.ID,
		ModelID:        model.ID,
		ConversationID: &conv,
		StepNumber:     3,
		Output:         "foreign",
	}))

	turns, err := tc.generations.ListByConversation(ctx, &exp.ID, conv)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 1, turns[0].StepNumber)
	assert.Equal(t, 2, turns[1].StepNumber)

	all, err := tc.generations.ListByConversation(ctx, nil, conv)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
