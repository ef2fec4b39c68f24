package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"evallab/internal/db/dbtest"
	"evallab/internal/model"
	"evallab/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormRepository[model.Evaluation](dbtest.Open(t))

	eval := &model.Evaluation{
		Name:             "greeting",
		TargetPipelineID: "pipe-1",
		Input:            "hello",
		SuccessCriteria:  model.NewSuccessCriteria(model.ExactMatch{Value: "hi"}),
	}
	require.NoError(t, repo.Create(ctx, eval))
	require.NotEmpty(t, eval.ID)

	got, err := repo.Get(ctx, repository.ByID(eval.ID))
	require.NoError(t, err)
	assert.Equal(t, "greeting", got.Name)
	assert.Equal(t, model.ExactMatch{Value: "hi"}, got.SuccessCriteria.Criterion)

	got.Name = "renamed"
	got.SuccessCriteria = model.NewSuccessCriteria(model.JSONSchemaMatch{Schema: `{"type":"string"}`})
	updated, err := repo.UpdateWhere(ctx, repository.ByID(eval.ID), got)
	require.NoError(t, err)
	assert.True(t, updated)

	got, err = repo.Get(ctx, repository.ByID(eval.ID))
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, model.CriteriaJSONSchemaMatch, got.SuccessCriteria.Type())

	n, err := repo.Count(ctx, repository.Where("target_pipeline_id = ?", "pipe-1"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	deleted, err := repo.DeleteWhere(ctx, repository.ByID(eval.ID))
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = repo.Get(ctx, repository.ByID(eval.ID))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGormRepository_UpdateMissing(t *testing.T) {
	repo := repository.NewGormRepository[model.Pipeline](dbtest.Open(t))

	updated, err := repo.UpdateWhere(context.Background(), repository.ByID("nope"), &model.Pipeline{Name: "x"})
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestGormRepository_EvaluationRunTrialsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormRepository[model.EvaluationRun](dbtest.Open(t))

	run, err := model.NewEvaluationRun("eval-1", "in", 0.5, 0.95, 0.5)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, run))

	for i := 0; i < run.SampleSize; i++ {
		require.NoError(t, run.AppendTrial(model.TrialOutcome{PipelineRunID: fmt.Sprint(i), Passed: i%2 == 0}))
	}
	updated, err := repo.UpdateWhere(ctx, repository.ByID(run.ID), run)
	require.NoError(t, err)
	require.True(t, updated)

	stored, err := repo.Get(ctx, repository.ByID(run.ID))
	require.NoError(t, err)
	assert.Equal(t, run.Trials, stored.Trials)
	assert.Equal(t, model.RunStatusCompleted, stored.Status())
	assert.InDelta(t, 0.95, stored.ConfidenceLevel, 1e-9)
	assert.Equal(t, run.CreatedAt.Unix(), stored.CreatedAt.Unix())
}

func TestGormRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormRepository[model.Pipeline](dbtest.Open(t))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		p := &model.Pipeline{
			Name:      fmt.Sprintf("pipe-%d", i),
			Endpoint:  "http://localhost",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(ctx, p))
	}

	page, err := repo.List(ctx, repository.All(), repository.PageRequest{Number: 2, Size: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 7, page.TotalItems)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Items, 3)
	// newest first by default
	assert.Equal(t, "pipe-3", page.Items[0].Name)

	filtered, err := repo.List(ctx, repository.Where("name LIKE ?", "%-6"), repository.PageRequest{})
	require.NoError(t, err)
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, repository.DefaultPageSize, filtered.PageSize)

	asc, err := repo.List(ctx, repository.All(), repository.PageRequest{Size: 1, OrderBy: "name"})
	require.NoError(t, err)
	assert.Equal(t, "pipe-0", asc.Items[0].Name)
}

func TestFilter_And(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormRepository[model.PipelineRun](dbtest.Open(t))

	require.NoError(t, repo.Create(ctx, &model.PipelineRun{PipelineID: "a", Input: "x"}))
	require.NoError(t, repo.Create(ctx, &model.PipelineRun{PipelineID: "a", Input: "y"}))
	require.NoError(t, repo.Create(ctx, &model.PipelineRun{PipelineID: "b", Input: "x"}))

	n, err := repo.Count(ctx, repository.Where("pipeline_id = ?", "a").And(repository.Where("input = ?", "x")))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
