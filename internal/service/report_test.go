package service

import (
	"strings"
	"testing"

	"evallab/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurveIndexes(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, curveIndexes(3, 20))

	idx := curveIndexes(385, 20)
	require.Len(t, idx, 20)
	assert.Equal(t, 18, idx[0])
	assert.Equal(t, 384, idx[19])
	for i := 1; i < len(idx); i++ {
		assert.Greater(t, idx[i], idx[i-1])
	}
}

func TestRenderRunReport_Completed(t *testing.T) {
	run, err := model.NewEvaluationRun("eval-1", "in", 0.5, 0.95, 0.5)
	require.NoError(t, err)
	require.Equal(t, 4, run.SampleSize)
	for _, tr := range []model.TrialOutcome{
		{PipelineRunID: "a", Passed: true},
		{PipelineRunID: "", Passed: false},
		{PipelineRunID: "c", Passed: true},
		{PipelineRunID: "d", Passed: false},
	} {
		require.NoError(t, run.AppendTrial(tr))
	}
	eval := &model.Evaluation{
		ID:               "eval-1",
		Name:             "greeting",
		TargetPipelineID: "pipe-1",
		SuccessCriteria:  model.NewSuccessCriteria(model.ExactMatch{Value: "hi"}),
	}

	md := RenderRunReport(eval, run)

	assert.Contains(t, md, "# Evaluation run "+run.ID)
	assert.Contains(t, md, "- evaluation: greeting (eval-1)")
	assert.Contains(t, md, "- criteria: Unstructured Exact Match")
	assert.Contains(t, md, "- status: Completed")
	assert.Contains(t, md, "| 0.50 | 0.95 | 0.50 | 4 |")
	assert.Contains(t, md, "- passed: 2")
	assert.Contains(t, md, "- failed invocations: 1")
	assert.Contains(t, md, "- success rate: 0.50")
	assert.Contains(t, md, "- wilson interval (95%)")
	assert.Contains(t, md, "| 1 | 1.000 |")
	assert.Contains(t, md, "| 4 | 0.500 |")
}

func TestRenderRunReport_Running(t *testing.T) {
	run, err := model.NewEvaluationRun("gone", "in", 0.5, 0.95, 0.05)
	require.NoError(t, err)

	md := RenderRunReport(nil, run)

	assert.Contains(t, md, "- evaluation: gone (deleted)")
	assert.Contains(t, md, "- status: Running")
	assert.Contains(t, md, "- trials: 0 / 385")
	assert.Contains(t, md, "- success rate: pending")
	assert.False(t, strings.Contains(md, "Cumulative"))
}
