package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"evallab/internal/db/dbtest"
	"evallab/internal/metrics"
	"evallab/internal/model"
	"evallab/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type processorFixture struct {
	processor *RunProcessor
	metrics   *metrics.RunMetrics
	evals     *repository.GormRepository[model.Evaluation]
	pipelines *repository.GormRepository[model.Pipeline]
	prs       *repository.GormRepository[model.PipelineRun]
	runs      *repository.GormRepository[model.EvaluationRun]
}

func newProcessorFixture(t *testing.T, invoker PipelineInvoker) *processorFixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &processorFixture{
		metrics:   metrics.NewRunMetricsWithRegisterer(prometheus.NewRegistry()),
		evals:     repository.NewGormRepository[model.Evaluation](conn),
		pipelines: repository.NewGormRepository[model.Pipeline](conn),
		prs:       repository.NewGormRepository[model.PipelineRun](conn),
		runs:      repository.NewGormRepository[model.EvaluationRun](conn),
	}
	f.processor = NewRunProcessor(RunProcessorDeps{
		Evaluations:  f.evals,
		Pipelines:    f.pipelines,
		PipelineRuns: f.prs,
		Runs:         f.runs,
		Invoker:      invoker,
		Metrics:      f.metrics,
	})
	return f
}

// seed stores a pipeline, an evaluation targeting it and a fresh run.
func (f *processorFixture) seed(t *testing.T, endpoint string, criterion model.Criterion, p, c, e float64) (*model.Evaluation, *model.EvaluationRun) {
	t.Helper()
	ctx := context.Background()

	pipeline := &model.Pipeline{Name: "echo", Endpoint: endpoint}
	require.NoError(t, f.pipelines.Create(ctx, pipeline))

	eval := &model.Evaluation{
		Name:             "eval",
		TargetPipelineID: pipeline.ID,
		Input:            "ping",
		SuccessCriteria:  model.NewSuccessCriteria(criterion),
	}
	require.NoError(t, f.evals.Create(ctx, eval))

	run, err := model.NewEvaluationRun(eval.ID, "ignored", p, c, e)
	require.NoError(t, err)
	require.NoError(t, f.runs.Create(ctx, run))
	return eval, run
}

func pipelineStub(t *testing.T, output func(n int64) string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req invokeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		n := calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"output": output(n)})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestRunProcessor_CompletesRun(t *testing.T) {
	srv, calls := pipelineStub(t, func(n int64) string {
		if n%2 == 0 {
			return "pong"
		}
		return "nope"
	})
	f := newProcessorFixture(t, NewPipelineClient(time.Second, nil))
	_, run := f.seed(t, srv.URL, model.ExactMatch{Value: "pong"}, 0.5, 0.95, 0.1)
	require.Equal(t, 97, run.SampleSize)

	f.processor.Process(context.Background(), run)

	assert.EqualValues(t, 97, calls.Load())

	stored, err := f.runs.Get(context.Background(), repository.ByID(run.ID))
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, stored.Status())
	require.Len(t, stored.Trials, 97)
	assert.Equal(t, 48, stored.PassedCount())
	require.NotNil(t, stored.SuccessRate())
	assert.Equal(t, 0.49, *stored.SuccessRate())

	n, err := f.prs.Count(context.Background(), repository.All())
	require.NoError(t, err)
	assert.EqualValues(t, 97, n)

	for _, trial := range stored.Trials {
		_, err := f.prs.Get(context.Background(), repository.ByID(trial.PipelineRunID))
		assert.NoError(t, err)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsCompleted))
	assert.Equal(t, 48.0, testutil.ToFloat64(f.metrics.Trials.WithLabelValues(metrics.ResultPassed)))
	assert.Equal(t, 49.0, testutil.ToFloat64(f.metrics.Trials.WithLabelValues(metrics.ResultFailed)))
}

func TestRunProcessor_SendsEvaluationInput(t *testing.T) {
	var (
		mu     sync.Mutex
		inputs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req invokeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		inputs = append(inputs, req.Input)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"output":"{\"n\":1}"}`))
	}))
	defer srv.Close()

	f := newProcessorFixture(t, NewPipelineClient(time.Second, nil))
	_, run := f.seed(t, srv.URL, model.JSONSchemaMatch{Schema: `{"type":"object","required":["n"]}`}, 0.5, 0.95, 0.5)

	f.processor.Process(context.Background(), run)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, inputs, run.SampleSize)
	for _, in := range inputs {
		assert.Equal(t, "ping", in)
	}
	require.NotNil(t, run.SuccessRate())
	assert.Equal(t, 1.0, *run.SuccessRate())
}

type failingInvoker struct{ calls int }

func (f *failingInvoker) Invoke(context.Context, string, string, string, string) (*model.PipelineRun, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func TestRunProcessor_AllInvocationsFail(t *testing.T) {
	invoker := &failingInvoker{}
	f := newProcessorFixture(t, invoker)
	_, run := f.seed(t, "http://127.0.0.1:0", model.PartialMatch{Value: "x"}, 0.5, 0.95, 0.1)

	f.processor.Process(context.Background(), run)

	assert.Equal(t, run.SampleSize, invoker.calls)

	stored, err := f.runs.Get(context.Background(), repository.ByID(run.ID))
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, stored.Status())
	require.NotNil(t, stored.SuccessRate())
	assert.Equal(t, 0.0, *stored.SuccessRate())
	for _, trial := range stored.Trials {
		assert.Equal(t, "", trial.PipelineRunID)
		assert.False(t, trial.Passed)
	}

	n, err := f.prs.Count(context.Background(), repository.All())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, float64(run.SampleSize), testutil.ToFloat64(f.metrics.Trials.WithLabelValues(metrics.ResultInvokeError)))
}

func TestRunProcessor_MissingEvaluation(t *testing.T) {
	invoker := &failingInvoker{}
	f := newProcessorFixture(t, invoker)

	run, err := model.NewEvaluationRun("missing", "in", 0.5, 0.95, 0.1)
	require.NoError(t, err)
	require.NoError(t, f.runs.Create(context.Background(), run))

	f.processor.Process(context.Background(), run)

	assert.Zero(t, invoker.calls)
	stored, err := f.runs.Get(context.Background(), repository.ByID(run.ID))
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, stored.Status())
	assert.Empty(t, stored.Trials)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsAbandoned.WithLabelValues(metrics.ReasonEvaluationNotFound)))
}

func TestRunProcessor_MissingPipeline(t *testing.T) {
	invoker := &failingInvoker{}
	f := newProcessorFixture(t, invoker)
	ctx := context.Background()

	eval := &model.Evaluation{
		Name:             "orphan",
		TargetPipelineID: "gone",
		SuccessCriteria:  model.NewSuccessCriteria(model.ExactMatch{Value: "x"}),
	}
	require.NoError(t, f.evals.Create(ctx, eval))
	run, err := model.NewEvaluationRun(eval.ID, "in", 0.5, 0.95, 0.1)
	require.NoError(t, err)
	require.NoError(t, f.runs.Create(ctx, run))

	f.processor.Process(ctx, run)

	assert.Zero(t, invoker.calls)
	stored, err := f.runs.Get(ctx, repository.ByID(run.ID))
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, stored.Status())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsAbandoned.WithLabelValues(metrics.ReasonPipelineNotFound)))
}

func TestRunProcessor_RunDeletedMidway(t *testing.T) {
	srv, _ := pipelineStub(t, func(int64) string { return "ok" })
	f := newProcessorFixture(t, NewPipelineClient(time.Second, nil))
	_, run := f.seed(t, srv.URL, model.ExactMatch{Value: "ok"}, 0.5, 0.95, 0.5)

	_, err := f.runs.DeleteWhere(context.Background(), repository.ByID(run.ID))
	require.NoError(t, err)

	f.processor.Process(context.Background(), run)

	assert.Equal(t, model.RunStatusCompleted, run.Status())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsAbandoned.WithLabelValues(metrics.ReasonPersistError)))
	assert.Zero(t, testutil.ToFloat64(f.metrics.RunsCompleted))
}
