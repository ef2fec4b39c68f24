package service

import (
	"context"
	"errors"

	"evallab/internal/metrics"
	"evallab/internal/model"
	"evallab/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunProcessor executes every trial of an evaluation run and writes the
// finished run back once.
type RunProcessor struct {
	evaluations  repository.Repository[model.Evaluation]
	pipelines    repository.Repository[model.Pipeline]
	pipelineRuns repository.Repository[model.PipelineRun]
	runs         repository.Repository[model.EvaluationRun]
	invoker      PipelineInvoker
	logger       *zap.Logger
	metrics      metrics.Recorder
	newID        func() string
}

type RunProcessorDeps struct {
	Evaluations  repository.Repository[model.Evaluation]
	Pipelines    repository.Repository[model.Pipeline]
	PipelineRuns repository.Repository[model.PipelineRun]
	Runs         repository.Repository[model.EvaluationRun]
	Invoker      PipelineInvoker
	Logger       *zap.Logger
	Metrics      metrics.Recorder
}

func NewRunProcessor(deps RunProcessorDeps) *RunProcessor {
	p := &RunProcessor{
		evaluations:  deps.Evaluations,
		pipelines:    deps.Pipelines,
		pipelineRuns: deps.PipelineRuns,
		runs:         deps.Runs,
		invoker:      deps.Invoker,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		newID:        uuid.NewString,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.metrics == nil {
		p.metrics = metrics.NoOp{}
	}
	return p
}

// Process runs the remaining trials of run one after another. If the
// evaluation or its pipeline cannot be resolved the run is abandoned and
// stays Running.
func (p *RunProcessor) Process(ctx context.Context, run *model.EvaluationRun) {
	log := p.logger.With(
		zap.String("evaluation_run_id", run.ID),
		zap.String("evaluation_id", run.EvaluationID),
	)

	evaluation, err := p.evaluations.Get(ctx, repository.ByID(run.EvaluationID))
	if err != nil {
		p.abandon(log, "evaluation", err, metrics.ReasonEvaluationNotFound)
		return
	}

	pipeline, err := p.pipelines.Get(ctx, repository.ByID(evaluation.TargetPipelineID))
	if err != nil {
		p.abandon(log.With(zap.String("pipeline_id", evaluation.TargetPipelineID)), "pipeline", err, metrics.ReasonPipelineNotFound)
		return
	}

	log.Info("evaluation run started",
		zap.Int("sample_size", run.SampleSize),
		zap.String("pipeline_id", pipeline.ID),
	)

	for len(run.Trials) < run.SampleSize {
		outcome := p.trial(ctx, log, evaluation, pipeline)
		if err := run.AppendTrial(outcome); err != nil {
			break
		}
	}

	updated, err := p.runs.UpdateWhere(ctx, repository.ByID(run.ID), run)
	switch {
	case err != nil:
		log.Error("persist evaluation run failed", zap.Error(err))
		p.metrics.RecordRunAbandoned(metrics.ReasonPersistError)
		return
	case !updated:
		log.Warn("evaluation run no longer stored, result dropped")
		p.metrics.RecordRunAbandoned(metrics.ReasonPersistError)
		return
	}

	p.metrics.RecordRunCompleted()
	fields := []zap.Field{zap.Int("passed", run.PassedCount()), zap.Int("sample_size", run.SampleSize)}
	if rate := run.SuccessRate(); rate != nil {
		fields = append(fields, zap.Float64("success_rate", *rate))
	}
	log.Info("evaluation run completed", fields...)
}

// trial invokes the pipeline once and judges its output.
func (p *RunProcessor) trial(ctx context.Context, log *zap.Logger, evaluation *model.Evaluation, pipeline *model.Pipeline) model.TrialOutcome {
	runID := p.newID()
	pr, err := p.invoker.Invoke(ctx, pipeline.Endpoint, pipeline.ID, runID, evaluation.Input)
	if err != nil {
		log.Warn("pipeline invocation failed",
			zap.String("pipeline_run_id", runID),
			zap.Error(err),
		)
		p.metrics.RecordTrial(metrics.ResultInvokeError)
		return model.TrialOutcome{PipelineRunID: "", Passed: false}
	}

	if err := p.pipelineRuns.Create(ctx, pr); err != nil {
		log.Error("persist pipeline run failed",
			zap.String("pipeline_run_id", pr.ID),
			zap.Error(err),
		)
	}

	passed := evaluation.SuccessCriteria.IsSatisfiedBy(pr.Output)
	if passed {
		p.metrics.RecordTrial(metrics.ResultPassed)
	} else {
		p.metrics.RecordTrial(metrics.ResultFailed)
	}
	return model.TrialOutcome{PipelineRunID: pr.ID, Passed: passed}
}

func (p *RunProcessor) abandon(log *zap.Logger, what string, err error, notFoundReason string) {
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn(what+" not found, evaluation run abandoned")
		p.metrics.RecordRunAbandoned(notFoundReason)
		return
	}
	log.Error("load "+what+" failed, evaluation run abandoned", zap.Error(err))
	p.metrics.RecordRunAbandoned(metrics.ReasonLookupError)
}
