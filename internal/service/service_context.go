package service

import (
	"time"

	"evallab/internal/config"
	"evallab/internal/metrics"
	"evallab/internal/model"
	"evallab/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceContext struct {
	Pipelines    repository.Repository[model.Pipeline]
	PipelineRuns repository.Repository[model.PipelineRun]
	Evaluations  repository.Repository[model.Evaluation]
	Runs         repository.Repository[model.EvaluationRun]

	Invoker   PipelineInvoker
	Queue     *RunQueue
	Processor *RunProcessor
	Consumer  *QueueConsumer
	Submitter *Submitter
	Logger    *zap.Logger
}

func NewServiceContext(cfg *config.Config, conn *gorm.DB, logger *zap.Logger, rec metrics.Recorder) *ServiceContext {
	if rec == nil {
		rec = metrics.NoOp{}
	}

	svc := &ServiceContext{
		Pipelines:    repository.NewGormRepository[model.Pipeline](conn),
		PipelineRuns: repository.NewGormRepository[model.PipelineRun](conn),
		Evaluations:  repository.NewGormRepository[model.Evaluation](conn),
		Runs:         repository.NewGormRepository[model.EvaluationRun](conn),
		Invoker:      NewPipelineClient(time.Duration(cfg.Pipeline.TimeoutSeconds)*time.Second, rec),
		Queue:        NewRunQueue(rec),
		Logger:       logger,
	}

	svc.Processor = NewRunProcessor(RunProcessorDeps{
		Evaluations:  svc.Evaluations,
		Pipelines:    svc.Pipelines,
		PipelineRuns: svc.PipelineRuns,
		Runs:         svc.Runs,
		Invoker:      svc.Invoker,
		Logger:       logger.Named("processor"),
		Metrics:      rec,
	})
	svc.Consumer = NewQueueConsumer(svc.Queue, svc.Processor, cfg.Worker.PoolSize, logger.Named("consumer"), rec)
	svc.Submitter = NewSubmitter(conn, svc.Queue, logger.Named("submitter"))

	return svc
}
