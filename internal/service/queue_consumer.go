package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"evallab/internal/metrics"
	"evallab/internal/model"

	"go.uber.org/zap"
)

// RunHandler processes one dequeued run to completion.
type RunHandler interface {
	Process(ctx context.Context, run *model.EvaluationRun)
}

// QueueConsumer drains a RunQueue into a fixed pool of workers. The
// dispatcher blocks while every worker is busy; the queue keeps accepting
// submissions meanwhile.
type QueueConsumer struct {
	queue    *RunQueue
	handler  RunHandler
	poolSize int
	logger   *zap.Logger
	metrics  metrics.Recorder

	startOnce sync.Once
	wg        sync.WaitGroup
}

func NewQueueConsumer(queue *RunQueue, handler RunHandler, poolSize int, logger *zap.Logger, rec metrics.Recorder) *QueueConsumer {
	if poolSize < 1 {
		poolSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &QueueConsumer{
		queue:    queue,
		handler:  handler,
		poolSize: poolSize,
		logger:   logger,
		metrics:  rec,
	}
}

// Start launches the dispatcher and workers. Cancelling ctx stops
// dispatching; runs already handed to a worker still finish.
func (c *QueueConsumer) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		jobs := make(chan *model.EvaluationRun)

		c.wg.Add(c.poolSize)
		for i := 0; i < c.poolSize; i++ {
			go c.worker(ctx, i, jobs)
		}

		c.wg.Add(1)
		go c.dispatch(ctx, jobs)

		c.logger.Info("queue consumer started", zap.Int("pool_size", c.poolSize))
	})
}

// Wait blocks until the dispatcher has stopped and every worker is idle.
func (c *QueueConsumer) Wait() {
	c.wg.Wait()
}

func (c *QueueConsumer) dispatch(ctx context.Context, jobs chan<- *model.EvaluationRun) {
	defer c.wg.Done()
	defer close(jobs)

	for ctx.Err() == nil {
		run, err := c.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrQueueClosed) {
				c.logger.Error("dequeue failed", zap.Error(err))
			}
			break
		}
		// a dequeued run is always handed over, even if ctx ends meanwhile
		jobs <- run
	}
	c.logger.Info("queue consumer stopped", zap.Int("pending", c.queue.Len()))
}

func (c *QueueConsumer) worker(ctx context.Context, id int, jobs <-chan *model.EvaluationRun) {
	defer c.wg.Done()
	runCtx := context.WithoutCancel(ctx)
	for run := range jobs {
		c.process(runCtx, id, run)
	}
}

func (c *QueueConsumer) process(ctx context.Context, worker int, run *model.EvaluationRun) {
	c.metrics.WorkerBusy()
	defer c.metrics.WorkerIdle()
	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordPanic()
			c.logger.Error("evaluation run processing panicked",
				zap.Int("worker", worker),
				zap.String("evaluation_run_id", run.ID),
				zap.Error(fmt.Errorf("panic: %v", r)),
				zap.Stack("stack"),
			)
		}
	}()
	c.handler.Process(ctx, run)
}
