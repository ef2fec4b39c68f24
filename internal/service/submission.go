package service

import (
	"context"
	"errors"
	"fmt"

	"evallab/internal/model"
	"evallab/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrEvaluationNotFound = errors.New("evaluation not found")

// SubmitRunInput is an accepted run submission. Percentages are whole
// numbers in 0..100; the evaluation is the caller's current definition.
type SubmitRunInput struct {
	Input              string
	ExpectedProportion int
	ConfidenceLevel    int
	MarginOfError      int
	Evaluation         model.Evaluation
}

// RunEnqueuer is the queue side a Submitter hands runs to. *RunQueue
// implements it.
type RunEnqueuer interface {
	Enqueue(run *model.EvaluationRun) error
	Closed() bool
}

// Submitter creates evaluation runs and hands them to the queue.
type Submitter struct {
	db     *gorm.DB
	queue  RunEnqueuer
	logger *zap.Logger
}

func NewSubmitter(conn *gorm.DB, queue RunEnqueuer, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		db:     conn,
		queue:  queue,
		logger: logger,
	}
}

// Submit stores a new run for in.Evaluation and enqueues it. The stored
// evaluation is replaced by the submitted definition only while no run
// references it, so runs of one evaluation stay comparable.
//
// Nothing is written when the queue is already closed. If the queue closes
// between the write and the hand-off, the run is withdrawn again.
func (s *Submitter) Submit(ctx context.Context, in SubmitRunInput) (*model.EvaluationRun, error) {
	if s.queue.Closed() {
		return nil, ErrQueueClosed
	}

	evaluationID := in.Evaluation.ID
	run, err := model.NewEvaluationRun(
		evaluationID,
		in.Input,
		percent(in.ExpectedProportion),
		percent(in.ConfidenceLevel),
		percent(in.MarginOfError),
	)
	if err != nil {
		return nil, err
	}

	// replaced is the stored definition the submission overwrote, if any
	var replaced *model.Evaluation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		evaluations := repository.NewGormRepository[model.Evaluation](tx)
		runs := repository.NewGormRepository[model.EvaluationRun](tx)

		stored, err := evaluations.Get(ctx, repository.ByID(evaluationID).ForUpdate())
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrEvaluationNotFound, evaluationID)
			}
			return err
		}

		existing, err := runs.Count(ctx, repository.Where("evaluation_id = ?", evaluationID))
		if err != nil {
			return err
		}
		if existing == 0 {
			evaluation := in.Evaluation
			if _, err := evaluations.UpdateWhere(ctx, repository.ByID(evaluationID), &evaluation); err != nil {
				return err
			}
			replaced = stored
		}

		return runs.Create(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	// the queued run belongs to its worker from here on
	accepted := *run
	accepted.Trials = []model.TrialOutcome{}
	if err := s.queue.Enqueue(run); err != nil {
		s.withdraw(ctx, &accepted, replaced)
		return nil, fmt.Errorf("enqueue evaluation run: %w", err)
	}

	s.logger.Info("evaluation run submitted",
		zap.String("evaluation_run_id", accepted.ID),
		zap.String("evaluation_id", evaluationID),
		zap.Int("sample_size", accepted.SampleSize),
		zap.Bool("evaluation_updated", replaced != nil),
	)
	return &accepted, nil
}

// withdraw deletes a stored run that never reached the queue and, when it
// was the evaluation's only run, restores the definition it replaced.
func (s *Submitter) withdraw(ctx context.Context, run *model.EvaluationRun, replaced *model.Evaluation) {
	ctx = context.WithoutCancel(ctx)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		evaluations := repository.NewGormRepository[model.Evaluation](tx)
		runs := repository.NewGormRepository[model.EvaluationRun](tx)

		if _, err := evaluations.Get(ctx, repository.ByID(run.EvaluationID).ForUpdate()); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			replaced = nil
		}
		if _, err := runs.DeleteWhere(ctx, repository.ByID(run.ID)); err != nil {
			return err
		}
		if replaced == nil {
			return nil
		}

		remaining, err := runs.Count(ctx, repository.Where("evaluation_id = ?", run.EvaluationID))
		if err != nil || remaining > 0 {
			return err
		}
		_, err = evaluations.UpdateWhere(ctx, repository.ByID(replaced.ID), replaced)
		return err
	})
	if err != nil {
		s.logger.Error("withdraw unqueued evaluation run",
			zap.String("evaluation_run_id", run.ID),
			zap.String("evaluation_id", run.EvaluationID),
			zap.Error(err),
		)
	}
}

// percent turns a whole percentage into a two-decimal fraction.
func percent(v int) float64 {
	return float64(v) / 100
}
