package model

import (
	"errors"
	"fmt"
	"time"

	"evallab/internal/stats"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "Running"
	RunStatusCompleted RunStatus = "Completed"
)

var ErrRunCompleted = errors.New("evaluation run already has all of its trials")

// TrialOutcome is one executed trial. PipelineRunID is empty when the
// pipeline could not be invoked.
type TrialOutcome struct {
	PipelineRunID string `json:"pipelineRunId"`
	Passed        bool   `json:"passed"`
}

// EvaluationRun is one execution campaign of an Evaluation. SampleSize is
// fixed at construction; Trials only grow. Status and SuccessRate are derived
// and never stored.
type EvaluationRun struct {
	ID        string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	EvaluationID       string         `gorm:"type:varchar(36);not null;index" json:"evaluationId"`
	Input              string         `gorm:"type:longtext" json:"input"`
	ExpectedProportion float64        `gorm:"type:decimal(3,2)" json:"expectedProportion"`
	ConfidenceLevel    float64        `gorm:"type:decimal(3,2)" json:"confidenceLevel"`
	MarginOfError      float64        `gorm:"type:decimal(3,2)" json:"marginOfError"`
	SampleSize         int            `gorm:"not null" json:"sampleSize"`
	Trials             []TrialOutcome `gorm:"serializer:json;type:longtext" json:"trials"`
}

// NewEvaluationRun sizes a run with Cochran's formula. Proportion, confidence
// level and margin of error are fractions in [0,1].
func NewEvaluationRun(evaluationID, input string, expectedProportion, confidenceLevel, marginOfError float64) (*EvaluationRun, error) {
	n, err := stats.SampleSize(expectedProportion, confidenceLevel, marginOfError)
	if err != nil {
		return nil, fmt.Errorf("compute sample size: %w", err)
	}
	return &EvaluationRun{
		ID:                 uuid.NewString(),
		EvaluationID:       evaluationID,
		Input:              input,
		ExpectedProportion: expectedProportion,
		ConfidenceLevel:    confidenceLevel,
		MarginOfError:      marginOfError,
		SampleSize:         n,
		Trials:             []TrialOutcome{},
	}, nil
}

func (r *EvaluationRun) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (r *EvaluationRun) Status() RunStatus {
	if len(r.Trials) == r.SampleSize {
		return RunStatusCompleted
	}
	return RunStatusRunning
}

func (r *EvaluationRun) PassedCount() int {
	n := 0
	for _, t := range r.Trials {
		if t.Passed {
			n++
		}
	}
	return n
}

// SuccessRate is nil until the run is completed.
func (r *EvaluationRun) SuccessRate() *float64 {
	if r.Status() != RunStatusCompleted {
		return nil
	}
	rate := stats.RoundRatio(r.PassedCount(), r.SampleSize)
	return &rate
}

// AppendTrial records one more outcome; it refuses to go past SampleSize.
func (r *EvaluationRun) AppendTrial(t TrialOutcome) error {
	if len(r.Trials) >= r.SampleSize {
		return ErrRunCompleted
	}
	r.Trials = append(r.Trials, t)
	return nil
}

// Interval is the Wilson score interval of the observed success rate at the
// run's own confidence level; ok is false until the run is completed.
func (r *EvaluationRun) Interval() (stats.Interval, bool) {
	if r.Status() != RunStatusCompleted {
		return stats.Interval{}, false
	}
	z, err := stats.ZScore(r.ConfidenceLevel)
	if err != nil {
		return stats.Interval{}, false
	}
	return stats.WilsonInterval(r.PassedCount(), r.SampleSize, z), true
}

func (r *EvaluationRun) PassedFlags() []bool {
	out := make([]bool, len(r.Trials))
	for i, t := range r.Trials {
		out[i] = t.Passed
	}
	return out
}
