package handler

import (
	"math"
	"time"

	"evallab/internal/model"
	"evallab/internal/repository"
	"evallab/internal/stats"

	"github.com/gin-gonic/gin"
)

// sortable maps API sort keys to columns.
var sortable = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"name":      "name",
}

type pageQuery struct {
	PageNumber int    `form:"pageNumber" json:"pageNumber" binding:"omitempty,min=1"`
	PageSize   int    `form:"pageSize" json:"pageSize" binding:"omitempty,min=1,max=500"`
	SortBy     string `form:"sortBy" json:"sortBy" binding:"omitempty,oneof=createdAt updatedAt name"`
	SortOrder  string `form:"sortOrder" json:"sortOrder" binding:"omitempty,oneof=asc desc"`
}

func bindPage(c *gin.Context) (repository.PageRequest, bool) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, bindErrors(err))
		return repository.PageRequest{}, false
	}
	return repository.PageRequest{
		Number:  q.PageNumber,
		Size:    q.PageSize,
		OrderBy: sortable[q.SortBy],
		Desc:    q.SortOrder != "asc",
	}, true
}

func mapPage[T, R any](p repository.Page[T], fn func(*T) R) repository.Page[R] {
	out := repository.Page[R]{
		PageNumber: p.PageNumber,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages,
		TotalItems: p.TotalItems,
		Items:      make([]R, 0, len(p.Items)),
	}
	for i := range p.Items {
		out.Items = append(out.Items, fn(&p.Items[i]))
	}
	return out
}

// Request bodies are named; fieldPath expects a leading type name in the
// validator namespace.
type createPipelineRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Endpoint    string `json:"endpoint" binding:"required,url"`
}

type runPipelineRequest struct {
	PipelineID string `json:"pipelineId" binding:"required"`
	Input      string `json:"input" binding:"required"`
}

type createEvaluationRequest struct {
	Name             string                 `json:"name" binding:"required"`
	Description      string                 `json:"description"`
	TargetPipelineID string                 `json:"targetPipelineId"`
	Input            string                 `json:"input"`
	SuccessCriteria  *model.SuccessCriteria `json:"successCriteria"`
}

type testEvaluationRequest struct {
	Input      string                `json:"input" binding:"required"`
	Evaluation *evaluationDefinition `json:"evaluation" binding:"required"`
}

type submitRunRequest struct {
	Input              string                `json:"input" binding:"required"`
	ExpectedProportion *int                  `json:"expectedProportion" binding:"required,min=0,max=100"`
	ConfidenceLevel    int                   `json:"confidenceLevel" binding:"oneof=80 85 90 95 99"`
	MarginOfError      int                   `json:"marginOfError" binding:"min=1,max=100"`
	Evaluation         *evaluationDefinition `json:"evaluation" binding:"required"`
}

// evaluationDefinition is a complete evaluation as sent with updates, test
// trials and run submissions.
type evaluationDefinition struct {
	ID               string                `json:"id" binding:"required"`
	Name             string                `json:"name" binding:"required"`
	Description      string                `json:"description"`
	TargetPipelineID string                `json:"targetPipelineId" binding:"required"`
	Input            string                `json:"input"`
	SuccessCriteria  model.SuccessCriteria `json:"successCriteria"`
}

// check runs the checks binding tags cannot express.
func (d *evaluationDefinition) check(prefix string, errs fieldErrors) {
	if err := d.SuccessCriteria.Validate(); err != nil {
		errs.add(prefix+"successCriteria", err.Error())
	}
}

func (d *evaluationDefinition) toModel() model.Evaluation {
	return model.Evaluation{
		ID:               d.ID,
		Name:             d.Name,
		Description:      d.Description,
		TargetPipelineID: d.TargetPipelineID,
		Input:            d.Input,
		SuccessCriteria:  d.SuccessCriteria,
	}
}

type runResponse struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	EvaluationID       string          `json:"evaluationId"`
	Input              string          `json:"input"`
	ExpectedProportion int             `json:"expectedProportion"`
	ConfidenceLevel    int             `json:"confidenceLevel"`
	MarginOfError      int             `json:"marginOfError"`
	SampleSize         int             `json:"sampleSize"`
	Status             model.RunStatus `json:"status"`
	SuccessRate        *float64        `json:"successRate"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

type runDetail struct {
	runResponse
	Interval *stats.Interval      `json:"interval"`
	Trials   []model.TrialOutcome `json:"trials"`
}

func newRunResponse(r *model.EvaluationRun) runResponse {
	return runResponse{
		ID:                 r.ID,
		Name:               "Run " + r.ID,
		EvaluationID:       r.EvaluationID,
		Input:              r.Input,
		ExpectedProportion: toPercent(r.ExpectedProportion),
		ConfidenceLevel:    toPercent(r.ConfidenceLevel),
		MarginOfError:      toPercent(r.MarginOfError),
		SampleSize:         r.SampleSize,
		Status:             r.Status(),
		SuccessRate:        r.SuccessRate(),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// newRunDetail adds trials and the confidence interval.
func newRunDetail(r *model.EvaluationRun) runDetail {
	out := runDetail{runResponse: newRunResponse(r), Trials: r.Trials}
	if out.Trials == nil {
		out.Trials = []model.TrialOutcome{}
	}
	if ci, ok := r.Interval(); ok {
		out.Interval = &ci
	}
	return out
}

func toPercent(v float64) int {
	return int(math.Round(v * 100))
}
