package handler

import (
	"errors"
	"net/http"

	"evallab/internal/model"
	"evallab/internal/repository"
	"evallab/internal/service"
	"evallab/internal/stats"

	"github.com/gin-gonic/gin"
)

type EvaluationRunHandler struct {
	runs        repository.Repository[model.EvaluationRun]
	evaluations repository.Repository[model.Evaluation]
	submitter   *service.Submitter
}

func NewEvaluationRunHandler(svc *service.ServiceContext) *EvaluationRunHandler {
	return &EvaluationRunHandler{
		runs:        svc.Runs,
		evaluations: svc.Evaluations,
		submitter:   svc.Submitter,
	}
}

// SubmitRun creates a run and queues it for background processing
func (h *EvaluationRunHandler) SubmitRun(c *gin.Context) {
	var req submitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, bindErrors(err))
		return
	}
	errs := fieldErrors{}
	req.Evaluation.check("evaluation.", errs)
	if len(errs) > 0 {
		badRequest(c, errs)
		return
	}

	run, err := h.submitter.Submit(c.Request.Context(), service.SubmitRunInput{
		Input:              req.Input,
		ExpectedProportion: *req.ExpectedProportion,
		ConfidenceLevel:    req.ConfidenceLevel,
		MarginOfError:      req.MarginOfError,
		Evaluation:         req.Evaluation.toModel(),
	})
	switch {
	case errors.Is(err, service.ErrEvaluationNotFound):
		notFound(c, "evaluation")
		return
	case errors.Is(err, stats.ErrInvalidConfidenceLevel):
		badRequest(c, fieldErrors{"confidenceLevel": {err.Error()}})
		return
	case errors.Is(err, stats.ErrInvalidMarginOfError):
		badRequest(c, fieldErrors{"marginOfError": {err.Error()}})
		return
	case errors.Is(err, stats.ErrInvalidExpectedProportion):
		badRequest(c, fieldErrors{"expectedProportion": {err.Error()}})
		return
	case errors.Is(err, service.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		internalError(c, err)
		return
	}

	c.Header("Location", "/api/evaluations/runs/"+run.ID)
	c.JSON(http.StatusCreated, newRunResponse(run))
}

func (h *EvaluationRunHandler) ListRuns(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	if page.OrderBy == "name" {
		badRequest(c, fieldErrors{"sortBy": {"must be createdAt or updatedAt"}})
		return
	}
	filter := repository.All()
	if evaluationID := c.Query("evaluationId"); evaluationID != "" {
		filter = filter.And(repository.Where("evaluation_id = ?", evaluationID))
	}

	result, err := h.runs.List(c.Request.Context(), filter, page)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapPage(result, newRunResponse))
}

func (h *EvaluationRunHandler) GetRun(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newRunDetail(run))
}

// GetRunReport renders the run as markdown
func (h *EvaluationRunHandler) GetRunReport(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	evaluation, err := h.evaluations.Get(c.Request.Context(), repository.ByID(run.EvaluationID))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		internalError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(service.RenderRunReport(evaluation, run)))
}

func (h *EvaluationRunHandler) DeleteRun(c *gin.Context) {
	deleted, err := h.runs.DeleteWhere(c.Request.Context(), repository.ByID(c.Param("id")))
	if err != nil {
		internalError(c, err)
		return
	}
	if !deleted {
		notFound(c, "evaluation run")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *EvaluationRunHandler) loadRun(c *gin.Context) (*model.EvaluationRun, bool) {
	run, err := h.runs.Get(c.Request.Context(), repository.ByID(c.Param("id")))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c, "evaluation run")
			return nil, false
		}
		internalError(c, err)
		return nil, false
	}
	return run, true
}
