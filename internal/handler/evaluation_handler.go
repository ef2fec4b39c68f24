package handler

import (
	"errors"
	"net/http"

	"evallab/internal/model"
	"evallab/internal/repository"
	"evallab/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EvaluationHandler struct {
	evaluations  repository.Repository[model.Evaluation]
	runs         repository.Repository[model.EvaluationRun]
	pipelines    repository.Repository[model.Pipeline]
	pipelineRuns repository.Repository[model.PipelineRun]
	invoker      service.PipelineInvoker
	logger       *zap.Logger
}

func NewEvaluationHandler(svc *service.ServiceContext) *EvaluationHandler {
	return &EvaluationHandler{
		evaluations:  svc.Evaluations,
		runs:         svc.Runs,
		pipelines:    svc.Pipelines,
		pipelineRuns: svc.PipelineRuns,
		invoker:      svc.Invoker,
		logger:       svc.Logger,
	}
}

// CreateEvaluation creates a draft; only name is required up front
func (h *EvaluationHandler) CreateEvaluation(c *gin.Context) {
	var req createEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, bindErrors(err))
		return
	}

	evaluation := &model.Evaluation{
		Name:             req.Name,
		Description:      req.Description,
		TargetPipelineID: req.TargetPipelineID,
		Input:            req.Input,
		SuccessCriteria:  model.NewSuccessCriteria(model.NullCriterion{}),
	}
	if req.SuccessCriteria != nil {
		if req.SuccessCriteria.Type() == model.CriteriaJSONSchemaMatch {
			if err := req.SuccessCriteria.Validate(); err != nil {
				badRequest(c, fieldErrors{"successCriteria": {err.Error()}})
				return
			}
		}
		evaluation.SuccessCriteria = *req.SuccessCriteria
	}

	if err := h.evaluations.Create(c.Request.Context(), evaluation); err != nil {
		internalError(c, err)
		return
	}
	c.Header("Location", "/api/evaluations/"+evaluation.ID)
	c.JSON(http.StatusCreated, evaluation)
}

func (h *EvaluationHandler) ListEvaluations(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	filter := repository.All()
	if pipelineID := c.Query("targetPipelineId"); pipelineID != "" {
		filter = filter.And(repository.Where("target_pipeline_id = ?", pipelineID))
	}

	result, err := h.evaluations.List(c.Request.Context(), filter, page)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *EvaluationHandler) GetEvaluation(c *gin.Context) {
	evaluation, err := h.evaluations.Get(c.Request.Context(), repository.ByID(c.Param("id")))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c, "evaluation")
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, evaluation)
}

// UpdateEvaluation replaces the definition; refused once a run exists
func (h *EvaluationHandler) UpdateEvaluation(c *gin.Context) {
	var req evaluationDefinition
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, bindErrors(err))
		return
	}
	errs := fieldErrors{}
	if req.ID != c.Param("id") {
		errs.add("id", "must match the path id")
	}
	req.check("", errs)
	if len(errs) > 0 {
		badRequest(c, errs)
		return
	}

	ctx := c.Request.Context()
	existing, err := h.runs.Count(ctx, repository.Where("evaluation_id = ?", req.ID))
	if err != nil {
		internalError(c, err)
		return
	}
	if existing > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "evaluation has runs and can no longer change"})
		return
	}

	evaluation := req.toModel()
	updated, err := h.evaluations.UpdateWhere(ctx, repository.ByID(req.ID), &evaluation)
	if err != nil {
		internalError(c, err)
		return
	}
	if !updated {
		notFound(c, "evaluation")
		return
	}

	stored, err := h.evaluations.Get(ctx, repository.ByID(req.ID))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (h *EvaluationHandler) DeleteEvaluation(c *gin.Context) {
	deleted, err := h.evaluations.DeleteWhere(c.Request.Context(), repository.ByID(c.Param("id")))
	if err != nil {
		internalError(c, err)
		return
	}
	if !deleted {
		notFound(c, "evaluation")
		return
	}
	c.Status(http.StatusNoContent)
}

// TestEvaluation runs a single synchronous trial of an unsaved definition
func (h *EvaluationHandler) TestEvaluation(c *gin.Context) {
	var req testEvaluationRequest
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

	ctx := c.Request.Context()
	pipeline, err := h.pipelines.Get(ctx, repository.ByID(req.Evaluation.TargetPipelineID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c, "pipeline")
			return
		}
		internalError(c, err)
		return
	}

	run, err := h.invoker.Invoke(ctx, pipeline.Endpoint, pipeline.ID, uuid.NewString(), req.Input)
	if err != nil {
		h.logger.Warn("test trial failed", zap.String("pipeline_id", pipeline.ID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"pipelineRun": nil, "passed": false, "error": err.Error()})
		return
	}
	if err := h.pipelineRuns.Create(ctx, run); err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pipelineRun": run,
		"passed":      req.Evaluation.SuccessCriteria.IsSatisfiedBy(run.Output),
	})
}
