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

type PipelineHandler struct {
	pipelines    repository.Repository[model.Pipeline]
	pipelineRuns repository.Repository[model.PipelineRun]
	invoker      service.PipelineInvoker
	logger       *zap.Logger
}

func NewPipelineHandler(svc *service.ServiceContext) *PipelineHandler {
	return &PipelineHandler{
		pipelines:    svc.Pipelines,
		pipelineRuns: svc.PipelineRuns,
		invoker:      svc.Invoker,
		logger:       svc.Logger,
	}
}

// CreatePipeline registers a pipeline endpoint
func (h *PipelineHandler) CreatePipeline(c *gin.Context) {
	var req createPipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, bindErrors(err))
		return
	}

	pipeline := &model.Pipeline{
		Name:        req.Name,
		Description: req.Description,
		Endpoint:    req.Endpoint,
	}
	if err := h.pipelines.Create(c.Request.Context(), pipeline); err != nil {
		internalError(c, err)
		return
	}
	c.Header("Location", "/api/pipelines/"+pipeline.ID)
	c.JSON(http.StatusCreated, pipeline)
}

// ListPipelines supports ?name= substring filtering
func (h *PipelineHandler) ListPipelines(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	filter := repository.All()
	if name := c.Query("name"); name != "" {
		filter = filter.And(repository.Where("name LIKE ?", "%"+name+"%"))
	}

	result, err := h.pipelines.List(c.Request.Context(), filter, page)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PipelineHandler) GetPipeline(c *gin.Context) {
	pipeline, err := h.pipelines.Get(c.Request.Context(), repository.ByID(c.Param("id")))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c, "pipeline")
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, pipeline)
}

func (h *PipelineHandler) DeletePipeline(c *gin.Context) {
	deleted, err := h.pipelines.DeleteWhere(c.Request.Context(), repository.ByID(c.Param("id")))
	if err != nil {
		internalError(c, err)
		return
	}
	if !deleted {
		notFound(c, "pipeline")
		return
	}
	c.Status(http.StatusNoContent)
}

// RunPipeline invokes a pipeline once and stores the result
func (h *PipelineHandler) RunPipeline(c *gin.Context) {
	var req runPipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, bindErrors(err))
		return
	}

	ctx := c.Request.Context()
	pipeline, err := h.pipelines.Get(ctx, repository.ByID(req.PipelineID))
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
		h.logger.Warn("pipeline run failed", zap.String("pipeline_id", pipeline.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to run pipeline: " + err.Error()})
		return
	}
	if err := h.pipelineRuns.Create(ctx, run); err != nil {
		internalError(c, err)
		return
	}
	c.Header("Location", "/api/pipelines/runs/"+run.ID)
	c.JSON(http.StatusCreated, run)
}

// ListPipelineRuns supports ?pipelineId= and ?input= filtering
func (h *PipelineHandler) ListPipelineRuns(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	if page.OrderBy == "name" || page.OrderBy == "updated_at" {
		badRequest(c, fieldErrors{"sortBy": {"must be createdAt"}})
		return
	}
	filter := repository.All()
	if id := c.Query("pipelineId"); id != "" {
		filter = filter.And(repository.Where("pipeline_id = ?", id))
	}
	if input := c.Query("input"); input != "" {
		filter = filter.And(repository.Where("input LIKE ?", "%"+input+"%"))
	}

	result, err := h.pipelineRuns.List(c.Request.Context(), filter, page)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PipelineHandler) GetPipelineRun(c *gin.Context) {
	run, err := h.pipelineRuns.Get(c.Request.Context(), repository.ByID(c.Param("id")))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c, "pipeline run")
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *PipelineHandler) DeletePipelineRun(c *gin.Context) {
	deleted, err := h.pipelineRuns.DeleteWhere(c.Request.Context(), repository.ByID(c.Param("id")))
	if err != nil {
		internalError(c, err)
		return
	}
	if !deleted {
		notFound(c, "pipeline run")
		return
	}
	c.Status(http.StatusNoContent)
}
