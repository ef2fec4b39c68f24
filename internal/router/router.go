package router

import (
	"net/http"
	"time"

	"evallab/internal/handler"
	"evallab/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter wires handlers under /api. gatherer backs /metrics; nil uses
// the default registry.
func SetupRouter(svc *service.ServiceContext, gatherer prometheus.Gatherer) *gin.Engine {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(requestLogger(svc.Logger), gin.Recovery())

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	pipelineHandler := handler.NewPipelineHandler(svc)
	evaluationHandler := handler.NewEvaluationHandler(svc)
	runHandler := handler.NewEvaluationRunHandler(svc)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "queued": svc.Queue.Len()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		pipelines := api.Group("/pipelines")
		{
			pipelines.POST("", pipelineHandler.CreatePipeline)
			pipelines.GET("", pipelineHandler.ListPipelines)
			pipelines.GET("/:id", pipelineHandler.GetPipeline)
			pipelines.DELETE("/:id", pipelineHandler.DeletePipeline)

			pipelines.POST("/runs", pipelineHandler.RunPipeline)
			pipelines.GET("/runs", pipelineHandler.ListPipelineRuns)
			pipelines.GET("/runs/:id", pipelineHandler.GetPipelineRun)
			pipelines.DELETE("/runs/:id", pipelineHandler.DeletePipelineRun)
		}

		evaluations := api.Group("/evaluations")
		{
			evaluations.POST("", evaluationHandler.CreateEvaluation)
			evaluations.GET("", evaluationHandler.ListEvaluations)
			evaluations.GET("/:id", evaluationHandler.GetEvaluation)
			evaluations.PUT("/:id", evaluationHandler.UpdateEvaluation)
			evaluations.DELETE("/:id", evaluationHandler.DeleteEvaluation)
			evaluations.POST("/test", evaluationHandler.TestEvaluation)

			evaluations.POST("/runs", runHandler.SubmitRun)
			evaluations.GET("/runs", runHandler.ListRuns)
			evaluations.GET("/runs/:id", runHandler.GetRun)
			evaluations.GET("/runs/:id/report", runHandler.GetRunReport)
			evaluations.DELETE("/runs/:id", runHandler.DeleteRun)
		}
	}

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}
