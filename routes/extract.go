package routes

import (
	"errors"
	"net/http"

	"luma-backend/internal/database"
	"luma-backend/middleware"
	"luma-backend/models"
	"luma-backend/services"
	"luma-backend/utils"

	"github.com/gin-gonic/gin"
)

// SetupExtractionRoutes registers URL extraction and job polling.
func SetupExtractionRoutes(router gin.IRouter, extraction *services.ExtractionService, authMiddleware *middleware.AuthMiddleware, maxBody int64) {
	group := router.Group("", authMiddleware.RequireAuth())

	group.POST("/extract", middleware.RequestSizeLimit(maxBody), handleExtract(extraction))
	group.GET("/jobs", handleListJobs(extraction))
	group.GET("/jobs/:id", handleGetJob(extraction))
}

func handleExtract(extraction *services.ExtractionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ExtractRequest
		if !bindJSON(c, &req) {
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		job, err := extraction.Submit(ctx, middleware.GetUserID(c), req.URL)
		if err != nil {
			handleServiceError(c, err, "queue extraction")
			return
		}
		c.Header("Location", "/jobs/"+job.ID)
		c.JSON(http.StatusAccepted, gin.H{
			"job_id": job.ID,
			"status": job.Status,
			"url":    job.URL,
		})
	}
}

func handleListJobs(extraction *services.ExtractionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		jobs, err := extraction.ListJobs(ctx, middleware.GetUserID(c), queryLimit(c))
		if err != nil {
			handleServiceError(c, err, "list jobs")
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
	}
}

func handleGetJob(extraction *services.ExtractionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		job, err := extraction.GetJob(ctx, middleware.GetUserID(c), c.Param("id"))
		if errors.Is(err, database.ErrNotFound) {
			utils.RespondWithError(c, http.StatusNotFound, "job_not_found", "Job not found", nil)
			return
		}
		if err != nil {
			handleServiceError(c, err, "load job")
			return
		}
		c.JSON(http.StatusOK, job)
	}
}
