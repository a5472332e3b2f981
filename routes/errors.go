package routes

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"luma-backend/internal/crawler"
	"luma-backend/internal/database"
	"luma-backend/internal/indexcache"
	"luma-backend/internal/logger"
	"luma-backend/middleware"
	"luma-backend/models"
	"luma-backend/utils"

	"github.com/gin-gonic/gin"
)

// handleServiceError maps domain errors onto the HTTP error contract.
func handleServiceError(c *gin.Context, err error, action string) {
	var indexErr *database.IndexError
	switch {
	case errors.Is(err, models.ErrInvalidScope), errors.Is(err, models.ErrInvalidInput):
		utils.RespondWithBadRequest(c, err.Error(), nil)
	case errors.Is(err, database.ErrNotFound):
		utils.RespondWithNotFound(c, "Document not found")
	case errors.Is(err, indexcache.ErrIndexUnavailable):
		logger.Error("Retrieval unavailable", "action", action, "error", err, "request_id", middleware.GetRequestID(c))
		utils.RespondWithError(c, http.StatusServiceUnavailable, "retrieval_unavailable",
			"The search index is temporarily unavailable", nil)
	case errors.As(err, &indexErr):
		logger.Error("Partial index failure", "action", action, "failed", indexErr.Failed, "error", indexErr.Err)
		utils.RespondWithError(c, http.StatusInternalServerError, "index_failed",
			"Some chunks could not be indexed", gin.H{"failed_chunks": indexErr.Failed})
	case errors.Is(err, crawler.ErrCircuitOpen):
		utils.RespondWithError(c, http.StatusServiceUnavailable, "scraping_unavailable",
			"Page fetching is paused after repeated failures", nil)
	case errors.Is(err, crawler.ErrScrapingFailed):
		utils.RespondWithError(c, http.StatusBadGateway, "scraping_failed", err.Error(), nil)
	case errors.Is(err, crawler.ErrNoContent):
		utils.RespondWithError(c, http.StatusUnprocessableEntity, "no_content", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		utils.RespondWithError(c, http.StatusGatewayTimeout, "timeout", "The request took too long", nil)
	default:
		logger.Error("Request failed", "action", action, "error", err, "request_id", middleware.GetRequestID(c))
		utils.RespondWithInternalError(c, "Failed to "+action)
	}
}

// bindJSON decodes the body, reporting oversize bodies separately.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "request_too_large",
				"Request body exceeds maximum size", gin.H{"max_size": tooLarge.Limit})
			return false
		}
		utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
		return false
	}
	return true
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return limit
}

// scopeFor builds the caller's scope, narrowed to one document when given.
func scopeFor(c *gin.Context, documentID string) models.Scope {
	userID := middleware.GetUserID(c)
	if documentID == "" {
		return models.UserScope(userID)
	}
	return models.DocumentScope(userID, documentID)
}
