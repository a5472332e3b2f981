package routes

import (
	"net/http"

	"luma-backend/middleware"
	"luma-backend/models"
	"luma-backend/services"
	"luma-backend/utils"

	"github.com/gin-gonic/gin"
)

// SetupSearchRoutes registers indexing and search over the caller's corpus.
func SetupSearchRoutes(router gin.IRouter, retrieval *services.RetrievalService, library *services.LibraryService, authMiddleware *middleware.AuthMiddleware, maxBody int64) {
	group := router.Group("", authMiddleware.RequireAuth())

	group.POST("/index", middleware.RequestSizeLimit(maxBody), handleIndex(library))
	group.GET("/index/info", handleIndexInfo(retrieval))
	group.DELETE("/index", handleDeleteIndex(retrieval))
	group.POST("/search", middleware.RequestSizeLimit(maxBody), handleSearch(retrieval))
}

func handleIndex(library *services.LibraryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.IndexRequest
		if !bindJSON(c, &req) {
			return
		}
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		resp, err := library.IndexText(ctx, middleware.GetUserID(c), req)
		if err != nil {
			handleServiceError(c, err, "index document")
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

func handleSearch(retrieval *services.RetrievalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SearchRequest
		if !bindJSON(c, &req) {
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		resp, err := retrieval.Search(ctx, scopeFor(c, req.DocumentID), services.SearchOptions{
			Query:    req.Query,
			K:        req.K,
			Method:   req.Method,
			Alpha:    req.Alpha,
			Advanced: req.Advanced,
		})
		if err != nil {
			handleServiceError(c, err, "search")
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func handleIndexInfo(retrieval *services.RetrievalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		info, err := retrieval.Info(ctx, scopeFor(c, c.Query("document_id")))
		if err != nil {
			handleServiceError(c, err, "load index info")
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func handleDeleteIndex(retrieval *services.RetrievalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		scope := scopeFor(c, c.Query("document_id"))
		if err := scope.Validate(); err != nil {
			handleServiceError(c, err, "delete index")
			return
		}
		res, err := retrieval.Delete(ctx, scope)
		if err != nil {
			handleServiceError(c, err, "delete index")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"scope":         scope.Key(),
			"token_records": res.TokenRecords,
			"chunks":        res.Chunks,
		})
	}
}
