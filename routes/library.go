package routes

import (
	"net/http"

	"luma-backend/middleware"
	"luma-backend/services"
	"luma-backend/utils"

	"github.com/gin-gonic/gin"
)

func SetupLibraryRoutes(router gin.IRouter, library *services.LibraryService, authMiddleware *middleware.AuthMiddleware) {
	group := router.Group("/library", authMiddleware.RequireAuth())

	group.GET("", handleListDocuments(library))
	group.GET("/:id", handleGetDocument(library))
	group.DELETE("/:id", handleDeleteDocument(library))
}

func handleListDocuments(library *services.LibraryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		docs, err := library.List(ctx, middleware.GetUserID(c), queryLimit(c))
		if err != nil {
			handleServiceError(c, err, "list documents")
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
	}
}

func handleGetDocument(library *services.LibraryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		doc, err := library.Get(ctx, scopeFor(c, c.Param("id")))
		if err != nil {
			handleServiceError(c, err, "load document")
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func handleDeleteDocument(library *services.LibraryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		res, err := library.Delete(ctx, scopeFor(c, c.Param("id")))
		if err != nil {
			handleServiceError(c, err, "delete document")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":       "Document deleted",
			"document_id":   c.Param("id"),
			"token_records": res.TokenRecords,
			"chunks":        res.Chunks,
		})
	}
}
