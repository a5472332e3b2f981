package routes

import (
	"net/http"

	"luma-backend/internal/auth"
	"luma-backend/internal/logger"
	"luma-backend/middleware"
	"luma-backend/utils"

	"github.com/gin-gonic/gin"
)

// SetupAuthRoutes exposes the token's identity and logout. Tokens are minted
// by the identity provider that shares JWT_SECRET.
func SetupAuthRoutes(router gin.IRouter, issuer *auth.Issuer, authMiddleware *middleware.AuthMiddleware) {
	group := router.Group("/auth", authMiddleware.RequireAuth())

	group.GET("/me", func(c *gin.Context) {
		claims := middleware.GetClaims(c)
		resp := gin.H{"user_id": claims.UserID, "token_id": claims.ID}
		if claims.ExpiresAt != nil {
			resp["expires_at"] = claims.ExpiresAt.Time
		}
		c.JSON(http.StatusOK, resp)
	})

	group.POST("/logout", func(c *gin.Context) {
		claims := middleware.GetClaims(c)
		if err := issuer.Revoke(c.Request.Context(), claims); err != nil {
			logger.Error("Failed to revoke token", "user_id", claims.UserID, "error", err)
			utils.RespondWithInternalError(c, "Failed to log out")
			return
		}
		c.SetCookie("access_token", "", -1, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	})
}
