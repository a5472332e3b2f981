package middleware

import (
	"errors"
	"net/http"

	"luma-backend/internal/auth"
	"luma-backend/internal/logger"
	"luma-backend/utils"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey = "user_id"
	claimsKey = "claims"
)

type AuthMiddleware struct {
	issuer *auth.Issuer
}

func NewAuthMiddleware(issuer *auth.Issuer) *AuthMiddleware {
	return &AuthMiddleware{issuer: issuer}
}

// RequireAuth accepts a bearer token or the access_token cookie and stores
// the caller's identity on the context.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := auth.ExtractBearer(c.GetHeader("Authorization"))
		if tokenString == "" {
			if cookie, err := c.Cookie("access_token"); err == nil {
				tokenString = cookie
			}
		}
		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Authentication token is required")
			return
		}

		claims, err := a.issuer.Validate(c.Request.Context(), tokenString)
		if err != nil {
			code, message := "invalid_token", "Authentication token is invalid or expired"
			if errors.Is(err, auth.ErrRevokedToken) {
				code, message = "token_revoked", "Authentication token has been revoked"
			}
			logger.Debug("Rejected token", "error", err, "request_id", GetRequestID(c))
			utils.RespondWithError(c, http.StatusUnauthorized, code, message, nil)
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func GetClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}
