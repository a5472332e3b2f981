package routes

import (
	"context"
	"net/http"
	"time"

	"luma-backend/utils"

	"github.com/gin-gonic/gin"
)

// HealthCheck checks one dependency for readiness.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func SetupHealthRoutes(router gin.IRouter, checks ...HealthCheck) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := utils.WithShortTimeout(c.Request.Context())
		defer cancel()

		status, results := http.StatusOK, gin.H{}
		for _, hc := range checks {
			if err := hc.Check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[hc.Name] = err.Error()
				continue
			}
			results[hc.Name] = "ok"
		}
		state := "ready"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	})
}
