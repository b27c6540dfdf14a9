package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/phixlab/nutrilens/backend/internal/middleware"
	"github.com/phixlab/nutrilens/backend/internal/service"
)

// Version is reported by the health check
const Version = "v1.0.0"

// Dependencies are the services the routes are built on
type Dependencies struct {
	Sessions  service.ISessionService
	Tokens    service.ITokenService
	Estimator MacroEstimator
	// Limiter throttles analysis requests; nil disables rate limiting
	Limiter *middleware.RateLimiter
}

// HealthCheck returns the health status of the API
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "NutriLens API is running",
		"version": Version,
	})
}

// RegisterRoutes registers all API routes
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", HealthCheck)
	router.GET("/api/health", HealthCheck)

	ingestHandler := NewIngestHandler(deps.Estimator)
	ingestHandler.RegisterRoutes(router.Group("/api"))

	sessionHandler := NewSessionHandler(deps.Sessions, deps.Tokens, deps.Limiter)
	sessionHandler.RegisterRoutes(router.Group("/api/v1"))
}
