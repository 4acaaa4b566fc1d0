package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, allowedOrigins []string, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS(allowedOrigins))
	router.Use(Logger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/review/:year", handler.GetReview)

		providers := v1.Group("/providers")
		{
			providers.GET("", handler.GetProviders)
			providers.DELETE("/:provider/credential", handler.DeleteCredential)
		}
	}

	return router
}
