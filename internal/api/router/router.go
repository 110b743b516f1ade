package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veridocs/mirror-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes.
// Everything under /api/v1 requires the API key; the OAuth callback is
// reached by the vendor's redirect and authenticates with the signed
// state token instead.
func SetupRouter(deps *handler.Dependencies, apiKey string) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.DBClient != nil {
			if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "mirror-api-service",
					"error":   "database unreachable",
				})
				return
			}
		}

		body := gin.H{
			"status":  "healthy",
			"service": "mirror-api-service",
		}
		// The wake-up channel is optional and best-effort; a lost
		// connection degrades latency, not health.
		if deps.RabbitClient != nil {
			body["wakeup_channel"] = deps.RabbitClient.IsConnected()
		}
		c.JSON(http.StatusOK, body)
	})

	jobHandler := handler.NewJobHandler(deps)
	storageHandler := handler.NewStorageHandler(deps)

	// OAuth callback - outside the API key gate
	r.GET("/oauth/callback/:provider", storageHandler.Callback)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(APIKeyMiddleware(apiKey))
	{
		documents := v1.Group("/documents")
		{
			// POST /api/v1/documents/:document_id/jobs - Enqueue a job
			documents.POST("/:document_id/jobs", jobHandler.CreateJob)
		}

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		storage := v1.Group("/storage")
		{
			// GET /api/v1/storage/:provider/auth-url - Start the connect flow
			storage.GET("/:provider/auth-url", storageHandler.GetAuthURL)

			// GET /api/v1/storage/connections - List a client's connections
			storage.GET("/connections", storageHandler.ListConnections)

			// DELETE /api/v1/storage/connections/:provider - Revoke a connection
			storage.DELETE("/connections/:provider", storageHandler.RevokeConnection)
		}
	}

	return r
}
