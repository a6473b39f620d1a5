package api

import (
	"voxqueue/pkg/logger"
	"voxqueue/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRoutes builds the gin router: recovery, request-id, and access
// logging apply to every route; gzip compression is mounted only on the
// groups that return JSON, leaving the upload and download routes
// uncompressed. §4.6 mounts health at /health, but §8's scenario 5 polls
// /api/health — both are registered to the same handler rather than
// picking one.
func SetupRoutes(handler *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	logger.SetGinOutput()

	router := gin.New()
	router.MaxMultipartMemory = handler.config.MaxUploadSizeBytes()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(logger.GinLogger())

	router.GET("/health", handler.HealthCheck)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/health", handler.HealthCheck)

		jobs := apiGroup.Group("/jobs")
		{
			jobs.POST("", handler.SubmitJob)
			jobs.GET("/:id/download", handler.DownloadJobOutput)

			jsonJobs := jobs.Group("")
			jsonJobs.Use(middleware.CompressionMiddleware())
			{
				jsonJobs.GET("", handler.ListJobs)
				jsonJobs.GET("/:id", handler.GetJobStatus)
				jsonJobs.DELETE("/:id", handler.DeleteJob)
			}
		}

		admin := apiGroup.Group("/admin")
		admin.Use(middleware.AdminAuth(handler.config.AdminPassword))
		admin.Use(middleware.CompressionMiddleware())
		{
			admin.GET("/stats", handler.GetAdminStats)
			admin.POST("/cleanup", handler.RunCleanup)
			admin.POST("/model/load", handler.LoadModel)
			admin.POST("/model/unload", handler.UnloadModel)
		}
	}

	return router
}
