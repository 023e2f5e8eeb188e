package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes
func SetupRoutes(handlers *Handlers) *gin.Engine {
	router := gin.Default()

	// Add CORS middleware
	router.Use(corsMiddleware())

	// API routes
	api := router.Group("/api")
	{
		reports := api.Group("/reports")
		{
			reports.POST("", handlers.GenerateReportHandler)
			reports.GET("", handlers.ListReportsHandler)
			reports.GET("/:slug", handlers.GetReportHandler)
			reports.GET("/:slug/download", handlers.DownloadReportHandler)
		}

		// Not under /reports: a static "repair" segment cannot coexist with
		// the :slug wildcard in gin's route tree.
		api.POST("/repair/:taskRunId", handlers.RepairReportHandler)

		tasks := api.Group("/tasks")
		{
			tasks.GET("", handlers.ListTasksHandler)
			tasks.GET("/:taskId/status", handlers.GetTaskStatusHandler)
			tasks.GET("/:taskId/events", handlers.StreamTaskEventsHandler)
			tasks.POST("/:taskId/monitor", handlers.MonitorTaskHandler)
			tasks.POST("/:taskId/complete", handlers.CompleteTaskHandler)
		}

		api.POST("/validate", handlers.ValidateInputsHandler)
		api.GET("/status", handlers.StatusHandler)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
