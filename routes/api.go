package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/unit-linkage/app/controllers"
)

// SetupAPIRoutes thiết lập tất cả API routes
func SetupAPIRoutes(router *gin.Engine, matchController *controllers.MatchController, resultController *controllers.ResultController, associationController *controllers.AssociationController) {
	// API v1 group
	v1 := router.Group("/v1")
	{
		// Matching task routes
		tasks := v1.Group("/match-tasks")
		{
			tasks.POST("", matchController.StartMatchTask)
			tasks.GET("", matchController.ListTasks)
			tasks.GET("/:taskID/progress", matchController.GetTaskProgress)
			tasks.POST("/:taskID/stop", matchController.StopTask)
		}

		// Linkage result routes
		results := v1.Group("/results")
		{
			results.GET("", resultController.ListResults)
			results.GET("/statistics", resultController.GetStatistics)
			results.GET("/:id", resultController.GetResult)
			results.PUT("/:matchID/review", resultController.SetReviewStatus)
		}

		// Enhanced association routes
		associations := v1.Group("/associations")
		{
			associations.POST("/regenerate", associationController.StartEnhancedAssociation)
			associations.GET("", associationController.ListAssociations)
			associations.GET("/:primaryID", associationController.GetAssociation)
		}

		// Health check route
		v1.GET("/health", matchController.HealthCheck)
	}
}

// SetupHealthRoutes thiết lập health check routes
func SetupHealthRoutes(router *gin.Engine, matchController *controllers.MatchController) {
	// Root health check
	router.GET("/health", matchController.HealthCheck)

	// Readiness check
	router.GET("/ready", matchController.HealthCheck)

	// Liveness check
	router.GET("/live", matchController.HealthCheck)
}

// SetupAllRoutes thiết lập tất cả routes
func SetupAllRoutes(router *gin.Engine, matchController *controllers.MatchController, resultController *controllers.ResultController, associationController *controllers.AssociationController) {
	// Thiết lập middleware
	setupMiddleware(router)

	// Thiết lập các loại routes
	SetupWebRoutes(router)
	SetupHealthRoutes(router, matchController)
	SetupAPIRoutes(router, matchController, resultController, associationController)

	// 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{
			"error":  "Route not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})
}

// setupMiddleware thiết lập middleware cho router
func setupMiddleware(router *gin.Engine) {
	// Recovery middleware
	router.Use(gin.Recovery())

	// Logger middleware
	router.Use(gin.Logger())

	// CORS middleware (nếu cần)
	// router.Use(cors.Default())
}
