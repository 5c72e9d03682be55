package routes

import (
	"github.com/gin-gonic/gin"
)

// SetupWebRoutes thiết lập web routes (nếu cần trong tương lai)
func SetupWebRoutes(router *gin.Engine) {
	// Web routes group
	web := router.Group("/")
	{
		// Home page
		web.GET("/", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"message": "Unit Linkage Service",
				"version": "1.0.0",
				"docs":    "/docs",
			})
		})

		// API documentation
		web.GET("/docs", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"api": "Unit Linkage API v1",
				"endpoints": map[string]string{
					"start_task":    "POST /v1/match-tasks",
					"list_tasks":    "GET /v1/match-tasks",
					"task_progress": "GET /v1/match-tasks/:taskID/progress",
					"stop_task":     "POST /v1/match-tasks/:taskID/stop",
					"list_results":  "GET /v1/results",
					"get_result":    "GET /v1/results/:id",
					"set_review":    "PUT /v1/results/:matchID/review",
					"statistics":    "GET /v1/results/statistics",
					"associations":  "POST /v1/associations/regenerate",
					"health":        "GET /v1/health",
				},
			})
		})

		// Status page
		web.GET("/status", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "running",
				"service": "Unit Linkage",
			})
		})
	}
}
