package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/task-notifier/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(RecoveryMiddleware(deps.Logger))
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.NewHealthHandler(deps).Health)

	notificationHandler := handler.NewNotificationHandler(deps)
	taskHandler := handler.NewTaskHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		notifications := v1.Group("/notifications")
		{
			// POST /api/v1/notifications - Queue a notification
			notifications.POST("", notificationHandler.CreateNotification)

			// GET /api/v1/notifications - List delivery jobs with filtering and pagination
			notifications.GET("", notificationHandler.ListNotifications)

			// GET /api/v1/notifications/:job_id - Get delivery status
			notifications.GET("/:job_id", notificationHandler.GetNotification)
		}

		// POST /api/v1/tasks/:task_id/notify - Notify the task's assignee
		v1.POST("/tasks/:task_id/notify", taskHandler.NotifyTask)
	}

	return r
}
