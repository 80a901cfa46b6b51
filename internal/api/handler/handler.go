package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
	"github.com/cuongbtq/task-notifier/internal/scheduler"
	tasks "github.com/cuongbtq/task-notifier/internal/tasks/domain"
)

// NotificationService is the delivery pipeline as seen by the API.
type NotificationService interface {
	EnqueueNotification(ctx context.Context, p domain.Payload) (string, error)
	GetDeliveryJob(ctx context.Context, id string) (*domain.DeliveryJob, error)
	ListDeliveryJobs(ctx context.Context, filter domain.ListFilter) ([]domain.DeliveryJob, bool, error)
}

// TaskService sends manual task notifications.
type TaskService interface {
	NotifyAssignee(ctx context.Context, taskID int) (jobID, recipient string, err error)
}

// HealthChecker reports database reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// JobLister reports scheduled job state.
type JobLister interface {
	Jobs() []scheduler.JobStatus
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	ServiceName   string
	Notifications NotificationService
	Tasks         TaskService
	DB            HealthChecker
	Scheduler     JobLister
}

// NotificationHandler handles notification-related HTTP requests
type NotificationHandler struct {
	logger  *slog.Logger
	service NotificationService
}

// NewNotificationHandler creates a new NotificationHandler instance
func NewNotificationHandler(deps *Dependencies) *NotificationHandler {
	return &NotificationHandler{
		logger:  deps.Logger,
		service: deps.Notifications,
	}
}

// TaskHandler handles task notification requests
type TaskHandler struct {
	logger  *slog.Logger
	service TaskService
}

// NewTaskHandler creates a new TaskHandler instance
func NewTaskHandler(deps *Dependencies) *TaskHandler {
	return &TaskHandler{
		logger:  deps.Logger,
		service: deps.Tasks,
	}
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and reported as 500 without detail.
func writeError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidCursor),
		errors.Is(err, tasks.ErrNoAssignee):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, tasks.ErrTaskNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		logger.Error(msg, slog.Any("error", err))
		c.JSON(status, gin.H{"error": msg})
		return
	}

	logger.Debug(msg, slog.Any("error", err))
	c.JSON(status, gin.H{"error": err.Error()})
}
