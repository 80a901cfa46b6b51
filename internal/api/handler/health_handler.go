package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/task-notifier/internal/api/dto"
)

const healthTimeout = 2 * time.Second

// HealthHandler reports service health
type HealthHandler struct {
	logger    *slog.Logger
	service   string
	db        HealthChecker
	scheduler JobLister
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger:    deps.Logger,
		service:   deps.ServiceName,
		db:        deps.DB,
		scheduler: deps.Scheduler,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	resp := dto.HealthResponse{
		Status:   "healthy",
		Service:  h.service,
		Database: "up",
	}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Warn("Database health check failed", slog.Any("error", err))
			resp.Status = "unhealthy"
			resp.Database = "down"
			status = http.StatusServiceUnavailable
		}
	}

	if h.scheduler != nil {
		for _, j := range h.scheduler.Jobs() {
			jd := dto.ScheduledJobDTO{
				Name:       j.Name,
				State:      j.State.String(),
				LastResult: j.LastResult.String(),
			}
			if !j.Next.IsZero() {
				jd.NextRun = j.Next.UTC().Format(time.RFC3339)
			}
			if j.LastError != nil {
				jd.LastError = j.LastError.Error()
			}
			resp.Jobs = append(resp.Jobs, jd)
		}
	}

	c.JSON(status, resp)
}
