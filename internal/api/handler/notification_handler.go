package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/task-notifier/internal/api/dto"
	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateNotification handles POST /api/v1/notifications
// Appends a delivery job and returns once it is committed and queued. The
// send itself happens later; its outcome is read through GetNotification.
func (h *NotificationHandler) CreateNotification(c *gin.Context) {
	var req dto.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobID, err := h.service.EnqueueNotification(c.Request.Context(), domain.Payload{
		Recipient:     req.Recipient,
		Subject:       req.Subject,
		Body:          req.Body,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		writeError(c, h.logger, "Failed to create notification", err)
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateNotificationResponse{
		JobID:  jobID,
		Status: string(domain.StatusPending),
	})
}

// GetNotification handles GET /api/v1/notifications/:job_id
func (h *NotificationHandler) GetNotification(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.service.GetDeliveryJob(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, h.logger, "Failed to get notification", err)
		return
	}

	c.JSON(http.StatusOK, toNotificationDTO(job))
}

// ListNotifications handles GET /api/v1/notifications
// Lists delivery jobs newest first with keyset pagination
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	var req dto.ListNotificationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Debug("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	filter := domain.ListFilter{
		CorrelationID: req.CorrelationID,
		PageSize:      req.PageSize,
	}

	if req.Status != "" {
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			writeError(c, h.logger, "Invalid status", err)
			return
		}
		filter.Status = status
	}

	cursor, err := DecodeCursor(req.Cursor)
	if err != nil {
		writeError(c, h.logger, "Invalid cursor", err)
		return
	}
	filter.Cursor = cursor

	jobs, hasMore, err := h.service.ListDeliveryJobs(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.logger, "Failed to list notifications", err)
		return
	}

	resp := dto.ListNotificationsResponse{
		Notifications: make([]dto.NotificationDTO, len(jobs)),
	}
	for i := range jobs {
		resp.Notifications[i] = toNotificationDTO(&jobs[i])
	}
	if hasMore && len(jobs) > 0 {
		resp.NextCursor = EncodeCursor(&jobs[len(jobs)-1])
	}

	c.JSON(http.StatusOK, resp)
}

func toNotificationDTO(job *domain.DeliveryJob) dto.NotificationDTO {
	out := dto.NotificationDTO{
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		Recipient:     job.Recipient,
		Subject:       job.Subject,
		Status:        string(job.Status),
		AttemptCount:  job.AttemptCount,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.Format(time.RFC3339),
	}
	if job.LastError.Valid {
		out.LastError = &job.LastError.String
	}
	if job.SentAt.Valid {
		sentAt := job.SentAt.Time.Format(time.RFC3339)
		out.SentAt = &sentAt
	}
	return out
}
