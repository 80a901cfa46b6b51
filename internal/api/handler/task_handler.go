package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/task-notifier/internal/api/dto"
)

// NotifyTask handles POST /api/v1/tasks/:task_id/notify
// Queues a manual notification to the task's assignee
func (h *TaskHandler) NotifyTask(c *gin.Context) {
	taskID, err := strconv.Atoi(c.Param("task_id"))
	if err != nil || taskID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "task_id must be a positive integer",
		})
		return
	}

	jobID, recipient, err := h.service.NotifyAssignee(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, h.logger, "Failed to notify task assignee", err)
		return
	}

	c.JSON(http.StatusAccepted, dto.NotifyTaskResponse{
		Message: fmt.Sprintf("Notification queued for %s", recipient),
		JobID:   jobID,
	})
}
