package dto

type CreateNotificationRequest struct {
	Recipient     string `json:"recipient" binding:"required"`
	Subject       string `json:"subject" binding:"required"`
	Body          string `json:"body" binding:"required"`
	CorrelationID string `json:"correlation_id"`
}

type CreateNotificationResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ListNotificationsRequest struct {
	Status        string `form:"status"`
	CorrelationID string `form:"correlation_id"`
	PageSize      int    `form:"page_size"`
	Cursor        string `form:"cursor"`
}

type ListNotificationsResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	NextCursor    string            `json:"next_cursor,omitempty"`
}

type NotificationDTO struct {
	JobID         string  `json:"job_id"`
	CorrelationID string  `json:"correlation_id"`
	Recipient     string  `json:"recipient"`
	Subject       string  `json:"subject"`
	Status        string  `json:"status"`
	AttemptCount  int     `json:"attempt_count"`
	LastError     *string `json:"last_error"`
	SentAt        *string `json:"sent_at"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type NotifyTaskResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Database string            `json:"database"`
	Jobs     []ScheduledJobDTO `json:"jobs,omitempty"`
}

type ScheduledJobDTO struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	NextRun    string `json:"next_run,omitempty"`
	LastResult string `json:"last_result"`
	LastError  string `json:"last_error,omitempty"`
}
