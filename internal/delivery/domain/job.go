package domain

import (
	"database/sql"
	"time"
)

// Payload is the notification handed to the delivery pipeline.
type Payload struct {
	Recipient     string `json:"recipient" validate:"required,email,max=320"`
	Subject       string `json:"subject" validate:"required,max=998"`
	Body          string `json:"body" validate:"required"`
	CorrelationID string `json:"correlation_id" validate:"max=255"`
}

// DeliveryJob is one row of the durable delivery log.
type DeliveryJob struct {
	ID            string         `db:"id"`
	CorrelationID string         `db:"correlation_id"`
	Recipient     string         `db:"recipient"`
	Subject       string         `db:"subject"`
	Body          string         `db:"body"`
	Status        Status         `db:"status"`
	AttemptCount  int            `db:"attempt_count"`
	LastError     sql.NullString `db:"last_error"`
	SentAt        sql.NullTime   `db:"sent_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// Payload returns the notification carried by the job.
func (j *DeliveryJob) Payload() Payload {
	return Payload{
		Recipient:     j.Recipient,
		Subject:       j.Subject,
		Body:          j.Body,
		CorrelationID: j.CorrelationID,
	}
}

// ListFilter narrows a delivery log listing.
type ListFilter struct {
	Status        Status
	CorrelationID string
	PageSize      int
	Cursor        *Cursor
}

// Cursor is the keyset position of the last row of a page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}
