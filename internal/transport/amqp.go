package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publisher interface {
	Publish(ctx context.Context, messageID string, headers amqp.Table, body []byte) error
}

// gatewayMessage is the JSON document consumed by the external mail gateway.
type gatewayMessage struct {
	ID            string    `json:"id"`
	To            string    `json:"to"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	QueuedAt      time.Time `json:"queued_at"`
}

// AMQPSender hands notifications to a mail gateway over RabbitMQ. A send
// succeeds once the broker confirms the message.
type AMQPSender struct {
	pub publisher
	now func() time.Time
}

// NewAMQPSender creates a new AMQPSender
func NewAMQPSender(pub publisher) *AMQPSender {
	return &AMQPSender{pub: pub, now: time.Now}
}

// Send implements Sender.
func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(gatewayMessage{
		ID:            msg.ID,
		To:            msg.To,
		Subject:       msg.Subject,
		Body:          msg.Body,
		CorrelationID: msg.CorrelationID,
		QueuedAt:      s.now().UTC(),
	})
	if err != nil {
		return permanent(fmt.Errorf("encode gateway message: %w", err))
	}

	headers := amqp.Table{}
	if msg.CorrelationID != "" {
		headers["correlation_id"] = msg.CorrelationID
	}

	if err := s.pub.Publish(ctx, msg.ID, headers, body); err != nil {
		return temporary(err)
	}
	return nil
}
