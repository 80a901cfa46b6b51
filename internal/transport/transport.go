// Package transport delivers notifications to the outside world. Every
// sender reports failures as *domain.TransportError so the delivery worker
// can decide between retry and terminal failure.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cuongbtq/task-notifier/internal/config"
	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
	"github.com/cuongbtq/task-notifier/shared/rabbitmq"
)

// ErrInvalidConfig is returned when a sender is built from incomplete settings.
var ErrInvalidConfig = errors.New("invalid transport configuration")

// Message is a notification ready to leave the process. ID is the delivery
// job id and is stable across retries.
type Message struct {
	ID            string
	To            string
	Subject       string
	Body          string
	CorrelationID string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the sender selected by cfg.Driver. The returned closer releases
// broker connections and is never nil.
func New(cfg config.TransportConfig, logger *slog.Logger) (Sender, io.Closer, error) {
	switch cfg.Driver {
	case config.TransportLog, "":
		return NewLogSender(logger), nopCloser{}, nil

	case config.TransportSMTP:
		s, err := NewSMTPSender(cfg.From, cfg.ReplyTo, cfg.SMTP)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil

	case config.TransportPostmark:
		s, err := NewPostmarkSender(cfg.From, cfg.ReplyTo, cfg.Postmark)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil

	case config.TransportRabbitMQ:
		mq := cfg.RabbitMQ
		pub, err := rabbitmq.NewPublisher(&rabbitmq.Config{
			Host:           mq.Host,
			Port:           mq.Port,
			User:           mq.User,
			Password:       mq.Password,
			VHost:          mq.VHost,
			ExchangeName:   mq.Exchange,
			ExchangeType:   mq.ExchangeType,
			QueueName:      mq.Queue,
			RoutingKey:     mq.RoutingKey,
			RetryAttempts:  mq.RetryAttempts,
			RetryInterval:  mq.RetryInterval,
			Heartbeat:      mq.Heartbeat,
			ConfirmTimeout: mq.ConfirmTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return NewAMQPSender(pub), pub, nil
	}

	return nil, nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, cfg.Driver)
}

func temporary(err error) error {
	return domain.NewTransportError(err)
}

func permanent(err error) error {
	return domain.NewPermanentTransportError(err)
}
